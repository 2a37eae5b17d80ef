package access

import (
	"context"
	"fmt"

	"retail-backend/internal/apperr"
	"retail-backend/internal/models"
)

type AssignmentRepository interface {
	ListForUser(ctx context.Context, userID uint) ([]models.Branch, error)
	Exists(ctx context.Context, userID, branchID uint) (bool, error)
	Insert(ctx context.Context, userID, branchID uint, assignedBy *uint) (bool, error)
	Delete(ctx context.Context, userID, branchID uint) (bool, error)
}

type BranchLookup interface {
	FindByID(ctx context.Context, id uint) (*models.Branch, error)
}

// BranchAssignmentStore reads and changes which branches a user may act in.
type BranchAssignmentStore struct {
	assignments AssignmentRepository
	branches    BranchLookup
	users       UserLookup
}

func NewBranchAssignmentStore(assignments AssignmentRepository, branches BranchLookup, users UserLookup) *BranchAssignmentStore {
	return &BranchAssignmentStore{assignments: assignments, branches: branches, users: users}
}

func (s *BranchAssignmentStore) ListForUser(ctx context.Context, userID uint) ([]models.Branch, error) {
	branches, err := s.assignments.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list branches of user %d: %w", userID, err)
	}
	return branches, nil
}

func (s *BranchAssignmentStore) IsAssigned(ctx context.Context, userID, branchID uint) (bool, error) {
	ok, err := s.assignments.Exists(ctx, userID, branchID)
	if err != nil {
		return false, fmt.Errorf("check branch %d for user %d: %w", branchID, userID, err)
	}
	return ok, nil
}

// Assign lets the user act in the branch. Assigning twice is a
// BRANCH_ALREADY_ASSIGNED conflict.
func (s *BranchAssignmentStore) Assign(ctx context.Context, userID, branchID uint, assignedBy *uint) (*models.Branch, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, apperr.Internal("user could not be loaded", err)
	}
	if user == nil {
		return nil, apperr.New(apperr.CodeUserNotFound, "user not found")
	}

	branch, err := s.findBranch(ctx, branchID)
	if err != nil {
		return nil, err
	}

	inserted, err := s.assignments.Insert(ctx, userID, branchID, assignedBy)
	if err != nil {
		return nil, apperr.Internal("branch could not be assigned", err)
	}
	if !inserted {
		return nil, apperr.New(apperr.CodeBranchAlreadyAssigned, "user is already assigned to this branch")
	}
	return branch, nil
}

// Unassign removes the assignment. Removing one that does not exist is
// BRANCH_NOT_ASSIGNED.
func (s *BranchAssignmentStore) Unassign(ctx context.Context, userID, branchID uint) (*models.Branch, error) {
	branch, err := s.findBranch(ctx, branchID)
	if err != nil {
		return nil, err
	}

	deleted, err := s.assignments.Delete(ctx, userID, branchID)
	if err != nil {
		return nil, apperr.Internal("branch could not be unassigned", err)
	}
	if !deleted {
		return nil, apperr.New(apperr.CodeBranchNotAssigned, "user is not assigned to this branch")
	}
	return branch, nil
}

func (s *BranchAssignmentStore) findBranch(ctx context.Context, id uint) (*models.Branch, error) {
	branch, err := s.branches.FindByID(ctx, id)
	if err != nil {
		return nil, apperr.Internal("branch could not be loaded", err)
	}
	if branch == nil {
		return nil, apperr.New(apperr.CodeBranchNotFound, "branch not found")
	}
	return branch, nil
}
