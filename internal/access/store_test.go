package access_test

import (
	"context"
	"sync"
	"testing"

	"retail-backend/internal/access"
	"retail-backend/internal/apperr"
	"retail-backend/internal/database/dbtest"
	"retail-backend/internal/models"
	"retail-backend/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	db         *gorm.DB
	privileges *access.PrivilegeStore
	branches   *access.BranchAssignmentStore
}

func setupAccessTestDB(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.Open(t)
	users := repository.NewUserRepository(db)
	return &fixture{
		db: db,
		privileges: access.NewPrivilegeStore(
			repository.NewPrivilegeRepository(db),
			repository.NewUserPrivilegeRepository(db),
			users,
		),
		branches: access.NewBranchAssignmentStore(
			repository.NewUserBranchRepository(db),
			repository.NewBranchRepository(db),
			users,
		),
	}
}

func (f *fixture) user(t *testing.T, email string, role models.Role) *models.User {
	t.Helper()
	u := &models.User{Name: email, Email: email, PasswordHash: "x", Role: role}
	require.NoError(t, f.db.Create(u).Error)
	return u
}

func (f *fixture) privilege(t *testing.T, codename string) *models.Privilege {
	t.Helper()
	var p models.Privilege
	require.NoError(t, f.db.Where("codename = ?", codename).First(&p).Error)
	return &p
}

func (f *fixture) branch(t *testing.T, name string) *models.Branch {
	t.Helper()
	b := &models.Branch{Name: name}
	require.NoError(t, f.db.Create(b).Error)
	return b
}

func TestPrivilegeStore_GrantAndRevoke(t *testing.T) {
	f := setupAccessTestDB(t)
	ctx := context.Background()
	u := f.user(t, "kerem@example.com", models.RoleUser)
	priv := f.privilege(t, models.PrivCreateBranch)

	grants, err := f.privileges.ListForUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, grants)
	assert.NotNil(t, grants)

	has, err := f.privileges.HasPrivilege(ctx, u.ID, models.PrivCreateBranch)
	require.NoError(t, err)
	assert.False(t, has)

	got, err := f.privileges.Grant(ctx, u.ID, priv.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.PrivCreateBranch, got.Codename)

	has, err = f.privileges.HasPrivilege(ctx, u.ID, models.PrivCreateBranch)
	require.NoError(t, err)
	assert.True(t, has)

	grants, err = f.privileges.ListForUser(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, priv.ID, grants[0].PrivilegeID)
	assert.Equal(t, "branch", grants[0].Module)

	_, err = f.privileges.Grant(ctx, u.ID, priv.ID, nil)
	assert.True(t, apperr.IsCode(err, apperr.CodePrivilegeAlreadyGranted))

	_, err = f.privileges.Revoke(ctx, u.ID, priv.ID)
	require.NoError(t, err)

	_, err = f.privileges.Revoke(ctx, u.ID, priv.ID)
	assert.True(t, apperr.IsCode(err, apperr.CodePrivilegeNotGranted))
}

func TestPrivilegeStore_GrantErrors(t *testing.T) {
	f := setupAccessTestDB(t)
	ctx := context.Background()
	u := f.user(t, "kerem@example.com", models.RoleUser)

	_, err := f.privileges.Grant(ctx, 999, f.privilege(t, models.PrivViewUser).ID, nil)
	assert.True(t, apperr.IsCode(err, apperr.CodeUserNotFound))

	_, err = f.privileges.Grant(ctx, u.ID, 999, nil)
	assert.True(t, apperr.IsCode(err, apperr.CodePrivilegeNotFound))

	_, err = f.privileges.Revoke(ctx, u.ID, 999)
	assert.True(t, apperr.IsCode(err, apperr.CodePrivilegeNotFound))
}

func TestPrivilegeStore_ConcurrentGrantWritesOneRow(t *testing.T) {
	f := setupAccessTestDB(t)
	ctx := context.Background()
	u := f.user(t, "kerem@example.com", models.RoleUser)
	priv := f.privilege(t, models.PrivViewStock)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.privileges.Grant(ctx, u.ID, priv.ID, nil)
		}(i)
	}
	wg.Wait()

	ok, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case apperr.IsCode(err, apperr.CodePrivilegeAlreadyGranted):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, conflicts)

	var rows int64
	require.NoError(t, f.db.Model(&models.UserPrivilege{}).Where("user_id = ?", u.ID).Count(&rows).Error)
	assert.Equal(t, int64(1), rows)
}

func TestPrivilegeStore_CatalogAndRename(t *testing.T) {
	f := setupAccessTestDB(t)
	ctx := context.Background()

	all, err := f.privileges.Catalog(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, len(models.DefaultPrivileges))

	branchPrivs, err := f.privileges.Catalog(ctx, "branch")
	require.NoError(t, err)
	assert.Len(t, branchPrivs, 4)

	priv := f.privilege(t, models.PrivViewBranch)
	renamed, err := f.privileges.Rename(ctx, priv.ID, "  See branches ")
	require.NoError(t, err)
	assert.Equal(t, "See branches", renamed.Name)
	assert.Equal(t, models.PrivViewBranch, renamed.Codename)

	_, err = f.privileges.Rename(ctx, priv.ID, " ")
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidRequest))

	_, err = f.privileges.Rename(ctx, 999, "x")
	assert.True(t, apperr.IsCode(err, apperr.CodePrivilegeNotFound))
}

func TestBranchAssignmentStore(t *testing.T) {
	f := setupAccessTestDB(t)
	ctx := context.Background()
	u := f.user(t, "kerem@example.com", models.RoleUser)
	kadikoy := f.branch(t, "Kadikoy")
	besiktas := f.branch(t, "Besiktas")

	assigned, err := f.branches.IsAssigned(ctx, u.ID, kadikoy.ID)
	require.NoError(t, err)
	assert.False(t, assigned)

	_, err = f.branches.Assign(ctx, u.ID, kadikoy.ID, nil)
	require.NoError(t, err)
	_, err = f.branches.Assign(ctx, u.ID, besiktas.ID, nil)
	require.NoError(t, err)

	_, err = f.branches.Assign(ctx, u.ID, kadikoy.ID, nil)
	assert.True(t, apperr.IsCode(err, apperr.CodeBranchAlreadyAssigned))

	list, err := f.branches.ListForUser(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Besiktas", list[0].Name)

	assigned, err = f.branches.IsAssigned(ctx, u.ID, kadikoy.ID)
	require.NoError(t, err)
	assert.True(t, assigned)

	_, err = f.branches.Unassign(ctx, u.ID, kadikoy.ID)
	require.NoError(t, err)
	_, err = f.branches.Unassign(ctx, u.ID, kadikoy.ID)
	assert.True(t, apperr.IsCode(err, apperr.CodeBranchNotAssigned))

	_, err = f.branches.Assign(ctx, u.ID, 999, nil)
	assert.True(t, apperr.IsCode(err, apperr.CodeBranchNotFound))
	_, err = f.branches.Assign(ctx, 999, kadikoy.ID, nil)
	assert.True(t, apperr.IsCode(err, apperr.CodeUserNotFound))
}
