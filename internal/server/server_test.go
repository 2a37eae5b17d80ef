package server_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http/httptest"
	"testing"
	"time"

	"retail-backend/internal/auth"
	"retail-backend/internal/config"
	"retail-backend/internal/database/dbtest"
	"retail-backend/internal/models"
	"retail-backend/internal/server"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const testPassword = "s3cret-pass"

type testEnv struct {
	t      *testing.T
	app    *fiber.App
	db     *gorm.DB
	tokens *auth.TokenService
	hasher auth.PasswordHasher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := dbtest.Open(t)
	cfg := &config.Config{
		Env:         "test",
		CORSOrigins: "http://localhost:5173",
		JWTSecret:   "0123456789abcdef0123456789abcdef",
		JWTIssuer:   "retail-backend",
		JWTAudience: "retail-backend-clients",
		TokenTTL:    2 * time.Hour,
		BcryptCost:  bcrypt.MinCost,
	}
	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience)
	require.NoError(t, err)
	hasher := auth.NewBcryptHasher(bcrypt.MinCost)

	app, err := server.New(server.Deps{Config: cfg, DB: db, Hasher: hasher, Tokens: tokens})
	require.NoError(t, err)
	return &testEnv{t: t, app: app, db: db, tokens: tokens, hasher: hasher}
}

func (e *testEnv) user(email string, role models.Role) *models.User {
	e.t.Helper()
	hash, err := e.hasher.Hash(testPassword)
	require.NoError(e.t, err)
	u := &models.User{Name: email, Email: email, PasswordHash: hash, Role: role}
	require.NoError(e.t, e.db.Create(u).Error)
	return u
}

func (e *testEnv) token(u *models.User) string {
	e.t.Helper()
	tok, err := e.tokens.Issue(u.ID, u.Role)
	require.NoError(e.t, err)
	return tok
}

func (e *testEnv) privilegeID(codename string) uint {
	e.t.Helper()
	var p models.Privilege
	require.NoError(e.t, e.db.Where("codename = ?", codename).First(&p).Error)
	return p.ID
}

func (e *testEnv) grant(u *models.User, codenames ...string) {
	e.t.Helper()
	for _, c := range codenames {
		require.NoError(e.t, e.db.Create(&models.UserPrivilege{UserID: u.ID, PrivilegeID: e.privilegeID(c)}).Error)
	}
}

func (e *testEnv) branch(name string) *models.Branch {
	e.t.Helper()
	b := &models.Branch{Name: name}
	require.NoError(e.t, e.db.Create(b).Error)
	return b
}

func (e *testEnv) assign(u *models.User, b *models.Branch) {
	e.t.Helper()
	require.NoError(e.t, e.db.Create(&models.UserBranch{UserID: u.ID, BranchID: b.ID}).Error)
}

type response struct {
	status int
	raw    []byte
}

func (r response) object(t *testing.T) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(r.raw, &m), string(r.raw))
	return m
}

func (r response) list(t *testing.T) []map[string]any {
	t.Helper()
	var l []map[string]any
	require.NoError(t, json.Unmarshal(r.raw, &l), string(r.raw))
	return l
}

func (r response) code(t *testing.T) string {
	t.Helper()
	code, _ := r.object(t)["error"].(string)
	return code
}

type reqOpt func(*requestOpts)

type requestOpts struct {
	token  string
	branch uint
}

func as(token string) reqOpt { return func(r *requestOpts) { r.token = token } }

func inBranch(id uint) reqOpt { return func(r *requestOpts) { r.branch = id } }

func (e *testEnv) do(method, path string, body any, opts ...reqOpt) response {
	e.t.Helper()
	var o requestOpts
	for _, opt := range opts {
		opt(&o)
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(e.t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if o.token != "" {
		req.Header.Set("Authorization", "Bearer "+o.token)
	}
	if o.branch != 0 {
		req.Header.Set(auth.BranchHeader, fmt.Sprint(o.branch))
	}

	resp, err := e.app.Test(req, -1)
	require.NoError(e.t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(e.t, err)
	return response{status: resp.StatusCode, raw: raw}
}

func TestHealthAndMetrics(t *testing.T) {
	e := newTestEnv(t)

	r := e.do("GET", "/healthz", nil)
	assert.Equal(t, fiber.StatusOK, r.status)

	e.do("GET", "/api/auth/me", nil)
	r = e.do("GET", "/metrics", nil)
	assert.Equal(t, fiber.StatusOK, r.status)
	assert.Contains(t, string(r.raw), `auth_token_verifications_total{outcome="missing"} 1`)
}

func TestBootstrapFlow(t *testing.T) {
	e := newTestEnv(t)
	body := map[string]string{"name": "Root", "email": "root@example.com", "password": testPassword}

	r := e.do("POST", "/api/auth/register-superadmin", body)
	require.Equal(t, fiber.StatusCreated, r.status, string(r.raw))
	first := r.object(t)
	assert.NotEmpty(t, first["token"])
	rootToken := first["token"].(string)

	second := map[string]string{"name": "Other", "email": "other@example.com", "password": testPassword}
	r = e.do("POST", "/api/auth/register-superadmin", second)
	assert.Equal(t, fiber.StatusUnauthorized, r.status)

	admin := e.user("admin@example.com", models.RoleAdmin)
	r = e.do("POST", "/api/auth/register-superadmin", second, as(e.token(admin)))
	assert.Equal(t, fiber.StatusForbidden, r.status)
	assert.Equal(t, "FORBIDDEN_CANNOT_CREATE_SUPERADMIN", r.code(t))

	r = e.do("POST", "/api/auth/register-superadmin", second, as(rootToken))
	assert.Equal(t, fiber.StatusCreated, r.status)

	var count int64
	require.NoError(t, e.db.Model(&models.User{}).Where("role = ?", models.RoleSuperAdmin).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestLogin(t *testing.T) {
	e := newTestEnv(t)
	u := e.user("kerem@example.com", models.RoleUser)
	e.grant(u, models.PrivViewStock)

	r := e.do("POST", "/api/auth/login", map[string]string{"email": "KEREM@example.com", "password": testPassword})
	require.Equal(t, fiber.StatusOK, r.status, string(r.raw))
	body := r.object(t)
	assert.NotEmpty(t, body["token"])
	assert.Equal(t, []any{models.PrivViewStock}, body["privileges"])

	claims, err := e.tokens.Verify(body["token"].(string))
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, claims.Role)

	r = e.do("POST", "/api/auth/login", map[string]string{"email": "kerem@example.com", "password": "wrong-pass"})
	assert.Equal(t, fiber.StatusUnauthorized, r.status)
	assert.Equal(t, "INVALID_CREDENTIALS", r.code(t))

	r = e.do("POST", "/api/auth/login", map[string]string{"email": "nobody@example.com", "password": testPassword})
	assert.Equal(t, fiber.StatusUnauthorized, r.status)
	assert.Equal(t, "INVALID_CREDENTIALS", r.code(t))
}

func TestMeAndDeletedSubject(t *testing.T) {
	e := newTestEnv(t)
	root := e.user("root@example.com", models.RoleSuperAdmin)
	u := e.user("kerem@example.com", models.RoleUser)
	b := e.branch("Kadikoy")
	e.assign(u, b)
	tok := e.token(u)

	r := e.do("GET", "/api/auth/me", nil, as(tok))
	require.Equal(t, fiber.StatusOK, r.status)
	me := r.object(t)
	assert.Len(t, me["branches"], 1)
	assert.Equal(t, []any{}, me["privileges"])

	r = e.do("DELETE", fmt.Sprintf("/api/users/%d", u.ID), nil, as(e.token(root)))
	require.Equal(t, fiber.StatusNoContent, r.status, string(r.raw))

	r = e.do("GET", "/api/auth/me", nil, as(tok))
	assert.Equal(t, fiber.StatusUnauthorized, r.status)
	assert.Equal(t, "SESSION_SUBJECT_NOT_FOUND", r.code(t))
}

func TestSelfAccessToOwnGrants(t *testing.T) {
	e := newTestEnv(t)
	kerem := e.user("kerem@example.com", models.RoleUser)
	deniz := e.user("deniz@example.com", models.RoleUser)
	e.grant(kerem, models.PrivViewStock)

	r := e.do("GET", fmt.Sprintf("/api/users/%d/privileges", kerem.ID), nil, as(e.token(kerem)))
	require.Equal(t, fiber.StatusOK, r.status)
	assert.Len(t, r.object(t)["privileges"], 1)

	r = e.do("GET", fmt.Sprintf("/api/users/%d/privileges", deniz.ID), nil, as(e.token(kerem)))
	assert.Equal(t, fiber.StatusForbidden, r.status)
	assert.Equal(t, "FORBIDDEN", r.code(t))

	r = e.do("GET", fmt.Sprintf("/api/users/%d/branches", kerem.ID), nil, as(e.token(kerem)))
	assert.Equal(t, fiber.StatusOK, r.status)

	// self access never extends to granting oneself privileges
	r = e.do("POST", fmt.Sprintf("/api/users/%d/privileges", kerem.ID),
		map[string]uint{"privilege_id": e.privilegeID(models.PrivManagePrivileges)}, as(e.token(kerem)))
	assert.Equal(t, fiber.StatusForbidden, r.status)
}

func TestGrantLifecycleAndEscalation(t *testing.T) {
	e := newTestEnv(t)
	root := e.user("root@example.com", models.RoleSuperAdmin)
	manager := e.user("manager@example.com", models.RoleUser)
	staff := e.user("staff@example.com", models.RoleUser)
	e.grant(manager, models.PrivManagePrivileges)
	managerToken := e.token(manager)
	privID := e.privilegeID(models.PrivViewCustomer)

	// escalation guard wins even though the caller holds manage_privileges
	r := e.do("POST", fmt.Sprintf("/api/users/%d/privileges", root.ID), map[string]uint{"privilege_id": privID}, as(managerToken))
	assert.Equal(t, fiber.StatusForbidden, r.status)
	assert.Equal(t, "FORBIDDEN_CANNOT_MODIFY_SUPERADMIN_PRIVILEGES", r.code(t))

	path := fmt.Sprintf("/api/users/%d/privileges", staff.ID)
	r = e.do("POST", path, map[string]uint{"privilege_id": privID}, as(managerToken))
	require.Equal(t, fiber.StatusCreated, r.status, string(r.raw))

	r = e.do("POST", path, map[string]uint{"privilege_id": privID}, as(managerToken))
	assert.Equal(t, fiber.StatusConflict, r.status)
	assert.Equal(t, "PRIVILEGE_ALREADY_GRANTED", r.code(t))

	var rows int64
	require.NoError(t, e.db.Model(&models.UserPrivilege{}).Where("user_id = ?", staff.ID).Count(&rows).Error)
	assert.Equal(t, int64(1), rows)

	r = e.do("DELETE", fmt.Sprintf("%s/%d", path, privID), nil, as(managerToken))
	assert.Equal(t, fiber.StatusNoContent, r.status)

	r = e.do("DELETE", fmt.Sprintf("%s/%d", path, privID), nil, as(managerToken))
	assert.Equal(t, fiber.StatusNotFound, r.status)
	assert.Equal(t, "PRIVILEGE_NOT_GRANTED", r.code(t))

	r = e.do("POST", fmt.Sprintf("/api/users/%d/privileges", root.ID), map[string]uint{"privilege_id": privID}, as(e.token(root)))
	assert.Equal(t, fiber.StatusCreated, r.status)

	r = e.do("GET", "/api/audit-logs", nil, as(e.token(root)))
	require.Equal(t, fiber.StatusOK, r.status)
	actions := map[string]int{}
	for _, entry := range r.list(t) {
		actions[entry["action"].(string)]++
	}
	assert.Equal(t, 2, actions["grant"])
	assert.Equal(t, 1, actions["revoke"])
}

func TestPrivilegeChangesApplyToExistingTokens(t *testing.T) {
	e := newTestEnv(t)
	u := e.user("kerem@example.com", models.RoleUser)
	tok := e.token(u)

	r := e.do("GET", "/api/users", nil, as(tok))
	assert.Equal(t, fiber.StatusForbidden, r.status)

	e.grant(u, models.PrivViewUser)
	r = e.do("GET", "/api/users", nil, as(tok))
	assert.Equal(t, fiber.StatusOK, r.status)

	require.NoError(t, e.db.Where("user_id = ?", u.ID).Delete(&models.UserPrivilege{}).Error)
	r = e.do("GET", "/api/users", nil, as(tok))
	assert.Equal(t, fiber.StatusForbidden, r.status)
}

func TestUserAdministration(t *testing.T) {
	e := newTestEnv(t)
	root := e.user("root@example.com", models.RoleSuperAdmin)
	admin := e.user("admin@example.com", models.RoleAdmin)
	e.grant(admin, models.PrivCreateUser, models.PrivUpdateUser, models.PrivDeleteUser)
	adminToken := e.token(admin)
	b := e.branch("Kadikoy")

	r := e.do("POST", "/api/users", map[string]any{
		"name": "Root Two", "email": "root2@example.com", "password": testPassword, "role": "superadmin",
	}, as(adminToken))
	assert.Equal(t, fiber.StatusForbidden, r.status)
	assert.Equal(t, "FORBIDDEN_CANNOT_CREATE_SUPERADMIN", r.code(t))

	r = e.do("POST", "/api/users", map[string]any{
		"name": "Kerem", "email": "kerem@example.com", "password": testPassword, "role": "user", "branch_ids": []uint{b.ID},
	}, as(adminToken))
	require.Equal(t, fiber.StatusCreated, r.status, string(r.raw))
	keremID := uint(r.object(t)["id"].(float64))

	var assigned int64
	require.NoError(t, e.db.Model(&models.UserBranch{}).Where("user_id = ?", keremID).Count(&assigned).Error)
	assert.Equal(t, int64(1), assigned)

	r = e.do("POST", "/api/users", map[string]any{
		"name": "Kerem", "email": "kerem@example.com", "password": testPassword,
	}, as(adminToken))
	assert.Equal(t, fiber.StatusConflict, r.status)
	assert.Equal(t, "EMAIL_ALREADY_EXISTS", r.code(t))

	r = e.do("POST", "/api/users", map[string]any{
		"name": "Ghost", "email": "ghost@example.com", "password": testPassword, "branch_ids": []uint{999},
	}, as(adminToken))
	assert.Equal(t, fiber.StatusNotFound, r.status)
	var ghosts int64
	require.NoError(t, e.db.Model(&models.User{}).Where("email = ?", "ghost@example.com").Count(&ghosts).Error)
	assert.Zero(t, ghosts)

	r = e.do("PUT", fmt.Sprintf("/api/users/%d", root.ID), map[string]any{"role": "admin"}, as(adminToken))
	assert.Equal(t, fiber.StatusForbidden, r.status)
	assert.Equal(t, "FORBIDDEN_CANNOT_MODIFY_SUPERADMIN", r.code(t))

	r = e.do("PUT", fmt.Sprintf("/api/users/%d", keremID), map[string]any{"role": "superadmin"}, as(adminToken))
	assert.Equal(t, fiber.StatusForbidden, r.status)
	assert.Equal(t, "FORBIDDEN_CANNOT_CREATE_SUPERADMIN", r.code(t))

	r = e.do("PUT", fmt.Sprintf("/api/users/%d", keremID), map[string]any{"role": "admin"}, as(adminToken))
	require.Equal(t, fiber.StatusOK, r.status, string(r.raw))
	assert.Equal(t, "admin", r.object(t)["role"])

	r = e.do("PUT", fmt.Sprintf("/api/users/%d", admin.ID), map[string]any{"role": "user"}, as(adminToken))
	assert.Equal(t, fiber.StatusForbidden, r.status)

	r = e.do("PUT", fmt.Sprintf("/api/users/%d", admin.ID), map[string]any{"name": "Ayla"}, as(adminToken))
	assert.Equal(t, fiber.StatusOK, r.status)

	r = e.do("DELETE", fmt.Sprintf("/api/users/%d", admin.ID), nil, as(adminToken))
	assert.Equal(t, fiber.StatusBadRequest, r.status)

	r = e.do("DELETE", fmt.Sprintf("/api/users/%d", root.ID), nil, as(adminToken))
	assert.Equal(t, fiber.StatusForbidden, r.status)
	assert.Equal(t, "FORBIDDEN_CANNOT_MODIFY_SUPERADMIN", r.code(t))

	r = e.do("DELETE", fmt.Sprintf("/api/users/%d", keremID), nil, as(adminToken))
	assert.Equal(t, fiber.StatusNoContent, r.status)

	r = e.do("GET", fmt.Sprintf("/api/users/%d", keremID), nil, as(e.token(root)))
	assert.Equal(t, fiber.StatusNotFound, r.status)
	assert.Equal(t, "USER_NOT_FOUND", r.code(t))
}

func TestBranchScope(t *testing.T) {
	e := newTestEnv(t)
	root := e.user("root@example.com", models.RoleSuperAdmin)
	staff := e.user("staff@example.com", models.RoleUser)
	e.grant(staff, models.PrivViewCustomer, models.PrivCreateCustomer)
	kadikoy := e.branch("Kadikoy")
	besiktas := e.branch("Besiktas")
	e.assign(staff, kadikoy)
	staffToken := e.token(staff)

	require.NoError(t, e.db.Create(&models.Customer{BranchID: kadikoy.ID, Name: "Elif"}).Error)
	other := models.Customer{BranchID: besiktas.ID, Name: "Mert"}
	require.NoError(t, e.db.Create(&other).Error)

	r := e.do("GET", "/api/customers", nil, as(staffToken), inBranch(kadikoy.ID))
	require.Equal(t, fiber.StatusOK, r.status)
	list := r.list(t)
	require.Len(t, list, 1)
	assert.Equal(t, "Elif", list[0]["name"])

	// a restricted caller cannot widen the read with a query parameter
	r = e.do("GET", fmt.Sprintf("/api/customers?branch_id=%d", besiktas.ID), nil, as(staffToken), inBranch(kadikoy.ID))
	require.Equal(t, fiber.StatusOK, r.status)
	assert.Len(t, r.list(t), 1)

	r = e.do("GET", fmt.Sprintf("/api/customers/%d", other.ID), nil, as(staffToken), inBranch(kadikoy.ID))
	assert.Equal(t, fiber.StatusNotFound, r.status)

	r = e.do("GET", "/api/customers", nil, as(staffToken), inBranch(besiktas.ID))
	assert.Equal(t, fiber.StatusForbidden, r.status)
	assert.Equal(t, "BRANCH_ACCESS_DENIED", r.code(t))

	r = e.do("GET", "/api/customers", nil, as(staffToken))
	assert.Equal(t, fiber.StatusBadRequest, r.status)
	assert.Equal(t, "BRANCH_ID_REQUIRED", r.code(t))

	r = e.do("POST", "/api/customers", map[string]any{"name": "Can", "branch_id": besiktas.ID}, as(staffToken), inBranch(kadikoy.ID))
	assert.Equal(t, fiber.StatusForbidden, r.status)
	assert.Equal(t, "BRANCH_ACCESS_DENIED", r.code(t))

	r = e.do("GET", "/api/customers", nil, as(e.token(root)))
	require.Equal(t, fiber.StatusOK, r.status)
	assert.Len(t, r.list(t), 2)

	// no privilege: rejected before the branch is even looked at
	plain := e.user("plain@example.com", models.RoleUser)
	r = e.do("GET", "/api/customers", nil, as(e.token(plain)), inBranch(kadikoy.ID))
	assert.Equal(t, fiber.StatusForbidden, r.status)
	assert.Equal(t, "FORBIDDEN", r.code(t))
}

func TestBranchAssignmentRoutes(t *testing.T) {
	e := newTestEnv(t)
	root := e.user("root@example.com", models.RoleSuperAdmin)
	staff := e.user("staff@example.com", models.RoleUser)
	b := e.branch("Kadikoy")
	rootToken := e.token(root)
	path := fmt.Sprintf("/api/users/%d/branches", staff.ID)

	r := e.do("POST", path, map[string]uint{"branch_id": b.ID}, as(rootToken))
	require.Equal(t, fiber.StatusCreated, r.status, string(r.raw))

	r = e.do("POST", path, map[string]uint{"branch_id": b.ID}, as(rootToken))
	assert.Equal(t, fiber.StatusConflict, r.status)
	assert.Equal(t, "BRANCH_ALREADY_ASSIGNED", r.code(t))

	r = e.do("GET", "/api/branches", nil, as(e.token(staff)))
	assert.Equal(t, fiber.StatusForbidden, r.status)

	r = e.do("DELETE", fmt.Sprintf("%s/%d", path, b.ID), nil, as(rootToken))
	assert.Equal(t, fiber.StatusNoContent, r.status)

	r = e.do("DELETE", fmt.Sprintf("%s/%d", path, b.ID), nil, as(rootToken))
	assert.Equal(t, fiber.StatusNotFound, r.status)
	assert.Equal(t, "BRANCH_NOT_ASSIGNED", r.code(t))
}

func TestBranchCRUD(t *testing.T) {
	e := newTestEnv(t)
	root := e.user("root@example.com", models.RoleSuperAdmin)
	admin := e.user("admin@example.com", models.RoleAdmin)
	rootToken := e.token(root)

	r := e.do("POST", "/api/branches", map[string]string{"name": "Kadikoy", "address": "Moda"}, as(rootToken))
	require.Equal(t, fiber.StatusCreated, r.status, string(r.raw))
	kadikoyID := uint(r.object(t)["id"].(float64))

	r = e.do("POST", "/api/branches", map[string]string{"name": "Kadikoy"}, as(rootToken))
	assert.Equal(t, fiber.StatusConflict, r.status)

	r = e.do("POST", "/api/branches", map[string]string{"name": "Besiktas"}, as(rootToken))
	require.Equal(t, fiber.StatusCreated, r.status)

	e.assign(admin, &models.Branch{ID: kadikoyID})
	r = e.do("GET", "/api/branches", nil, as(e.token(admin)))
	require.Equal(t, fiber.StatusOK, r.status)
	assert.Len(t, r.list(t), 1)

	r = e.do("GET", "/api/branches", nil, as(rootToken))
	require.Equal(t, fiber.StatusOK, r.status)
	assert.Len(t, r.list(t), 2)

	require.NoError(t, e.db.Create(&models.Campaign{
		BranchID: kadikoyID, Name: "Winter", StartsAt: time.Now(), EndsAt: time.Now().Add(24 * time.Hour),
	}).Error)
	r = e.do("DELETE", fmt.Sprintf("/api/branches/%d", kadikoyID), nil, as(rootToken))
	assert.Equal(t, fiber.StatusConflict, r.status)
	assert.Equal(t, "RESOURCE_IN_USE", r.code(t))
}

func TestCustomerPortalActivation(t *testing.T) {
	e := newTestEnv(t)
	root := e.user("root@example.com", models.RoleSuperAdmin)
	b := e.branch("Kadikoy")
	rootToken := e.token(root)

	r := e.do("POST", "/api/customers", map[string]any{
		"name": "Elif", "email": "elif@example.com", "branch_id": b.ID,
	}, as(rootToken))
	require.Equal(t, fiber.StatusCreated, r.status, string(r.raw))
	customerID := uint(r.object(t)["id"].(float64))

	path := fmt.Sprintf("/api/customers/%d/activate-portal", customerID)
	r = e.do("POST", path, map[string]string{"password": testPassword}, as(rootToken))
	require.Equal(t, fiber.StatusCreated, r.status, string(r.raw))
	user := r.object(t)["user"].(map[string]any)
	assert.Equal(t, "customer", user["role"])

	r = e.do("POST", path, map[string]string{"password": testPassword}, as(rootToken))
	assert.Equal(t, fiber.StatusConflict, r.status)

	r = e.do("POST", "/api/auth/login", map[string]string{"email": "elif@example.com", "password": testPassword})
	assert.Equal(t, fiber.StatusOK, r.status)

	// a failed activation leaves neither a user nor a link behind
	r = e.do("POST", "/api/customers", map[string]any{
		"name": "Mert", "email": "elif@example.com", "branch_id": b.ID,
	}, as(rootToken))
	require.Equal(t, fiber.StatusCreated, r.status)
	mertID := uint(r.object(t)["id"].(float64))

	r = e.do("POST", fmt.Sprintf("/api/customers/%d/activate-portal", mertID), map[string]string{"password": testPassword}, as(rootToken))
	assert.Equal(t, fiber.StatusConflict, r.status)
	assert.Equal(t, "EMAIL_ALREADY_EXISTS", r.code(t))

	var mert models.Customer
	require.NoError(t, e.db.First(&mert, mertID).Error)
	assert.Nil(t, mert.UserID)
}

func TestStockAndProducts(t *testing.T) {
	e := newTestEnv(t)
	root := e.user("root@example.com", models.RoleSuperAdmin)
	staff := e.user("staff@example.com", models.RoleUser)
	e.grant(staff, models.PrivManageStock, models.PrivViewStock)
	b := e.branch("Kadikoy")
	e.assign(staff, b)
	rootToken := e.token(root)
	staffToken := e.token(staff)

	r := e.do("POST", "/api/products", map[string]string{"name": "Tomato", "unit": "kg"}, as(staffToken))
	assert.Equal(t, fiber.StatusForbidden, r.status)

	r = e.do("POST", "/api/products", map[string]string{"name": "Tomato", "unit": "kg", "stock_code": "TMT"}, as(rootToken))
	require.Equal(t, fiber.StatusCreated, r.status, string(r.raw))
	productID := uint(r.object(t)["id"].(float64))

	r = e.do("GET", "/api/products", nil, as(staffToken))
	require.Equal(t, fiber.StatusOK, r.status)
	assert.Len(t, r.list(t), 1)

	for _, q := range []float64{10, 7.5} {
		r = e.do("POST", "/api/stock-entries", map[string]any{
			"product_id": productID, "quantity": q, "date": "2025-12-01",
		}, as(staffToken), inBranch(b.ID))
		require.Equal(t, fiber.StatusCreated, r.status, string(r.raw))
	}

	r = e.do("GET", "/api/stock-entries", nil, as(staffToken), inBranch(b.ID))
	require.Equal(t, fiber.StatusOK, r.status)
	assert.Len(t, r.list(t), 2)

	r = e.do("GET", "/api/stock-entries/current", nil, as(staffToken), inBranch(b.ID))
	require.Equal(t, fiber.StatusOK, r.status)
	current := r.list(t)
	require.Len(t, current, 1)
	assert.Equal(t, 7.5, current[0]["quantity"])

	r = e.do("DELETE", fmt.Sprintf("/api/products/%d", productID), nil, as(rootToken))
	assert.Equal(t, fiber.StatusConflict, r.status)
	assert.Equal(t, "RESOURCE_IN_USE", r.code(t))
}

func TestCampaigns(t *testing.T) {
	e := newTestEnv(t)
	admin := e.user("admin@example.com", models.RoleAdmin)
	b := e.branch("Kadikoy")
	e.assign(admin, b)
	tok := e.token(admin)

	r := e.do("POST", "/api/campaigns", map[string]any{
		"name": "Winter", "starts_at": "2025-12-01", "ends_at": "2025-11-01",
	}, as(tok), inBranch(b.ID))
	assert.Equal(t, fiber.StatusBadRequest, r.status)

	r = e.do("POST", "/api/campaigns", map[string]any{
		"name": "Winter", "starts_at": "2025-12-01", "ends_at": "2025-12-31",
	}, as(tok), inBranch(b.ID))
	require.Equal(t, fiber.StatusCreated, r.status, string(r.raw))
	id := uint(r.object(t)["id"].(float64))

	r = e.do("GET", "/api/campaigns?on=2025-12-15", nil, as(tok), inBranch(b.ID))
	require.Equal(t, fiber.StatusOK, r.status)
	assert.Len(t, r.list(t), 1)

	r = e.do("PUT", fmt.Sprintf("/api/campaigns/%d", id), map[string]any{"active": false}, as(tok), inBranch(b.ID))
	require.Equal(t, fiber.StatusOK, r.status)
	assert.Equal(t, false, r.object(t)["active"])

	r = e.do("DELETE", fmt.Sprintf("/api/campaigns/%d", id), nil, as(tok), inBranch(b.ID))
	assert.Equal(t, fiber.StatusNoContent, r.status)
}

func TestStockSheetImport(t *testing.T) {
	e := newTestEnv(t)
	staff := e.user("staff@example.com", models.RoleUser)
	e.grant(staff, models.PrivManageStock, models.PrivViewStock)
	b := e.branch("Kadikoy")
	e.assign(staff, b)
	require.NoError(t, e.db.Create(&models.Product{Name: "Beyaz Çikolata", Unit: "kg", StockCode: "BC-01"}).Error)

	wb := excelize.NewFile()
	for i, row := range [][]any{{"Product", "Quantity"}, {"BEYAZ ÇİKOLATA 1KG", 4}, {"Ayran", 2}, {"BC-01", "x"}} {
		require.NoError(t, wb.SetSheetRow("Sheet1", fmt.Sprintf("A%d", i+1), &row))
	}
	sheet, err := wb.WriteToBuffer()
	require.NoError(t, err)
	require.NoError(t, wb.Close())

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "count.xlsx")
	require.NoError(t, err)
	_, err = io.Copy(part, sheet)
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("date", "2025-12-02"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", "/api/stock-entries/import", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+e.token(staff))
	req.Header.Set(auth.BranchHeader, fmt.Sprint(b.ID))
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var res struct {
		CreatedCount int      `json:"created_count"`
		Unmatched    []string `json:"unmatched_products"`
		InvalidRows  []int    `json:"invalid_rows"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, 1, res.CreatedCount)
	assert.Equal(t, []string{"Ayran"}, res.Unmatched)
	assert.Equal(t, []int{4}, res.InvalidRows)

	r := e.do("GET", "/api/stock-entries/current", nil, as(e.token(staff)), inBranch(b.ID))
	require.Equal(t, fiber.StatusOK, r.status)
	current := r.list(t)
	require.Len(t, current, 1)
	assert.Equal(t, float64(4), current[0]["quantity"])
	assert.Equal(t, "2025-12-02", current[0]["counted_at"])
}

func TestDashboard(t *testing.T) {
	e := newTestEnv(t)
	staff := e.user("staff@example.com", models.RoleUser)
	e.grant(staff, models.PrivViewStock)
	b := e.branch("Kadikoy")
	other := e.branch("Besiktas")
	e.assign(staff, b)
	tok := e.token(staff)

	product := models.Product{Name: "Tomato", Unit: "kg"}
	require.NoError(t, e.db.Create(&product).Error)
	now := time.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	for _, se := range []models.StockEntry{
		{BranchID: b.ID, ProductID: product.ID, Date: today.AddDate(0, 0, -1), Quantity: 9},
		{BranchID: b.ID, ProductID: product.ID, Date: today, Quantity: 4},
		{BranchID: other.ID, ProductID: product.ID, Date: today, Quantity: 50},
	} {
		require.NoError(t, e.db.Omit("Branch", "Product").Create(&se).Error)
	}
	require.NoError(t, e.db.Create(&models.Customer{BranchID: b.ID, Name: "Elif"}).Error)

	r := e.do("GET", "/api/dashboard/summary", nil, as(tok), inBranch(b.ID))
	require.Equal(t, fiber.StatusOK, r.status, string(r.raw))
	summary := r.object(t)
	assert.Equal(t, float64(1), summary["products_counted"])
	assert.Equal(t, today.Format("2006-01-02"), summary["last_stock_count_at"])
	// no view_customer: the figure stays zero
	assert.Equal(t, float64(0), summary["customers"])

	r = e.do("GET", fmt.Sprintf("/api/dashboard/stock-chart?product_id=%d", product.ID), nil, as(tok), inBranch(b.ID))
	require.Equal(t, fiber.StatusOK, r.status, string(r.raw))
	points := r.object(t)["points"].([]any)
	require.Len(t, points, 2)
	assert.Equal(t, float64(4), points[1].(map[string]any)["quantity"])

	r = e.do("GET", "/api/dashboard/stock-chart", nil, as(tok), inBranch(b.ID))
	assert.Equal(t, fiber.StatusBadRequest, r.status)

	r = e.do("GET", "/api/dashboard/summary", nil, as(tok), inBranch(other.ID))
	assert.Equal(t, fiber.StatusForbidden, r.status)
}

func TestUnknownRouteIsNotFound(t *testing.T) {
	e := newTestEnv(t)
	u := e.user("kerem@example.com", models.RoleUser)

	r := e.do("GET", "/api/no-such-route", nil)
	assert.Equal(t, fiber.StatusNotFound, r.status)
	assert.Equal(t, "NOT_FOUND", r.code(t))

	r = e.do("GET", "/api/no-such-route", nil, as(e.token(u)))
	assert.Equal(t, fiber.StatusNotFound, r.status)

	r = e.do("GET", "/api/users", nil)
	assert.Equal(t, fiber.StatusUnauthorized, r.status)
	assert.Equal(t, "TOKEN_MISSING", r.code(t))
}

func TestDeleteCustomerKeepsPromotedAccount(t *testing.T) {
	e := newTestEnv(t)
	root := e.user("root@example.com", models.RoleSuperAdmin)
	staff := e.user("staff@example.com", models.RoleUser)
	e.grant(staff, models.PrivDeleteCustomer, models.PrivDeleteUser)
	b := e.branch("Kadikoy")
	e.assign(staff, b)
	rootToken := e.token(root)
	staffToken := e.token(staff)

	activate := func(name, email string) (customerID, userID uint) {
		t.Helper()
		r := e.do("POST", "/api/customers", map[string]any{
			"name": name, "email": email, "branch_id": b.ID,
		}, as(rootToken))
		require.Equal(t, fiber.StatusCreated, r.status, string(r.raw))
		customerID = uint(r.object(t)["id"].(float64))

		r = e.do("POST", fmt.Sprintf("/api/customers/%d/activate-portal", customerID),
			map[string]string{"password": testPassword}, as(rootToken))
		require.Equal(t, fiber.StatusCreated, r.status, string(r.raw))
		userID = uint(r.object(t)["user"].(map[string]any)["id"].(float64))
		return customerID, userID
	}

	promotedCustomer, promoted := activate("Elif", "elif@example.com")
	r := e.do("PUT", fmt.Sprintf("/api/users/%d", promoted), map[string]any{"role": "superadmin"}, as(rootToken))
	require.Equal(t, fiber.StatusOK, r.status, string(r.raw))

	r = e.do("DELETE", fmt.Sprintf("/api/users/%d", promoted), nil, as(staffToken))
	assert.Equal(t, fiber.StatusForbidden, r.status)
	assert.Equal(t, "FORBIDDEN_CANNOT_MODIFY_SUPERADMIN", r.code(t))

	r = e.do("DELETE", fmt.Sprintf("/api/customers/%d", promotedCustomer), nil, as(staffToken), inBranch(b.ID))
	require.Equal(t, fiber.StatusNoContent, r.status, string(r.raw))

	var kept models.User
	require.NoError(t, e.db.First(&kept, promoted).Error)
	assert.Equal(t, models.RoleSuperAdmin, kept.Role)
	var superadmins int64
	require.NoError(t, e.db.Model(&models.User{}).Where("role = ?", models.RoleSuperAdmin).Count(&superadmins).Error)
	assert.Equal(t, int64(2), superadmins)

	// a portal account that is still a customer goes with the customer
	plainCustomer, plain := activate("Mert", "mert@example.com")
	r = e.do("DELETE", fmt.Sprintf("/api/customers/%d", plainCustomer), nil, as(staffToken), inBranch(b.ID))
	require.Equal(t, fiber.StatusNoContent, r.status, string(r.raw))

	var remaining int64
	require.NoError(t, e.db.Model(&models.User{}).Where("id = ?", plain).Count(&remaining).Error)
	assert.Zero(t, remaining)
}

func TestListFiltersRejectMalformedIDs(t *testing.T) {
	e := newTestEnv(t)
	root := e.user("root@example.com", models.RoleSuperAdmin)
	staff := e.user("staff@example.com", models.RoleUser)
	e.grant(staff, models.PrivViewCustomer, models.PrivViewStock)
	b := e.branch("Kadikoy")
	e.assign(staff, b)
	rootToken := e.token(root)
	staffToken := e.token(staff)

	for _, path := range []string{
		"/api/audit-logs?user_id=-1",
		"/api/audit-logs?entity_id=-5",
		"/api/audit-logs?branch_id=-2",
		"/api/audit-logs?limit=-1",
		"/api/users?branch_id=-1",
		"/api/customers?branch_id=-1",
		"/api/campaigns?branch_id=x",
		"/api/stock-entries?product_id=-3",
	} {
		r := e.do("GET", path, nil, as(rootToken))
		assert.Equal(t, fiber.StatusBadRequest, r.status, path)
		assert.Equal(t, "INVALID_REQUEST", r.code(t), path)
	}

	// a restricted caller gets the same answer even though its scope
	// ignores the requested branch
	r := e.do("GET", "/api/customers?branch_id=-1", nil, as(staffToken), inBranch(b.ID))
	assert.Equal(t, fiber.StatusBadRequest, r.status)

	r = e.do("GET", "/api/audit-logs?user_id=1", nil, as(rootToken))
	assert.Equal(t, fiber.StatusOK, r.status)
}
