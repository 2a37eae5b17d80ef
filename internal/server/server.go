// Package server assembles the fiber application: middleware, error
// handling and every route of the API.
package server

import (
	"errors"
	"strings"

	"retail-backend/internal/access"
	"retail-backend/internal/admin"
	"retail-backend/internal/audit"
	"retail-backend/internal/auth"
	"retail-backend/internal/campaign"
	"retail-backend/internal/config"
	"retail-backend/internal/customer"
	"retail-backend/internal/dashboard"
	"retail-backend/internal/inventory"
	"retail-backend/internal/metrics"
	"retail-backend/internal/models"
	"retail-backend/internal/repository"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Deps struct {
	Config *config.Config
	DB     *gorm.DB
	Logger *zap.Logger

	// Registry receives the service metrics. A fresh registry is used when
	// nil.
	Registry *prometheus.Registry

	// Optional overrides, mostly for tests.
	Hasher auth.PasswordHasher
	Tokens *auth.TokenService
}

// New builds the application with all routes mounted under /api.
func New(d Deps) (*fiber.App, error) {
	if d.Config == nil || d.DB == nil {
		return nil, errors.New("server: config and database are required")
	}
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	registry := d.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	tokens := d.Tokens
	if tokens == nil {
		var err error
		tokens, err = auth.NewTokenService(d.Config.JWTSecret, d.Config.JWTIssuer, d.Config.JWTAudience,
			auth.WithTTL(d.Config.TokenTTL))
		if err != nil {
			return nil, err
		}
	}
	hasher := d.Hasher
	if hasher == nil {
		hasher = auth.NewBcryptHasher(d.Config.BcryptCost)
	}

	m := metrics.New(registry)

	// stores
	users := repository.NewUserRepository(d.DB)
	privileges := access.NewPrivilegeStore(
		repository.NewPrivilegeRepository(d.DB),
		repository.NewUserPrivilegeRepository(d.DB),
		users,
	)
	branches := access.NewBranchAssignmentStore(
		repository.NewUserBranchRepository(d.DB),
		repository.NewBranchRepository(d.DB),
		users,
	)
	auditLog := audit.NewService(d.DB)

	mw := auth.NewMiddleware(auth.MiddlewareConfig{
		Tokens:     tokens,
		Users:      users,
		Privileges: privileges,
		Branches:   branches,
		Logger:     log.Named("auth"),
		Recorder:   m,
	})

	authH, err := auth.NewHandler(auth.HandlerConfig{
		Users:      users,
		Privileges: privileges,
		Branches:   branches,
		Hasher:     hasher,
		Tokens:     tokens,
		Audit:      auditLog,
		Logger:     log.Named("auth"),
	})
	if err != nil {
		return nil, err
	}
	accessH := access.NewHandler(privileges, branches, auditLog, log.Named("access"))
	adminH := admin.NewHandler(admin.HandlerConfig{
		DB:          d.DB,
		Assignments: branches,
		Hasher:      hasher,
		Audit:       auditLog,
		Logger:      log.Named("admin"),
	})
	inventoryH := inventory.NewHandler(d.DB, auditLog, log.Named("inventory"))
	customerH := customer.NewHandler(d.DB, hasher, auditLog, log.Named("customer"))
	campaignH := campaign.NewHandler(d.DB, auditLog, log.Named("campaign"))
	dashboardH := dashboard.NewHandler(d.DB, mw, log.Named("dashboard"))

	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler(log),
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: corsOrigins(d.Config.CORSOrigins),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, " + auth.BranchHeader,
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
	}))
	app.Use(m.Middleware())

	app.Get("/healthz", healthHandler(d.DB))
	app.Get("/metrics", m.Handler())

	api := app.Group("/api")

	// Public auth
	api.Post("/auth/register-superadmin", mw.BootstrapGate(), authH.RegisterSuperAdminHandler())
	api.Post("/auth/login", authH.LoginHandler())

	// Protected. Authenticate is attached per route; unknown /api paths
	// answer 404, not 401.
	authn := mw.Authenticate()
	scope := mw.RequireBranchScope()
	allow := func(privilege string, roles ...models.Role) fiber.Handler {
		return mw.Authorize(auth.Require(privilege, roles...))
	}

	api.Get("/auth/me", authn, authH.MeHandler())
	api.Post("/auth/refresh", authn, authH.RefreshHandler())

	// Privilege catalog
	api.Get("/privileges", authn, allow(models.PrivManagePrivileges, models.RoleAdmin), accessH.ListPrivilegesHandler())
	api.Put("/privileges/:id", authn, mw.Authorize(auth.Requirement{}), accessH.RenamePrivilegeHandler())

	// Grants of a user. Reading is open to the user itself; writes never
	// are, and a superadmin's grants are only writable by a superadmin.
	api.Get("/users/:id/privileges", authn, mw.AuthorizeUserTarget(auth.TargetPolicy{
		AllowSelf:   true,
		Requirement: auth.Require(models.PrivManagePrivileges, models.RoleAdmin),
	}), accessH.ListUserPrivilegesHandler())
	modifyGrants := mw.AuthorizeUserTarget(auth.TargetPolicy{
		Requirement: auth.Require(models.PrivManagePrivileges),
		Protect:     auth.CanModifyPrivileges,
	})
	api.Post("/users/:id/privileges", authn, modifyGrants, accessH.GrantPrivilegeHandler())
	api.Delete("/users/:id/privileges/:privilegeId", authn, modifyGrants, accessH.RevokePrivilegeHandler())

	// Branch assignments of a user
	api.Get("/users/:id/branches", authn, mw.AuthorizeUserTarget(auth.TargetPolicy{
		AllowSelf:   true,
		Requirement: auth.Require(models.PrivManageUserBranches, models.RoleAdmin),
	}), accessH.ListUserBranchesHandler())
	modifyAssignments := mw.AuthorizeUserTarget(auth.TargetPolicy{
		Requirement: auth.Require(models.PrivManageUserBranches),
		Protect:     auth.CanModifyAccount,
	})
	api.Post("/users/:id/branches", authn, modifyAssignments, accessH.AssignBranchHandler())
	api.Delete("/users/:id/branches/:branchId", authn, modifyAssignments, accessH.UnassignBranchHandler())

	// Employees
	api.Post("/users", authn, allow(models.PrivCreateUser), adminH.CreateUserHandler())
	api.Get("/users", authn, allow(models.PrivViewUser, models.RoleAdmin), adminH.ListUsersHandler())
	api.Get("/users/:id", authn, mw.AuthorizeUserTarget(auth.TargetPolicy{
		AllowSelf:   true,
		Requirement: auth.Require(models.PrivViewUser, models.RoleAdmin),
	}), adminH.GetUserHandler())
	api.Put("/users/:id", authn, mw.AuthorizeUserTarget(auth.TargetPolicy{
		AllowSelf:   true,
		Requirement: auth.Require(models.PrivUpdateUser),
		Protect:     auth.CanModifyAccount,
	}), adminH.UpdateUserHandler())
	api.Delete("/users/:id", authn, mw.AuthorizeUserTarget(auth.TargetPolicy{
		Requirement: auth.Require(models.PrivDeleteUser),
		Protect:     auth.CanModifyAccount,
	}), adminH.DeleteUserHandler())

	// Branches
	api.Post("/branches", authn, allow(models.PrivCreateBranch), adminH.CreateBranchHandler())
	api.Get("/branches", authn, allow(models.PrivViewBranch, models.RoleAdmin), adminH.ListBranchesHandler())
	api.Get("/branches/:id", authn, allow(models.PrivViewBranch, models.RoleAdmin), adminH.GetBranchHandler())
	api.Put("/branches/:id", authn, allow(models.PrivUpdateBranch), adminH.UpdateBranchHandler())
	api.Delete("/branches/:id", authn, allow(models.PrivDeleteBranch), adminH.DeleteBranchHandler())
	api.Get("/branches/:id/users", authn, allow(models.PrivViewUser, models.RoleAdmin), adminH.ListBranchUsersHandler())

	// Products
	api.Get("/products", authn, inventoryH.ListProductsHandler())
	api.Post("/products", authn, allow(models.PrivCreateProduct), inventoryH.CreateProductHandler())
	api.Put("/products/:id", authn, allow(models.PrivUpdateProduct), inventoryH.UpdateProductHandler())
	api.Delete("/products/:id", authn, allow(models.PrivDeleteProduct), inventoryH.DeleteProductHandler())

	// Branch scoped: role/privilege first, then the branch context
	api.Post("/stock-entries", authn, allow(models.PrivManageStock, models.RoleAdmin), scope, inventoryH.CreateStockEntryHandler())
	api.Post("/stock-entries/import", authn, allow(models.PrivManageStock, models.RoleAdmin), scope, inventoryH.ImportStockEntriesHandler())
	api.Get("/stock-entries", authn, allow(models.PrivViewStock, models.RoleAdmin), scope, inventoryH.ListStockEntriesHandler())
	api.Get("/stock-entries/current", authn, allow(models.PrivViewStock, models.RoleAdmin), scope, inventoryH.GetCurrentStockHandler())

	api.Get("/customers", authn, allow(models.PrivViewCustomer, models.RoleAdmin), scope, customerH.ListCustomersHandler())
	api.Get("/customers/:id", authn, allow(models.PrivViewCustomer, models.RoleAdmin), scope, customerH.GetCustomerHandler())
	api.Post("/customers", authn, allow(models.PrivCreateCustomer, models.RoleAdmin), scope, customerH.CreateCustomerHandler())
	api.Put("/customers/:id", authn, allow(models.PrivUpdateCustomer, models.RoleAdmin), scope, customerH.UpdateCustomerHandler())
	api.Delete("/customers/:id", authn, allow(models.PrivDeleteCustomer, models.RoleAdmin), scope, customerH.DeleteCustomerHandler())
	api.Post("/customers/:id/activate-portal", authn, allow(models.PrivActivateCustomerPortal, models.RoleAdmin), scope, customerH.ActivatePortalHandler())

	api.Get("/campaigns", authn, allow(models.PrivViewCampaign, models.RoleAdmin), scope, campaignH.ListCampaignsHandler())
	api.Get("/campaigns/:id", authn, allow(models.PrivViewCampaign, models.RoleAdmin), scope, campaignH.GetCampaignHandler())
	api.Post("/campaigns", authn, allow(models.PrivCreateCampaign, models.RoleAdmin), scope, campaignH.CreateCampaignHandler())
	api.Put("/campaigns/:id", authn, allow(models.PrivUpdateCampaign, models.RoleAdmin), scope, campaignH.UpdateCampaignHandler())
	api.Delete("/campaigns/:id", authn, allow(models.PrivDeleteCampaign, models.RoleAdmin), scope, campaignH.DeleteCampaignHandler())

	api.Get("/dashboard/summary", authn, scope, dashboardH.SummaryHandler())
	api.Get("/dashboard/stock-chart", authn, allow(models.PrivViewStock, models.RoleAdmin), scope, dashboardH.StockChartHandler())

	// Audit trail
	api.Get("/audit-logs", authn, allow(models.PrivViewAuditLogs), scope, adminH.ListAuditLogsHandler())

	return app, nil
}

func corsOrigins(raw string) string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ",")
}

func healthHandler(db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.UserContext())
		}
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	}
}
