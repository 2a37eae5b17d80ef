package models

import "time"

// Privilege is a named capability. Codename is referenced from route
// definitions and must never change once seeded.
type Privilege struct {
	ID        uint   `gorm:"primaryKey"`
	Codename  string `gorm:"size:64;uniqueIndex;not null"`
	Name      string `gorm:"size:100;not null"`
	Module    string `gorm:"size:50;index;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserPrivilege is a grant. At most one row per (user, privilege).
type UserPrivilege struct {
	ID          uint `gorm:"primaryKey"`
	UserID      uint `gorm:"not null;uniqueIndex:idx_user_privilege"`
	PrivilegeID uint `gorm:"not null;uniqueIndex:idx_user_privilege;index"`
	Privilege   Privilege
	GrantedBy   *uint
	CreatedAt   time.Time
}

// PrivilegeGrant is a grant joined with its privilege metadata.
type PrivilegeGrant struct {
	PrivilegeID uint   `json:"privilege_id"`
	Codename    string `json:"codename"`
	Name        string `json:"name"`
	Module      string `json:"module"`
}

const (
	PrivCreateBranch           = "create_branch"
	PrivUpdateBranch           = "update_branch"
	PrivDeleteBranch           = "delete_branch"
	PrivViewBranch             = "view_branch"
	PrivCreateUser             = "create_user"
	PrivUpdateUser             = "update_user"
	PrivDeleteUser             = "delete_user"
	PrivViewUser               = "view_user"
	PrivManagePrivileges       = "manage_privileges"
	PrivManageUserBranches     = "manage_user_branches"
	PrivCreateProduct          = "create_product"
	PrivUpdateProduct          = "update_product"
	PrivDeleteProduct          = "delete_product"
	PrivManageStock            = "manage_stock"
	PrivViewStock              = "view_stock"
	PrivCreateCustomer         = "create_customer"
	PrivUpdateCustomer         = "update_customer"
	PrivDeleteCustomer         = "delete_customer"
	PrivViewCustomer           = "view_customer"
	PrivActivateCustomerPortal = "activate_customer_portal"
	PrivCreateCampaign         = "create_campaign"
	PrivUpdateCampaign         = "update_campaign"
	PrivDeleteCampaign         = "delete_campaign"
	PrivViewCampaign           = "view_campaign"
	PrivViewAuditLogs          = "view_audit_logs"
)

// DefaultPrivileges is the catalog seeded at startup.
var DefaultPrivileges = []Privilege{
	{Codename: PrivCreateBranch, Name: "Create branch", Module: "branch"},
	{Codename: PrivUpdateBranch, Name: "Update branch", Module: "branch"},
	{Codename: PrivDeleteBranch, Name: "Delete branch", Module: "branch"},
	{Codename: PrivViewBranch, Name: "View branches", Module: "branch"},

	{Codename: PrivCreateUser, Name: "Create employee", Module: "user"},
	{Codename: PrivUpdateUser, Name: "Update employee", Module: "user"},
	{Codename: PrivDeleteUser, Name: "Delete employee", Module: "user"},
	{Codename: PrivViewUser, Name: "View employees", Module: "user"},
	{Codename: PrivManagePrivileges, Name: "Manage user privileges", Module: "user"},
	{Codename: PrivManageUserBranches, Name: "Manage user branch assignments", Module: "user"},

	{Codename: PrivCreateProduct, Name: "Create product", Module: "product"},
	{Codename: PrivUpdateProduct, Name: "Update product", Module: "product"},
	{Codename: PrivDeleteProduct, Name: "Delete product", Module: "product"},

	{Codename: PrivManageStock, Name: "Record stock counts", Module: "stock"},
	{Codename: PrivViewStock, Name: "View stock", Module: "stock"},

	{Codename: PrivCreateCustomer, Name: "Create customer", Module: "customer"},
	{Codename: PrivUpdateCustomer, Name: "Update customer", Module: "customer"},
	{Codename: PrivDeleteCustomer, Name: "Delete customer", Module: "customer"},
	{Codename: PrivViewCustomer, Name: "View customers", Module: "customer"},
	{Codename: PrivActivateCustomerPortal, Name: "Activate customer portal", Module: "customer"},

	{Codename: PrivCreateCampaign, Name: "Create campaign", Module: "campaign"},
	{Codename: PrivUpdateCampaign, Name: "Update campaign", Module: "campaign"},
	{Codename: PrivDeleteCampaign, Name: "Delete campaign", Module: "campaign"},
	{Codename: PrivViewCampaign, Name: "View campaigns", Module: "campaign"},

	{Codename: PrivViewAuditLogs, Name: "View audit logs", Module: "audit"},
}
