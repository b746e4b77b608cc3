package rbac

import (
	"time"

	"github.com/platinummonkey/shopadmin/pkg/storage"
)

// The fixed command vocabulary
const (
	CommandView    = "VIEW"
	CommandCreate  = "CREATE"
	CommandUpdate  = "UPDATE"
	CommandDelete  = "DELETE"
	CommandApprove = "APPROVE"
)

// Function is a node in the admin feature tree
type Function struct {
	ID        string  `json:"id" validate:"required,identifier,max=50"`
	ParentID  *string `json:"parentId" validate:"omitempty,identifier,max=50"`
	Name      string  `json:"name" validate:"required,max=200"`
	URL       *string `json:"url" validate:"omitempty,max=500"`
	Icon      *string `json:"icon" validate:"omitempty,max=50"`
	SortOrder int     `json:"sortOrder" validate:"gte=0"`
}

// FunctionQuery filters functions by name, id or url
type FunctionQuery = storage.PageQuery

// Command is an action verb applicable to functions
type Command struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CommandInFunction records that a command applies to a function
type CommandInFunction struct {
	CommandID  string `json:"commandId"`
	FunctionID string `json:"functionId"`
}

// Permission grants a role one command on one function
type Permission struct {
	FunctionID string `json:"functionId"`
	RoleID     string `json:"roleId"`
	CommandID  string `json:"commandId"`
}

// FunctionCommand is one entry of a role permission replacement
type FunctionCommand struct {
	FunctionID string `json:"functionId" validate:"required,max=50"`
	CommandID  string `json:"commandId" validate:"required,max=50"`
}

// Role is a named set of permission grants
type Role struct {
	ID          string `json:"id" validate:"required,identifier,max=50"`
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=500"`
}

// UserRole is a (possibly expiring) role membership
type UserRole struct {
	UserID    string     `json:"userId"`
	RoleID    string     `json:"roleId"`
	GrantedAt time.Time  `json:"grantedAt"`
	GrantedBy string     `json:"grantedBy,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// Active reports whether the membership is in force at now
func (ur UserRole) Active(now time.Time) bool {
	return ur.ExpiresAt == nil || ur.ExpiresAt.After(now)
}

// AssignCommandsRequest is the body of POST /api/functions/{id}/commands
type AssignCommandsRequest struct {
	CommandIDs        []string `json:"commandIds" validate:"required,min=1,dive,required,max=50"`
	AddToAllFunctions bool     `json:"addToAllFunctions"`
}

// ReplacePermissionsRequest is the body of PUT /api/roles/{id}/permissions
type ReplacePermissionsRequest struct {
	Permissions []FunctionCommand `json:"permissions" validate:"dive"`
}

// AssignRoleRequest is the body of POST /api/users/{id}/roles
type AssignRoleRequest struct {
	RoleID    string     `json:"roleId" validate:"required,max=50"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

// MatrixRow is one function's line in a permission matrix
type MatrixRow struct {
	FunctionID string      `json:"functionId"`
	ParentID   *string     `json:"parentId"`
	Name       string      `json:"name"`
	SortOrder  int         `json:"sortOrder"`
	Commands   []string    `json:"commands"`
	Mask       CommandMask `json:"mask"`
	MaskFlags
}

// PermissionMatrix lists, for every function, the commands granted to a
// role or to the union of a user's roles.
type PermissionMatrix struct {
	RoleIDs   []string    `json:"roleIds"`
	Functions []MatrixRow `json:"functions"`
}

// Row returns the matrix row for functionID
func (m *PermissionMatrix) Row(functionID string) (MatrixRow, bool) {
	for _, row := range m.Functions {
		if row.FunctionID == functionID {
			return row, true
		}
	}
	return MatrixRow{}, false
}

// AccessDecision is the outcome of CheckAccess
type AccessDecision struct {
	UserID       string    `json:"userId"`
	FunctionID   string    `json:"functionId"`
	CommandID    string    `json:"commandId"`
	Allowed      bool      `json:"allowed"`
	Reason       string    `json:"reason"`
	MatchedRoles []string  `json:"matchedRoles"`
	CheckedAt    time.Time `json:"checkedAt"`
}
