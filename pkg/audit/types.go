package audit

import (
	"encoding/json"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Authorization events
	EventTypeAuthzPermissionGrant    EventType = "authz.permission_grant"
	EventTypeAuthzPermissionRevoke   EventType = "authz.permission_revoke"
	EventTypeAuthzPermissionsReplace EventType = "authz.permissions_replace"
	EventTypeAuthzAccessDenied       EventType = "authz.access_denied"

	// Function registry events
	EventTypeRegistryFunctionCreate   EventType = "registry.function_create"
	EventTypeRegistryFunctionUpdate   EventType = "registry.function_update"
	EventTypeRegistryFunctionDelete   EventType = "registry.function_delete"
	EventTypeRegistryCommandsAssign   EventType = "registry.commands_assign"
	EventTypeRegistryCommandsUnassign EventType = "registry.commands_unassign"

	// Admin events
	EventTypeAdminRoleCreate     EventType = "admin.role_create"
	EventTypeAdminRoleUpdate     EventType = "admin.role_update"
	EventTypeAdminRoleDelete     EventType = "admin.role_delete"
	EventTypeAdminUserCreate     EventType = "admin.user_create"
	EventTypeAdminUserUpdate     EventType = "admin.user_update"
	EventTypeAdminUserDelete     EventType = "admin.user_delete"
	EventTypeAdminUserRoleAssign EventType = "admin.user_role_assign"
	EventTypeAdminUserRoleRemove EventType = "admin.user_role_remove"

	// Catalog events
	EventTypeCatalogCreate EventType = "catalog.create"
	EventTypeCatalogUpdate EventType = "catalog.update"
	EventTypeCatalogDelete EventType = "catalog.delete"

	// System events
	EventTypeSystemSeedApplied      EventType = "system.seed_applied"
	EventTypeSystemMembershipsSwept EventType = "system.memberships_swept"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType represents the type of resource being changed
type ResourceType string

const (
	ResourceTypeFunction   ResourceType = "function"
	ResourceTypeCommand    ResourceType = "command"
	ResourceTypePermission ResourceType = "permission"
	ResourceTypeRole       ResourceType = "role"
	ResourceTypeUser       ResourceType = "user"
	ResourceTypeBrand      ResourceType = "brand"
	ResourceTypeCategory   ResourceType = "category"
	ResourceTypeProduct    ResourceType = "product"
	ResourceTypeRating     ResourceType = "rating"
	ResourceTypeSeed       ResourceType = "seed"
)

// AuditEvent represents a single audit log entry
type AuditEvent struct {
	// Core fields
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"eventType"`
	Status    EventStatus `json:"status"`

	// Actor information
	UserID   string `json:"userId,omitempty"`
	Username string `json:"username,omitempty"`

	// Resource information
	ResourceType ResourceType `json:"resourceType,omitempty"`
	ResourceID   string       `json:"resourceId,omitempty"`

	// Request context
	IPAddress string `json:"ipAddress,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	Method    string `json:"method,omitempty"`
	Path      string `json:"path,omitempty"`

	// Additional details
	Message      string                 `json:"message,omitempty"`
	ErrorMessage string                 `json:"errorMessage,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`

	// Changes tracking (before/after for updates)
	Changes *ChangeDetails `json:"changes,omitempty"`
}

// ChangeDetails tracks before/after values for updates
type ChangeDetails struct {
	Before interface{} `json:"before,omitempty"`
	After  interface{} `json:"after,omitempty"`
}

// ToJSON converts the audit event to JSON
func (e *AuditEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// SearchFilter represents filters for searching audit logs
type SearchFilter struct {
	// Time range
	StartTime *time.Time
	EndTime   *time.Time

	// Actor and event filters
	UserID     string
	EventTypes []EventType
	Status     EventStatus

	// Resource filters
	ResourceType ResourceType
	ResourceID   string

	// Pagination
	Limit  int
	Offset int
}

// SearchResult is one page of events plus the total matching the filter
type SearchResult struct {
	Events       []*AuditEvent `json:"items"`
	TotalRecords int           `json:"totalRecords"`
}
