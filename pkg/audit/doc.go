// Package audit records who changed the access-control model and the
// catalog, and lets administrators search that trail.
//
// # Event Types
//
// Authorization: permission_grant, permission_revoke, permissions_replace, access_denied
// Registry: function_create, function_update, function_delete, commands_assign, commands_unassign
// Admin: role_create, role_update, role_delete, user_create, user_update, user_delete, user_role_assign, user_role_remove
// Catalog: create, update, delete (resource type tells brand, category, product or rating apart)
// System: seed_applied, memberships_swept
//
// # Usage Example
//
//	event := audit.NewEvent(ctx, audit.EventTypeAuthzPermissionGrant, audit.EventStatusSuccess)
//	event.ResourceType = audit.ResourceTypePermission
//	event.ResourceID = "PRODUCT:VIEW"
//	event.Metadata = map[string]interface{}{"role_id": "member"}
//	_ = logger.Log(ctx, event)
//
// Loggers:
//
//   - DBLogger writes to the audit_logs table (see Migrations) and backs search
//   - SlogLogger writes events to the structured application log
//   - MultiLogger fans out to several loggers
//   - NoopLogger drops everything
//
// # HTTP
//
//	GET /api/audit        search with eventType, userId, resourceType, resourceId, status, from, to, pageIndex, pageSize
//	GET /api/audit/{id}   a single event
package audit
