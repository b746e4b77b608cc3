// Package rbac implements the function × command × role permission model
// that guards the admin API.
//
// Functions form a tree of admin feature areas (PRODUCT, CATEGORY, ...).
// Commands are the fixed verbs VIEW, CREATE, UPDATE, DELETE and APPROVE.
// A command must be associated with a function before any role can be
// granted it there. Users hold roles through memberships, which may expire.
//
// # Components
//
//   - Store persists the model; every multi-row mutation runs in one
//     transaction and parent changes are checked for cycles.
//   - PermissionChecker builds permission matrices and answers access
//     checks, caching grants per role under rbac:grants:<role>.
//   - RequireCommand is the HTTP guard applied to admin routes.
//   - MembershipSweeper removes expired memberships on a cron schedule.
//   - Handlers exposes the REST surface under /api/functions, /api/commands,
//     /api/roles and /api/users/{id}/roles.
//
// # Usage
//
//	store := rbac.NewStore(db, metrics)
//	checker := rbac.NewPermissionChecker(store, rbac.WithCache(c, ttl))
//	router.Handle("/api/products", checker.RequireCommand("CONTENT_PRODUCT", rbac.CommandCreate)(h))
package rbac
