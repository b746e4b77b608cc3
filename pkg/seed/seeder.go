package seed

import (
	"context"
	"fmt"
	"slices"

	"github.com/platinummonkey/shopadmin/pkg/audit"
	"github.com/platinummonkey/shopadmin/pkg/auth"
	"github.com/platinummonkey/shopadmin/pkg/observability"
	"github.com/platinummonkey/shopadmin/pkg/rbac"
)

// Result counts what an Apply inserted
type Result struct {
	Functions    int `json:"functions"`
	Associations int `json:"associations"`
	Roles        int `json:"roles"`
	Users        int `json:"users"`
	Memberships  int `json:"memberships"`
	Permissions  int `json:"permissions"`
}

// Seeder applies seed files. Every row is inserted only if absent; grants
// are written only while the permission table is empty so that an
// operator's edits are never overwritten.
type Seeder struct {
	rbac        *rbac.Store
	users       *auth.UserStore
	checker     *rbac.PermissionChecker
	metrics     *observability.Metrics
	logger      *observability.Logger
	auditLogger audit.Logger
}

// NewSeeder creates a Seeder. checker, metrics, logger and auditLogger may
// be nil.
func NewSeeder(store *rbac.Store, users *auth.UserStore, checker *rbac.PermissionChecker, metrics *observability.Metrics, logger *observability.Logger, auditLogger audit.Logger) *Seeder {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if auditLogger == nil {
		auditLogger = audit.NoopLogger{}
	}
	return &Seeder{rbac: store, users: users, checker: checker, metrics: metrics, logger: logger, auditLogger: auditLogger}
}

// Apply inserts the missing parts of f
func (s *Seeder) Apply(ctx context.Context, f *File) (res Result, err error) {
	ctx, span := observability.StartSpan(ctx, "seed.Apply")
	defer func() {
		observability.EndSpan(span, err)
		s.metrics.SeedRun(err)
		s.record(ctx, res, err)
	}()

	for _, c := range f.Commands {
		if err := s.rbac.EnsureCommand(ctx, c); err != nil {
			return res, err
		}
	}

	functions, err := f.orderedFunctions()
	if err != nil {
		return res, err
	}
	for _, fn := range functions {
		inserted, err := s.rbac.EnsureFunction(ctx, rbac.Function{
			ID:        fn.ID,
			ParentID:  optional(fn.ParentID),
			Name:      fn.Name,
			URL:       optional(fn.URL),
			Icon:      optional(fn.Icon),
			SortOrder: fn.SortOrder,
		})
		if err != nil {
			return res, err
		}
		if inserted {
			res.Functions++
		}
		for _, cmd := range fn.Commands {
			inserted, err := s.rbac.EnsureCommandInFunction(ctx, fn.ID, cmd)
			if err != nil {
				return res, err
			}
			if inserted {
				res.Associations++
			}
		}
	}

	for _, r := range f.Roles {
		inserted, err := s.rbac.EnsureRole(ctx, rbac.Role{ID: r.ID, Name: r.Name, Description: r.Description})
		if err != nil {
			return res, err
		}
		if inserted {
			res.Roles++
		}
	}

	if err := s.applyUsers(ctx, f, &res); err != nil {
		return res, err
	}
	if err := s.applyPermissions(ctx, f, &res); err != nil {
		return res, err
	}

	if s.checker != nil {
		s.checker.InvalidateAll(ctx)
	}
	s.logger.WithFields(map[string]interface{}{
		"functions":   res.Functions,
		"roles":       res.Roles,
		"users":       res.Users,
		"permissions": res.Permissions,
	}).Info("seed applied")
	return res, nil
}

func (s *Seeder) applyUsers(ctx context.Context, f *File, res *Result) error {
	for _, u := range f.Users {
		inserted, err := s.users.EnsureUser(ctx, auth.User{
			ID:       u.ID,
			Username: u.Username,
			Email:    u.Email,
			FullName: u.FullName,
			IsActive: true,
		})
		if err != nil {
			return err
		}
		if inserted {
			res.Users++
		}

		held, err := s.rbac.ActiveRoleIDs(ctx, u.ID)
		if err != nil {
			return err
		}
		for _, roleID := range u.Roles {
			if slices.Contains(held, roleID) {
				continue
			}
			if _, err := s.rbac.AssignRoleToUser(ctx, u.ID, rbac.AssignRoleRequest{RoleID: roleID}, "seed"); err != nil {
				return fmt.Errorf("failed to seed role %s for user %s: %w", roleID, u.ID, err)
			}
			res.Memberships++
		}
	}
	return nil
}

func (s *Seeder) applyPermissions(ctx context.Context, f *File, res *Result) error {
	sets := make([]rbac.RoleGrants, 0, len(f.Permissions))
	total := 0
	for _, p := range f.Permissions {
		var grants []Grant
		if p.All {
			for _, fn := range f.Functions {
				grants = append(grants, Grant{Function: fn.ID, Commands: fn.Commands})
			}
		}
		grants = append(grants, p.Grants...)

		set := rbac.RoleGrants{RoleID: p.Role}
		for _, g := range grants {
			for _, cmd := range g.Commands {
				set.Permissions = append(set.Permissions, rbac.FunctionCommand{FunctionID: g.Function, CommandID: cmd})
			}
		}
		total += len(set.Permissions)
		sets = append(sets, set)
	}

	applied, err := s.rbac.SeedPermissions(ctx, sets)
	if err != nil {
		return fmt.Errorf("failed to seed permissions: %w", err)
	}
	if !applied {
		s.logger.Debug("permissions already present, skipping permission seed")
		return nil
	}
	res.Permissions += total
	return nil
}

func (s *Seeder) record(ctx context.Context, res Result, opErr error) {
	status := audit.EventStatusSuccess
	if opErr != nil {
		status = audit.EventStatusFailure
	}
	event := audit.NewEvent(ctx, audit.EventTypeSystemSeedApplied, status)
	event.ResourceType = audit.ResourceTypeSeed
	event.Message = "seed applied"
	event.Metadata = map[string]interface{}{
		"functions":    res.Functions,
		"associations": res.Associations,
		"roles":        res.Roles,
		"users":        res.Users,
		"memberships":  res.Memberships,
		"permissions":  res.Permissions,
	}
	if opErr != nil {
		event.ErrorMessage = opErr.Error()
	}
	if err := s.auditLogger.Log(ctx, event); err != nil {
		s.logger.WithError(err).Warn("failed to write audit event")
	}
}
