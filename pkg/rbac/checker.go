package rbac

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/shopadmin/pkg/apperr"
	"github.com/platinummonkey/shopadmin/pkg/audit"
	"github.com/platinummonkey/shopadmin/pkg/cache"
	"github.com/platinummonkey/shopadmin/pkg/observability"
)

const (
	grantsKeyPrefix = "rbac:grants:"
	functionsKey    = "rbac:functions"

	defaultCacheTTL = 10 * time.Minute
)

func grantsKey(roleID string) string { return grantsKeyPrefix + roleID }

// PermissionChecker answers permission queries over the store. Grants per
// role and the function list are cached; mutating handlers invalidate them.
type PermissionChecker struct {
	store       *Store
	cache       cache.Cache
	ttl         time.Duration
	metrics     *observability.Metrics
	logger      *observability.Logger
	auditLogger audit.Logger
	enforce     bool
	now         func() time.Time
}

// CheckerOption configures a PermissionChecker
type CheckerOption func(*PermissionChecker)

// WithCache stores grants and functions in c for ttl
func WithCache(c cache.Cache, ttl time.Duration) CheckerOption {
	return func(pc *PermissionChecker) {
		pc.cache = c
		if ttl > 0 {
			pc.ttl = ttl
		}
	}
}

// WithCheckerMetrics records authorization decisions
func WithCheckerMetrics(m *observability.Metrics) CheckerOption {
	return func(pc *PermissionChecker) { pc.metrics = m }
}

// WithCheckerLogger sets the logger used for cache and lookup failures
func WithCheckerLogger(l *observability.Logger) CheckerOption {
	return func(pc *PermissionChecker) { pc.logger = l }
}

// WithAuditLogger records denied requests
func WithAuditLogger(l audit.Logger) CheckerOption {
	return func(pc *PermissionChecker) { pc.auditLogger = l }
}

// WithEnforcement turns RequireCommand's matrix check on or off. With
// enforcement off an authenticated caller is always let through.
func WithEnforcement(enforce bool) CheckerOption {
	return func(pc *PermissionChecker) { pc.enforce = enforce }
}

// NewPermissionChecker creates a checker with enforcement on and no cache
func NewPermissionChecker(store *Store, opts ...CheckerOption) *PermissionChecker {
	pc := &PermissionChecker{
		store:       store,
		cache:       cache.Noop{},
		ttl:         defaultCacheTTL,
		auditLogger: audit.NoopLogger{},
		enforce:     true,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(pc)
	}
	if pc.logger == nil {
		pc.logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return pc
}

// functions returns every registry function ordered by sort_order then id
func (pc *PermissionChecker) functions(ctx context.Context) ([]Function, error) {
	var cached []Function
	hit, err := cache.GetJSON(ctx, pc.cache, functionsKey, &cached)
	if err != nil {
		pc.logger.WithError(err).Warn("function cache read failed")
	}
	if hit {
		return cached, nil
	}

	page, err := pc.store.ListFunctions(ctx, FunctionQuery{})
	if err != nil {
		return nil, err
	}
	if err := cache.SetJSON(ctx, pc.cache, functionsKey, page.Items, pc.ttl); err != nil {
		pc.logger.WithError(err).Warn("function cache write failed")
	}
	return page.Items, nil
}

// grants returns the union of grants held by roleIDs
func (pc *PermissionChecker) grants(ctx context.Context, roleIDs []string) ([]Permission, error) {
	var all []Permission
	for _, roleID := range dedupe(roleIDs) {
		var cached []Permission
		hit, err := cache.GetJSON(ctx, pc.cache, grantsKey(roleID), &cached)
		if err != nil {
			pc.logger.WithError(err).WithField("role_id", roleID).Warn("grant cache read failed")
		}
		if !hit {
			cached, err = pc.store.GrantsForRoles(ctx, []string{roleID})
			if err != nil {
				return nil, err
			}
			if err := cache.SetJSON(ctx, pc.cache, grantsKey(roleID), cached, pc.ttl); err != nil {
				pc.logger.WithError(err).WithField("role_id", roleID).Warn("grant cache write failed")
			}
		}
		all = append(all, cached...)
	}
	return all, nil
}

func buildMatrix(roleIDs []string, functions []Function, grants []Permission) *PermissionMatrix {
	granted := make(map[string]map[string]bool)
	for _, g := range grants {
		if granted[g.FunctionID] == nil {
			granted[g.FunctionID] = make(map[string]bool)
		}
		granted[g.FunctionID][g.CommandID] = true
	}

	rows := make([]MatrixRow, 0, len(functions))
	for _, f := range functions {
		commands := make([]string, 0, len(granted[f.ID]))
		for c := range granted[f.ID] {
			commands = append(commands, c)
		}
		sortCommands(commands)
		mask := MaskFor(commands...)
		rows = append(rows, MatrixRow{
			FunctionID: f.ID,
			ParentID:   f.ParentID,
			Name:       f.Name,
			SortOrder:  f.SortOrder,
			Commands:   commands,
			Mask:       mask,
			MaskFlags:  mask.Flags(),
		})
	}

	if roleIDs == nil {
		roleIDs = []string{}
	}
	return &PermissionMatrix{RoleIDs: roleIDs, Functions: rows}
}

// GetPermissionMatrix returns, for every function, the commands roleID holds
func (pc *PermissionChecker) GetPermissionMatrix(ctx context.Context, roleID string) (matrix *PermissionMatrix, err error) {
	ctx, span := observability.StartSpan(ctx, "rbac.GetPermissionMatrix", attribute.String("role_id", roleID))
	defer func() { observability.EndSpan(span, err) }()

	if _, err := pc.store.GetRole(ctx, roleID); err != nil {
		return nil, err
	}
	return pc.matrixFor(ctx, []string{roleID})
}

// GetUserPermissionMatrix returns the union matrix of the user's active roles
func (pc *PermissionChecker) GetUserPermissionMatrix(ctx context.Context, userID string) (matrix *PermissionMatrix, err error) {
	ctx, span := observability.StartSpan(ctx, "rbac.GetUserPermissionMatrix", attribute.String("user_id", userID))
	defer func() { observability.EndSpan(span, err) }()

	ok, err := pc.store.UserExists(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.NotFound("user", userID)
	}
	roleIDs, err := pc.store.ActiveRoleIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	return pc.matrixFor(ctx, roleIDs)
}

func (pc *PermissionChecker) matrixFor(ctx context.Context, roleIDs []string) (*PermissionMatrix, error) {
	functions, err := pc.functions(ctx)
	if err != nil {
		return nil, err
	}
	grants, err := pc.grants(ctx, roleIDs)
	if err != nil {
		return nil, err
	}
	return buildMatrix(roleIDs, functions, grants), nil
}

// CheckAccess decides whether userID may run commandID on functionID. The
// user's active memberships are unioned with tokenRoles, which carries any
// role ids asserted by the identity provider.
func (pc *PermissionChecker) CheckAccess(ctx context.Context, userID, functionID, commandID string, tokenRoles ...string) (decision *AccessDecision, err error) {
	ctx, span := observability.StartSpan(ctx, "rbac.CheckAccess",
		attribute.String("user_id", userID),
		attribute.String("function_id", functionID),
		attribute.String("command_id", commandID))
	defer func() { observability.EndSpan(span, err) }()

	memberRoles, err := pc.store.ActiveRoleIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	roleIDs := dedupe(append(memberRoles, tokenRoles...))
	sort.Strings(roleIDs)

	decision = &AccessDecision{
		UserID:       userID,
		FunctionID:   functionID,
		CommandID:    commandID,
		MatchedRoles: []string{},
		CheckedAt:    pc.now().UTC(),
	}

	if len(roleIDs) == 0 {
		decision.Reason = "user has no active roles"
		pc.metrics.AuthzDecision(functionID, commandID, false)
		return decision, nil
	}

	grants, err := pc.grants(ctx, roleIDs)
	if err != nil {
		return nil, err
	}

	if HasPermission(grants, functionID, commandID) {
		decision.Allowed = true
		decision.MatchedRoles = matchingRoles(grants, functionID, commandID)
		decision.Reason = fmt.Sprintf("granted by %s", strings.Join(decision.MatchedRoles, ", "))
	} else {
		decision.Reason = fmt.Sprintf("no role grants %s on %s", commandID, functionID)
	}
	pc.metrics.AuthzDecision(functionID, commandID, decision.Allowed)
	return decision, nil
}

// InvalidateRole drops the cached grants of roleID
func (pc *PermissionChecker) InvalidateRole(ctx context.Context, roleID string) {
	if err := pc.cache.Delete(ctx, grantsKey(roleID)); err != nil {
		pc.logger.WithError(err).WithField("role_id", roleID).Warn("failed to invalidate role grants")
	}
}

// InvalidateFunctions drops the cached function list
func (pc *PermissionChecker) InvalidateFunctions(ctx context.Context) {
	if err := pc.cache.Delete(ctx, functionsKey); err != nil {
		pc.logger.WithError(err).Warn("failed to invalidate function cache")
	}
}

// InvalidateAll drops every cached grant set and the function list. Deleting
// a function or unassigning a command can remove grants from any role.
func (pc *PermissionChecker) InvalidateAll(ctx context.Context) {
	if err := pc.cache.DeletePrefix(ctx, grantsKeyPrefix); err != nil {
		pc.logger.WithError(err).Warn("failed to invalidate grant cache")
	}
	pc.InvalidateFunctions(ctx)
}
