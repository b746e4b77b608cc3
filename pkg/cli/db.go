package cli

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/platinummonkey/shopadmin/pkg/auth"
	"github.com/platinummonkey/shopadmin/pkg/cache"
	"github.com/platinummonkey/shopadmin/pkg/config"
	"github.com/platinummonkey/shopadmin/pkg/rbac"
	"github.com/platinummonkey/shopadmin/pkg/seed"
	"github.com/platinummonkey/shopadmin/pkg/server"
	"github.com/platinummonkey/shopadmin/pkg/storage"
)

// ErrAccessDenied is returned by check when the decision is a denial, so
// scripts can branch on the exit status.
var ErrAccessDenied = errors.New("access denied")

type dbOptions struct {
	base     storage.Config
	cacheCfg cache.Config
	driver   string
	dsn      string
	redisURL string
}

func addDBFlags(fs *flag.FlagSet) *dbOptions {
	o := &dbOptions{base: config.DatabaseFromEnv(), cacheCfg: config.CacheFromEnv()}
	fs.StringVar(&o.driver, "driver", o.base.Driver, "database driver (postgres or sqlite3)")
	fs.StringVar(&o.dsn, "dsn", o.base.DSN, "database DSN")
	fs.StringVar(&o.redisURL, "redis", o.cacheCfg.RedisURL, "redis URL shared with the server, used to invalidate cached permissions. "+
		"Without it a running server keeps its cached grants until SHOPADMIN_RBAC_CACHE_TTL expires")
	return o
}

func (o *dbOptions) open(ctx context.Context) (*sql.DB, error) {
	cfg := o.base
	cfg.Driver = o.driver
	cfg.DSN = o.dsn
	return storage.Open(ctx, cfg)
}

// checker builds a permission checker that shares the server's cache when
// a redis URL is configured. The returned func closes the redis client.
func (o *dbOptions) checker(ctx context.Context, store *rbac.Store) (*rbac.PermissionChecker, func(), error) {
	if o.redisURL == "" {
		return rbac.NewPermissionChecker(store), func() {}, nil
	}
	client, err := cache.NewRedisClient(ctx, o.redisURL)
	if err != nil {
		return nil, nil, err
	}
	c := cache.NewRedisCache(client, o.cacheCfg.KeyPrefix)
	return rbac.NewPermissionChecker(store, rbac.WithCache(c, o.cacheCfg.TTL)), func() { client.Close() }, nil
}

func withDB(o *dbOptions, fn func(ctx context.Context, db *sql.DB) error) error {
	ctx := context.Background()
	db, err := o.open(ctx)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(ctx, db)
}

func newMigrateCommand() *Command {
	return newCommand("migrate", "Apply pending database migrations", func(fs *flag.FlagSet) func() error {
		opts := addDBFlags(fs)
		return func() error {
			return withDB(opts, func(ctx context.Context, db *sql.DB) error {
				if err := server.Migrate(ctx, db, storeLogger()); err != nil {
					return err
				}
				logger.WithField("driver", opts.driver).Info("migrations applied")
				fmt.Fprintln(out, "schema is up to date")
				return nil
			})
		}
	})
}

func newSeedCommand() *Command {
	return newCommand("seed", "Migrate and apply a seed file (default: the built-in seed)", func(fs *flag.FlagSet) func() error {
		opts := addDBFlags(fs)
		file := fs.String("file", "", "seed YAML file")
		return func() error {
			f, err := seed.Load(*file)
			if err != nil {
				return err
			}
			return withDB(opts, func(ctx context.Context, db *sql.DB) error {
				if err := server.Migrate(ctx, db, storeLogger()); err != nil {
					return err
				}
				store := rbac.NewStore(db, nil)
				users := auth.NewUserStore(db, nil, auth.WithDeleteHook(store.DeleteUserMembershipsTx))
				checker, closeCache, err := opts.checker(ctx, store)
				if err != nil {
					return err
				}
				defer closeCache()

				res, err := seed.NewSeeder(store, users, checker, nil, storeLogger(), nil).Apply(ctx, f)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "functions=%d associations=%d roles=%d users=%d memberships=%d permissions=%d\n",
					res.Functions, res.Associations, res.Roles, res.Users, res.Memberships, res.Permissions)
				return nil
			})
		}
	})
}

func newMatrixCommand() *Command {
	return newCommand("matrix", "Print the permission matrix of a role or user", func(fs *flag.FlagSet) func() error {
		opts := addDBFlags(fs)
		role := fs.String("role", "", "role id")
		user := fs.String("user", "", "user id")
		return func() error {
			if (*role == "") == (*user == "") {
				return fmt.Errorf("exactly one of -role or -user is required")
			}
			return withDB(opts, func(ctx context.Context, db *sql.DB) error {
				checker := rbac.NewPermissionChecker(rbac.NewStore(db, nil))
				var (
					matrix *rbac.PermissionMatrix
					err    error
				)
				if *role != "" {
					matrix, err = checker.GetPermissionMatrix(ctx, *role)
				} else {
					matrix, err = checker.GetUserPermissionMatrix(ctx, *user)
				}
				if err != nil {
					return err
				}
				printMatrix(matrix)
				return nil
			})
		}
	})
}

func printMatrix(m *rbac.PermissionMatrix) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FUNCTION\tNAME\tCOMMANDS")
	for _, row := range m.Functions {
		commands := strings.Join(row.Commands, ",")
		if commands == "" {
			commands = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", row.FunctionID, row.Name, commands)
	}
	w.Flush()
}

func newCheckCommand() *Command {
	return newCommand("check", "Decide whether a user may run a command on a function", func(fs *flag.FlagSet) func() error {
		opts := addDBFlags(fs)
		user := fs.String("user", "", "user id")
		function := fs.String("function", "", "function id")
		command := fs.String("command", "", "command id")
		roles := fs.String("roles", "", "comma-separated roles carried by the caller's token")
		return func() error {
			if *user == "" || *function == "" || *command == "" {
				return fmt.Errorf("-user, -function and -command are required")
			}
			return withDB(opts, func(ctx context.Context, db *sql.DB) error {
				checker := rbac.NewPermissionChecker(rbac.NewStore(db, nil))
				decision, err := checker.CheckAccess(ctx, *user, *function, *command, splitList(*roles)...)
				if err != nil {
					return err
				}
				verdict := "DENY"
				if decision.Allowed {
					verdict = "ALLOW"
				}
				fmt.Fprintf(out, "%s %s %s on %s: %s\n", verdict, decision.UserID, decision.CommandID, decision.FunctionID, decision.Reason)
				if !decision.Allowed {
					return ErrAccessDenied
				}
				return nil
			})
		}
	})
}

type grantFlags struct {
	role, function, command *string
}

func addGrantFlags(fs *flag.FlagSet) grantFlags {
	return grantFlags{
		role:     fs.String("role", "", "role id"),
		function: fs.String("function", "", "function id"),
		command:  fs.String("command", "", "command id"),
	}
}

func (g grantFlags) validate() error {
	if *g.role == "" || *g.function == "" || *g.command == "" {
		return fmt.Errorf("-role, -function and -command are required")
	}
	return nil
}

func newGrantCommand() *Command {
	return newCommand("grant", "Grant a command on a function to a role", func(fs *flag.FlagSet) func() error {
		opts := addDBFlags(fs)
		g := addGrantFlags(fs)
		return func() error {
			if err := g.validate(); err != nil {
				return err
			}
			return withDB(opts, func(ctx context.Context, db *sql.DB) error {
				store := rbac.NewStore(db, nil)
				if err := store.Grant(ctx, *g.function, *g.role, *g.command); err != nil {
					return err
				}
				invalidate(ctx, opts, store, *g.role)
				fmt.Fprintf(out, "granted %s on %s to %s\n", *g.command, *g.function, *g.role)
				return nil
			})
		}
	})
}

func newRevokeCommand() *Command {
	return newCommand("revoke", "Revoke a command on a function from a role", func(fs *flag.FlagSet) func() error {
		opts := addDBFlags(fs)
		g := addGrantFlags(fs)
		return func() error {
			if err := g.validate(); err != nil {
				return err
			}
			return withDB(opts, func(ctx context.Context, db *sql.DB) error {
				store := rbac.NewStore(db, nil)
				removed, err := store.Revoke(ctx, *g.function, *g.role, *g.command)
				if err != nil {
					return err
				}
				if !removed {
					fmt.Fprintf(out, "%s held no %s grant on %s\n", *g.role, *g.command, *g.function)
					return nil
				}
				invalidate(ctx, opts, store, *g.role)
				fmt.Fprintf(out, "revoked %s on %s from %s\n", *g.command, *g.function, *g.role)
				return nil
			})
		}
	})
}

// invalidate drops the role's cached matrix from the shared cache. Failures
// are logged: the server's cache entries expire on their own. Server-local
// layers still hold the old grants for up to SHOPADMIN_L1_CACHE_TTL.
func invalidate(ctx context.Context, opts *dbOptions, store *rbac.Store, roleID string) {
	if opts.redisURL == "" {
		logger.WithField("role", roleID).Warn("no -redis given; a running server serves its cached grants for this role until SHOPADMIN_RBAC_CACHE_TTL expires")
		return
	}
	checker, closeCache, err := opts.checker(ctx, store)
	if err != nil {
		logger.WithError(err).Warn("could not reach the shared cache; cached permissions will expire on their own")
		return
	}
	defer closeCache()
	checker.InvalidateRole(ctx, roleID)
}

func splitList(s string) []string {
	var items []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	return items
}
