// Package seed loads the initial permission matrix from YAML and applies it.
//
// The file lists commands, functions with their applicable commands, roles,
// users with their roles, and per-role permissions. Applying is idempotent:
// rows are inserted only when missing, and permissions are written only
// while no permission exists. An embedded default is used when no path is
// configured, and Watch re-applies a file whenever it changes on disk.
package seed
