package rbac

import "github.com/platinummonkey/shopadmin/pkg/storage"

// Migrations returns the access-control schema. user_roles references the
// users table, so the auth migrations must run first.
func Migrations() []storage.Migration {
	return []storage.Migration{
		{
			Version:     1,
			Description: "create functions and commands",
			SQL: `
CREATE TABLE IF NOT EXISTS functions (
	id VARCHAR(50) PRIMARY KEY,
	parent_id VARCHAR(50) REFERENCES functions(id),
	name VARCHAR(200) NOT NULL,
	url VARCHAR(500),
	icon VARCHAR(50),
	sort_order INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_functions_parent_id ON functions(parent_id);

CREATE TABLE IF NOT EXISTS commands (
	id VARCHAR(50) PRIMARY KEY,
	name VARCHAR(100) NOT NULL
);
INSERT INTO commands (id, name) VALUES
	('VIEW', 'View'),
	('CREATE', 'Create'),
	('UPDATE', 'Update'),
	('DELETE', 'Delete'),
	('APPROVE', 'Approve')
ON CONFLICT (id) DO NOTHING;

CREATE TABLE IF NOT EXISTS command_in_function (
	command_id VARCHAR(50) NOT NULL REFERENCES commands(id),
	function_id VARCHAR(50) NOT NULL REFERENCES functions(id),
	PRIMARY KEY (command_id, function_id)
);
CREATE INDEX IF NOT EXISTS idx_command_in_function_function_id ON command_in_function(function_id);
`,
		},
		{
			Version:     2,
			Description: "create roles, permissions and user_roles",
			SQL: `
CREATE TABLE IF NOT EXISTS roles (
	id VARCHAR(50) PRIMARY KEY,
	name VARCHAR(100) NOT NULL,
	description VARCHAR(500) NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS permissions (
	function_id VARCHAR(50) NOT NULL REFERENCES functions(id),
	role_id VARCHAR(50) NOT NULL REFERENCES roles(id),
	command_id VARCHAR(50) NOT NULL REFERENCES commands(id),
	PRIMARY KEY (function_id, role_id, command_id)
);
CREATE INDEX IF NOT EXISTS idx_permissions_role_id ON permissions(role_id);

CREATE TABLE IF NOT EXISTS user_roles (
	user_id VARCHAR(255) NOT NULL REFERENCES users(id),
	role_id VARCHAR(50) NOT NULL REFERENCES roles(id),
	granted_at TIMESTAMP NOT NULL,
	granted_by VARCHAR(255) NOT NULL DEFAULT '',
	expires_at TIMESTAMP,
	PRIMARY KEY (user_id, role_id)
);
CREATE INDEX IF NOT EXISTS idx_user_roles_role_id ON user_roles(role_id);
CREATE INDEX IF NOT EXISTS idx_user_roles_expires_at ON user_roles(expires_at);
`,
		},
	}
}
