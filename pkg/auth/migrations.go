package auth

import "github.com/platinummonkey/shopadmin/pkg/storage"

// Migrations returns the users schema
func Migrations() []storage.Migration {
	return []storage.Migration{
		{
			Version:     1,
			Description: "create users",
			SQL: `
CREATE TABLE IF NOT EXISTS users (
	id VARCHAR(255) PRIMARY KEY,
	username VARCHAR(100) NOT NULL UNIQUE,
	email VARCHAR(255) NOT NULL DEFAULT '',
	full_name VARCHAR(255) NOT NULL DEFAULT '',
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
`,
		},
	}
}
