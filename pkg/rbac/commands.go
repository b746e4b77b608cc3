package rbac

import (
	"context"
	"fmt"
)

// ListCommands returns every command ordered by id
func (s *Store) ListCommands(ctx context.Context) ([]Command, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM commands ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list commands: %w", err)
	}
	defer rows.Close()

	commands := make([]Command, 0, len(KnownCommands))
	for rows.Next() {
		var c Command
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("failed to scan command: %w", err)
		}
		commands = append(commands, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate commands: %w", err)
	}
	return commands, nil
}

// EnsureCommand inserts c unless a command with its id exists
func (s *Store) EnsureCommand(ctx context.Context, c Command) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO commands (id, name) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`, c.ID, c.Name)
	if err != nil {
		return fmt.Errorf("failed to ensure command %s: %w", c.ID, err)
	}
	return nil
}
