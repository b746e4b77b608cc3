package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/platinummonkey/shopadmin/pkg/apperr"
	"github.com/platinummonkey/shopadmin/pkg/storage"
)

// ListCommandsForFunction returns the commands applicable to a function
func (s *Store) ListCommandsForFunction(ctx context.Context, functionID string) ([]Command, error) {
	if err := requireFunction(ctx, s.db, functionID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.name
		FROM commands c
		JOIN command_in_function cif ON cif.command_id = c.id
		WHERE cif.function_id = $1
		ORDER BY c.id`, functionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list commands for function: %w", err)
	}
	defer rows.Close()

	commands := make([]Command, 0)
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

func duplicateAssociation(functionID, commandID string) error {
	return &apperr.Error{
		Kind:    apperr.KindConflict,
		Code:    apperr.CodeDuplicateAssociation,
		Message: fmt.Sprintf("command %s is already assigned to function %s", commandID, functionID),
	}
}

func notAssociated(functionID, commandID string) error {
	return &apperr.Error{
		Kind:    apperr.KindValidation,
		Code:    apperr.CodeNotAssociated,
		Message: fmt.Sprintf("command %s is not assigned to function %s", commandID, functionID),
	}
}

// AssignCommands makes commandIDs applicable to functionID. Any pair that
// already exists fails the whole batch with ErrDuplicateAssociation. With
// propagateToAll the same commands are added to every other function,
// skipping pairs those functions already have.
func (s *Store) AssignCommands(ctx context.Context, functionID string, commandIDs []string, propagateToAll bool) (err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveDB(storeName, "assign_commands", start, err) }()

	commandIDs = dedupe(commandIDs)
	if len(commandIDs) == 0 {
		return apperr.Validation("at least one command is required",
			apperr.FieldError{Field: "commandIds", Message: "is required"})
	}

	return storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := requireFunction(ctx, tx, functionID); err != nil {
			return err
		}

		for _, commandID := range commandIDs {
			if err := requireCommand(ctx, tx, commandID); err != nil {
				return err
			}
			associated, err := pairAssociated(ctx, tx, functionID, commandID)
			if err != nil {
				return err
			}
			if associated {
				return duplicateAssociation(functionID, commandID)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO command_in_function (command_id, function_id) VALUES ($1, $2)`,
				commandID, functionID); err != nil {
				if storage.IsUniqueViolation(err) {
					return duplicateAssociation(functionID, commandID)
				}
				return apperr.Persistence("assign command", err)
			}
		}

		if !propagateToAll {
			return nil
		}

		others, err := otherFunctionIDs(ctx, tx, functionID)
		if err != nil {
			return err
		}
		for _, other := range others {
			for _, commandID := range commandIDs {
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO command_in_function (command_id, function_id) VALUES ($1, $2)
					ON CONFLICT (command_id, function_id) DO NOTHING`,
					commandID, other); err != nil {
					return apperr.Persistence("propagate command", err)
				}
			}
		}
		return nil
	})
}

func otherFunctionIDs(ctx context.Context, q storage.Querier, exclude string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT id FROM functions WHERE id <> $1 ORDER BY id`, exclude)
	if err != nil {
		return nil, fmt.Errorf("failed to list functions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan function id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UnassignCommands removes commandIDs from functionID along with any
// permission grants for the removed pairs. A pair that does not exist fails
// the whole batch with ErrNotAssociated and nothing is deleted.
func (s *Store) UnassignCommands(ctx context.Context, functionID string, commandIDs []string) (err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveDB(storeName, "unassign_commands", start, err) }()

	commandIDs = dedupe(commandIDs)
	if len(commandIDs) == 0 {
		return apperr.Validation("at least one command is required",
			apperr.FieldError{Field: "commandIds", Message: "is required"})
	}

	return storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := requireFunction(ctx, tx, functionID); err != nil {
			return err
		}

		for _, commandID := range commandIDs {
			associated, err := pairAssociated(ctx, tx, functionID, commandID)
			if err != nil {
				return err
			}
			if !associated {
				return notAssociated(functionID, commandID)
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM permissions WHERE function_id = $1 AND command_id = $2`,
				functionID, commandID); err != nil {
				return fmt.Errorf("failed to delete grants for %s:%s: %w", functionID, commandID, err)
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM command_in_function WHERE function_id = $1 AND command_id = $2`,
				functionID, commandID); err != nil {
				return apperr.Persistence("unassign command", err)
			}
		}
		return nil
	})
}

// EnsureCommandInFunction adds the pair unless it exists. It reports
// whether a row was inserted.
func (s *Store) EnsureCommandInFunction(ctx context.Context, functionID, commandID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO command_in_function (command_id, function_id) VALUES ($1, $2)
		ON CONFLICT (command_id, function_id) DO NOTHING`, commandID, functionID)
	if err != nil {
		return false, fmt.Errorf("failed to ensure command %s on function %s: %w", commandID, functionID, err)
	}
	return storage.RequireAffected(result)
}

// CountCommandInFunction returns the number of association rows
func (s *Store) CountCommandInFunction(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM command_in_function`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count command associations: %w", err)
	}
	return n, nil
}
