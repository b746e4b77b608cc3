package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/shopadmin/pkg/apperr"
)

// ParentLookup returns the parent of id, nil at a root. found is false when
// no row has that id.
type ParentLookup func(ctx context.Context, id string) (parent *string, found bool, err error)

// TableParentLookup reads parent_id from table. table must be a trusted
// identifier.
func TableParentLookup(q Querier, table string) ParentLookup {
	query := fmt.Sprintf(`SELECT parent_id FROM %s WHERE id = $1`, table)
	return func(ctx context.Context, id string) (*string, bool, error) {
		var parent sql.NullString
		err := q.QueryRowContext(ctx, query, id).Scan(&parent)
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("failed to read parent of %s: %w", id, err)
		}
		if !parent.Valid {
			return nil, true, nil
		}
		return &parent.String, true, nil
	}
}

// CheckParent verifies that making parentID the parent of id keeps the
// hierarchy a tree. It walks from parentID to the root with a visited set:
// reaching id (or any node twice) is a cycle, and a parentID with no row is
// a validation error.
func CheckParent(ctx context.Context, entity, id, parentID string, lookup ParentLookup) error {
	visited := map[string]bool{id: true}
	current := parentID

	for {
		if visited[current] {
			return &apperr.Error{
				Kind:    apperr.KindValidation,
				Code:    apperr.CodeCycleDetected,
				Message: fmt.Sprintf("setting parent of %s %s to %s would create a cycle", entity, id, parentID),
				Fields:  []apperr.FieldError{{Field: "parentId", Message: "would create a cycle"}},
			}
		}
		visited[current] = true

		parent, found, err := lookup(ctx, current)
		if err != nil {
			return err
		}
		if !found {
			if current == parentID {
				return apperr.Validation(fmt.Sprintf("parent %s not found: %s", entity, parentID),
					apperr.FieldError{Field: "parentId", Message: "does not exist"})
			}
			return nil
		}
		if parent == nil {
			return nil
		}
		current = *parent
	}
}
