package store

import (
	"context"
	"database/sql"
	"fmt"
)

// ModuleParams calls the MAF stored procedure and returns the hierarchical
// parameter payload as raw JSON. An empty payload is not an error; callers
// fall back to defaults.
func (s *Store) ModuleParams(ctx context.Context, appName string) ([]byte, error) {
	var payload sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT sp_get_module_params($1)`, appName).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load module params for %s: %w", appName, err)
	}
	if !payload.Valid {
		return nil, nil
	}
	return []byte(payload.String), nil
}
