package eav

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// ExecMode selects whether ExecuteSQL commits or discards its transaction.
type ExecMode string

const (
	// ModeRead runs the statement and rolls the transaction back.
	ModeRead ExecMode = "r"

	// ModeWrite runs the statement and commits.
	ModeWrite ExecMode = "w"
)

// ExecuteSQL is the raw escape hatch: it runs one named-parameter statement
// inside its own transaction and returns the result set as generic row maps,
// or nil for statements that produce no columns. Any mode other than
// ModeWrite rolls back, so reads leave no trace even when the statement
// mutates.
func (s *Store) ExecuteSQL(ctx context.Context, stmt string, params map[string]any, mode ExecMode) (results []map[string]any, err error) {
	start := time.Now()
	defer func() { s.metrics.Observe("execute_sql", start, err) }()

	if params == nil {
		params = map[string]any{}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func(tx *sqlx.Tx) {
		_ = tx.Rollback()
	}(tx)

	rows, err := sqlx.NamedQueryContext(ctx, tx, stmt, params)
	if err != nil {
		return nil, err
	}

	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, err
	}
	if len(cols) == 0 {
		// The driver only steps a statement when its rows are iterated, and a
		// columnless result is never iterated. Run mutations through the exec
		// path so they actually take effect before the commit/rollback choice.
		rows.Close()
		if _, err = sqlx.NamedExecContext(ctx, tx, stmt, params); err != nil {
			return nil, err
		}
	} else {
		results = []map[string]any{}
		for rows.Next() {
			m := map[string]any{}
			if err = rows.MapScan(m); err != nil {
				rows.Close()
				return nil, err
			}
			results = append(results, m)
		}
		if err = rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		// Rows must be drained and closed before the transaction can resolve.
		if err = rows.Close(); err != nil {
			return nil, err
		}
	}

	if mode == ModeWrite {
		if err = tx.Commit(); err != nil {
			return nil, err
		}
		s.logger.Debug().Str("mode", string(mode)).Msg("executed raw statement")
	}
	return results, nil
}
