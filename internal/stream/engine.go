// Package stream executes bound statements with a server-side cursor and
// hands rows to the caller one at a time, so result sets of any size flow
// through constant memory.
package stream

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/intentql/intentql/internal/bind"
)

const DefaultPreviewBytes = 1024

// PlaceholderStyle renders the driver-native token for the i-th bind
// argument, starting at 1.
type PlaceholderStyle func(i int) string

func DollarPlaceholders(i int) string { return fmt.Sprintf("$%d", i) }

func QuestionPlaceholders(i int) string { return "?" }

// StyleForDriver picks the placeholder style matching a database/sql driver
// name as returned by sqlstore.DriverForDSN.
func StyleForDriver(driver string) PlaceholderStyle {
	if driver == "pgx" {
		return DollarPlaceholders
	}
	return QuestionPlaceholders
}

// RowFunc receives each decoded row. Returning an error stops the stream;
// the error is handed back to the caller unchanged.
type RowFunc func(row map[string]any) error

type Engine struct {
	DB           *sql.DB
	Placeholder  PlaceholderStyle
	PreviewBytes int
}

// Run rewrites stmt's :name tokens to driver placeholders, executes it, and
// feeds every row through fn. It returns the number of rows delivered before
// the stream ended, alongside any cursor or callback error.
func (e *Engine) Run(ctx context.Context, stmt bind.Statement, fn RowFunc) (int64, error) {
	query, args, err := e.rewrite(stmt)
	if err != nil {
		return 0, err
	}

	rows, err := e.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("execute statement: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return 0, fmt.Errorf("read columns: %w", err)
	}

	values := make([]any, len(cols))
	scan := make([]any, len(cols))
	for i := range values {
		scan[i] = &values[i]
	}

	var delivered int64
	for rows.Next() {
		if err := rows.Scan(scan...); err != nil {
			return delivered, fmt.Errorf("scan row: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = e.normalize(values[i])
		}
		delivered++
		if err := fn(row); err != nil {
			return delivered, err
		}
	}
	if err := rows.Err(); err != nil {
		return delivered, fmt.Errorf("advance cursor: %w", err)
	}
	return delivered, nil
}

// rewrite substitutes each :name token with the driver's positional
// placeholder and collects arguments in clause order. The binder already
// guarantees every referenced name has a value; finding one without is a
// programming error surfaced loudly instead of executed partially.
func (e *Engine) rewrite(stmt bind.Statement) (string, []any, error) {
	style := e.Placeholder
	if style == nil {
		style = QuestionPlaceholders
	}

	var args []any
	var missing string
	query := bind.ReplaceBindTokens(stmt.SQL, func(name string) string {
		value, ok := stmt.Params[strings.ToLower(name)]
		if !ok {
			if missing == "" {
				missing = name
			}
			return ":" + name
		}
		args = append(args, value.Native())
		return style(len(args))
	})
	if missing != "" {
		return "", nil, fmt.Errorf("bind parameter %q has no value", missing)
	}
	return query, args, nil
}

// normalize makes scanned values JSON-friendly. Large binary columns are
// replaced by a size note so a single BLOB cannot balloon the response.
func (e *Engine) normalize(v any) any {
	switch val := v.(type) {
	case []byte:
		limit := e.PreviewBytes
		if limit <= 0 {
			limit = DefaultPreviewBytes
		}
		if len(val) > limit {
			return fmt.Sprintf("(BLOB %d bytes)", len(val))
		}
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339Nano)
	default:
		return val
	}
}
