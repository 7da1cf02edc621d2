package core

import (
	"context"
	"database/sql"
	"strings"
)

type (
	DBExecutor interface {
		Exec(query string, args ...interface{}) (sql.Result, error)
		ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
		Query(query string, args ...interface{}) (*sql.Rows, error)
		QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
		QueryRow(query string, args ...interface{}) *sql.Row
		QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	}

	DB interface {
		DBExecutor

		Begin() (*sql.Tx, error)
		BeginTx(context.Context, *sql.TxOptions) (*sql.Tx, error)
	}

	DBTransactor interface {
		DBExecutor

		Commit() error
		Rollback() error
	}
)

type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}

// CleanOrderings drops orderings on fields that are not in `allowed` (json names mapped to columns)
// and rewrites the kept ones with their column names.
func CleanOrderings(ords []DBOrdering, allowed map[string]string) []DBOrdering {
	cleaned := make([]DBOrdering, 0, len(ords))
	for _, ord := range ords {
		if col, ok := allowed[strings.ToLower(ord.Field)]; ok {
			cleaned = append(cleaned, DBOrdering{Field: col, Ascending: ord.Ascending})
		}
	}
	return cleaned
}

// InTx runs fn within a transaction, rolling back if fn fails.
func InTx(ctx context.Context, db DB, fn func(tx DBExecutor) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
