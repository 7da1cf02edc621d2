package boiledrepos

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/queries"
	"github.com/volatiletech/strmangle"

	"github.com/trezcool/darasa/core"
)

// insertQuery returns `INSERT INTO "table" ("col1", ...) VALUES ($1, ...)`.
func insertQuery(table string, columns []string) string {
	return fmt.Sprintf(
		`INSERT INTO "%s" (%s) VALUES (%s)`,
		table,
		strings.Join(strmangle.IdentQuoteSlice('"', '"', columns), ", "),
		strmangle.Placeholders(true, len(columns), 1, 1),
	)
}

// updateQuery returns `UPDATE "table" SET "col1"=$1, ... WHERE "id"=$<n+1>`; more conditions
// can be appended with placeholders starting at $<n+2>.
func updateQuery(table string, columns []string) string {
	return fmt.Sprintf(
		`UPDATE "%s" SET %s WHERE "id"=$%d`,
		table,
		strmangle.SetParamNames(`"`, `"`, 1, columns),
		len(columns)+1,
	)
}

// where accumulates `AND`ed conditions and their args, numbering placeholders as it goes.
type where struct {
	conds []string
	args  []interface{}
}

func (w *where) add(cond string, arg interface{}) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, fmt.Sprintf(cond, len(w.args)))
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func orderBy(ordering []core.DBOrdering, dflt string) string {
	if len(ordering) == 0 {
		return " ORDER BY " + dflt
	}
	orderList := make([]string, 0, len(ordering))
	for _, ord := range ordering {
		orderList = append(orderList, ord.String())
	}
	return " ORDER BY " + strings.Join(orderList, ", ")
}

func exec(ctx context.Context, exe core.DBExecutor, query string, args ...interface{}) (int64, error) {
	res, err := queries.Raw(query, args...).ExecContext(ctx, exe)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// trapNoRowsErr maps the "no rows" error to notFound.
func trapNoRowsErr(err error, notFound error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return notFound
	}
	return errors.Wrap(err, msg)
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func nullString(s string) null.String {
	return null.NewString(s, s != "")
}

func nullTime(t time.Time) null.Time {
	return null.NewTime(t.UTC(), !t.IsZero())
}
