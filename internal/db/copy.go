package db

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Identifier splits an optionally schema-qualified name ("salud.links")
// into a pgx identifier.
func Identifier(table string) pgx.Identifier {
	if schema, name, ok := strings.Cut(table, "."); ok {
		return pgx.Identifier{schema, name}
	}
	return pgx.Identifier{table}
}

// CopyFrom streams records into table over the COPY protocol. conn may be a
// pool or an open transaction; callers replacing a table pass the
// transaction that truncated it.
func CopyFrom(ctx context.Context, conn Conn, table string, columns []string, records [][]any) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	n, err := conn.CopyFrom(ctx, Identifier(table), columns, pgx.CopyFromRows(records))
	if err != nil {
		return 0, eris.Wrapf(err, "db: copy into %s", table)
	}
	if n != int64(len(records)) {
		return n, eris.Errorf("db: copy into %s: wrote %d of %d rows", table, n, len(records))
	}
	return n, nil
}

// Truncate empties table.
func Truncate(ctx context.Context, conn Conn, table string) error {
	if _, err := conn.Exec(ctx, "TRUNCATE "+Identifier(table).Sanitize()); err != nil {
		return eris.Wrapf(err, "db: truncate %s", table)
	}
	return nil
}
