package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// mockTx scripts the few pgx.Tx methods the snapshot layer touches.
// The embedded interface panics on anything unscripted, which is what
// we want in a test.
type mockTx struct {
	pgx.Tx
	execFn  func(sql string, args []any) (pgconn.CommandTag, error)
	queryFn func(sql string, args []any) (pgx.Rows, error)
	rowFn   func(sql string, args []any) pgx.Row

	committed  bool
	rolledBack bool
}

func (t *mockTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if t.execFn == nil {
		return pgconn.CommandTag{}, fmt.Errorf("unexpected Exec: %s", sql)
	}
	return t.execFn(sql, args)
}

func (t *mockTx) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	if t.queryFn == nil {
		return nil, fmt.Errorf("unexpected Query: %s", sql)
	}
	return t.queryFn(sql, args)
}

func (t *mockTx) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	if t.rowFn == nil {
		return mockRow{scan: func(...any) error { return fmt.Errorf("unexpected QueryRow: %s", sql) }}
	}
	return t.rowFn(sql, args)
}

func (t *mockTx) Commit(context.Context) error {
	t.committed = true
	return nil
}

func (t *mockTx) Rollback(context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

type mockDB struct {
	newTx    func() *mockTx
	beginErr error
	txs      []*mockTx
}

func (d *mockDB) BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error) {
	if d.beginErr != nil {
		return nil, d.beginErr
	}
	tx := d.newTx()
	d.txs = append(d.txs, tx)
	return tx, nil
}

type mockRow struct {
	scan func(dest ...any) error
}

func (r mockRow) Scan(dest ...any) error { return r.scan(dest...) }

func scanID(id string) mockRow {
	return mockRow{scan: func(dest ...any) error {
		*(dest[0].(*string)) = id
		return nil
	}}
}

func noRow() mockRow {
	return mockRow{scan: func(...any) error { return pgx.ErrNoRows }}
}

// mockRows feeds fixed value tuples through the pgx.Rows scan loop.
type mockRows struct {
	pgx.Rows
	rows [][]any
	idx  int
}

func (r *mockRows) Next() bool {
	r.idx++
	return r.idx <= len(r.rows)
}

func (r *mockRows) Scan(dest ...any) error {
	row := r.rows[r.idx-1]
	if len(dest) != len(row) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(row))
	}
	for i, val := range row {
		if err := assign(dest[i], val); err != nil {
			return err
		}
	}
	return nil
}

func (r *mockRows) Close()     {}
func (r *mockRows) Err() error { return nil }

func assign(dest, val any) error {
	switch d := dest.(type) {
	case *string:
		*d = val.(string)
	case *float64:
		*d = val.(float64)
	case *int:
		*d = val.(int)
	case *bool:
		*d = val.(bool)
	case *time.Time:
		*d = val.(time.Time)
	default:
		return fmt.Errorf("scan: unsupported destination %T", dest)
	}
	return nil
}

func insertedTag() (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func conflictedTag() (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag("INSERT 0 0"), nil
}
