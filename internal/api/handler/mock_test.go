package handler

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/mock"

	"github.com/edvin/spoolvault/internal/model"
)

// handlerMockDB implements core.DB for handler tests.
type handlerMockDB struct {
	mock.Mock
}

func (m *handlerMockDB) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *handlerMockDB) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(pgx.Rows), args.Error(1)
}

func (m *handlerMockDB) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// mockRow implements pgx.Row.
type mockRow struct {
	scanFunc func(dest ...any) error
}

func (m *mockRow) Scan(dest ...any) error {
	return m.scanFunc(dest...)
}

func errRow(err error) *mockRow {
	return &mockRow{scanFunc: func(...any) error { return err }}
}

// mockRows implements pgx.Rows, one scan func per row.
type mockRows struct {
	callIndex int
	scanFuncs []func(dest ...any) error
	err       error
}

func newMockRows(scanFuncs ...func(dest ...any) error) *mockRows {
	return &mockRows{scanFuncs: scanFuncs}
}

func (m *mockRows) Next() bool {
	return m.callIndex < len(m.scanFuncs)
}

func (m *mockRows) Scan(dest ...any) error {
	if m.callIndex < len(m.scanFuncs) {
		fn := m.scanFuncs[m.callIndex]
		m.callIndex++
		return fn(dest...)
	}
	return nil
}

func (m *mockRows) Err() error                                   { return m.err }
func (m *mockRows) Close()                                       {}
func (m *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (m *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (m *mockRows) RawValues() [][]byte                          { return nil }
func (m *mockRows) Values() ([]any, error)                       { return nil, nil }
func (m *mockRows) Conn() *pgx.Conn                              { return nil }

// ---------- Orchestrator fakes ----------

type fakeBuilder struct {
	data     []byte
	manifest *model.Manifest
	err      error
}

func (f *fakeBuilder) BuildUser(context.Context, string) ([]byte, *model.Manifest, error) {
	return f.data, f.manifest, f.err
}

func (f *fakeBuilder) BuildAdmin(context.Context) ([]byte, *model.Manifest, error) {
	return f.data, f.manifest, f.err
}

type fakeRestorer struct {
	report *model.RestoreReport
	err    error

	gotUserID string
	gotData   []byte
}

func (f *fakeRestorer) RestoreUser(_ context.Context, userID string, data []byte) (*model.RestoreReport, error) {
	f.gotUserID = userID
	f.gotData = data
	return f.report, f.err
}

func (f *fakeRestorer) RestoreAdmin(_ context.Context, data []byte) (*model.RestoreReport, error) {
	f.gotData = data
	return f.report, f.err
}

type fakeRevoker struct {
	revoked       []string
	revokedOthers []string
}

func (f *fakeRevoker) RevokeForUser(_ context.Context, userID string) error {
	f.revoked = append(f.revoked, userID)
	return nil
}

func (f *fakeRevoker) RevokeOthers(_ context.Context, exceptUserID string) error {
	f.revokedOthers = append(f.revokedOthers, exceptUserID)
	return nil
}
