package core

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/mock"

	"github.com/edvin/spoolvault/internal/destination"
	"github.com/edvin/spoolvault/internal/model"
)

// ---------- Mock DB ----------

// mockDB implements the DB interface for testing.
type mockDB struct {
	mock.Mock
}

func (m *mockDB) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDB) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(pgx.Rows), args.Error(1)
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// ---------- Mock Row ----------

// mockRow implements pgx.Row for testing.
type mockRow struct {
	scanFunc func(dest ...any) error
}

func (m *mockRow) Scan(dest ...any) error {
	return m.scanFunc(dest...)
}

func errRow(err error) *mockRow {
	return &mockRow{scanFunc: func(...any) error { return err }}
}

// ---------- Mock Rows ----------

// mockRows implements pgx.Rows for testing.
// It iterates through a list of scan functions, one per row.
type mockRows struct {
	callIndex int
	scanFuncs []func(dest ...any) error
	err       error
}

func newMockRows(scanFuncs ...func(dest ...any) error) *mockRows {
	return &mockRows{scanFuncs: scanFuncs}
}

// newEmptyMockRows returns a mockRows that yields zero rows.
func newEmptyMockRows() *mockRows {
	return &mockRows{}
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

// ---------- Fake adapter ----------

// fakeAdapter is a scriptable destination adapter.
type fakeAdapter struct {
	name      string
	testErr   error
	uploadErr func(attempt int) error

	uploads         int
	tests           int
	testHadDeadline bool
	lastName        string
	lastData        []byte
	uploading       chan struct{}
	release         chan struct{}
}

func (a *fakeAdapter) Name() string { return a.name }

func (a *fakeAdapter) Test(ctx context.Context, _ destination.Config) error {
	a.tests++
	_, a.testHadDeadline = ctx.Deadline()
	return a.testErr
}

func (a *fakeAdapter) Upload(_ context.Context, _ destination.Config, filename string, data []byte) (destination.RemoteRef, error) {
	a.uploads++
	a.lastName = filename
	a.lastData = data
	if a.uploading != nil {
		a.uploading <- struct{}{}
		<-a.release
	}
	if a.uploadErr != nil {
		if err := a.uploadErr(a.uploads); err != nil {
			return destination.RemoteRef{}, err
		}
	}
	return destination.RemoteRef{Destination: a.name, Key: filename}, nil
}

func (a *fakeAdapter) Download(context.Context, destination.Config, destination.RemoteRef) ([]byte, error) {
	return a.lastData, nil
}

func (a *fakeAdapter) Delete(context.Context, destination.Config, destination.RemoteRef) error {
	return nil
}

var _ destination.Adapter = (*fakeAdapter)(nil)

// fakeOAuthAdapter extends fakeAdapter with a scriptable code exchange.
type fakeOAuthAdapter struct {
	fakeAdapter
	exchangeErr         error
	exchangeCreds       *model.Credentials
	exchanges           int
	exchangeHadDeadline bool
	lastCode            string
}

func (a *fakeOAuthAdapter) AuthorizationURL(state string) string {
	return "https://example.test/authorize?state=" + state
}

func (a *fakeOAuthAdapter) ExchangeCode(ctx context.Context, code string) (*model.Credentials, error) {
	a.exchanges++
	a.lastCode = code
	_, a.exchangeHadDeadline = ctx.Deadline()
	if a.exchangeErr != nil {
		return nil, a.exchangeErr
	}
	return a.exchangeCreds, nil
}

var _ destination.OAuthAdapter = (*fakeOAuthAdapter)(nil)

func testRegistry(adapters ...destination.Adapter) *destination.Registry {
	return destination.NewRegistry(adapters...)
}

func networkErr() error {
	return model.E(model.KindNetworkError, "connection reset")
}
