package destination

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/spoolvault/internal/model"
)

func testRegistry() *Registry {
	logger := zerolog.Nop()
	app := OAuthApp{ClientID: "client-id", ClientSecret: "client-secret", RedirectURL: "https://vault.test/callback"}
	return NewRegistry(
		NewGoogleDrive(logger, app),
		NewDropbox(logger, app),
		NewOneDrive(logger, app),
		NewS3(logger),
		NewWebDAV(logger),
		NewLocal(logger, "/tmp/spoolvault-test"),
	)
}

func TestRegistry_CoversAllDestinations(t *testing.T) {
	reg := testRegistry()
	for _, dest := range model.Destinations {
		a, err := reg.For(dest)
		require.NoError(t, err, dest)
		assert.Equal(t, dest, a.Name())
	}
}

func TestRegistry_UnknownDestination(t *testing.T) {
	_, err := testRegistry().For("ftp")
	require.Error(t, err)
	assert.Equal(t, model.KindConfigInvalid, model.KindOf(err))
}

func TestRegistry_OAuthFor(t *testing.T) {
	reg := testRegistry()

	for _, dest := range []string{model.DestGoogle, model.DestDropbox, model.DestOneDrive} {
		oa, err := reg.OAuthFor(dest)
		require.NoError(t, err, dest)
		assert.Equal(t, dest, oa.Name())
	}

	_, err := reg.OAuthFor(model.DestS3)
	require.Error(t, err)
	assert.Equal(t, model.KindConfigInvalid, model.KindOf(err))
}

func TestAuthorizationURL_CarriesState(t *testing.T) {
	reg := testRegistry()

	google, err := reg.OAuthFor(model.DestGoogle)
	require.NoError(t, err)
	url := google.AuthorizationURL("opaque-state-123")
	assert.Contains(t, url, "state=opaque-state-123")
	assert.Contains(t, url, "client_id=client-id")
	assert.Contains(t, url, "access_type=offline")

	dropbox, err := reg.OAuthFor(model.DestDropbox)
	require.NoError(t, err)
	url = dropbox.AuthorizationURL("opaque-state-123")
	assert.Contains(t, url, "state=opaque-state-123")
	assert.Contains(t, url, "token_access_type=offline")
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		kind   model.ErrorKind
	}{
		{http.StatusUnauthorized, model.KindAuthExpired},
		{http.StatusForbidden, model.KindAuthExpired},
		{http.StatusInsufficientStorage, model.KindQuotaExceeded},
		{http.StatusTooManyRequests, model.KindQuotaExceeded},
		{http.StatusNotFound, model.KindConfigInvalid},
		{http.StatusBadGateway, model.KindNetworkError},
		{http.StatusBadRequest, model.KindConfigInvalid},
	}
	for _, tt := range tests {
		err := classifyStatus("op", tt.status)
		assert.Equal(t, tt.kind, model.KindOf(err), "status %d", tt.status)
	}
}

func TestClassifyStatusBody_QuotaOn403(t *testing.T) {
	err := classifyStatusBody("gdrive upload", http.StatusForbidden,
		[]byte(`{"error":{"errors":[{"reason":"storageQuotaExceeded"}]}}`))
	assert.Equal(t, model.KindQuotaExceeded, model.KindOf(err))

	err = classifyStatusBody("onedrive upload", http.StatusForbidden,
		[]byte(`{"error":{"code":"quotaLimitReached","message":"Insufficient Storage"}}`))
	assert.Equal(t, model.KindQuotaExceeded, model.KindOf(err))

	err = classifyStatusBody("gdrive upload", http.StatusForbidden,
		[]byte(`{"error":{"errors":[{"reason":"insufficientPermissions"}]}}`))
	assert.Equal(t, model.KindAuthExpired, model.KindOf(err))

	err = classifyStatusBody("gdrive upload", http.StatusBadGateway, []byte("quota"))
	assert.Equal(t, model.KindNetworkError, model.KindOf(err))
}

func TestClassifyTransport(t *testing.T) {
	err := classifyTransport("upload", context.DeadlineExceeded)
	assert.Equal(t, model.KindNetworkError, model.KindOf(err))

	err = classifyTransport("upload", errors.New("connection refused"))
	assert.Equal(t, model.KindNetworkError, model.KindOf(err))
}

func TestS3_MissingConfigRejected(t *testing.T) {
	adapter := NewS3(zerolog.Nop())

	err := adapter.Test(context.Background(), Config{})
	require.Error(t, err)
	assert.Equal(t, model.KindConfigInvalid, model.KindOf(err))

	err = adapter.Test(context.Background(), Config{
		Settings: model.DestinationSettings{Bucket: "spools"},
	})
	require.Error(t, err)
	assert.Equal(t, model.KindConfigInvalid, model.KindOf(err))
}

func TestClassifyS3(t *testing.T) {
	assert.Equal(t, model.KindAuthExpired, model.KindOf(classifyS3("op", errors.New("api error InvalidAccessKeyId"))))
	assert.Equal(t, model.KindConfigInvalid, model.KindOf(classifyS3("op", errors.New("api error NoSuchBucket: not found"))))
	assert.Equal(t, model.KindNetworkError, model.KindOf(classifyS3("op", errors.New("dial tcp: i/o timeout"))))
}
