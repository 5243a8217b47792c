package destination

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/edvin/spoolvault/internal/model"
)

// OAuthApp is one provider registration (client id/secret plus the
// redirect URL this server exposes).
type OAuthApp struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// driveBase carries what the three OAuth-drive adapters share: the oauth2
// client config and token-backed HTTP client construction.
type driveBase struct {
	logger zerolog.Logger
	config *oauth2.Config
}

func (b *driveBase) httpClient(ctx context.Context, cfg Config) (*http.Client, error) {
	if cfg.Credentials == nil || (cfg.Credentials.AccessToken == "" && cfg.Credentials.RefreshToken == "") {
		return nil, model.E(model.KindConfigInvalid, "destination is not authorized")
	}
	token := &oauth2.Token{
		AccessToken:  cfg.Credentials.AccessToken,
		RefreshToken: cfg.Credentials.RefreshToken,
		Expiry:       cfg.Credentials.Expiry,
	}
	src := &persistingTokenSource{
		inner:   b.config.TokenSource(ctx, token),
		ctx:     ctx,
		logger:  b.logger,
		persist: cfg.PersistCredentials,
		last:    *token,
	}
	return oauth2.NewClient(ctx, src), nil
}

// persistingTokenSource writes refreshed tokens back through the caller's
// persist hook. Providers that rotate refresh tokens invalidate the stored
// one on every refresh, so losing the new token strands the destination.
type persistingTokenSource struct {
	inner   oauth2.TokenSource
	ctx     context.Context
	logger  zerolog.Logger
	persist func(ctx context.Context, creds *model.Credentials) error

	mu   sync.Mutex
	last oauth2.Token
}

func (s *persistingTokenSource) Token() (*oauth2.Token, error) {
	token, err := s.inner.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if token.AccessToken == s.last.AccessToken && token.RefreshToken == s.last.RefreshToken {
		return token, nil
	}

	refresh := token.RefreshToken
	if refresh == "" {
		// Some providers omit the refresh token on refresh responses.
		refresh = s.last.RefreshToken
	}
	s.last = oauth2.Token{AccessToken: token.AccessToken, RefreshToken: refresh}

	if s.persist != nil {
		creds := &model.Credentials{
			AccessToken:  token.AccessToken,
			RefreshToken: refresh,
			Expiry:       token.Expiry,
		}
		if err := s.persist(s.ctx, creds); err != nil {
			s.logger.Warn().Err(err).Msg("failed to persist refreshed token")
		}
	}
	return token, nil
}

func (b *driveBase) AuthorizationURL(state string) string {
	return b.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
}

func (b *driveBase) ExchangeCode(ctx context.Context, code string) (*model.Credentials, error) {
	token, err := b.config.Exchange(ctx, code)
	if err != nil {
		return nil, classifyOAuth("exchange authorization code", err)
	}
	return &model.Credentials{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
	}, nil
}

// do issues a request through the token-backed client and classifies failures.
func (b *driveBase) do(client *http.Client, req *http.Request, op string) (*http.Response, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, classifyOAuth(op, err)
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, classifyStatusBody(op, resp.StatusCode, body)
	}
	return resp, nil
}

// classifyOAuth separates token-refresh rejections from transport failures.
func classifyOAuth(op string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return model.WrapE(model.KindAuthExpired, op+": token rejected", err)
	}
	return classifyTransport(op, err)
}

// ---------- Google Drive ----------

type GoogleDrive struct {
	driveBase
}

func NewGoogleDrive(logger zerolog.Logger, app OAuthApp) *GoogleDrive {
	return &GoogleDrive{driveBase{
		logger: logger.With().Str("component", "gdrive-destination").Logger(),
		config: &oauth2.Config{
			ClientID:     app.ClientID,
			ClientSecret: app.ClientSecret,
			RedirectURL:  app.RedirectURL,
			Scopes:       []string{"https://www.googleapis.com/auth/drive.file"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://accounts.google.com/o/oauth2/auth",
				TokenURL: "https://oauth2.googleapis.com/token",
			},
		},
	}}
}

func (a *GoogleDrive) Name() string { return model.DestGoogle }

func (a *GoogleDrive) Test(ctx context.Context, cfg Config) error {
	client, err := a.httpClient(ctx, cfg)
	if err != nil {
		return err
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet,
		"https://www.googleapis.com/drive/v3/about?fields=user", nil)
	resp, err := a.do(client, req, "gdrive about")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Upload sends the archive as a multipart create: a JSON metadata part
// naming the file, then the content part.
func (a *GoogleDrive) Upload(ctx context.Context, cfg Config, filename string, data []byte) (RemoteRef, error) {
	client, err := a.httpClient(ctx, cfg)
	if err != nil {
		return RemoteRef{}, err
	}

	metadata := map[string]any{
		"name":     filename,
		"mimeType": "application/zip",
	}
	if cfg.FolderPath != "" {
		metadata["parents"] = []string{cfg.FolderPath}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return RemoteRef{}, fmt.Errorf("marshal gdrive metadata: %w", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	metaPart, err := writer.CreatePart(map[string][]string{
		"Content-Type": {"application/json; charset=UTF-8"},
	})
	if err != nil {
		return RemoteRef{}, fmt.Errorf("build metadata part: %w", err)
	}
	metaPart.Write(metadataJSON)

	filePart, err := writer.CreatePart(map[string][]string{
		"Content-Type": {"application/zip"},
	})
	if err != nil {
		return RemoteRef{}, fmt.Errorf("build content part: %w", err)
	}
	filePart.Write(data)
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://www.googleapis.com/upload/drive/v3/files?uploadType=multipart", &buf)
	if err != nil {
		return RemoteRef{}, fmt.Errorf("build gdrive upload request: %w", err)
	}
	req.Header.Set("Content-Type", "multipart/related; boundary="+writer.Boundary())

	resp, err := a.do(client, req, "gdrive upload")
	if err != nil {
		return RemoteRef{}, err
	}
	defer resp.Body.Close()

	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return RemoteRef{}, model.WrapE(model.KindNetworkError, "decode gdrive response", err)
	}
	return RemoteRef{Destination: model.DestGoogle, Key: created.ID}, nil
}

func (a *GoogleDrive) Download(ctx context.Context, cfg Config, ref RemoteRef) ([]byte, error) {
	client, err := a.httpClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet,
		"https://www.googleapis.com/drive/v3/files/"+url.PathEscape(ref.Key)+"?alt=media", nil)
	resp, err := a.do(client, req, "gdrive download")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.WrapE(model.KindNetworkError, "read gdrive response", err)
	}
	return data, nil
}

func (a *GoogleDrive) Delete(ctx context.Context, cfg Config, ref RemoteRef) error {
	client, err := a.httpClient(ctx, cfg)
	if err != nil {
		return err
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodDelete,
		"https://www.googleapis.com/drive/v3/files/"+url.PathEscape(ref.Key), nil)
	resp, err := a.do(client, req, "gdrive delete")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// ---------- Dropbox ----------

type Dropbox struct {
	driveBase
}

func NewDropbox(logger zerolog.Logger, app OAuthApp) *Dropbox {
	return &Dropbox{driveBase{
		logger: logger.With().Str("component", "dropbox-destination").Logger(),
		config: &oauth2.Config{
			ClientID:     app.ClientID,
			ClientSecret: app.ClientSecret,
			RedirectURL:  app.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://www.dropbox.com/oauth2/authorize",
				TokenURL: "https://api.dropboxapi.com/oauth2/token",
			},
		},
	}}
}

func (a *Dropbox) Name() string { return model.DestDropbox }

// AuthorizationURL overrides the base to request a refresh token the
// Dropbox way.
func (a *Dropbox) AuthorizationURL(state string) string {
	return a.config.AuthCodeURL(state, oauth2.SetAuthURLParam("token_access_type", "offline"))
}

func (a *Dropbox) remotePath(cfg Config, filename string) string {
	p := "/" + strings.Trim(cfg.FolderPath, "/")
	if p == "/" {
		p = ""
	}
	return p + "/" + filename
}

func (a *Dropbox) Test(ctx context.Context, cfg Config) error {
	client, err := a.httpClient(ctx, cfg)
	if err != nil {
		return err
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://api.dropboxapi.com/2/users/get_current_account", nil)
	resp, err := a.do(client, req, "dropbox account")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (a *Dropbox) Upload(ctx context.Context, cfg Config, filename string, data []byte) (RemoteRef, error) {
	client, err := a.httpClient(ctx, cfg)
	if err != nil {
		return RemoteRef{}, err
	}

	remote := a.remotePath(cfg, filename)
	arg, err := json.Marshal(map[string]any{
		"path": remote,
		"mode": "overwrite",
		"mute": true,
	})
	if err != nil {
		return RemoteRef{}, fmt.Errorf("marshal dropbox arg: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://content.dropboxapi.com/2/files/upload", bytes.NewReader(data))
	if err != nil {
		return RemoteRef{}, fmt.Errorf("build dropbox upload request: %w", err)
	}
	req.Header.Set("Dropbox-API-Arg", string(arg))
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := a.do(client, req, "dropbox upload")
	if err != nil {
		return RemoteRef{}, err
	}
	resp.Body.Close()
	return RemoteRef{Destination: model.DestDropbox, Key: remote}, nil
}

func (a *Dropbox) Download(ctx context.Context, cfg Config, ref RemoteRef) ([]byte, error) {
	client, err := a.httpClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	arg, _ := json.Marshal(map[string]string{"path": ref.Key})
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://content.dropboxapi.com/2/files/download", nil)
	req.Header.Set("Dropbox-API-Arg", string(arg))

	resp, err := a.do(client, req, "dropbox download")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.WrapE(model.KindNetworkError, "read dropbox response", err)
	}
	return data, nil
}

func (a *Dropbox) Delete(ctx context.Context, cfg Config, ref RemoteRef) error {
	client, err := a.httpClient(ctx, cfg)
	if err != nil {
		return err
	}

	body, _ := json.Marshal(map[string]string{"path": ref.Key})
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://api.dropboxapi.com/2/files/delete_v2", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.do(client, req, "dropbox delete")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// ---------- OneDrive ----------

type OneDrive struct {
	driveBase
}

func NewOneDrive(logger zerolog.Logger, app OAuthApp) *OneDrive {
	return &OneDrive{driveBase{
		logger: logger.With().Str("component", "onedrive-destination").Logger(),
		config: &oauth2.Config{
			ClientID:     app.ClientID,
			ClientSecret: app.ClientSecret,
			RedirectURL:  app.RedirectURL,
			Scopes:       []string{"Files.ReadWrite", "offline_access"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://login.microsoftonline.com/common/oauth2/v2.0/authorize",
				TokenURL: "https://login.microsoftonline.com/common/oauth2/v2.0/token",
			},
		},
	}}
}

func (a *OneDrive) Name() string { return model.DestOneDrive }

func (a *OneDrive) itemURL(remote string) string {
	return "https://graph.microsoft.com/v1.0/me/drive/root:/" + url.PathEscape(strings.TrimPrefix(remote, "/"))
}

func (a *OneDrive) Test(ctx context.Context, cfg Config) error {
	client, err := a.httpClient(ctx, cfg)
	if err != nil {
		return err
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet,
		"https://graph.microsoft.com/v1.0/me/drive", nil)
	resp, err := a.do(client, req, "onedrive drive")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (a *OneDrive) Upload(ctx context.Context, cfg Config, filename string, data []byte) (RemoteRef, error) {
	client, err := a.httpClient(ctx, cfg)
	if err != nil {
		return RemoteRef{}, err
	}

	remote := path.Join(cfg.FolderPath, filename)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		a.itemURL(remote)+":/content", bytes.NewReader(data))
	if err != nil {
		return RemoteRef{}, fmt.Errorf("build onedrive upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/zip")

	resp, err := a.do(client, req, "onedrive upload")
	if err != nil {
		return RemoteRef{}, err
	}
	resp.Body.Close()
	return RemoteRef{Destination: model.DestOneDrive, Key: remote}, nil
}

func (a *OneDrive) Download(ctx context.Context, cfg Config, ref RemoteRef) ([]byte, error) {
	client, err := a.httpClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, a.itemURL(ref.Key)+":/content", nil)
	resp, err := a.do(client, req, "onedrive download")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.WrapE(model.KindNetworkError, "read onedrive response", err)
	}
	return data, nil
}

func (a *OneDrive) Delete(ctx context.Context, cfg Config, ref RemoteRef) error {
	client, err := a.httpClient(ctx, cfg)
	if err != nil {
		return err
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodDelete, a.itemURL(ref.Key), nil)
	resp, err := a.do(client, req, "onedrive delete")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
