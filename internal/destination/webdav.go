package destination

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/rs/zerolog"

	"github.com/edvin/spoolvault/internal/model"
)

// WebDAV transfers archives over plain WebDAV with basic auth: MKCOL for
// the backup folder, PUT/GET/DELETE for the archives themselves.
type WebDAV struct {
	logger zerolog.Logger
	client *http.Client
}

func NewWebDAV(logger zerolog.Logger) *WebDAV {
	return &WebDAV{
		logger: logger.With().Str("component", "webdav-destination").Logger(),
		client: &http.Client{},
	}
}

func (a *WebDAV) Name() string { return model.DestWebDAV }

func (a *WebDAV) validate(cfg Config) error {
	if cfg.Settings.BaseURL == "" {
		return model.E(model.KindConfigInvalid, "webdav base URL is required")
	}
	if _, err := url.ParseRequestURI(cfg.Settings.BaseURL); err != nil {
		return model.WrapE(model.KindConfigInvalid, "webdav base URL is malformed", err)
	}
	if cfg.Credentials == nil || cfg.Credentials.Username == "" {
		return model.E(model.KindConfigInvalid, "webdav credentials are required")
	}
	return nil
}

// fileURL joins base URL, folder path and filename.
func (a *WebDAV) fileURL(cfg Config, filename string) string {
	u := strings.TrimSuffix(cfg.Settings.BaseURL, "/")
	if cfg.FolderPath != "" {
		u += "/" + strings.Trim(cfg.FolderPath, "/")
	}
	if filename != "" {
		u += "/" + filename
	}
	return u
}

func (a *WebDAV) do(ctx context.Context, cfg Config, method, target string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, model.WrapE(model.KindConfigInvalid, "build webdav request", err)
	}
	req.SetBasicAuth(cfg.Credentials.Username, cfg.Credentials.Password)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, classifyTransport("webdav "+strings.ToLower(method), err)
	}
	return resp, nil
}

// Test verifies the server answers an authenticated PROPFIND on the backup
// folder, creating the folder first if it does not exist.
func (a *WebDAV) Test(ctx context.Context, cfg Config) error {
	if err := a.validate(cfg); err != nil {
		return err
	}

	if err := a.ensureFolder(ctx, cfg); err != nil {
		return err
	}

	resp, err := a.do(ctx, cfg, "PROPFIND", a.fileURL(cfg, ""), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return classifyStatus("webdav propfind", resp.StatusCode)
	}
	return nil
}

// ensureFolder issues MKCOL for the configured folder. 405 means the
// collection already exists and is not an error.
func (a *WebDAV) ensureFolder(ctx context.Context, cfg Config) error {
	if cfg.FolderPath == "" {
		return nil
	}
	resp, err := a.do(ctx, cfg, "MKCOL", a.fileURL(cfg, ""), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusMethodNotAllowed {
		return classifyStatus("webdav mkcol", resp.StatusCode)
	}
	return nil
}

func (a *WebDAV) Upload(ctx context.Context, cfg Config, filename string, data []byte) (RemoteRef, error) {
	if err := a.validate(cfg); err != nil {
		return RemoteRef{}, err
	}
	if err := a.ensureFolder(ctx, cfg); err != nil {
		return RemoteRef{}, err
	}

	target := a.fileURL(cfg, filename)
	a.logger.Debug().Str("url", target).Int("size", len(data)).Msg("uploading archive")

	resp, err := a.do(ctx, cfg, http.MethodPut, target, bytes.NewReader(data))
	if err != nil {
		return RemoteRef{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return RemoteRef{}, classifyStatus("webdav put", resp.StatusCode)
	}
	return RemoteRef{Destination: model.DestWebDAV, Key: path.Join(cfg.FolderPath, filename)}, nil
}

func (a *WebDAV) Download(ctx context.Context, cfg Config, ref RemoteRef) ([]byte, error) {
	if err := a.validate(cfg); err != nil {
		return nil, err
	}

	target := strings.TrimSuffix(cfg.Settings.BaseURL, "/") + "/" + strings.TrimPrefix(ref.Key, "/")
	resp, err := a.do(ctx, cfg, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, classifyStatus("webdav get", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.WrapE(model.KindNetworkError, "read webdav response", err)
	}
	return data, nil
}

func (a *WebDAV) Delete(ctx context.Context, cfg Config, ref RemoteRef) error {
	if err := a.validate(cfg); err != nil {
		return err
	}

	target := strings.TrimSuffix(cfg.Settings.BaseURL, "/") + "/" + strings.TrimPrefix(ref.Key, "/")
	resp, err := a.do(ctx, cfg, http.MethodDelete, target, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusNotFound {
		return classifyStatus("webdav delete", resp.StatusCode)
	}
	return nil
}
