package destination

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/edvin/spoolvault/internal/model"
)

// Local keeps archives on server disk under baseDir/<userID>/ so the user
// can fetch them over the download endpoint. It needs no credentials and
// counts as configured once enabled through POST /backup/configure.
type Local struct {
	logger  zerolog.Logger
	baseDir string
}

func NewLocal(logger zerolog.Logger, baseDir string) *Local {
	return &Local{
		logger:  logger.With().Str("component", "local-destination").Logger(),
		baseDir: baseDir,
	}
}

func (a *Local) Name() string { return model.DestLocal }

func (a *Local) userDir(cfg Config) string {
	return filepath.Join(a.baseDir, cfg.UserID)
}

// safeJoin resolves name under dir and rejects path traversal.
func (a *Local) safeJoin(dir, name string) (string, error) {
	p := filepath.Join(dir, filepath.Clean("/"+name))
	if !strings.HasPrefix(p, dir+string(filepath.Separator)) {
		return "", model.E(model.KindValidationError, "invalid archive name")
	}
	return p, nil
}

func (a *Local) Test(ctx context.Context, cfg Config) error {
	if err := os.MkdirAll(a.userDir(cfg), 0o750); err != nil {
		return model.WrapE(model.KindConfigInvalid, "create backup directory", err)
	}
	return nil
}

func (a *Local) Upload(ctx context.Context, cfg Config, filename string, data []byte) (RemoteRef, error) {
	dir := a.userDir(cfg)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return RemoteRef{}, model.WrapE(model.KindConfigInvalid, "create backup directory", err)
	}

	target, err := a.safeJoin(dir, filename)
	if err != nil {
		return RemoteRef{}, err
	}

	// Write-then-rename so a crashed upload never leaves a torn archive.
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return RemoteRef{}, fmt.Errorf("write archive: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return RemoteRef{}, fmt.Errorf("finalize archive: %w", err)
	}

	return RemoteRef{Destination: model.DestLocal, Key: filename}, nil
}

func (a *Local) Download(ctx context.Context, cfg Config, ref RemoteRef) ([]byte, error) {
	target, err := a.safeJoin(a.userDir(cfg), ref.Key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(target)
	if err != nil {
		return nil, model.WrapE(model.KindConfigInvalid, "read archive", err)
	}
	return data, nil
}

func (a *Local) Delete(ctx context.Context, cfg Config, ref RemoteRef) error {
	target, err := a.safeJoin(a.userDir(cfg), ref.Key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove archive: %w", err)
	}
	return nil
}
