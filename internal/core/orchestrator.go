package core

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/edvin/spoolvault/internal/destination"
	"github.com/edvin/spoolvault/internal/model"
)

// uploadAttempts is the total number of tries for one archive upload.
// Only NetworkError is retried; every other failure kind is final on
// the first occurrence.
const uploadAttempts = 3

type destinationConfigs interface {
	AdapterConfig(ctx context.Context, userID, dest string) (*destination.Config, error)
	SetLastBackup(ctx context.Context, userID, dest string, at time.Time) error
}

type backupLedger interface {
	Start(ctx context.Context, userID, dest string, startedAt time.Time) (*model.BackupRecord, error)
	Complete(ctx context.Context, id string, completedAt time.Time, sizeBytes int64) error
	Fail(ctx context.Context, id string, failedAt time.Time, message string) error
	Prune(ctx context.Context, userID, dest string) error
}

type archiveBuilder interface {
	BuildUser(ctx context.Context, userID string) ([]byte, *model.Manifest, error)
	BuildAdmin(ctx context.Context) ([]byte, *model.Manifest, error)
}

type archiveRestorer interface {
	RestoreUser(ctx context.Context, userID string, data []byte) (*model.RestoreReport, error)
	RestoreAdmin(ctx context.Context, data []byte) (*model.RestoreReport, error)
}

type sessionRevoker interface {
	RevokeForUser(ctx context.Context, userID string) error
	RevokeOthers(ctx context.Context, exceptUserID string) error
}

// Orchestrator runs backups and restores end to end: leases, ledger
// records, snapshot building, the remote transfer, and the post-restore
// session sweep.
type Orchestrator struct {
	destinations destinationConfigs
	history      backupLedger
	builder      archiveBuilder
	restorer     archiveRestorer
	sessions     sessionRevoker
	registry     *destination.Registry
	leases       *LeaseRegistry
	logger       zerolog.Logger

	adapterTimeout time.Duration
	retryBase      time.Duration
	now            func() time.Time
}

func NewOrchestrator(
	destinations destinationConfigs,
	history backupLedger,
	builder archiveBuilder,
	restorer archiveRestorer,
	sessions sessionRevoker,
	registry *destination.Registry,
	leases *LeaseRegistry,
	adapterTimeout time.Duration,
	logger zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		destinations:   destinations,
		history:        history,
		builder:        builder,
		restorer:       restorer,
		sessions:       sessions,
		registry:       registry,
		leases:         leases,
		logger:         logger,
		adapterTimeout: adapterTimeout,
		retryBase:      2 * time.Second,
		now:            time.Now,
	}
}

// BackupNow builds the user's snapshot and uploads it synchronously. A
// configured destination qualifies even while disabled; the enabled
// flag only gates scheduled runs. A concurrent trigger for the same
// (user, destination) gets BackupInProgress immediately.
func (o *Orchestrator) BackupNow(ctx context.Context, userID, dest string) (*model.BackupRecord, error) {
	adapter, err := o.registry.For(dest)
	if err != nil {
		return nil, err
	}
	cfg, err := o.destinations.AdapterConfig(ctx, userID, dest)
	if err != nil {
		return nil, err
	}

	if !o.leases.TryAcquireBackup(userID, dest) {
		return nil, model.E(model.KindBackupInProgress,
			"a backup or restore is already running for "+dest)
	}
	defer o.leases.ReleaseBackup(userID, dest)

	startedAt := o.now().UTC()
	rec, err := o.history.Start(ctx, userID, dest, startedAt)
	if err != nil {
		return nil, err
	}

	data, _, err := o.builder.BuildUser(ctx, userID)
	if err != nil {
		return nil, o.fail(ctx, rec, err)
	}

	filename := fmt.Sprintf("spoolvault-%s.zip", startedAt.Format("20060102T150405Z"))
	if err := o.upload(ctx, adapter, cfg, filename, data); err != nil {
		return nil, o.fail(ctx, rec, err)
	}

	completedAt := o.now().UTC()
	if err := o.history.Complete(ctx, rec.ID, completedAt, int64(len(data))); err != nil {
		return nil, err
	}
	if err := o.destinations.SetLastBackup(ctx, userID, dest, completedAt); err != nil {
		return nil, err
	}
	if err := o.history.Prune(ctx, userID, dest); err != nil {
		o.logger.Warn().Err(err).Str("destination", dest).Msg("prune backup history")
	}

	rec.Status = model.BackupStatusCompleted
	rec.CompletedAt = &completedAt
	size := int64(len(data))
	rec.FileSizeBytes = &size
	o.logger.Info().
		Str("user_id", userID).
		Str("destination", dest).
		Int64("bytes", size).
		Msg("backup completed")
	return rec, nil
}

// upload pushes the archive with capped exponential backoff. Each
// attempt gets its own timeout so a stalled transfer cannot hold the
// lease forever.
func (o *Orchestrator) upload(ctx context.Context, adapter destination.Adapter, cfg *destination.Config, filename string, data []byte) error {
	backoff := retry.WithMaxRetries(uploadAttempts-1, retry.NewExponential(o.retryBase))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, o.adapterTimeout)
		defer cancel()

		_, err := adapter.Upload(attemptCtx, *cfg, filename, data)
		if err != nil && model.KindOf(err) == model.KindNetworkError {
			o.logger.Warn().Err(err).Str("destination", cfg.Destination).Msg("retrying upload")
			return retry.RetryableError(err)
		}
		return err
	})
}

func (o *Orchestrator) fail(ctx context.Context, rec *model.BackupRecord, cause error) error {
	failedAt := o.now().UTC()
	if err := o.history.Fail(ctx, rec.ID, failedAt, cause.Error()); err != nil {
		o.logger.Error().Err(err).Str("record_id", rec.ID).Msg("record backup failure")
	}
	o.logger.Warn().Err(cause).
		Str("user_id", rec.UserID).
		Str("destination", rec.Destination).
		Msg("backup failed")
	return cause
}

// Export builds the user's snapshot archive for direct download.
func (o *Orchestrator) Export(ctx context.Context, userID string) ([]byte, *model.Manifest, error) {
	return o.builder.BuildUser(ctx, userID)
}

// ExportAdmin builds the all-tenants archive.
func (o *Orchestrator) ExportAdmin(ctx context.Context) ([]byte, *model.Manifest, error) {
	return o.builder.BuildAdmin(ctx)
}

// RestoreUser applies an uploaded archive to the user's account and
// invalidates their sessions afterwards.
func (o *Orchestrator) RestoreUser(ctx context.Context, userID string, data []byte) (*model.RestoreReport, error) {
	if !o.leases.TryAcquireRestore(userID) {
		return nil, model.E(model.KindBackupInProgress,
			"a backup or restore is already running for this account")
	}
	defer o.leases.ReleaseRestore(userID)

	report, err := o.restorer.RestoreUser(ctx, userID, data)
	if err != nil {
		return nil, err
	}
	if err := o.sessions.RevokeForUser(ctx, userID); err != nil {
		return nil, err
	}
	return report, nil
}

// RestoreAdmin applies an all-tenants archive, then invalidates every
// session except the admin's own.
func (o *Orchestrator) RestoreAdmin(ctx context.Context, adminUserID string, data []byte) (*model.RestoreReport, error) {
	if !o.leases.TryAcquireGlobalRestore() {
		return nil, model.E(model.KindBackupInProgress,
			"a backup or restore is already running")
	}
	defer o.leases.ReleaseGlobalRestore()

	report, err := o.restorer.RestoreAdmin(ctx, data)
	if err != nil {
		return nil, err
	}
	if err := o.sessions.RevokeOthers(ctx, adminUserID); err != nil {
		return nil, err
	}
	return report, nil
}
