package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/edvin/spoolvault/internal/model"
)

// TxBeginner is the slice of the database pool the snapshot layer
// needs. *pgxpool.Pool satisfies it.
type TxBeginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Builder produces snapshot archives. All reads for one archive happen
// inside a single repeatable-read transaction so concurrent writes
// cannot tear the snapshot.
type Builder struct {
	db        TxBeginner
	assetsDir string
	logger    zerolog.Logger
	now       func() time.Time
}

func NewBuilder(db TxBeginner, assetsDir string, logger zerolog.Logger) *Builder {
	return &Builder{db: db, assetsDir: assetsDir, logger: logger, now: time.Now}
}

// BuildUser exports one user's records and assets into an archive.
func (b *Builder) BuildUser(ctx context.Context, userID string) ([]byte, *model.Manifest, error) {
	tx, err := b.db.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback(ctx)

	recs, err := b.readTenant(ctx, tx, userID)
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit snapshot tx: %w", err)
	}

	manifest := &model.Manifest{
		FormatVersion: model.FormatVersion,
		CreatedAt:     b.now().UTC().Truncate(time.Second),
		Scope:         model.ScopeUser,
		EntityCounts:  recs.counts(),
	}

	w := newArchiveWriter()
	if err := w.writeManifest(manifest); err != nil {
		return nil, nil, err
	}
	if err := w.writeRecords(recordsDir, recs); err != nil {
		return nil, nil, err
	}
	if err := b.writeAssets(ctx, w, recs.Spools); err != nil {
		return nil, nil, err
	}

	data, err := w.finish()
	if err != nil {
		return nil, nil, err
	}
	b.logger.Info().
		Str("user_id", userID).
		Int("spools", len(recs.Spools)).
		Int("archive_bytes", len(data)).
		Msg("built user snapshot")
	return data, manifest, nil
}

// BuildAdmin exports every user's records into one archive, with each
// tenant's record set under its own directory keyed by username.
func (b *Builder) BuildAdmin(ctx context.Context) ([]byte, *model.Manifest, error) {
	tx, err := b.db.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback(ctx)

	users, userIDs, err := b.readUsers(ctx, tx)
	if err != nil {
		return nil, nil, err
	}

	tenants := make(map[string]*tenantRecords, len(users))
	totals := map[string]int{EntityUsers: len(users)}
	var allSpools []spoolExport
	for i, u := range users {
		recs, err := b.readTenant(ctx, tx, userIDs[i])
		if err != nil {
			return nil, nil, fmt.Errorf("tenant %s: %w", u.Username, err)
		}
		tenants[u.Username] = recs
		for entity, n := range recs.counts() {
			totals[entity] += n
		}
		allSpools = append(allSpools, recs.Spools...)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit snapshot tx: %w", err)
	}

	manifest := &model.Manifest{
		FormatVersion: model.FormatVersion,
		CreatedAt:     b.now().UTC().Truncate(time.Second),
		Scope:         model.ScopeAdmin,
		EntityCounts:  totals,
	}

	w := newArchiveWriter()
	if err := w.writeManifest(manifest); err != nil {
		return nil, nil, err
	}
	if err := w.writeUsers(users); err != nil {
		return nil, nil, err
	}
	for _, u := range users {
		if err := w.writeRecords(fmt.Sprintf("%s/%s", tenantsDir, u.Username), tenants[u.Username]); err != nil {
			return nil, nil, err
		}
	}
	if err := b.writeAssets(ctx, w, allSpools); err != nil {
		return nil, nil, err
	}

	data, err := w.finish()
	if err != nil {
		return nil, nil, err
	}
	b.logger.Info().
		Int("tenants", len(users)).
		Int("archive_bytes", len(data)).
		Msg("built admin snapshot")
	return data, manifest, nil
}

func (b *Builder) readUsers(ctx context.Context, tx pgx.Tx) ([]userExport, []string, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, username, email, role, created_at
		FROM users
		ORDER BY username`)
	if err != nil {
		return nil, nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []userExport
	var ids []string
	for rows.Next() {
		var id string
		var u userExport
		if err := rows.Scan(&id, &u.Username, &u.Email, &u.Role, &u.CreatedAt); err != nil {
			return nil, nil, fmt.Errorf("scan user: %w", err)
		}
		u.CreatedAt = u.CreatedAt.UTC()
		users = append(users, u)
		ids = append(ids, id)
	}
	return users, ids, rows.Err()
}

// readTenant loads every exported entity for one user, ordered by
// natural key so serialization is stable.
func (b *Builder) readTenant(ctx context.Context, tx pgx.Tx, userID string) (*tenantRecords, error) {
	recs := &tenantRecords{}

	rows, err := tx.Query(ctx, `
		SELECT name, vendor, material, lot_number, color_hex, diameter_mm,
		       net_weight_g, remaining_weight_g, image_path, note, created_at
		FROM spools
		WHERE user_id = $1
		ORDER BY name, vendor, material, lot_number`, userID)
	if err != nil {
		return nil, fmt.Errorf("query spools: %w", err)
	}
	for rows.Next() {
		var s spoolExport
		if err := rows.Scan(&s.Name, &s.Vendor, &s.Material, &s.LotNumber, &s.ColorHex,
			&s.DiameterMM, &s.NetWeightG, &s.RemainingWeightG, &s.ImagePath, &s.Note,
			&s.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan spool: %w", err)
		}
		s.CreatedAt = s.CreatedAt.UTC()
		recs.Spools = append(recs.Spools, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read spools: %w", err)
	}

	rows, err = tx.Query(ctx, `
		SELECT s.name, s.vendor, s.material, s.lot_number,
		       e.used_grams, e.reason, e.occurred_at
		FROM usage_events e
		JOIN spools s ON s.id = e.spool_id
		WHERE s.user_id = $1
		ORDER BY s.name, s.vendor, s.material, s.lot_number, e.occurred_at, e.used_grams`, userID)
	if err != nil {
		return nil, fmt.Errorf("query usage events: %w", err)
	}
	for rows.Next() {
		var e usageEventExport
		if err := rows.Scan(&e.SpoolName, &e.SpoolVendor, &e.SpoolMaterial, &e.SpoolLot,
			&e.UsedGrams, &e.Reason, &e.OccurredAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan usage event: %w", err)
		}
		e.OccurredAt = e.OccurredAt.UTC()
		recs.UsageEvents = append(recs.UsageEvents, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read usage events: %w", err)
	}

	rows, err = tx.Query(ctx, `
		SELECT name, material, density, extruder_temp, bed_temp
		FROM filament_profiles
		WHERE user_id = $1
		ORDER BY name`, userID)
	if err != nil {
		return nil, fmt.Errorf("query profiles: %w", err)
	}
	for rows.Next() {
		var p profileExport
		if err := rows.Scan(&p.Name, &p.Material, &p.Density, &p.ExtruderTemp, &p.BedTemp); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		recs.Profiles = append(recs.Profiles, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read profiles: %w", err)
	}

	rows, err = tx.Query(ctx, `
		SELECT p.name, c.printer_model, c.compatible, c.note
		FROM printer_compatibility c
		JOIN filament_profiles p ON p.id = c.profile_id
		WHERE p.user_id = $1
		ORDER BY p.name, c.printer_model`, userID)
	if err != nil {
		return nil, fmt.Errorf("query compatibility: %w", err)
	}
	for rows.Next() {
		var c compatibilityExport
		if err := rows.Scan(&c.ProfileName, &c.PrinterModel, &c.Compatible, &c.Note); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan compatibility: %w", err)
		}
		recs.Compatibility = append(recs.Compatibility, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read compatibility: %w", err)
	}

	rows, err = tx.Query(ctx, `
		SELECT share_token, read_only, created_at
		FROM share_settings
		WHERE user_id = $1
		ORDER BY share_token`, userID)
	if err != nil {
		return nil, fmt.Errorf("query share settings: %w", err)
	}
	for rows.Next() {
		var s shareSettingExport
		if err := rows.Scan(&s.ShareToken, &s.ReadOnly, &s.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan share setting: %w", err)
		}
		s.CreatedAt = s.CreatedAt.UTC()
		recs.Shares = append(recs.Shares, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read share settings: %w", err)
	}

	rows, err = tx.Query(ctx, `
		SELECT key, value
		FROM user_settings
		WHERE user_id = $1
		ORDER BY key`, userID)
	if err != nil {
		return nil, fmt.Errorf("query user settings: %w", err)
	}
	for rows.Next() {
		var s userSettingExport
		if err := rows.Scan(&s.Key, &s.Value); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan user setting: %w", err)
		}
		recs.Settings = append(recs.Settings, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read user settings: %w", err)
	}

	return recs, nil
}

// writeAssets copies referenced spool images into the archive. Files
// are read concurrently but written to the zip in sorted order. A
// missing file is logged and skipped rather than failing the backup:
// the database rows are the source of truth.
func (b *Builder) writeAssets(ctx context.Context, w *archiveWriter, spools []spoolExport) error {
	seen := make(map[string]bool)
	var names []string
	for _, s := range spools {
		if s.ImagePath == "" || seen[s.ImagePath] {
			continue
		}
		seen[s.ImagePath] = true
		names = append(names, s.ImagePath)
	}
	sort.Strings(names)

	var mu sync.Mutex
	contents := make(map[string][]byte, len(names))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, name := range names {
		g.Go(func() error {
			full, err := safeAssetPath(b.assetsDir, name)
			if err != nil {
				b.logger.Warn().Str("asset", name).Msg("skipping asset with unsafe path")
				return nil
			}
			data, err := os.ReadFile(full)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					b.logger.Warn().Str("asset", name).Msg("referenced asset missing on disk")
					return nil
				}
				return fmt.Errorf("read asset %s: %w", name, err)
			}
			mu.Lock()
			contents[name] = data
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, name := range names {
		data, ok := contents[name]
		if !ok {
			continue
		}
		if err := w.writeAsset(name, data); err != nil {
			return err
		}
	}
	return nil
}

func safeAssetPath(base, name string) (string, error) {
	clean := filepath.Clean("/" + filepath.FromSlash(name))
	full := filepath.Join(base, clean)
	if full == filepath.Clean(base) {
		return "", fmt.Errorf("empty asset path")
	}
	return full, nil
}
