package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/edvin/spoolvault/internal/crypto"
	"github.com/edvin/spoolvault/internal/model"
	"github.com/edvin/spoolvault/internal/platform"
)

// placeholderPassword is assigned to users created during an admin
// restore. Password hashes are never exported, so recreated accounts
// get this credential and must change it on first login.
const placeholderPassword = "spoolvault-restore"

// Restorer applies snapshot archives back into the database. The merge
// is insert-only: rows whose natural key already exists are left
// untouched, never updated or deleted.
type Restorer struct {
	db        TxBeginner
	assetsDir string
	logger    zerolog.Logger
}

func NewRestorer(db TxBeginner, assetsDir string, logger zerolog.Logger) *Restorer {
	return &Restorer{db: db, assetsDir: assetsDir, logger: logger}
}

// RestoreUser merges a user-scope archive into the given account. The
// whole merge runs in one transaction: either every missing row is
// inserted or nothing changes. Validation happens before the
// transaction opens.
func (r *Restorer) RestoreUser(ctx context.Context, userID string, data []byte) (*model.RestoreReport, error) {
	a, err := openArchive(data)
	if err != nil {
		return nil, err
	}
	if a.Manifest.Scope != model.ScopeUser {
		return nil, model.E(model.KindValidationError,
			fmt.Sprintf("archive scope %q cannot be restored into a user account", a.Manifest.Scope))
	}

	recs, err := a.readRecords(recordsDir)
	if err != nil {
		return nil, err
	}
	if err := validateCounts(a.Manifest.EntityCounts, recs.counts()); err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin restore tx: %w", err)
	}
	defer tx.Rollback(ctx)

	counts, images, err := r.applyTenant(ctx, tx, userID, recs)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit restore tx: %w", err)
	}

	r.writeAssets(a, images)
	r.logger.Info().Str("user_id", userID).Interface("restored", counts).Msg("restored user snapshot")
	return &model.RestoreReport{RestoredCounts: counts}, nil
}

// RestoreAdmin merges an admin-scope archive across all tenants it
// contains. Each tenant is applied in its own transaction: a malformed
// or conflicting tenant payload rolls back that tenant alone and is
// reported, while the remaining tenants still apply.
func (r *Restorer) RestoreAdmin(ctx context.Context, data []byte) (*model.RestoreReport, error) {
	a, err := openArchive(data)
	if err != nil {
		return nil, err
	}
	if a.Manifest.Scope != model.ScopeAdmin {
		return nil, model.E(model.KindValidationError,
			fmt.Sprintf("archive scope %q is not an admin snapshot", a.Manifest.Scope))
	}

	users, err := a.readUsers()
	if err != nil {
		return nil, err
	}
	userByName := make(map[string]userExport, len(users))
	for _, u := range users {
		userByName[u.Username] = u
	}

	tenants := a.tenantDirs()
	recsByTenant := make(map[string]*tenantRecords, len(tenants))
	readErrs := make(map[string]error)
	for _, username := range tenants {
		recs, err := a.readRecords(fmt.Sprintf("%s/%s", tenantsDir, username))
		if err != nil {
			readErrs[username] = err
			continue
		}
		recsByTenant[username] = recs
	}

	// When every tenant payload parses, the manifest totals must match
	// before anything is written. A tenant that fails to parse is already
	// skipped below, so the totals cannot line up and the check is moot.
	if len(readErrs) == 0 {
		totals := map[string]int{EntityUsers: len(users)}
		for _, recs := range recsByTenant {
			for entity, n := range recs.counts() {
				totals[entity] += n
			}
		}
		if err := validateCounts(a.Manifest.EntityCounts, totals); err != nil {
			return nil, err
		}
		if a.Manifest.EntityCounts[EntityUsers] != totals[EntityUsers] {
			return nil, model.E(model.KindValidationError,
				fmt.Sprintf("manifest declares %d %s but archive contains %d",
					a.Manifest.EntityCounts[EntityUsers], EntityUsers, totals[EntityUsers]))
		}
	}

	placeholderHash, err := crypto.HashPassword(placeholderPassword)
	if err != nil {
		return nil, fmt.Errorf("hash placeholder password: %w", err)
	}

	report := &model.RestoreReport{RestoredCounts: make(map[string]int)}
	var notes []string
	var allImages []string

	for _, username := range tenants {
		if err := readErrs[username]; err != nil {
			r.logger.Warn().Err(err).Str("tenant", username).Msg("tenant records unreadable")
			notes = append(notes, fmt.Sprintf("tenant %s skipped: %v", username, err))
			continue
		}
		counts, images, created, err := r.restoreTenant(ctx, recsByTenant[username], username, userByName[username], placeholderHash)
		if err != nil {
			r.logger.Warn().Err(err).Str("tenant", username).Msg("tenant restore rolled back")
			notes = append(notes, fmt.Sprintf("tenant %s skipped: %v", username, err))
			continue
		}
		if created {
			report.CreatedUsers++
		}
		for entity, n := range counts {
			report.RestoredCounts[entity] += n
		}
		allImages = append(allImages, images...)
	}

	r.writeAssets(a, allImages)
	report.Note = strings.Join(notes, "; ")
	r.logger.Info().
		Int("created_users", report.CreatedUsers).
		Interface("restored", report.RestoredCounts).
		Msg("restored admin snapshot")
	return report, nil
}

func (r *Restorer) restoreTenant(ctx context.Context, recs *tenantRecords, username string, exported userExport, placeholderHash string) (map[string]int, []string, bool, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, nil, false, fmt.Errorf("begin tenant tx: %w", err)
	}
	defer tx.Rollback(ctx)

	userID, created, err := r.ensureUser(ctx, tx, username, exported, placeholderHash)
	if err != nil {
		return nil, nil, false, err
	}

	counts, images, err := r.applyTenant(ctx, tx, userID, recs)
	if err != nil {
		return nil, nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, false, fmt.Errorf("commit tenant tx: %w", err)
	}
	return counts, images, created, nil
}

// ensureUser finds the tenant account by username, creating it with the
// placeholder credential when it does not exist yet.
func (r *Restorer) ensureUser(ctx context.Context, tx pgx.Tx, username string, exported userExport, placeholderHash string) (string, bool, error) {
	var id string
	err := tx.QueryRow(ctx, `SELECT id FROM users WHERE username = $1`, username).Scan(&id)
	if err == nil {
		return id, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", false, fmt.Errorf("look up user %s: %w", username, err)
	}

	role := exported.Role
	if role != model.RoleAdmin {
		role = model.RoleUser
	}
	id = platform.NewID()
	_, err = tx.Exec(ctx, `
		INSERT INTO users (id, username, email, password_hash, role, must_change_password)
		VALUES ($1, $2, $3, $4, $5, true)`,
		id, username, exported.Email, placeholderHash, role)
	if err != nil {
		return "", false, fmt.Errorf("create user %s: %w", username, err)
	}
	return id, true, nil
}

// applyTenant inserts one tenant's records, parents before children.
// Returns per-entity inserted counts and the image paths of spools that
// were actually inserted.
func (r *Restorer) applyTenant(ctx context.Context, tx pgx.Tx, userID string, recs *tenantRecords) (map[string]int, []string, error) {
	counts := make(map[string]int, len(EntityOrder))
	for _, entity := range EntityOrder {
		counts[entity] = 0
	}
	var images []string

	for _, s := range recs.Spools {
		tag, err := tx.Exec(ctx, `
			INSERT INTO spools (id, user_id, name, vendor, material, lot_number, color_hex,
			                    diameter_mm, net_weight_g, remaining_weight_g, image_path, note, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (user_id, name, vendor, material, lot_number) DO NOTHING`,
			platform.NewID(), userID, s.Name, s.Vendor, s.Material, s.LotNumber, s.ColorHex,
			s.DiameterMM, s.NetWeightG, s.RemainingWeightG, s.ImagePath, s.Note, s.CreatedAt)
		if err != nil {
			return nil, nil, fmt.Errorf("insert spool %s: %w", s.Name, err)
		}
		if tag.RowsAffected() > 0 {
			counts[EntitySpools]++
			if s.ImagePath != "" {
				images = append(images, s.ImagePath)
			}
		}
	}

	for _, e := range recs.UsageEvents {
		var spoolID string
		err := tx.QueryRow(ctx, `
			SELECT id FROM spools
			WHERE user_id = $1 AND name = $2 AND vendor = $3 AND material = $4 AND lot_number = $5`,
			userID, e.SpoolName, e.SpoolVendor, e.SpoolMaterial, e.SpoolLot).Scan(&spoolID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, nil, model.E(model.KindValidationError,
					fmt.Sprintf("usage event references unknown spool %q", e.SpoolName))
			}
			return nil, nil, fmt.Errorf("look up spool for usage event: %w", err)
		}
		tag, err := tx.Exec(ctx, `
			INSERT INTO usage_events (id, spool_id, used_grams, reason, occurred_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (spool_id, occurred_at, used_grams) DO NOTHING`,
			platform.NewID(), spoolID, e.UsedGrams, e.Reason, e.OccurredAt)
		if err != nil {
			return nil, nil, fmt.Errorf("insert usage event: %w", err)
		}
		if tag.RowsAffected() > 0 {
			counts[EntityUsageEvents]++
		}
	}

	for _, p := range recs.Profiles {
		tag, err := tx.Exec(ctx, `
			INSERT INTO filament_profiles (id, user_id, name, material, density, extruder_temp, bed_temp)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (user_id, name) DO NOTHING`,
			platform.NewID(), userID, p.Name, p.Material, p.Density, p.ExtruderTemp, p.BedTemp)
		if err != nil {
			return nil, nil, fmt.Errorf("insert profile %s: %w", p.Name, err)
		}
		if tag.RowsAffected() > 0 {
			counts[EntityFilamentProfiles]++
		}
	}

	for _, c := range recs.Compatibility {
		var profileID string
		err := tx.QueryRow(ctx, `
			SELECT id FROM filament_profiles WHERE user_id = $1 AND name = $2`,
			userID, c.ProfileName).Scan(&profileID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, nil, model.E(model.KindValidationError,
					fmt.Sprintf("compatibility entry references unknown profile %q", c.ProfileName))
			}
			return nil, nil, fmt.Errorf("look up profile for compatibility: %w", err)
		}
		tag, err := tx.Exec(ctx, `
			INSERT INTO printer_compatibility (id, profile_id, printer_model, compatible, note)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (profile_id, printer_model) DO NOTHING`,
			platform.NewID(), profileID, c.PrinterModel, c.Compatible, c.Note)
		if err != nil {
			return nil, nil, fmt.Errorf("insert compatibility: %w", err)
		}
		if tag.RowsAffected() > 0 {
			counts[EntityPrinterCompatibility]++
		}
	}

	for _, s := range recs.Shares {
		tag, err := tx.Exec(ctx, `
			INSERT INTO share_settings (id, user_id, share_token, read_only, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_id, share_token) DO NOTHING`,
			platform.NewID(), userID, s.ShareToken, s.ReadOnly, s.CreatedAt)
		if err != nil {
			return nil, nil, fmt.Errorf("insert share setting: %w", err)
		}
		if tag.RowsAffected() > 0 {
			counts[EntityShareSettings]++
		}
	}

	for _, s := range recs.Settings {
		tag, err := tx.Exec(ctx, `
			INSERT INTO user_settings (user_id, key, value)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id, key) DO NOTHING`,
			userID, s.Key, s.Value)
		if err != nil {
			return nil, nil, fmt.Errorf("insert user setting %s: %w", s.Key, err)
		}
		if tag.RowsAffected() > 0 {
			counts[EntityUserSettings]++
		}
	}

	return counts, images, nil
}

// writeAssets materializes archived images for rows that were inserted.
// Runs after commit so no files appear for rolled-back rows; existing
// files on disk are never overwritten.
func (r *Restorer) writeAssets(a *archive, images []string) {
	for _, name := range images {
		data, ok, err := a.readAsset(name)
		if err != nil || !ok {
			if err != nil {
				r.logger.Warn().Err(err).Str("asset", name).Msg("skipping unreadable archived asset")
			}
			continue
		}
		full, err := safeAssetPath(r.assetsDir, name)
		if err != nil {
			r.logger.Warn().Str("asset", name).Msg("skipping asset with unsafe path")
			continue
		}
		if _, err := os.Stat(full); err == nil {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			r.logger.Warn().Err(err).Str("asset", name).Msg("create asset directory")
			continue
		}
		if err := os.WriteFile(full, data, 0o644); err != nil {
			r.logger.Warn().Err(err).Str("asset", name).Msg("write restored asset")
		}
	}
}

// validateCounts cross-checks the manifest's declared entity counts
// against the rows actually present in the records files.
func validateCounts(declared, actual map[string]int) error {
	for _, entity := range EntityOrder {
		if declared[entity] != actual[entity] {
			return model.E(model.KindValidationError,
				fmt.Sprintf("manifest declares %d %s but archive contains %d",
					declared[entity], entity, actual[entity]))
		}
	}
	return nil
}
