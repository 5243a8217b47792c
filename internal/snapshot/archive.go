package snapshot

import (
	"archive/zip"
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/edvin/spoolvault/internal/model"
)

const (
	manifestName = "manifest.json"
	recordsDir   = "records"
	tenantsDir   = "records/tenants"
	assetsDir    = "assets"
)

// archiveWriter emits the zip form of a snapshot. File timestamps are
// left at their zero value and entries are added in a fixed order so
// the same data always produces the same bytes.
type archiveWriter struct {
	buf *bytes.Buffer
	zw  *zip.Writer
}

func newArchiveWriter() *archiveWriter {
	buf := &bytes.Buffer{}
	return &archiveWriter{buf: buf, zw: zip.NewWriter(buf)}
}

func (w *archiveWriter) writeManifest(m *model.Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return w.writeEntry(manifestName, zip.Deflate, append(data, '\n'))
}

// writeRecords writes one jsonl file per entity under dir, in
// EntityOrder. Empty entity files are still written so the archive
// shape does not depend on which entities happen to have rows.
func (w *archiveWriter) writeRecords(dir string, recs *tenantRecords) error {
	lines := map[string]any{
		EntitySpools:               recs.Spools,
		EntityUsageEvents:          recs.UsageEvents,
		EntityFilamentProfiles:     recs.Profiles,
		EntityPrinterCompatibility: recs.Compatibility,
		EntityShareSettings:        recs.Shares,
		EntityUserSettings:         recs.Settings,
	}
	for _, entity := range EntityOrder {
		data, err := marshalJSONL(lines[entity])
		if err != nil {
			return fmt.Errorf("encode %s: %w", entity, err)
		}
		if err := w.writeEntry(path.Join(dir, entity+".jsonl"), zip.Deflate, data); err != nil {
			return err
		}
	}
	return nil
}

func (w *archiveWriter) writeUsers(users []userExport) error {
	data, err := marshalJSONL(users)
	if err != nil {
		return fmt.Errorf("encode users: %w", err)
	}
	return w.writeEntry(path.Join(recordsDir, EntityUsers+".jsonl"), zip.Deflate, data)
}

// writeAssets stores raw image files uncompressed. Names must be sorted
// by the caller for deterministic output.
func (w *archiveWriter) writeAsset(name string, data []byte) error {
	return w.writeEntry(path.Join(assetsDir, name), zip.Store, data)
}

func (w *archiveWriter) writeEntry(name string, method uint16, data []byte) error {
	f, err := w.zw.CreateHeader(&zip.FileHeader{Name: name, Method: method})
	if err != nil {
		return fmt.Errorf("create archive entry %s: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write archive entry %s: %w", name, err)
	}
	return nil
}

func (w *archiveWriter) finish() ([]byte, error) {
	if err := w.zw.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}
	return w.buf.Bytes(), nil
}

func marshalJSONL(rows any) ([]byte, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)

	switch v := rows.(type) {
	case []spoolExport:
		for i := range v {
			if err := enc.Encode(v[i]); err != nil {
				return nil, err
			}
		}
	case []usageEventExport:
		for i := range v {
			if err := enc.Encode(v[i]); err != nil {
				return nil, err
			}
		}
	case []profileExport:
		for i := range v {
			if err := enc.Encode(v[i]); err != nil {
				return nil, err
			}
		}
	case []compatibilityExport:
		for i := range v {
			if err := enc.Encode(v[i]); err != nil {
				return nil, err
			}
		}
	case []shareSettingExport:
		for i := range v {
			if err := enc.Encode(v[i]); err != nil {
				return nil, err
			}
		}
	case []userSettingExport:
		for i := range v {
			if err := enc.Encode(v[i]); err != nil {
				return nil, err
			}
		}
	case []userExport:
		for i := range v {
			if err := enc.Encode(v[i]); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("unsupported row slice %T", rows)
	}
	return buf.Bytes(), nil
}

// archive is the parsed read side. Files are indexed by full path;
// tenant directories are discovered from the entry names.
type archive struct {
	Manifest model.Manifest
	files    map[string]*zip.File
}

func openArchive(data []byte) (*archive, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, model.WrapE(model.KindUnsupportedFormat, "archive is not a zip file", err)
	}

	a := &archive{files: make(map[string]*zip.File, len(zr.File))}
	for _, f := range zr.File {
		a.files[f.Name] = f
	}

	mf, ok := a.files[manifestName]
	if !ok {
		return nil, model.E(model.KindUnsupportedFormat, "archive has no manifest.json")
	}
	raw, err := readZipFile(mf)
	if err != nil {
		return nil, model.WrapE(model.KindUnsupportedFormat, "read manifest.json", err)
	}
	if err := json.Unmarshal(raw, &a.Manifest); err != nil {
		return nil, model.WrapE(model.KindUnsupportedFormat, "parse manifest.json", err)
	}
	if a.Manifest.FormatVersion > model.FormatVersion {
		return nil, model.E(model.KindUnsupportedFormat,
			fmt.Sprintf("archive format version %d is newer than supported version %d",
				a.Manifest.FormatVersion, model.FormatVersion))
	}
	if a.Manifest.FormatVersion < 1 {
		return nil, model.E(model.KindUnsupportedFormat, "archive manifest has no format version")
	}
	return a, nil
}

func (a *archive) readRecords(dir string) (*tenantRecords, error) {
	recs := &tenantRecords{}
	if err := a.readJSONL(path.Join(dir, EntitySpools+".jsonl"), &recs.Spools); err != nil {
		return nil, err
	}
	if err := a.readJSONL(path.Join(dir, EntityUsageEvents+".jsonl"), &recs.UsageEvents); err != nil {
		return nil, err
	}
	if err := a.readJSONL(path.Join(dir, EntityFilamentProfiles+".jsonl"), &recs.Profiles); err != nil {
		return nil, err
	}
	if err := a.readJSONL(path.Join(dir, EntityPrinterCompatibility+".jsonl"), &recs.Compatibility); err != nil {
		return nil, err
	}
	if err := a.readJSONL(path.Join(dir, EntityShareSettings+".jsonl"), &recs.Shares); err != nil {
		return nil, err
	}
	if err := a.readJSONL(path.Join(dir, EntityUserSettings+".jsonl"), &recs.Settings); err != nil {
		return nil, err
	}
	return recs, nil
}

func (a *archive) readUsers() ([]userExport, error) {
	var users []userExport
	if err := a.readJSONL(path.Join(recordsDir, EntityUsers+".jsonl"), &users); err != nil {
		return nil, err
	}
	return users, nil
}

// readJSONL decodes a records file line by line. A missing file reads
// as zero rows: older archives may omit entities they had no rows for.
func (a *archive) readJSONL(name string, out any) error {
	f, ok := a.files[name]
	if !ok {
		return nil
	}
	raw, err := readZipFile(f)
	if err != nil {
		return model.WrapE(model.KindValidationError, fmt.Sprintf("read %s", name), err)
	}

	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		if err := decodeLine(sc.Bytes(), out); err != nil {
			return model.WrapE(model.KindValidationError,
				fmt.Sprintf("parse %s line %d", name, line), err)
		}
	}
	if err := sc.Err(); err != nil {
		return model.WrapE(model.KindValidationError, fmt.Sprintf("scan %s", name), err)
	}
	return nil
}

func decodeLine(data []byte, out any) error {
	switch v := out.(type) {
	case *[]spoolExport:
		var rec spoolExport
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		*v = append(*v, rec)
	case *[]usageEventExport:
		var rec usageEventExport
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		*v = append(*v, rec)
	case *[]profileExport:
		var rec profileExport
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		*v = append(*v, rec)
	case *[]compatibilityExport:
		var rec compatibilityExport
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		*v = append(*v, rec)
	case *[]shareSettingExport:
		var rec shareSettingExport
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		*v = append(*v, rec)
	case *[]userSettingExport:
		var rec userSettingExport
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		*v = append(*v, rec)
	case *[]userExport:
		var rec userExport
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		*v = append(*v, rec)
	default:
		return fmt.Errorf("unsupported row slice %T", out)
	}
	return nil
}

// tenantDirs lists the per-tenant record directories of an admin
// archive, sorted by username.
func (a *archive) tenantDirs() []string {
	seen := make(map[string]bool)
	for name := range a.files {
		if !strings.HasPrefix(name, tenantsDir+"/") {
			continue
		}
		rest := strings.TrimPrefix(name, tenantsDir+"/")
		if i := strings.IndexByte(rest, '/'); i > 0 {
			seen[rest[:i]] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (a *archive) readAsset(name string) ([]byte, bool, error) {
	f, ok := a.files[path.Join(assetsDir, name)]
	if !ok {
		return nil, false, nil
	}
	data, err := readZipFile(f)
	if err != nil {
		return nil, false, model.WrapE(model.KindValidationError, fmt.Sprintf("read asset %s", name), err)
	}
	return data, true, nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
