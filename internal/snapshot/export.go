package snapshot

import "time"

// Entity names as they appear in manifest entity_counts and in the
// records/ directory of the archive. EntityOrder is the apply order on
// restore: parents before children.
const (
	EntityUsers                = "users"
	EntitySpools               = "spools"
	EntityUsageEvents          = "usage_events"
	EntityFilamentProfiles     = "filament_profiles"
	EntityShareSettings        = "share_settings"
	EntityPrinterCompatibility = "printer_compatibility"
	EntityUserSettings         = "user_settings"
)

var EntityOrder = []string{
	EntitySpools,
	EntityUsageEvents,
	EntityFilamentProfiles,
	EntityPrinterCompatibility,
	EntityShareSettings,
	EntityUserSettings,
}

// Export records are the portable row shapes written to the archive.
// They carry natural keys instead of primary keys: ids are not portable
// across instances. Field order is fixed by these struct definitions so
// two backups of unchanged data serialize identically.

type spoolExport struct {
	Name             string    `json:"name"`
	Vendor           string    `json:"vendor"`
	Material         string    `json:"material"`
	LotNumber        string    `json:"lot_number"`
	ColorHex         string    `json:"color_hex"`
	DiameterMM       float64   `json:"diameter_mm"`
	NetWeightG       float64   `json:"net_weight_g"`
	RemainingWeightG float64   `json:"remaining_weight_g"`
	ImagePath        string    `json:"image_path,omitempty"`
	Note             string    `json:"note,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

type usageEventExport struct {
	SpoolName     string    `json:"spool_name"`
	SpoolVendor   string    `json:"spool_vendor"`
	SpoolMaterial string    `json:"spool_material"`
	SpoolLot      string    `json:"spool_lot"`
	UsedGrams     float64   `json:"used_grams"`
	Reason        string    `json:"reason,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type profileExport struct {
	Name         string  `json:"name"`
	Material     string  `json:"material"`
	Density      float64 `json:"density"`
	ExtruderTemp int     `json:"extruder_temp"`
	BedTemp      int     `json:"bed_temp"`
}

type compatibilityExport struct {
	ProfileName  string `json:"profile_name"`
	PrinterModel string `json:"printer_model"`
	Compatible   bool   `json:"compatible"`
	Note         string `json:"note,omitempty"`
}

type shareSettingExport struct {
	ShareToken string    `json:"share_token"`
	ReadOnly   bool      `json:"read_only"`
	CreatedAt  time.Time `json:"created_at"`
}

type userSettingExport struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// userExport never carries the password hash: exported credentials are
// not recoverable, restore assigns a placeholder instead.
type userExport struct {
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// tenantRecords is one user's full exported record set.
type tenantRecords struct {
	Spools        []spoolExport
	UsageEvents   []usageEventExport
	Profiles      []profileExport
	Compatibility []compatibilityExport
	Shares        []shareSettingExport
	Settings      []userSettingExport
}

func (r *tenantRecords) counts() map[string]int {
	return map[string]int{
		EntitySpools:               len(r.Spools),
		EntityUsageEvents:          len(r.UsageEvents),
		EntityFilamentProfiles:     len(r.Profiles),
		EntityPrinterCompatibility: len(r.Compatibility),
		EntityShareSettings:        len(r.Shares),
		EntityUserSettings:         len(r.Settings),
	}
}
