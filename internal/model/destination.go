package model

import "time"

// Destination identifiers. Each user configures at most one of each.
const (
	DestGoogle   = "google"
	DestDropbox  = "dropbox"
	DestOneDrive = "onedrive"
	DestS3       = "s3"
	DestWebDAV   = "webdav"
	DestLocal    = "local"
)

// Destinations lists every supported destination in status-report order.
var Destinations = []string{DestGoogle, DestDropbox, DestOneDrive, DestS3, DestWebDAV, DestLocal}

// OAuthDestinations are the destinations configured through the
// authorization-code redirect flow rather than POST /backup/configure.
var OAuthDestinations = map[string]bool{
	DestGoogle:   true,
	DestDropbox:  true,
	DestOneDrive: true,
}

func ValidDestination(d string) bool {
	for _, dest := range Destinations {
		if d == dest {
			return true
		}
	}
	return false
}

// DestinationConfig is a per-(user, destination) configuration row.
// Configured means a credential is stored; Enabled ⇒ Configured holds
// across every state transition.
type DestinationConfig struct {
	ID                   string               `json:"id"`
	UserID               string               `json:"user_id"`
	Destination          string               `json:"destination"`
	Enabled              bool                 `json:"enabled"`
	FolderPath           string               `json:"folder_path,omitempty"`
	Settings             DestinationSettings  `json:"settings"`
	EncryptedCredentials *string              `json:"-"`
	LastBackupAt         *time.Time           `json:"last_backup_at,omitempty"`
	CreatedAt            time.Time            `json:"created_at"`
	UpdatedAt            time.Time            `json:"updated_at"`
}

// Configured reports whether a credential is stored for this destination.
func (c *DestinationConfig) Configured() bool {
	return c.EncryptedCredentials != nil && *c.EncryptedCredentials != ""
}

// DestinationSettings holds the non-secret adapter settings, stored as jsonb.
type DestinationSettings struct {
	// S3-compatible object stores.
	Endpoint  string `json:"endpoint,omitempty"`
	Region    string `json:"region,omitempty"`
	Bucket    string `json:"bucket,omitempty"`
	PathStyle bool   `json:"path_style,omitempty"`

	// WebDAV.
	BaseURL string `json:"base_url,omitempty"`
}

// Credentials is the decrypted secret material for one destination.
// It is JSON-encoded and sealed with the service key before it touches
// the database.
type Credentials struct {
	// OAuth destinations.
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`

	// S3.
	AccessKeyID     string `json:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty"`

	// WebDAV.
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// DestinationStatus is the per-destination summary returned by GET /backup/status.
type DestinationStatus struct {
	Destination  string     `json:"destination"`
	Configured   bool       `json:"configured"`
	Enabled      bool       `json:"enabled"`
	FolderPath   string     `json:"folder_path,omitempty"`
	LastBackupAt *time.Time `json:"last_backup_at,omitempty"`
}
