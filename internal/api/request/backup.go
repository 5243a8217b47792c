package request

import "github.com/edvin/spoolvault/internal/model"

// ConfigureDestination configures a credential-based destination. OAuth
// destinations go through the consent redirect instead.
type ConfigureDestination struct {
	Destination string                    `json:"destination" validate:"required,destination"`
	FolderPath  string                    `json:"folder_path,omitempty"`
	Settings    model.DestinationSettings `json:"settings"`
	Credentials model.Credentials         `json:"credentials"`
}

type ToggleDestination struct {
	Enabled *bool `json:"enabled" validate:"required"`
}
