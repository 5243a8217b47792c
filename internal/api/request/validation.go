package request

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/edvin/spoolvault/internal/model"
)

var validate = validator.New()

func init() {
	validate.RegisterValidation("destination", func(fl validator.FieldLevel) bool {
		return model.ValidDestination(fl.Field().String())
	})
}

func Decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("validation error: %w", err)
	}
	return nil
}

// Destination validates a destination identifier taken from the URL path.
func Destination(s string) (string, error) {
	if !model.ValidDestination(s) {
		return "", fmt.Errorf("unknown destination %q", s)
	}
	return s, nil
}
