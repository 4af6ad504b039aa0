// Package ingest validates a normalized AlertPayload before it reaches the
// workflow engine. Receiving and normalizing the raw alert webhook
// (AlertManager templates, vendor-specific dedup keys, and so on) is handled
// upstream of this process; this package only guards the boundary once a
// normalized payload has already arrived, e.g. off a queue.
package ingest

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/aiopscore/remediator/internal/domain"
)

var validate = validator.New()

// Validate checks alert against the required-field contract
// domain.AlertPayload's struct tags define, returning a single combined
// error describing every violation.
func Validate(alert domain.AlertPayload) error {
	if err := validate.Struct(alert); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return fmt.Errorf("ingest: %w", err)
		}
		return fmt.Errorf("ingest: invalid alert payload: %w", verrs)
	}
	return nil
}
