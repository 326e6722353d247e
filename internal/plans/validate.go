package plans

import (
	"errors"
	"fmt"

	"github.com/joescharf/opsassist/internal/models"
)

// ErrInvalidPlan is returned for plans missing required fields.
var ErrInvalidPlan = errors.New("invalid plan")

// Validate checks the fields every plan must carry: an issue, at least one
// command, and unique positive steps with non-empty command text.
func Validate(p models.FixPlan) error {
	if p.Issue == "" {
		return fmt.Errorf("%w: issue is required", ErrInvalidPlan)
	}
	if len(p.Commands) == 0 {
		return fmt.Errorf("%w: at least one command is required", ErrInvalidPlan)
	}
	seen := make(map[int]bool, len(p.Commands))
	for _, c := range p.Commands {
		if c.Step <= 0 {
			return fmt.Errorf("%w: step %d must be positive", ErrInvalidPlan, c.Step)
		}
		if seen[c.Step] {
			return fmt.Errorf("%w: duplicate step %d", ErrInvalidPlan, c.Step)
		}
		seen[c.Step] = true
		if c.CommandText == "" {
			return fmt.Errorf("%w: step %d has no command", ErrInvalidPlan, c.Step)
		}
	}
	return nil
}
