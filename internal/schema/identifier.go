package schema

import (
	"fmt"
	"regexp"

	"github.com/rzpsarthak13/tablekeeper/internal/core"
)

// MaxIdentifierLength is the longest identifier accepted. It matches the
// smallest limit among the supported databases (PostgreSQL, 63 bytes).
const MaxIdentifierLength = 63

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateIdentifier checks that name can be interpolated into a statement
// once quoted: letters, digits and underscores, not starting with a digit.
func ValidateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", core.ErrInvalidIdentifier)
	}
	if len(name) > MaxIdentifierLength {
		return fmt.Errorf("%w: %q is longer than %d characters", core.ErrInvalidIdentifier, name, MaxIdentifierLength)
	}
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", core.ErrInvalidIdentifier, name)
	}
	return nil
}
