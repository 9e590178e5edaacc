package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the whole tree. Struct tags cover closed enums and
// numeric ranges; backend-specific requirements are checked per section.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			f := verrs[0]
			return fmt.Errorf("config: %s failed %q validation (value %v)", f.Namespace(), f.Tag(), f.Value())
		}
		return fmt.Errorf("config: %w", err)
	}

	if err := c.validatePublisher(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := c.validateCredentials(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := c.validateStorage(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := c.validateLLM(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
