package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Struct tags cover single-field rules; validateCustomRules checks what
// depends on more than one field.
//
// Note: Normalization (upper-case log level, lower-case type names) happens
// in ApplyDefaults. Validation accepts both cases for the log level.
//
// Returns an error describing the first validation failure.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	return validateCustomRules(cfg)
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if cfg.Backend.Type == "filesystem" {
		if p, _ := cfg.Backend.Filesystem["path"].(string); p == "" {
			return fmt.Errorf("backend.filesystem.path is required for the filesystem backend")
		}
	}

	if cfg.Backend.Type == "s3" {
		for _, key := range []string{"bucket", "region"} {
			if v, _ := cfg.Backend.S3[key].(string); v == "" {
				return fmt.Errorf("backend.s3.%s is required for the s3 backend", key)
			}
		}
	}

	if cfg.Cache.Table.Type == "badger" {
		path, _ := cfg.Cache.Table.Badger["db_path"].(string)
		inMemory, _ := cfg.Cache.Table.Badger["in_memory"].(bool)
		if path == "" && !inMemory {
			return fmt.Errorf("cache.table.badger: db_path is required unless in_memory is set")
		}
	}

	if cfg.Retry.Enabled && cfg.Retry.RatePerSecond > 0 && cfg.Retry.Burst == 0 {
		return fmt.Errorf("retry: burst must be positive when rate_per_second is set")
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
