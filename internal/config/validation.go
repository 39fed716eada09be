package config

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks the struct tags and the rules that tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	for i, pattern := range cfg.Engine.TempPatterns {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return fmt.Errorf("engine.temp_patterns[%d]: bad pattern %q: %w", i, pattern, err)
		}
	}
	if cfg.Staging.MaxSize > 0 && cfg.Staging.MaxUploadSize > cfg.Staging.MaxSize {
		return fmt.Errorf("staging: max_upload_size %d exceeds max_size %d",
			cfg.Staging.MaxUploadSize, cfg.Staging.MaxSize)
	}
	if (cfg.Vault.S3AccessKeyID == "") != (cfg.Vault.S3SecretAccessKey == "") {
		return fmt.Errorf("vault: s3_access_key_id and s3_secret_access_key must be set together")
	}
	return nil
}

func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
