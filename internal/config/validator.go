package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// auditSchemes are the path-carrying audit outputs.
var auditSchemes = []string{"file://", "dir://", "sqlite://"}

// RegisterCustomValidators registers querygate validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	rules := map[string]validator.Func{
		"audit_output": validateAuditOutput,
		"db_driver":    validateDBDriver,
		"duration":     validateDuration,
		"key_hash":     validateKeyHash,
	}
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("failed to register %s validator: %w", tag, err)
		}
	}
	return nil
}

// validateAuditOutput accepts "stdout", "memory", or a scheme from
// auditSchemes followed by an absolute path.
func validateAuditOutput(fl validator.FieldLevel) bool {
	output := fl.Field().String()
	if output == "stdout" || output == "memory" {
		return true
	}
	for _, scheme := range auditSchemes {
		if path, ok := strings.CutPrefix(output, scheme); ok {
			return path != "" && filepath.IsAbs(path)
		}
	}
	return false
}

func validateDBDriver(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "postgres", "sqlite":
		return true
	}
	return false
}

func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d >= 0
}

// validateKeyHash accepts "sha256:<64 hex>", bare 64-char hex, or an
// Argon2id PHC string.
func validateKeyHash(fl validator.FieldLevel) bool {
	h := fl.Field().String()
	if strings.HasPrefix(h, "$argon2id$") {
		return true
	}
	h = strings.TrimPrefix(h, "sha256:")
	if len(h) != 64 {
		return false
	}
	_, err := hex.DecodeString(h)
	return err == nil
}

// Validate validates the Config using struct tags and custom cross-field rules.
// Returns an error if validation fails, with actionable error messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateTenantSetting(); err != nil {
		return err
	}

	if err := c.validateIdentityReferences(); err != nil {
		return err
	}

	return nil
}

// validateTenantSetting rejects tenant_setting for drivers without session settings.
func (c *Config) validateTenantSetting() error {
	if c.Database.TenantSetting != "" && c.Database.Driver != "postgres" {
		return fmt.Errorf("database: tenant_setting requires the postgres driver, got %q", c.Database.Driver)
	}
	return nil
}

// validateIdentityReferences ensures identity IDs are unique and every API
// key's identity_id references a configured identity.
func (c *Config) validateIdentityReferences() error {
	knownIdentities := make(map[string]struct{}, len(c.Auth.Identities))
	for i, identity := range c.Auth.Identities {
		if _, dup := knownIdentities[identity.ID]; dup {
			return fmt.Errorf("identities[%d]: duplicate id: %s", i, identity.ID)
		}
		knownIdentities[identity.ID] = struct{}{}
	}

	for i, apiKey := range c.Auth.APIKeys {
		if _, exists := knownIdentities[apiKey.IdentityID]; !exists {
			return fmt.Errorf("api_keys[%d]: references unknown identity_id: %s", i, apiKey.IdentityID)
		}
	}

	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		messages := make([]string, 0, len(validationErrors))
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "required_with":
		return fmt.Sprintf("%s is required when %s is set", field, e.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "gtefield":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "duration":
		return fmt.Sprintf("%s must be a non-negative duration like \"30s\"", field)
	case "db_driver":
		return fmt.Sprintf("%s must be 'postgres' or 'sqlite'", field)
	case "key_hash":
		return fmt.Sprintf("%s must be 'sha256:<hex>' or an argon2id hash (see: querygate hash-key)", field)
	case "audit_output":
		return fmt.Sprintf("%s must be 'stdout', 'memory', or one of file://, dir://, sqlite:// with an absolute path", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
