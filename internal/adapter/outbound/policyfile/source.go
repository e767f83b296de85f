// Package policyfile reads the permission configuration from a YAML file
// and watches it for changes.
package policyfile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/Sentinel-Gate/querygate/internal/domain/policy"
	"github.com/Sentinel-Gate/querygate/internal/port/outbound"
)

// Source reads a policy file. Unknown keys are rejected.
type Source struct {
	path     string
	validate *validator.Validate
}

// NewSource returns a Source for path.
func NewSource(path string) *Source {
	return &Source{path: path, validate: validator.New(validator.WithRequiredStructEnabled())}
}

// Path returns the file path.
func (s *Source) Path() string { return s.path }

// Read decodes the file and returns it with an xxhash fingerprint of its bytes.
func (s *Source) Read(ctx context.Context) (policy.RawConfig, uint64, error) {
	if err := ctx.Err(); err != nil {
		return policy.RawConfig{}, 0, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return policy.RawConfig{}, 0, fmt.Errorf("read policy file: %w", err)
	}
	raw, err := s.Parse(data)
	if err != nil {
		return policy.RawConfig{}, 0, fmt.Errorf("%s: %w", s.path, err)
	}
	return raw, xxhash.Sum64(data), nil
}

// Parse decodes and shape-checks policy YAML. Semantic checks happen in
// policy.Load.
func (s *Source) Parse(data []byte) (policy.RawConfig, error) {
	var raw policy.RawConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return policy.RawConfig{}, errors.New("policy file is empty")
		}
		return policy.RawConfig{}, fmt.Errorf("decode policy: %w", err)
	}
	if err := s.validate.Struct(raw); err != nil {
		return policy.RawConfig{}, formatValidationErrors(err)
	}
	return raw, nil
}

func formatValidationErrors(err error) error {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}
	msgs := make([]string, 0, len(ve))
	for _, e := range ve {
		field := strings.TrimPrefix(e.Namespace(), "RawConfig.")
		switch e.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must have at least %s entries", field, e.Param()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", field, e.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed validation: %s", field, e.Tag()))
		}
	}
	return fmt.Errorf("invalid policy file: %s", strings.Join(msgs, "; "))
}

var _ outbound.PolicySource = (*Source)(nil)
