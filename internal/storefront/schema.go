package storefront

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed fixtures.schema.json
var fixturesSchema []byte

// ValidationErrors represents a collection of fixture validation errors.
type ValidationErrors []error

// Error implements the error interface for ValidationErrors.
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var sb strings.Builder
	for i, err := range ve {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// ValidateFixtures validates raw fixture JSON against the embedded schema.
// It returns ValidationErrors listing every violation.
func ValidateFixtures(data []byte) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("fixtures.schema.json", bytes.NewReader(fixturesSchema)); err != nil {
		return fmt.Errorf("invalid fixtures schema: %w", err)
	}
	schema, err := compiler.Compile("fixtures.schema.json")
	if err != nil {
		return fmt.Errorf("invalid fixtures schema: %w", err)
	}

	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid fixtures JSON: %w", err)
	}

	if err := schema.Validate(doc); err != nil {
		var validationErr *jsonschema.ValidationError
		if errors.As(err, &validationErr) {
			return extractValidationErrors(validationErr)
		}
		return ValidationErrors{err}
	}
	return nil
}

// extractValidationErrors flattens the leaf errors of a jsonschema.ValidationError.
func extractValidationErrors(err *jsonschema.ValidationError) ValidationErrors {
	if len(err.Causes) == 0 {
		location := err.InstanceLocation
		if location == "" {
			location = "/"
		}
		return ValidationErrors{fmt.Errorf("fixtures %s: %s", location, err.Message)}
	}

	var errs ValidationErrors
	for _, cause := range err.Causes {
		errs = append(errs, extractValidationErrors(cause)...)
	}
	return errs
}
