package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

// Validate checks the merged configuration for structural problems. It
// returns a ValidationErrors collection describing every issue found.
func (c *Config) Validate() error {
	var errs ValidationErrors

	if c.Port <= 0 || c.Port > 65535 {
		errs.Add("port", fmt.Sprintf("must be between 1 and 65535, got %d", c.Port), c.Port)
	}

	seen := make(map[string]bool, len(c.Upstreams))
	for i, upstream := range c.Upstreams {
		prefix := fmt.Sprintf("upstreams[%d]", i)

		if strings.TrimSpace(upstream.Name) == "" {
			errs.Add(prefix+".name", "is required")
			continue
		}
		if seen[upstream.Name] {
			errs.Add(prefix+".name", fmt.Sprintf("duplicate upstream name %q", upstream.Name), upstream.Name)
		}
		seen[upstream.Name] = true

		switch upstream.Transport {
		case TransportStdio:
			if upstream.Command == "" {
				errs.Add(prefix+".command", "is required for the stdio transport")
			}
			if upstream.URL != "" {
				errs.Add(prefix+".url", "must be empty for the stdio transport", upstream.URL)
			}
		case TransportSSE, TransportStreamableHTTP, TransportWebSocket:
			if upstream.URL == "" {
				errs.Add(prefix+".url", fmt.Sprintf("is required for the %s transport", upstream.Transport))
			}
			if upstream.Command != "" {
				errs.Add(prefix+".command", fmt.Sprintf("must be empty for the %s transport", upstream.Transport), upstream.Command)
			}
			if len(upstream.WatchPaths) > 0 {
				errs.Add(prefix+".watchPaths", "only apply to the stdio transport")
			}
		case "":
			errs.Add(prefix+".transport", "is required")
		default:
			errs.Add(prefix+".transport",
				fmt.Sprintf("must be one of: %s, %s, %s, %s",
					TransportStdio, TransportSSE, TransportStreamableHTTP, TransportWebSocket),
				string(upstream.Transport))
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
