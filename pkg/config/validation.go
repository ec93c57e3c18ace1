package config

import "fmt"

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	msg := "configuration validation failed:"
	for _, err := range e {
		msg += fmt.Sprintf("\n  - %s", err.Error())
	}
	return msg
}

// Validator checks one configuration section
type Validator func() ValidationErrors

// Validate runs the validators and combines their errors
func Validate(validators ...Validator) error {
	var all ValidationErrors
	for _, validator := range validators {
		all = append(all, validator()...)
	}
	if len(all) > 0 {
		return all
	}
	return nil
}
