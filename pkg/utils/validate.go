package utils

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate runs struct-tag validation over value
func Validate[T any](value T) (T, error) {
	if err := validate.Struct(value); err != nil {
		return value, ValidationErrorToString(value, err)
	}

	return value, nil
}

// ValidateValue validates a single value against a validation tag
func ValidateValue(value any, tag string) error {
	err := validate.Var(value, tag)
	if err != nil {
		return ValidationErrorToString(value, err)
	}
	return nil
}

func ValidationErrorToString(input any, err error) error {
	// Check if the error is a ValidationErrors type
	if verrs, ok := err.(validator.ValidationErrors); ok {
		// Build a custom error message for each field error.
		msg := ""
		for _, fe := range verrs {
			msg += fmt.Sprintf("\n • Failed %T validation for field '%s': rule '%s' expected '%s', got '%v'.", input, fe.StructField(), fe.Tag(), fe.Param(), fe.Value())
		}
		return errors.New(msg)
	}

	return err
}
