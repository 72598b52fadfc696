// Package validation provides custom validation rules for the application.
package validation

import (
	"strings"

	validation "github.com/jellydator/validation"

	apperrors "github.com/minishop/orders/internal/errors"
)

// WrapValidationError wraps validation errors as domain ErrInvalidInput
func WrapValidationError(err error) error {
	if err == nil {
		return nil
	}
	return apperrors.Wrap(apperrors.ErrInvalidInput, err.Error())
}

// NotBlank validates that a string is not empty after trimming whitespace
var NotBlank = validation.NewStringRuleWithError(
	func(s string) bool {
		return strings.TrimSpace(s) != ""
	},
	validation.NewError("validation_not_blank", "must not be blank"),
)

// PositiveInt validates that an int value is strictly greater than zero
var PositiveInt = validation.By(func(value interface{}) error {
	n, ok := value.(int)
	if !ok {
		return validation.NewError("validation_positive_int", "must be an integer")
	}
	if n <= 0 {
		return validation.NewError("validation_positive_int", "must be a positive integer")
	}
	return nil
})

// PositiveNumber validates that a float64 value is strictly greater than zero
var PositiveNumber = validation.By(func(value interface{}) error {
	n, ok := value.(float64)
	if !ok {
		return validation.NewError("validation_positive_number", "must be a number")
	}
	if n <= 0 {
		return validation.NewError("validation_positive_number", "must be a positive number")
	}
	return nil
})

// NonNegativeNumber validates that a float64 value is zero or greater
var NonNegativeNumber = validation.By(func(value interface{}) error {
	n, ok := value.(float64)
	if !ok {
		return validation.NewError("validation_non_negative_number", "must be a number")
	}
	if n < 0 {
		return validation.NewError("validation_non_negative_number", "must not be negative")
	}
	return nil
})
