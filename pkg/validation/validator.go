package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/platinummonkey/shopadmin/pkg/apperr"
)

var (
	once     sync.Once
	validate *validator.Validate
)

// instance returns the shared validator. validator.Validate caches struct
// metadata and is safe for concurrent use.
func instance() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(jsonFieldName)
		_ = validate.RegisterValidation("identifier", isIdentifier)
	})
	return validate
}

// Struct validates v against its `validate` tags. Violations are returned as
// an apperr validation error with one FieldError per failing field.
func Struct(v interface{}) error {
	err := instance().Struct(v)
	if err == nil {
		return nil
	}

	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return fmt.Errorf("failed to validate: %w", err)
	}

	var violations validator.ValidationErrors
	if !errors.As(err, &violations) {
		return apperr.Validation(err.Error())
	}

	fields := make([]apperr.FieldError, 0, len(violations))
	for _, fe := range violations {
		fields = append(fields, apperr.FieldError{
			Field:   fe.Field(),
			Message: message(fe),
		})
	}
	return apperr.Validation("one or more validation errors occurred", fields...)
}

// Var validates a single value against a tag expression
func Var(field string, value interface{}, tag string) error {
	err := instance().Var(value, tag)
	if err == nil {
		return nil
	}
	var violations validator.ValidationErrors
	if errors.As(err, &violations) && len(violations) > 0 {
		return apperr.Validation(fmt.Sprintf("%s %s", field, message(violations[0])),
			apperr.FieldError{Field: field, Message: message(violations[0])})
	}
	return apperr.Validation(err.Error())
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at least %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	case "email":
		return "must be a valid email address"
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "identifier":
		return "may only contain letters, digits, '_' and '-'"
	case "dive":
		return "contains an invalid element"
	default:
		return fmt.Sprintf("failed on the '%s' rule", fe.Tag())
	}
}

func jsonFieldName(field reflect.StructField) string {
	name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return field.Name
	}
	return name
}

// isIdentifier accepts caller-chosen ids such as PRODUCT or SYSTEM_USER
func isIdentifier(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" {
		return true
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-', r == '.':
		default:
			return false
		}
	}
	return true
}
