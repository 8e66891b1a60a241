package httpx

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/loanbook/internal/loan"
)

// Validator wraps go-playground/validator with JSON field names.
type Validator struct {
	v *validator.Validate
}

// NewValidator constructs a Validator reporting json tag names.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{v: v}
}

// Struct validates dto and converts the first failure into a ValidationError.
func (v *Validator) Struct(dto any) error {
	err := v.v.Struct(dto)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return &loan.ValidationError{Field: fe.Field(), Reason: reason(fe)}
	}
	return &loan.ValidationError{Reason: err.Error()}
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	}
	return "failed " + fe.Tag() + " check"
}
