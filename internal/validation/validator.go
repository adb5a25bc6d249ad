package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/momo-shadow/shadow-engine/pkg/dot11"
)

// Validator validates command payloads
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a new validator with the "mac" rule registered
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// 使用 json 字段名报告错误
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	// mac: 单播 MAC 地址
	v.RegisterValidation("mac", func(fl validator.FieldLevel) bool {
		m, err := dot11.ParseMAC(fl.Field().String())
		return err == nil && m.IsUnicast()
	})

	return &Validator{validate: v}
}

// Validate validates a struct
func (v *Validator) Validate(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, describe(fe))
	}
	return &Error{Fields: msgs}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "mac":
		return fmt.Sprintf("%s must be a unicast MAC address", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	}
	return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
}

// Error lists the failed fields
type Error struct {
	Fields []string
}

func (e *Error) Error() string {
	return "validation failed: " + strings.Join(e.Fields, "; ")
}

// IsValidation reports whether err came from Validate
func IsValidation(err error) bool {
	var ve *Error
	return errors.As(err, &ve)
}
