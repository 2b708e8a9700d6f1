package handlers

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

var validationMessages = map[string]string{
	"required": "The field '%s' is required.",
	"uuid":     "The field '%s' must be a valid UUID.",
}

// validateRequest returns a map of JSON field names to messages, empty when req is valid.
func validateRequest(req any) map[string]string {
	problems := make(map[string]string)

	var fieldErrs validator.ValidationErrors
	if err := validate.Struct(req); !errors.As(err, &fieldErrs) {
		return problems
	}

	structType := reflect.TypeOf(req)
	if structType.Kind() == reflect.Pointer {
		structType = structType.Elem()
	}
	for _, fe := range fieldErrs {
		name := fe.StructField()
		if field, ok := structType.FieldByName(fe.StructField()); ok {
			if tag := strings.Split(field.Tag.Get("json"), ",")[0]; tag != "" {
				name = tag
			}
		}

		if msg, ok := validationMessages[fe.Tag()]; ok {
			problems[name] = fmt.Sprintf(msg, name)
		} else {
			problems[name] = fmt.Sprintf("Field '%s' is invalid: %s", name, fe.Tag())
		}
	}
	return problems
}
