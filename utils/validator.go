package utils

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateStruct checks request payloads against their validate tags and
// flattens the result into one readable error.
func ValidateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var errs []string
	for _, err := range err.(validator.ValidationErrors) {
		field := strings.ToLower(err.Field())
		tag := err.Tag()
		param := err.Param()

		switch tag {
		case "required":
			errs = append(errs, field+" is required")
		case "min":
			errs = append(errs, field+" must be at least "+param+" characters")
		case "max":
			errs = append(errs, field+" must be at most "+param+" characters")
		case "email":
			errs = append(errs, field+" must be a valid email")
		case "gtfield":
			errs = append(errs, field+" must be after "+strings.ToLower(param))
		case "oneof":
			errs = append(errs, field+" must be one of: "+param)
		default:
			errs = append(errs, field+" is invalid")
		}
	}

	return errors.New(strings.Join(errs, ", "))
}
