package server

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/kevinGC/seatseeker/seatfinder"
)

func newValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())

	// Report fields by their JSON names.
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	validate.RegisterValidation("preference", validatePreference)

	return validate
}

func validatePreference(fl validator.FieldLevel) bool {
	pref, ok := fl.Field().Interface().(seatfinder.Preference)
	if !ok {
		return false
	}
	_, err := pref.MarshalText()
	return err == nil
}

// validationMessage turns a validation failure into readable text.
func validationMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required", "required_if", "required_unless":
		return "is required"
	case "http_url":
		return "must be an http or https URL"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", err.Param())
	case "gte", "min":
		return fmt.Sprintf("must be at least %s", err.Param())
	case "lte", "max":
		return fmt.Sprintf("must be at most %s", err.Param())
	case "latitude":
		return "must be a valid latitude"
	case "longitude":
		return "must be a valid longitude"
	case "preference":
		return "must be a known heatmap preference"
	default:
		return "is invalid"
	}
}
