package handler

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"geoattend/internal/attendance"
)

// custom validation tags
const (
	notBlankTag = "notblank"
	hhmmTag     = "hhmm"
	weekdayTag  = "weekday"
)

var registerOnce sync.Once

// registerValidators installs the custom tags on gin's validator engine and
// reports fields by their JSON names.
func registerValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = v.RegisterValidation(notBlankTag, notBlankValidation)
		_ = v.RegisterValidation(hhmmTag, hhmmValidation)
		_ = v.RegisterValidation(weekdayTag, weekdayValidation)
	})
}

func notBlankValidation(fl validator.FieldLevel) bool {
	if str, ok := fl.Field().Interface().(string); ok {
		return strings.TrimSpace(str) != ""
	}
	return true
}

func hhmmValidation(fl validator.FieldLevel) bool {
	_, _, err := attendance.ParseClock(fl.Field().String())
	return err == nil
}

func weekdayValidation(fl validator.FieldLevel) bool {
	return attendance.ValidWeekday(fl.Field().String())
}

// bindingMessage turns a binding failure into a single readable line.
func bindingMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid request body"
	}
	fe := verrs[0]
	field := fieldPath(fe.Namespace())
	switch fe.Tag() {
	case "required", notBlankTag:
		return field + " is required"
	case hhmmTag:
		return field + " must be a time in HH:MM format"
	case weekdayTag:
		return field + " must be a weekday name such as Monday"
	case "email":
		return field + " must be a valid email address"
	case "min":
		return field + " must be at least " + fe.Param()
	case "max":
		return field + " must be at most " + fe.Param()
	case "gte":
		return field + " must be greater than or equal to " + fe.Param()
	case "lte":
		return field + " must be less than or equal to " + fe.Param()
	case "oneof":
		return field + " must be one of " + fe.Param()
	default:
		return field + " is invalid"
	}
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
