package validator

import (
	"errors"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/Alwanly/service-source-ingest/pkg/fetch"
)

var (
	once     sync.Once
	validate *validator.Validate
)

func getValidator() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("proxy", validateProxy)
		_ = validate.RegisterValidation("source_name", validateSourceName)
	})
	return validate
}

// validateProxy accepts the formats fetch.ParseProxyURL understands.
func validateProxy(fl validator.FieldLevel) bool {
	v := fl.Field().String()
	if v == "" {
		return true
	}
	_, err := fetch.ParseProxyURL(v)
	return err == nil
}

// source names end up in file names and URL paths
func validateSourceName(fl validator.FieldLevel) bool {
	v := fl.Field().String()
	if v == "" || strings.ContainsAny(v, "/\\") {
		return false
	}
	return strings.TrimSpace(v) == v
}

func ValidateStruct(s interface{}) error {
	return getValidator().Struct(s)
}

func TranslateError(err error) map[string]string {
	out := make(map[string]string)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		if err != nil {
			out["_"] = err.Error()
		}
		return out
	}
	for _, fe := range verrs {
		out[fe.Field()] = fe.Tag()
	}
	return out
}
