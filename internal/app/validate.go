package app

import (
	"errors"
	"net/http"
	"regexp"

	"github.com/go-playground/validator/v10"
)

// projectKeyPattern: uppercase letters/numbers, 2-10 chars (e.g. MJ, JIRA1).
var projectKeyPattern = regexp.MustCompile(`^[A-Z0-9]{2,10}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("projectkey", func(fl validator.FieldLevel) bool {
		return projectKeyPattern.MatchString(fl.Field().String())
	})
	return v
}

// validateInput runs struct validation and converts failures into a 400
// DomainError listing the offending fields.
func validateInput(input any) error {
	err := validate.Struct(input)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		details := make([]map[string]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			details = append(details, map[string]string{
				"field": fe.Field(),
				"rule":  fe.Tag(),
			})
		}
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Invalid input", details)
	}
	return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Invalid input", nil)
}
