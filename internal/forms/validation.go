package forms

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

const bindingTag = "binding"

var submissionValidator = newSubmissionValidator()

func newSubmissionValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.SetTagName(bindingTag)
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	return validate
}

func validateSubmission(submission any) error {
	return describeValidation(submissionValidator.Struct(submission))
}

// describeValidation maps the first failed rule onto the package sentinels.
func describeValidation(err error) error {
	if err == nil {
		return nil
	}
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) || len(fieldErrors) == 0 {
		return fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
	}
	first := fieldErrors[0]
	switch first.Tag() {
	case "required":
		return fmt.Errorf("%w: %s", ErrMissingField, first.Field())
	case "email":
		return fmt.Errorf("%w: %s", ErrInvalidEmail, first.Field())
	case "max":
		return fmt.Errorf("%w: %s exceeds %s characters", ErrFieldTooLong, first.Field(), first.Param())
	default:
		return fmt.Errorf("%w: %s failed %s", ErrInvalidSubmission, first.Field(), first.Tag())
	}
}

// InvalidContact wraps a contact request that failed binding validation in the
// same coded error SubmitContact returns for invalid input.
func InvalidContact(err error) error {
	return newServiceError(opSubmitContact, reasonInvalidInput, describeValidation(err))
}

// InvalidDistributorApplication is InvalidContact for distributor applications.
func InvalidDistributorApplication(err error) error {
	return newServiceError(opSubmitDistributor, reasonInvalidInput, describeValidation(err))
}
