package appointment

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// ValidationError carries one message per offending field.
type ValidationError struct {
	Fields map[string]string `json:"fields"`
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = map[string]string{}
	}
	if _, exists := e.Fields[field]; !exists {
		e.Fields[field] = msg
	}
}

// Err returns nil when no field was added.
func (e *ValidationError) Err() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return ValidPhone(fl.Field().String())
	})
	return v
}

// ValidPhone accepts 10 to 15 digits with optional leading +, spaces, dashes and parentheses.
func ValidPhone(raw string) bool {
	raw = strings.TrimSpace(raw)
	digits := 0
	for i, r := range raw {
		switch {
		case unicode.IsDigit(r):
			digits++
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return false
		}
	}
	return digits >= 10 && digits <= 15
}

// NormalizeIntake trims the free-text fields and canonicalises sex.
func NormalizeIntake(in Intake) Intake {
	in.PatientName = strings.TrimSpace(in.PatientName)
	in.ContactPhone = strings.TrimSpace(in.ContactPhone)
	in.ContactEmail = strings.TrimSpace(in.ContactEmail)
	in.Symptoms = strings.TrimSpace(in.Symptoms)
	in.MedicalHistory = strings.TrimSpace(in.MedicalHistory)
	in.Allergies = strings.TrimSpace(in.Allergies)
	in.CurrentMedications = strings.TrimSpace(in.CurrentMedications)
	in.EmergencyContact = strings.TrimSpace(in.EmergencyContact)

	sex := strings.ToLower(strings.TrimSpace(in.Sex))
	if sex != "" {
		in.Sex = strings.ToUpper(sex[:1]) + sex[1:]
	}
	return in
}

// ValidateIntake checks the required intake fields and returns a *ValidationError.
func ValidateIntake(in Intake) error {
	verr := &ValidationError{}
	collectIntake(verr, in)
	return verr.Err()
}

func collectIntake(verr *ValidationError, in Intake) {
	err := validate.Struct(in)
	if err == nil {
		return
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		verr.Add("intake", err.Error())
		return
	}
	for _, fe := range fieldErrs {
		verr.Add(fe.Field(), fieldMessage(fe))
	}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "phone":
		return "must be a valid phone number"
	case "oneof":
		return "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "min", "max":
		if fe.Kind() == reflect.Int {
			return "must be between 1 and 120"
		}
		return fmt.Sprintf("length must satisfy %s=%s", fe.Tag(), fe.Param())
	}
	return "is invalid"
}
