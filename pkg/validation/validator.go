package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	// Validate is the global validator instance
	Validate *validator.Validate

	emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	phoneRegex = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`) // E.164 format
	iataRegex  = regexp.MustCompile(`^[A-Z]{3}$`)
)

func init() {
	Validate = validator.New()
	RegisterCustomRules(Validate)
}

// RegisterCustomRules installs the project's custom rules on a validator
// instance. Called on gin's binding engine at startup so `binding` tags can
// use them.
func RegisterCustomRules(v *validator.Validate) {
	_ = v.RegisterValidation("latitude", validateLatitude)
	_ = v.RegisterValidation("longitude", validateLongitude)
	_ = v.RegisterValidation("phone", validatePhone)
	_ = v.RegisterValidation("user_role", validateUserRole)
	_ = v.RegisterValidation("ride_direction", validateRideDirection)
	_ = v.RegisterValidation("payment_method", validatePaymentMethod)
	_ = v.RegisterValidation("iata", validateIATA)
}

// ValidationError aggregates per-field validation failures.
type ValidationError struct {
	Errors map[string]string `json:"errors"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for field, msg := range e.Errors {
		parts = append(parts, fmt.Sprintf("%s: %s", field, msg))
	}
	return strings.Join(parts, "; ")
}

// AddError records a failure for a field.
func (e *ValidationError) AddError(field, message string) {
	if e.Errors == nil {
		e.Errors = make(map[string]string)
	}
	e.Errors[field] = message
}

// HasErrors reports whether any failures were recorded.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// ValidateStruct validates a struct and returns a ValidationError if validation fails
func ValidateStruct(s interface{}) error {
	err := Validate.Struct(s)
	if err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			ve := &ValidationError{Errors: make(map[string]string)}
			for _, fe := range validationErrors {
				ve.AddError(strings.ToLower(fe.Field()), messageFor(fe))
			}
			return ve
		}
		return err
	}
	return nil
}

func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "phone":
		return "must be a valid E.164 phone number"
	case "latitude":
		return "must be between -90 and 90"
	case "longitude":
		return "must be between -180 and 180"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be %s or more", fe.Param())
	case "lte":
		return fmt.Sprintf("must be %s or less", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "user_role":
		return "must be one of: driver, passenger, both"
	case "ride_direction":
		return "must be one of: to_airport, from_airport"
	case "payment_method":
		return "must be one of: card, wallet"
	case "iata":
		return "must be a 3-letter IATA code"
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

// validateLatitude checks if latitude is within valid range (-90 to 90)
func validateLatitude(fl validator.FieldLevel) bool {
	latitude := fl.Field().Float()
	return latitude >= -90.0 && latitude <= 90.0
}

// validateLongitude checks if longitude is within valid range (-180 to 180)
func validateLongitude(fl validator.FieldLevel) bool {
	longitude := fl.Field().Float()
	return longitude >= -180.0 && longitude <= 180.0
}

// validatePhone checks if phone number is in E.164 format
func validatePhone(fl validator.FieldLevel) bool {
	return phoneRegex.MatchString(fl.Field().String())
}

func validateUserRole(fl validator.FieldLevel) bool {
	return contains([]string{"driver", "passenger", "both"}, fl.Field().String())
}

func validateRideDirection(fl validator.FieldLevel) bool {
	return contains([]string{"to_airport", "from_airport"}, fl.Field().String())
}

func validatePaymentMethod(fl validator.FieldLevel) bool {
	return contains([]string{"card", "wallet"}, fl.Field().String())
}

func validateIATA(fl validator.FieldLevel) bool {
	return iataRegex.MatchString(fl.Field().String())
}

func contains(slice []string, item string) bool {
	item = strings.ToLower(strings.TrimSpace(item))
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// ValidateEmail validates email format
func ValidateEmail(email string) bool {
	email = strings.TrimSpace(email)
	return len(email) > 0 && emailRegex.MatchString(email)
}

// ValidateCoordinates validates latitude and longitude
func ValidateCoordinates(latitude, longitude float64) error {
	if latitude < -90.0 || latitude > 90.0 {
		return fmt.Errorf("latitude must be between -90 and 90, got: %f", latitude)
	}
	if longitude < -180.0 || longitude > 180.0 {
		return fmt.Errorf("longitude must be between -180 and 180, got: %f", longitude)
	}
	return nil
}

// ValidatePasswordStrength validates password complexity
func ValidatePasswordStrength(password string) error {
	ve := &ValidationError{Errors: make(map[string]string)}
	if len(password) < 8 {
		ve.AddError("password", "must be at least 8 characters long")
	}
	if len(password) > 72 {
		ve.AddError("password", "must be at most 72 characters long")
	}
	if ve.HasErrors() {
		return ve
	}
	return nil
}

// ValidateRating validates rating value (1-5)
func ValidateRating(stars int) error {
	if stars < 1 || stars > 5 {
		return fmt.Errorf("stars must be between 1 and 5, got: %d", stars)
	}
	return nil
}
