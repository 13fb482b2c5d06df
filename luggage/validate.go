package luggage

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"bellhop/docstore"
)

// ErrValidation matches every *ValidationError.
var ErrValidation = errors.New("luggage: invalid request")

// scheduledLayouts are the accepted scheduledTime formats: RFC 3339 with a
// zone, and the zoneless forms a datetime-local input submits.
var scheduledLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	if err := v.RegisterValidation("isodatetime", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s == "" || parseableTime(s)
	}); err != nil {
		panic(err)
	}
	return v
}

// FieldError names one offending field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every field that failed validation.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return fmt.Sprintf("%s: %s", ErrValidation.Error(), strings.Join(parts, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// FromValidator converts validator failures into a *ValidationError. Any
// other error is returned unchanged.
func FromValidator(err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return err
	}
	verr := &ValidationError{}
	for _, fe := range errs {
		verr.Fields = append(verr.Fields, FieldError{Field: fe.Field(), Message: message(fe)})
	}
	return verr
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "oneof":
		return fmt.Sprintf("must be one of %s; got %q", strings.ReplaceAll(fe.Param(), " ", ", "), fe.Value())
	case "required_if":
		return "required when " + condition(fe.Param())
	case "excluded_unless":
		return "only allowed when " + condition(fe.Param())
	case "email":
		return fmt.Sprintf("not an email address: %q", fe.Value())
	case "isodatetime":
		return fmt.Sprintf("not a valid datetime: %q", fe.Value())
	}
	return "failed " + fe.Tag()
}

// condition renders a "Field value" validator param.
func condition(param string) string {
	field, value, _ := strings.Cut(param, " ")
	if field == "PickupTime" {
		field = FieldPickupTime
	}
	return field + " is " + value
}

// Validate checks in and returns the normalized document fields for a new
// request. Lifecycle fields are not part of the result.
func (in NewRequest) Validate() (docstore.Fields, error) {
	in = in.trimmed()
	if err := validate.Struct(in); err != nil {
		return nil, FromValidator(err)
	}

	fields := docstore.Fields{
		FieldRoomNumber:  in.RoomNumber,
		FieldLuggageType: in.LuggageType,
		FieldPickupTime:  in.PickupTime,
	}
	if in.ScheduledTime != "" {
		fields[FieldScheduledTime] = in.ScheduledTime
	}
	if in.Notes != "" {
		fields[FieldNotes] = in.Notes
	}
	if in.GuestName != "" {
		fields[FieldGuestName] = in.GuestName
	}
	return fields, nil
}

func (in NewRequest) trimmed() NewRequest {
	return NewRequest{
		GuestName:     strings.TrimSpace(in.GuestName),
		RoomNumber:    strings.TrimSpace(in.RoomNumber),
		LuggageType:   strings.TrimSpace(in.LuggageType),
		PickupTime:    strings.TrimSpace(in.PickupTime),
		ScheduledTime: strings.TrimSpace(in.ScheduledTime),
		Notes:         strings.TrimSpace(in.Notes),
	}
}

func parseableTime(s string) bool {
	for _, layout := range scheduledLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}
