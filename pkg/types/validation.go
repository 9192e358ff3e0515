package types

import (
	"bytes"
	"encoding/json"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
// for better performance in high-frequency validation scenarios
var userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

const maxPayloadBytes = 65536

// Validate is the shared validator instance. Custom tags:
//   - role: value is one of AllRoles
//   - userid: value passes IsValidUserID
//   - jsonvalue: json.RawMessage holding a non-null value
var Validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// report JSON field names so logged errors match what clients sent
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("role", func(fl validator.FieldLevel) bool {
		return Role(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("userid", func(fl validator.FieldLevel) bool {
		return IsValidUserID(fl.Field().String())
	})
	_ = v.RegisterValidation("jsonvalue", func(fl validator.FieldLevel) bool {
		raw, ok := fl.Field().Interface().(json.RawMessage)
		if !ok {
			return false
		}
		trimmed := bytes.TrimSpace(raw)
		return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
	})
	return v
}

// IsValidUserID checks if a user ID meets format requirements.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 64 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// Validate checks a notification handed over by the request layer.
func (n *Notification) Validate() error {
	if err := Validate.Struct(n); err != nil {
		return invalid("notification", err)
	}
	if len(n.Payload) > maxPayloadBytes {
		return invalid("notification", ErrPayloadTooLarge)
	}
	if len(n.TargetRoles) == 0 && len(n.TargetUsers) == 0 && len(n.TargetClasses) == 0 {
		return invalid("notification", ErrInvalidNotification)
	}
	return nil
}

// Validate checks the claims extracted from a credential.
func (i Identity) Validate() error {
	if !IsValidUserID(i.UserID) {
		return ErrInvalidUserID
	}
	if !i.Role.Valid() {
		return ErrInvalidRole
	}
	return nil
}
