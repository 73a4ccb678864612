package validator

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

var (
	emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
)

// ValidateStruct validates a struct based on validate tags.
// Supported rules: required, email, min=N, max=N (lengths in characters, or
// element count for slices), oneof=a|b|c.
func ValidateStruct(s any) error {
	v := reflect.ValueOf(s)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	if v.Kind() != reflect.Struct {
		return errors.New("not a struct")
	}

	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("validate")
		if tag == "" {
			continue
		}

		name := fieldName(field)
		value := v.Field(i)
		for _, rule := range strings.Split(tag, ",") {
			if err := validateField(name, value, rule); err != nil {
				return err
			}
		}
	}

	return nil
}

// fieldName prefers the JSON name so messages match the request body
func fieldName(field reflect.StructField) string {
	if tag := field.Tag.Get("json"); tag != "" {
		if name, _, _ := strings.Cut(tag, ","); name != "" && name != "-" {
			return name
		}
	}
	return field.Name
}

// validateField validates a single field based on a rule
func validateField(name string, value reflect.Value, rule string) error {
	key, arg, _ := strings.Cut(rule, "=")
	switch key {
	case "required":
		if isZero(value) {
			return fmt.Errorf("%s is required", name)
		}
	case "email":
		if value.Kind() == reflect.String && value.String() != "" {
			if err := ValidateEmail(value.String()); err != nil {
				return fmt.Errorf("%s must be a valid email", name)
			}
		}
	case "min", "max":
		limit, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("invalid %s rule on %s", key, name)
		}
		n, ok := length(value)
		if !ok {
			return nil
		}
		if key == "min" && n < limit {
			return fmt.Errorf("%s must be at least %d characters", name, limit)
		}
		if key == "max" && n > limit {
			return fmt.Errorf("%s must be at most %d characters", name, limit)
		}
	case "oneof":
		if value.Kind() != reflect.String || value.String() == "" {
			return nil
		}
		options := strings.Split(arg, "|")
		for _, opt := range options {
			if value.String() == opt {
				return nil
			}
		}
		return fmt.Errorf("%s must be one of %s", name, strings.Join(options, ", "))
	}
	return nil
}

func length(v reflect.Value) (int, bool) {
	switch v.Kind() {
	case reflect.String:
		return utf8.RuneCountInString(v.String()), true
	case reflect.Slice, reflect.Array, reflect.Map:
		return v.Len(), true
	case reflect.Ptr:
		if v.IsNil() {
			return 0, false
		}
		return length(v.Elem())
	}
	return 0, false
}

// isZero checks if a value is zero/empty
func isZero(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.String:
		return strings.TrimSpace(v.String()) == ""
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Slice, reflect.Map:
		return v.Len() == 0
	case reflect.Ptr, reflect.Interface:
		return v.IsNil()
	default:
		return false
	}
}

// ValidateEmail validates an email address
func ValidateEmail(email string) error {
	if email == "" {
		return errors.New("email is required")
	}
	if !emailRegex.MatchString(email) {
		return errors.New("invalid email format")
	}
	return nil
}

// ValidateRequired validates that a field is not empty
func ValidateRequired(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}

// ValidateLength validates that value has at most max characters
func ValidateLength(field, value string, max int) error {
	if utf8.RuneCountInString(value) > max {
		return fmt.Errorf("%s must be at most %d characters", field, max)
	}
	return nil
}

// SanitizeString sanitizes a string by removing potentially dangerous characters
func SanitizeString(s string) string {
	// Remove null bytes
	s = strings.ReplaceAll(s, "\x00", "")
	// Trim whitespace
	s = strings.TrimSpace(s)
	return s
}

// SanitizeEmail sanitizes an email address
func SanitizeEmail(email string) string {
	email = SanitizeString(email)
	email = strings.ToLower(email)
	return email
}

// NormalizeEmails sanitizes and de-duplicates a list of addresses, splitting
// it into valid and invalid entries. Order of first occurrence is kept.
func NormalizeEmails(emails []string) (valid []string, invalid []string) {
	seen := make(map[string]struct{}, len(emails))
	for _, raw := range emails {
		address := SanitizeEmail(raw)
		if address == "" {
			continue
		}
		if _, dup := seen[address]; dup {
			continue
		}
		seen[address] = struct{}{}

		if ValidateEmail(address) != nil {
			invalid = append(invalid, address)
			continue
		}
		valid = append(valid, address)
	}
	return valid, invalid
}
