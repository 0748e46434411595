package conversation

import (
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Msg: msg}
}

// notEmpty rejects blank answers.
func notEmpty(field, label string) func(map[string]string, string) error {
	return func(_ map[string]string, value string) error {
		if strings.TrimSpace(value) == "" {
			return invalid(field, label+" cannot be empty.")
		}
		return nil
	}
}

// numeric requires a positive number.
func numeric(field, label string) func(map[string]string, string) error {
	return func(_ map[string]string, value string) error {
		if err := validate.Var(value, "required,numeric"); err != nil {
			return invalid(field, label+" must be a number.")
		}
		return nil
	}
}

// wholeNumber requires a positive integer.
func wholeNumber(field, label string) func(map[string]string, string) error {
	return func(_ map[string]string, value string) error {
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err != nil || n <= 0 {
			return invalid(field, label+" must be a whole number.")
		}
		return nil
	}
}

// isoDate requires YYYY-MM-DD, empty allowed when the step is optional.
func isoDate(field, label string) func(map[string]string, string) error {
	return func(_ map[string]string, value string) error {
		if value == "" {
			return nil
		}
		if err := validate.Var(value, "datetime=2006-01-02"); err != nil {
			return invalid(field, label+" must be a date like 2024-06-15.")
		}
		return nil
	}
}

// emailAddr requires a well-formed address, empty allowed.
func emailAddr(field string) func(map[string]string, string) error {
	return func(_ map[string]string, value string) error {
		if value == "" {
			return nil
		}
		if err := validate.Var(value, "email"); err != nil {
			return invalid(field, "That does not look like an email address.")
		}
		return nil
	}
}

// percentage requires an integer between 0 and 100.
func percentage(value string) error {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < 0 || n > 100 {
		return invalid("VALUE", "Probability must be between 0 and 100.")
	}
	return nil
}
