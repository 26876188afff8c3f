package ussd

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/BTreeMap/UssdPipe/internal/models"
)

// Validators for common USSD input shapes. All are pure and synchronous;
// Value carries the normalized form stored into the session on success.

var (
	// phonePattern accepts Nigerian and Kenyan national formats plus
	// generic international numbers.
	phonePattern = regexp.MustCompile(`^(\+?234[789]\d{9}|0[789]\d{9}|\+?254[17]\d{8}|0[17]\d{8}|\+\d{10,15})$`)
	digitsOnly   = regexp.MustCompile(`^\d+$`)
	phoneNoise   = regexp.MustCompile(`[\s\-()]`)
)

// PhoneNumber validates a phone-like input token.
func PhoneNumber(input string, _ *models.Session) models.ValidationResult {
	if !phonePattern.MatchString(input) {
		return models.ValidationResult{
			Message: "Invalid phone number. Try again (e.g., +2348012345678 or 08012345678):",
		}
	}
	return models.ValidationResult{Valid: true, Value: input}
}

// Amount validates a positive decimal amount and normalizes it to float64.
func Amount(input string, _ *models.Session) models.ValidationResult {
	amount, err := strconv.ParseFloat(input, 64)
	if err != nil || amount <= 0 {
		return models.ValidationResult{Message: "Invalid amount. Enter a valid number:"}
	}
	return models.ValidationResult{Valid: true, Value: amount}
}

// PIN returns a validator for a fixed-length numeric code.
func PIN(length int) models.ValidatorFunc {
	return func(input string, _ *models.Session) models.ValidationResult {
		if len(input) != length || !digitsOnly.MatchString(input) {
			return models.ValidationResult{
				Message: fmt.Sprintf("Invalid PIN. Enter %d digits:", length),
			}
		}
		return models.ValidationResult{Valid: true, Value: input}
	}
}

// Choice returns a validator accepting only the given closed set of keys.
func Choice(validChoices ...string) models.ValidatorFunc {
	return func(input string, _ *models.Session) models.ValidationResult {
		for _, choice := range validChoices {
			if input == choice {
				return models.ValidationResult{Valid: true, Value: input}
			}
		}
		return models.ValidationResult{
			Message: fmt.Sprintf("Invalid choice. Select from %s:", strings.Join(validChoices, ", ")),
		}
	}
}

// NotEmpty validates a non-blank free-text input and trims it.
func NotEmpty(input string, _ *models.Session) models.ValidationResult {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return models.ValidationResult{Message: "This field is required. Try again:"}
	}
	return models.ValidationResult{Valid: true, Value: trimmed}
}

// NormalizePhoneNumber canonicalizes a phone number to international form,
// assuming defaultCountryCode for national-format inputs.
func NormalizePhoneNumber(phoneNumber, defaultCountryCode string) string {
	normalized := phoneNoise.ReplaceAllString(phoneNumber, "")
	if strings.HasPrefix(normalized, "0") {
		return "+" + defaultCountryCode + normalized[1:]
	}
	if !strings.HasPrefix(normalized, "+") {
		if len(normalized) >= 12 && len(normalized) <= 15 && digitsOnly.MatchString(normalized) {
			return "+" + normalized
		}
		return "+" + defaultCountryCode + normalized
	}
	return normalized
}
