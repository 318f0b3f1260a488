package resetd

import (
	"regexp"
	"strings"
	"unicode"
)

// Bangladeshi mobile numbers in international form.
var phonePattern = regexp.MustCompile(`^\+8801[3-9]\d{8}$`)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

func validatePhone(phone string) error {
	if phone == "" {
		return &ValidationError{Field: "phone", Reason: "required"}
	}
	if !phonePattern.MatchString(phone) {
		return &ValidationError{Field: "phone", Reason: "must match +8801XXXXXXXXX"}
	}
	return nil
}

func validateEmail(email string) error {
	if email == "" {
		return &ValidationError{Field: "email", Reason: "required"}
	}
	if !emailPattern.MatchString(email) {
		return &ValidationError{Field: "email", Reason: "invalid email address"}
	}
	return nil
}

func validateOTPFormat(otp string, digits int) error {
	if otp == "" {
		return &ValidationError{Field: "otp", Reason: "required"}
	}
	if len(otp) != digits {
		return &ValidationError{Field: "otp", Reason: "wrong length"}
	}
	for _, r := range otp {
		if r < '0' || r > '9' {
			return &ValidationError{Field: "otp", Reason: "must be numeric"}
		}
	}
	return nil
}

// validateNewPassword enforces the credential policy: at least 8 characters
// with one uppercase, one lowercase, and one digit.
func validateNewPassword(newPassword, confirmPassword string) error {
	if newPassword == "" {
		return &ValidationError{Field: "newPassword", Reason: "required"}
	}
	if len(newPassword) < 8 {
		return &ValidationError{Field: "newPassword", Reason: "must be at least 8 characters"}
	}

	var hasUpper, hasLower, hasDigit bool
	for _, r := range newPassword {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit {
		return &ValidationError{Field: "newPassword", Reason: "must contain an uppercase letter, a lowercase letter, and a digit"}
	}

	if newPassword != confirmPassword {
		return &ValidationError{Field: "confirmPassword", Reason: "does not match"}
	}
	return nil
}

func validateResetRequest(req ResetRequest) (identifier string, err error) {
	switch req.Method {
	case MethodPhone:
		if err := validatePhone(req.Phone); err != nil {
			return "", err
		}
		return req.Phone, nil
	case MethodEmail:
		email := strings.ToLower(strings.TrimSpace(req.Email))
		if err := validateEmail(email); err != nil {
			return "", err
		}
		return email, nil
	default:
		return "", &ValidationError{Field: "method", Reason: "must be PHONE or EMAIL"}
	}
}
