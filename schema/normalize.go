package schema

import "strings"

// MinPasswordLength is the shortest password accepted by the forms.
const MinPasswordLength = 8

// SignInForm holds sign-in input.
type SignInForm struct {
	Email    string
	Password string
}

// Validate checks the form without touching the network.
func (f SignInForm) Validate() error {
	if err := ValidateEmail(f.Email); err != nil {
		return err
	}
	return ValidatePassword(f.Password)
}

// Valid reports whether the form may be submitted.
func (f SignInForm) Valid() bool {
	return f.Validate() == nil
}

// Request converts the form to its wire shape.
func (f SignInForm) Request() SignInRequest {
	return SignInRequest{Email: f.Email, Password: f.Password}
}

// SignUpForm holds sign-up input.
type SignUpForm struct {
	Email           string
	Password        string
	ConfirmPassword string
}

// Validate checks the form without touching the network.
func (f SignUpForm) Validate() error {
	if err := ValidateEmail(f.Email); err != nil {
		return err
	}
	if err := ValidatePassword(f.Password); err != nil {
		return err
	}
	if f.Password != f.ConfirmPassword {
		return ErrPasswordMismatch
	}
	return nil
}

// Valid reports whether the form may be submitted.
func (f SignUpForm) Valid() bool {
	return f.Validate() == nil
}

// Request converts the form to its wire shape.
func (f SignUpForm) Request() SignUpRequest {
	return SignUpRequest{Email: f.Email, Password: f.Password, ConfirmPassword: f.ConfirmPassword}
}

// ValidateEmail applies the loose client-side check: an "@" and a ".".
func ValidateEmail(email string) error {
	if !strings.Contains(email, "@") || !strings.Contains(email, ".") {
		return ErrInvalidEmail
	}
	return nil
}

// ValidatePassword enforces MinPasswordLength.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	return nil
}

// NormalizePrompt rejects whitespace-only chat input. Accepted text is
// returned unchanged.
func NormalizePrompt(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyPrompt
	}
	return text, nil
}
