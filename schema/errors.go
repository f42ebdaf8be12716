package schema

import "errors"

var (
	// ErrEmptyPrompt indicates the chat input was empty after trimming.
	ErrEmptyPrompt = errors.New("empty prompt")
	// ErrQuotaExhausted indicates the free message quota is used up.
	ErrQuotaExhausted = errors.New("free message quota exhausted")
	// ErrInvalidEmail indicates the email failed local validation.
	ErrInvalidEmail = errors.New("invalid email")
	// ErrPasswordTooShort indicates the password is below MinPasswordLength.
	ErrPasswordTooShort = errors.New("password must be at least 8 characters")
	// ErrPasswordMismatch indicates password and confirmation differ.
	ErrPasswordMismatch = errors.New("passwords do not match")
	// ErrSignInFailed indicates the backend rejected the sign-in.
	ErrSignInFailed = errors.New("sign in failed: please check your email and password")
	// ErrEmailExists indicates sign-up hit an existing account.
	ErrEmailExists = errors.New("this email is already registered, please use a different email or sign in")
	// ErrSignUpFailed is the generic sign-up failure.
	ErrSignUpFailed = errors.New("an error occurred during sign up, please try again")
	// ErrInvalidRequest indicates a malformed request payload.
	ErrInvalidRequest = errors.New("invalid request")
)

// IsValidationError reports whether err was raised by local form or input validation.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrEmptyPrompt) ||
		errors.Is(err, ErrInvalidEmail) ||
		errors.Is(err, ErrPasswordTooShort) ||
		errors.Is(err, ErrPasswordMismatch) ||
		errors.Is(err, ErrInvalidRequest)
}
