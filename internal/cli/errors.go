package cli

import "fmt"

// AuthRequiredError indicates a command needs authentication that is not
// yet available.
type AuthRequiredError struct{}

// Error returns a user-friendly message with actionable guidance.
func (e *AuthRequiredError) Error() string {
	return `Authentication required

To authenticate, run:
  atlasbridge login`
}

// Is allows errors.Is() to work with wrapped errors.
func (e *AuthRequiredError) Is(target error) bool {
	_, ok := target.(*AuthRequiredError)
	return ok
}

// AuthExpiredError indicates the stored token is no longer usable.
type AuthExpiredError struct{}

// Error returns a user-friendly message with actionable guidance.
func (e *AuthExpiredError) Error() string {
	return `Authentication expired

To re-authenticate, run:
  atlasbridge login`
}

// Is allows errors.Is() to work with wrapped errors.
func (e *AuthExpiredError) Is(target error) bool {
	_, ok := target.(*AuthExpiredError)
	return ok
}

// AuthFailedError indicates the OAuth flow itself failed.
type AuthFailedError struct {
	// Reason is the underlying error.
	Reason error
}

// Error returns a user-friendly message with actionable guidance.
func (e *AuthFailedError) Error() string {
	return fmt.Sprintf(`Authentication failed: %v

To retry, run:
  atlasbridge login`, e.Reason)
}

// Unwrap returns the underlying error.
func (e *AuthFailedError) Unwrap() error {
	return e.Reason
}

// Is allows errors.Is() to work with wrapped errors.
func (e *AuthFailedError) Is(target error) bool {
	_, ok := target.(*AuthFailedError)
	return ok
}
