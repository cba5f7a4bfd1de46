package lookup

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAuthFailed matches every *AuthError via errors.Is.
	ErrAuthFailed = errors.New("authentication failed")
	// ErrBatchFailed matches every *BatchError via errors.Is.
	ErrBatchFailed = errors.New("lookup batch failed")
)

// FieldError is one violated option rule.
type FieldError struct {
	Field   string `json:"key"`
	Message string `json:"message"`
}

// ValidationError wraps the full list of option violations.
type ValidationError []FieldError

func (v ValidationError) Error() string {
	msgs := make([]string, 0, len(v))
	for _, fe := range v {
		msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
	}
	return "invalid options: " + strings.Join(msgs, "; ")
}

// AuthErrorKind separates transport failures from rejected credentials.
type AuthErrorKind string

const (
	AuthTransport AuthErrorKind = "transport"
	AuthStatus    AuthErrorKind = "status"
	AuthResponse  AuthErrorKind = "response" // 200 without a usable token
)

// AuthError is returned when the session token exchange fails.
type AuthError struct {
	Kind       AuthErrorKind
	StatusCode int
	Body       string
	Err        error
}

func (e *AuthError) Error() string {
	switch e.Kind {
	case AuthStatus:
		return fmt.Sprintf("Error getting Auth Token: status code was not 200 (got %d)", e.StatusCode)
	case AuthResponse:
		return fmt.Sprintf("Error getting Auth Token: malformed session response: %v", e.Err)
	default:
		return fmt.Sprintf("Error getting Auth Token: %v", e.Err)
	}
}

func (e *AuthError) Unwrap() error { return e.Err }

func (e *AuthError) Is(target error) bool { return target == ErrAuthFailed }

// Hint is the remediation text shown to the caller.
func (e *AuthError) Hint() string {
	return "Auth Error: Verify your URL and Security Token are correct"
}

// BatchErrorKind names a lookup failure.
type BatchErrorKind string

const (
	KindTransport         BatchErrorKind = "Transport Error"
	KindNonExistentDevice BatchErrorKind = "Non-Existent Device"
	KindAPILimitExceeded  BatchErrorKind = "API Limit Exceeded"
	KindJWTTokenExpired   BatchErrorKind = "JWT Token Expired"
	KindServerError       BatchErrorKind = "Server Error"
	KindUnclassified      BatchErrorKind = "Unclassified Error"
)

// BatchError is a lookup request failure. Under the FailFast policy it aborts
// the whole batch.
type BatchError struct {
	Kind       BatchErrorKind
	Detail     string
	StatusCode int
	Observable Observable
	Err        error
}

func (e *BatchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *BatchError) Unwrap() error { return e.Err }

func (e *BatchError) Is(target error) bool { return target == ErrBatchFailed }

// Hint is the remediation text shown to the caller.
func (e *BatchError) Hint() string {
	switch e.Kind {
	case KindAPILimitExceeded:
		return "You are being rate limited; retry later"
	case KindJWTTokenExpired:
		return "Session expired; verify your Security Token"
	case KindServerError:
		return "The API reported a server error; try again later"
	case KindNonExistentDevice:
		return "Verify the observable refers to a known device"
	}
	return "Error Performing Lookup"
}
