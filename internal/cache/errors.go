package cache

import "fmt"

// CacheError represents an error in cache operations
type CacheError struct {
	Code    string
	Message string
	Err     error
}

func (e *CacheError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cache error [%s]: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("cache error [%s]: %s", e.Code, e.Message)
}

func (e *CacheError) Unwrap() error { return e.Err }

// Error constructors
func ErrInvalidConfig(msg string) *CacheError {
	return &CacheError{
		Code:    "INVALID_CONFIG",
		Message: msg,
	}
}

func ErrConnectionFailed(err error) *CacheError {
	return &CacheError{
		Code:    "CONNECTION_FAILED",
		Message: "failed to connect to cache server",
		Err:     err,
	}
}
