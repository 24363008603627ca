package mail

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrAuthExpired          = errors.New("access token expired or invalid")
	ErrRateLimited          = errors.New("rate limited by provider")
	ErrAttachmentUnreadable = errors.New("attachment unreadable")
	ErrSizeLimitExceeded    = errors.New("size limit exceeded")
	ErrBadRequest           = errors.New("bad request")
	ErrNotFound             = errors.New("not found")
	ErrProviderUnavailable  = errors.New("mail provider unavailable")
)

// RateLimitError is returned for 429 responses. RetryAfter is zero when the
// provider did not say.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (retry after %s): %v", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("rate limited: %v", e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

type AttachmentError struct {
	Filename string
	Err      error
}

func (e *AttachmentError) Error() string {
	return fmt.Sprintf("attachment %q unreadable: %v", e.Filename, e.Err)
}

func (e *AttachmentError) Unwrap() error { return e.Err }

func (e *AttachmentError) Is(target error) bool { return target == ErrAttachmentUnreadable }

type SizeLimitError struct {
	What  string
	Size  int64
	Limit int64
}

func (e *SizeLimitError) Error() string {
	return fmt.Sprintf("%s is %d bytes, limit is %d bytes", e.What, e.Size, e.Limit)
}

func (e *SizeLimitError) Is(target error) bool { return target == ErrSizeLimitExceeded }

type BadRequestError struct {
	Field  string
	Reason string
}

func (e *BadRequestError) Error() string {
	if e.Field == "" {
		return "bad request: " + e.Reason
	}
	return fmt.Sprintf("bad request: %s: %s", e.Field, e.Reason)
}

func (e *BadRequestError) Is(target error) bool { return target == ErrBadRequest }

// IsFatalForSync reports whether err invalidates every remaining call of a sync
// page rather than just the item that produced it.
func IsFatalForSync(err error) bool {
	return errors.Is(err, ErrAuthExpired) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrProviderUnavailable)
}
