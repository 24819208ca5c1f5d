package sproutsdk

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/imroc/req/v3"
)

var (
	ErrNoServerURL = errors.New("sdk: server url missing")
	ErrNoUser      = errors.New("sdk: user missing")

	// ErrNotFound is returned when the server does not know the record.
	ErrNotFound = errors.New("sdk: record not found")
)

const (
	CodeInvalidRequest = "E_INVALID_REQUEST" // bad or malformed request payload
	CodeAccessDenied   = "E_ACCESS_DENIED"   // user may not touch this record
	CodeNotFound       = "E_NOT_FOUND"       // record does not exist remotely
	CodeRateLimited    = "E_RATE_LIMITED"    // rate limit exceeded
	CodeInternalError  = "E_INTERNAL_ERROR"  // internal server error
	CodeUnknownError   = "E_UNKNOWN_ERR"     // anything unclassified
)

// APIError is a structured error returned by the Sproutlog API.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %s - %s", e.Code, e.Message)
}

// IsRetryable classifies a remote failure. Transport errors, timeouts,
// server errors and rate limits are transient and worth retrying; a 4xx
// rejection will fail the same way forever, so retrying it is pointless and
// the caller should drop the work instead.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Status == http.StatusTooManyRequests {
			return true
		}
		return apiErr.Status >= http.StatusInternalServerError
	}

	// no structured response at all: connectivity problem
	return true
}

// handleAPIError folds the request error and the response state into one
// explicit error value.
func handleAPIError(resp *req.Response, requestErr error, operation string) error {
	if requestErr != nil {
		return fmt.Errorf("http request error: %s: %w", operation, requestErr)
	}

	if resp.IsErrorState() {
		if apiErr, ok := resp.ErrorResult().(*APIError); ok && apiErr != nil && apiErr.Code != "" {
			apiErr.Status = resp.StatusCode
			return fmt.Errorf("%s: %w", operation, apiErr)
		}
		return fmt.Errorf("%s: %w", operation, &APIError{
			Status:  resp.StatusCode,
			Code:    CodeUnknownError,
			Message: resp.Status,
		})
	}

	return nil
}
