package push

import (
	"errors"
	"fmt"
	"net/http"
)

// DeliveryError is a non-2xx answer from a push service.
type DeliveryError struct {
	StatusCode int
	Gone       bool
	Body       string
}

func (e *DeliveryError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("push service responded %d", e.StatusCode)
	}
	return fmt.Sprintf("push service responded %d: %s", e.StatusCode, e.Body)
}

func newDeliveryError(status int, body string) *DeliveryError {
	return &DeliveryError{
		StatusCode: status,
		Gone:       status == http.StatusNotFound || status == http.StatusGone,
		Body:       body,
	}
}

// IsGone reports whether err means the subscription no longer exists.
func IsGone(err error) bool {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Gone
	}
	return false
}
