package destination

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/edvin/spoolvault/internal/model"
)

// classifyTransport maps a failed HTTP round trip to a domain error.
// Anything that never produced a response is treated as transient.
func classifyTransport(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return model.WrapE(model.KindNetworkError, op+" timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return model.WrapE(model.KindNetworkError, op+" network failure", err)
	}
	return model.WrapE(model.KindNetworkError, op+" transport failure", err)
}

// classifyStatus maps a non-2xx provider response to a domain error.
func classifyStatus(op string, status int) error {
	msg := fmt.Sprintf("%s: destination returned %d", op, status)
	switch {
	case status == http.StatusUnauthorized:
		return model.E(model.KindAuthExpired, msg)
	case status == http.StatusForbidden:
		// Without a readable body a 403 is treated as a revoked grant;
		// classifyStatusBody catches the quota variant.
		return model.E(model.KindAuthExpired, msg)
	case status == http.StatusInsufficientStorage || status == http.StatusTooManyRequests:
		return model.E(model.KindQuotaExceeded, msg)
	case status == http.StatusNotFound || status == http.StatusMethodNotAllowed || status == http.StatusConflict:
		return model.E(model.KindConfigInvalid, msg)
	case status >= 500:
		return model.E(model.KindNetworkError, msg)
	default:
		return model.E(model.KindConfigInvalid, msg)
	}
}

// classifyStatusBody refines classifyStatus with the response body.
// Google and Microsoft both answer quota exhaustion with 403 plus a
// reason string, which must not be reported as an expired grant.
func classifyStatusBody(op string, status int, body []byte) error {
	if status == http.StatusForbidden {
		lower := strings.ToLower(string(body))
		if strings.Contains(lower, "quota") || strings.Contains(lower, "storagequotaexceeded") ||
			strings.Contains(lower, "insufficient storage") {
			return model.E(model.KindQuotaExceeded,
				fmt.Sprintf("%s: destination returned %d (quota exceeded)", op, status))
		}
	}
	return classifyStatus(op, status)
}
