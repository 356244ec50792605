package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"net/http"

	"github.com/ekaya-inc/ekaya-probe/pkg/models"
)

// Classify maps an HTTP status code to health and failure reason.
// 2xx and 3xx are healthy and carry no reason.
func Classify(statusCode int) (bool, models.FailureReason) {
	switch {
	case statusCode >= 200 && statusCode < 400:
		return true, ""
	case statusCode == http.StatusUnauthorized:
		return false, models.FailureAuthenticationRequired
	case statusCode == http.StatusForbidden:
		return false, models.FailureForbidden
	case statusCode == http.StatusNotFound:
		return false, models.FailureNotFound
	case statusCode == http.StatusMethodNotAllowed:
		return false, models.FailureMethodNotAllowed
	case statusCode == http.StatusUnprocessableEntity:
		return false, models.FailureValidationError
	case statusCode == http.StatusTooManyRequests:
		return false, models.FailureRateLimited
	case statusCode >= 400 && statusCode < 500:
		return false, models.FailureClientError
	case statusCode >= 500 && statusCode < 600:
		return false, models.FailureServerError
	default:
		return false, models.FailureUnknownError
	}
}

// ClassifyError maps a transport error to a failure reason.
func ClassifyError(err error) models.FailureReason {
	if errors.Is(err, context.DeadlineExceeded) {
		return models.FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.FailureTimeout
	}

	var (
		dnsErr      *net.DNSError
		opErr       *net.OpError
		headerErr   tls.RecordHeaderError
		certErr     *tls.CertificateVerificationError
		unknownAuth x509.UnknownAuthorityError
		hostErr     x509.HostnameError
		invalidCert x509.CertificateInvalidError
	)
	switch {
	case errors.As(err, &dnsErr),
		errors.As(err, &opErr),
		errors.As(err, &headerErr),
		errors.As(err, &certErr),
		errors.As(err, &unknownAuth),
		errors.As(err, &hostErr),
		errors.As(err, &invalidCert):
		return models.FailureConnectionError
	}
	return models.FailureUnknownError
}
