package blobcache

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrorType classifies blobcache errors for the error formatter.
type ErrorType int

const (
	ErrTypeNetwork ErrorType = iota
	ErrTypeNotFound
	ErrTypeParsing
	ErrTypeRateLimit
	ErrTypeTimeout
	ErrTypeDNS
	ErrTypeConnection
	ErrTypeTLS
	ErrTypeCacheRead
	ErrTypeCacheWrite
	ErrTypeCacheTooStale
)

// Error provides structured error information for blobcache operations.
type Error struct {
	Type    ErrorType
	Crate   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("blobcache: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("blobcache: %s", e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// classifyError examines an error and returns the most specific ErrorType,
// the same unwrap-and-inspect chain the teacher's registry client uses to
// distinguish DNS failures from TLS failures from plain connection resets.
func classifyError(err error) ErrorType {
	if err == nil {
		return ErrTypeNetwork
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTypeTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ErrTypeNetwork
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return ErrTypeTimeout
		}
		return ErrTypeDNS
	}

	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return ErrTypeTLS
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Timeout() {
			return ErrTypeTimeout
		}
		var innerDNS *net.DNSError
		if errors.As(opErr.Err, &innerDNS) {
			return ErrTypeDNS
		}
		return ErrTypeConnection
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return ErrTypeTimeout
		}
		if strings.Contains(urlErr.Err.Error(), "certificate") ||
			strings.Contains(urlErr.Err.Error(), "tls") ||
			strings.Contains(urlErr.Err.Error(), "x509") {
			return ErrTypeTLS
		}
		return classifyError(urlErr.Err)
	}

	return ErrTypeNetwork
}

// WrapNetworkError wraps a network error with the appropriate error type.
func WrapNetworkError(err error, crateName, message string) *Error {
	return &Error{Type: classifyError(err), Crate: crateName, Message: message, Err: err}
}
