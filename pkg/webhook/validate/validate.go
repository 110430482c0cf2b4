// Package validate runs the inbound webhook request pipeline: endpoint
// resolution, authentication, signature verification, and the
// content-type gate. Each failure carries the HTTP status it maps to.
package validate

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"net/http"
	"strings"

	"github.com/owlhub/platform/pkg/webhook/endpoint"
)

// Error is a pipeline failure with its HTTP mapping.
type Error struct {
	Code       string
	Message    string
	StatusCode int
	Details    map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// supportedContentTypes gates request bodies after authentication.
var supportedContentTypes = map[string]struct{}{
	"application/json":                  {},
	"application/xml":                   {},
	"text/xml":                          {},
	"application/x-www-form-urlencoded": {},
}

// Resolver looks up endpoint configuration by id.
type Resolver interface {
	Get(ctx context.Context, id string) (*endpoint.Endpoint, error)
}

// Request carries the parts of an inbound HTTP request the pipeline
// inspects.
type Request struct {
	EndpointID    string
	Authorization string
	Signature     string
	ContentType   string
	Body          []byte
}

// Validator runs the pipeline against a resolver.
type Validator struct {
	resolver Resolver
}

// NewValidator creates a validator.
func NewValidator(resolver Resolver) *Validator {
	return &Validator{resolver: resolver}
}

// Validate resolves and checks the request, returning the endpoint on
// success. Order: lookup (404), auth (401), signature (403),
// content type (400).
func (v *Validator) Validate(ctx context.Context, req Request) (*endpoint.Endpoint, *Error) {
	ep, err := v.resolver.Get(ctx, req.EndpointID)
	if err != nil {
		if errors.Is(err, endpoint.ErrNotFound) {
			return nil, notFound(req.EndpointID)
		}
		return nil, &Error{
			Code:       "internal_error",
			Message:    "endpoint lookup failed",
			StatusCode: http.StatusInternalServerError,
		}
	}
	if !ep.Enabled {
		// Disabled endpoints are indistinguishable from absent ones.
		return nil, notFound(req.EndpointID)
	}

	if verr := checkAuth(ep, req); verr != nil {
		return nil, verr
	}
	if verr := checkSignature(ep, req); verr != nil {
		return nil, verr
	}
	if verr := checkContentType(req.ContentType); verr != nil {
		return nil, verr
	}
	return ep, nil
}

func notFound(id string) *Error {
	return &Error{
		Code:       "endpoint_not_found",
		Message:    fmt.Sprintf("endpoint %s not found", id),
		StatusCode: http.StatusNotFound,
	}
}

func checkAuth(ep *endpoint.Endpoint, req Request) *Error {
	switch ep.AuthMethod {
	case endpoint.AuthBearer:
		token, ok := strings.CutPrefix(req.Authorization, "Bearer ")
		if !ok || !constantTimeEqual(token, ep.AuthToken) {
			return unauthorized("missing or invalid bearer token")
		}
	case endpoint.AuthBasic:
		encoded, ok := strings.CutPrefix(req.Authorization, "Basic ")
		if !ok {
			return unauthorized("missing basic credentials")
		}
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return unauthorized("malformed basic credentials")
		}
		user, pass, found := strings.Cut(string(decoded), ":")
		if !found ||
			!constantTimeEqual(user, ep.Basic.Username) ||
			!constantTimeEqual(pass, ep.Basic.Password) {
			return unauthorized("invalid basic credentials")
		}
	case endpoint.AuthHMAC:
		// HMAC endpoints authenticate through the signature step.
	}
	return nil
}

func unauthorized(message string) *Error {
	return &Error{
		Code:       "unauthorized",
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

// checkSignature verifies X-Signature for HMAC endpoints. The header
// value is either "alg=hex" or bare hex; an algorithm prefix must match
// the endpoint's configured algorithm.
func checkSignature(ep *endpoint.Endpoint, req Request) *Error {
	if ep.AuthMethod != endpoint.AuthHMAC {
		return nil
	}
	if req.Signature == "" {
		return forbidden("missing signature")
	}

	provided := req.Signature
	if alg, rest, found := strings.Cut(provided, "="); found {
		if alg != string(ep.HMACAlgorithm) {
			return forbidden(fmt.Sprintf("signature algorithm %q does not match endpoint", alg))
		}
		provided = rest
	}

	var mac hash.Hash
	switch ep.HMACAlgorithm {
	case endpoint.HMACSHA512:
		mac = hmac.New(sha512.New, []byte(ep.HMACSecret))
	default:
		mac = hmac.New(sha256.New, []byte(ep.HMACSecret))
	}
	mac.Write(req.Body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !constantTimeEqual(strings.ToLower(provided), expected) {
		return forbidden("signature mismatch")
	}
	return nil
}

func forbidden(message string) *Error {
	return &Error{
		Code:       "invalid_signature",
		Message:    message,
		StatusCode: http.StatusForbidden,
	}
}

func checkContentType(contentType string) *Error {
	media := strings.TrimSpace(strings.ToLower(contentType))
	if idx := strings.IndexByte(media, ';'); idx >= 0 {
		media = strings.TrimSpace(media[:idx])
	}
	if _, ok := supportedContentTypes[media]; !ok {
		return &Error{
			Code:       "unsupported_content_type",
			Message:    fmt.Sprintf("content type %q is not supported", contentType),
			StatusCode: http.StatusBadRequest,
		}
	}
	return nil
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
