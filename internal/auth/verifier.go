// Package auth resolves bearer credentials into authentication decisions.
//
// Two interchangeable verification strategies exist behind the Verifier
// interface: a static shared secret and delegation to a remote verification
// service. The strategy is selected once at startup from configuration so the
// rest of the gateway is written against one contract.
package auth

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Leikymain/chatbot-api/internal/config"
	"github.com/Leikymain/chatbot-api/internal/domain"
)

// Status classifies the outcome of a verification attempt.
type Status string

const (
	// StatusAuthenticated means the credential was accepted.
	StatusAuthenticated Status = "authenticated"

	// StatusAnonymous means no usable credential was presented on a route
	// where authentication is optional.
	StatusAnonymous Status = "anonymous"

	// StatusRejected means a credential was presented and judged invalid.
	StatusRejected Status = "rejected"

	// StatusUnavailable means the remote verifier could not be consulted.
	// It must never be conflated with StatusRejected.
	StatusUnavailable Status = "unavailable"

	// StatusMisconfigured means the verifier cannot operate as deployed,
	// e.g. static mode with no secret. A deployment bug, not a caller error.
	StatusMisconfigured Status = "misconfigured"
)

// Decision is the result of one verification attempt. Decisions are never
// cached; every request is re-evaluated.
type Decision struct {
	Status     Status
	Credential string // set when authenticated
	Reason     string // set for rejections
}

// Err maps a non-authenticated decision onto the gateway error taxonomy.
// Returns nil for authenticated and anonymous decisions.
func (d Decision) Err() *domain.APIError {
	switch d.Status {
	case StatusAuthenticated, StatusAnonymous:
		return nil
	case StatusRejected:
		reason := d.Reason
		if reason == "" {
			reason = "invalid or expired token"
		}
		return domain.ErrRejected(reason)
	case StatusUnavailable:
		reason := d.Reason
		if reason == "" {
			reason = "auth service unreachable"
		}
		return domain.ErrAuthUnavailable(reason)
	case StatusMisconfigured:
		return domain.ErrMisconfigured("no API token configured")
	default:
		return domain.ErrServer("unknown auth decision")
	}
}

// Verifier validates a presented credential.
type Verifier interface {
	Verify(ctx context.Context, credential string) Decision
}

// New selects the verifier implementation from configuration.
func New(cfg config.AuthConfig) Verifier {
	if cfg.Mode == config.AuthModeRemote {
		return NewRemoteVerifier(cfg.ServiceURL, cfg.Timeout, nil)
	}
	return NewStaticVerifier(cfg.Token)
}

// StaticVerifier compares credentials against a locally configured secret.
// It fails closed: with no secret configured every attempt resolves to a
// misconfiguration outcome rather than silently accepting all callers.
type StaticVerifier struct {
	secret string
}

// NewStaticVerifier creates a static shared-secret verifier.
func NewStaticVerifier(secret string) *StaticVerifier {
	return &StaticVerifier{secret: secret}
}

// Verify compares the credential against the configured secret in constant
// time.
func (v *StaticVerifier) Verify(_ context.Context, credential string) Decision {
	if v.secret == "" {
		return Decision{Status: StatusMisconfigured}
	}

	if subtle.ConstantTimeCompare([]byte(credential), []byte(v.secret)) != 1 {
		return Decision{Status: StatusRejected, Reason: "invalid or unauthorized token"}
	}

	return Decision{Status: StatusAuthenticated, Credential: credential}
}

// RemoteVerifier delegates verification to a remote auth service over HTTP.
type RemoteVerifier struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

// verifyRequest is the wire shape sent to the auth service.
type verifyRequest struct {
	Token string `json:"token"`
}

// verifyResponse is the wire shape the auth service answers with.
type verifyResponse struct {
	Valid  bool   `json:"valid"`
	Detail string `json:"detail,omitempty"`
}

// NewRemoteVerifier creates a verifier that calls
// POST {baseURL}/auth/verify-token with a bounded timeout. A nil httpClient
// uses http.DefaultClient.
func NewRemoteVerifier(baseURL string, timeout time.Duration, httpClient *http.Client) *RemoteVerifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &RemoteVerifier{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		timeout:    timeout,
		httpClient: httpClient,
	}
}

// Verify asks the remote service whether the credential is valid. Transport
// failures and timeouts resolve to StatusUnavailable; the service saying no
// resolves to StatusRejected with the service's detail when present.
func (v *RemoteVerifier) Verify(ctx context.Context, credential string) Decision {
	if v.baseURL == "" {
		return Decision{Status: StatusMisconfigured}
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	body, err := json.Marshal(verifyRequest{Token: credential})
	if err != nil {
		return Decision{Status: StatusUnavailable, Reason: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		v.baseURL+"/auth/verify-token", bytes.NewReader(body))
	if err != nil {
		return Decision{Status: StatusUnavailable, Reason: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return Decision{Status: StatusUnavailable, Reason: "auth service unreachable: " + err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return Decision{Status: StatusUnavailable, Reason: "auth service response unreadable: " + err.Error()}
	}

	var parsed verifyResponse
	// A malformed body on a 2xx is treated as a rejection below; the status
	// line is still authoritative for transport-level success.
	_ = json.Unmarshal(respBody, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !parsed.Valid {
		return Decision{Status: StatusRejected, Reason: parsed.Detail}
	}

	return Decision{Status: StatusAuthenticated, Credential: credential}
}

// Optional wraps a verifier so that any failure (missing credential,
// unreachable service, invalid token) degrades to an anonymous decision
// instead of an error, for routes that function with degraded behavior when
// unauthenticated.
type Optional struct {
	inner Verifier
}

// NewOptional wraps v with anonymous degradation.
func NewOptional(v Verifier) *Optional {
	return &Optional{inner: v}
}

// Verify returns the inner decision when authenticated, anonymous otherwise.
func (o *Optional) Verify(ctx context.Context, credential string) Decision {
	if credential == "" {
		return Decision{Status: StatusAnonymous}
	}

	d := o.inner.Verify(ctx, credential)
	if d.Status != StatusAuthenticated {
		return Decision{Status: StatusAnonymous}
	}
	return d
}

// Bearer extraction failures. They are distinguishable for diagnostics but
// all surface to callers as the same unauthenticated outcome.
var (
	ErrMissingHeader = errors.New("authorization header missing")
	ErrNotBearer     = errors.New("authorization header is not a Bearer token")
	ErrEmptyToken    = errors.New("bearer token is empty")
)

// ExtractBearer pulls the credential out of an Authorization header value
// shaped like "Bearer <token>".
func ExtractBearer(header string) (string, error) {
	if header == "" {
		return "", ErrMissingHeader
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", ErrNotBearer
	}

	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", ErrEmptyToken
	}

	return token, nil
}
