// Package auth verifies bearer tokens locally and against the identity
// service.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-jwt/jwt/v5"

	"github.com/engadi/gateway/domain/proxy"
	"github.com/engadi/gateway/ports"
)

// FailureKind classifies a verification failure.
type FailureKind string

const (
	FailureMissing          FailureKind = "missing"
	FailureMalformed        FailureKind = "malformed"
	FailureExpired          FailureKind = "expired"
	FailureInvalidSignature FailureKind = "invalid_signature"
	FailureRevoked          FailureKind = "revoked"
	FailureUpstream         FailureKind = "upstream_unavailable"
)

// Error is a verification failure with its kind.
type Error struct {
	Kind FailureKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("token %s: %v", e.Kind, e.Err)
	}
	return "token " + string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Unauthorized reports whether the failure denies with 401. Everything
// except an unreachable identity service does; that one is a 503.
func (e *Error) Unauthorized() bool { return e.Kind != FailureUpstream }

// Reason is the client-facing description of the failure. It never
// leaks verification internals.
func (e *Error) Reason() string {
	switch e.Kind {
	case FailureMissing:
		return "missing bearer token"
	case FailureMalformed:
		return "malformed token"
	case FailureExpired:
		return "token expired"
	case FailureRevoked:
		return "token revoked"
	default:
		return "invalid token"
	}
}

// Options configures a Verifier.
type Options struct {
	Secret      string
	Algorithm   string
	IdentityURL string
	HTTPTimeout time.Duration
}

// Verifier checks bearer tokens. Local verification with the shared
// secret is tried first; a signature the local key cannot validate is
// delegated to the identity service when one is configured, so tokens
// signed by a rotated key keep working.
type Verifier struct {
	secret      []byte
	algorithm   string
	identityURL string
	client      *http.Client
}

var _ ports.TokenVerifier = (*Verifier)(nil)

// New creates a token verifier.
func New(opts Options) *Verifier {
	if opts.Algorithm == "" {
		opts.Algorithm = "HS256"
	}
	timeout := opts.HTTPTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Verifier{
		secret:      []byte(opts.Secret),
		algorithm:   opts.Algorithm,
		identityURL: strings.TrimSuffix(opts.IdentityURL, "/"),
		client:      &http.Client{Timeout: timeout},
	}
}

// Verify turns an Authorization header value into an identity. Failures
// are always *Error.
func (v *Verifier) Verify(ctx context.Context, authorization string) (proxy.Identity, error) {
	if authorization == "" {
		return proxy.Identity{}, &Error{Kind: FailureMissing}
	}
	token, ok := strings.CutPrefix(authorization, "Bearer ")
	if !ok || token == "" {
		return proxy.Identity{}, &Error{Kind: FailureMalformed}
	}

	id, err := v.verifyLocal(token)
	if err == nil {
		return id, nil
	}
	var verr *Error
	if !errors.As(err, &verr) {
		return proxy.Identity{}, &Error{Kind: FailureMalformed, Err: err}
	}
	// Only a signature the local key rejects is worth a remote opinion;
	// expiry and shape problems are conclusive.
	if verr.Kind != FailureInvalidSignature || v.identityURL == "" {
		return proxy.Identity{}, verr
	}
	return v.verifyRemote(ctx, token)
}

func (v *Verifier) verifyLocal(token string) (proxy.Identity, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != v.algorithm {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return v.secret, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return proxy.Identity{}, &Error{Kind: FailureExpired, Err: err}
	case errors.Is(err, jwt.ErrTokenMalformed):
		return proxy.Identity{}, &Error{Kind: FailureMalformed, Err: err}
	default:
		return proxy.Identity{}, &Error{Kind: FailureInvalidSignature, Err: err}
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return proxy.Identity{}, &Error{Kind: FailureMalformed}
	}
	return identityFromClaims(claims)
}

func identityFromClaims(claims jwt.MapClaims) (proxy.Identity, error) {
	var id proxy.Identity
	if v, ok := claims["user_id"].(string); ok {
		id.UserID = v
	} else if v, ok := claims["sub"].(string); ok {
		id.UserID = v
	}
	if id.UserID == "" {
		return proxy.Identity{}, &Error{Kind: FailureMalformed, Err: errors.New("token carries no subject")}
	}
	if v, ok := claims["email"].(string); ok {
		id.Email = v
	}
	if roles, ok := claims["roles"].([]any); ok {
		for _, r := range roles {
			if s, ok := r.(string); ok {
				id.Roles = append(id.Roles, s)
			}
		}
	}
	return id, nil
}

type validateResponse struct {
	UserID string   `json:"user_id"`
	Email  string   `json:"email"`
	Roles  []string `json:"roles"`
}

func (v *Verifier) verifyRemote(ctx context.Context, token string) (proxy.Identity, error) {
	var id proxy.Identity
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.identityURL+"/api/v1/auth/validate", nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := v.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			var body validateResponse
			if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
				return backoff.Permanent(fmt.Errorf("decode validate response: %w", err))
			}
			id = proxy.Identity{UserID: body.UserID, Email: body.Email, Roles: body.Roles}
			return nil
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return backoff.Permanent(&Error{Kind: FailureRevoked})
		default:
			return fmt.Errorf("identity service returned %d", resp.StatusCode)
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = time.Second
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, 2), ctx))
	if err != nil {
		var verr *Error
		if errors.As(err, &verr) {
			return proxy.Identity{}, verr
		}
		return proxy.Identity{}, &Error{Kind: FailureUpstream, Err: err}
	}
	return id, nil
}
