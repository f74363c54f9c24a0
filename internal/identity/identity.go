// Package identity verifies client bearer credentials against the external
// identity collaborator named in spec: a mock auth service reachable over
// HTTP, out of scope for this repo beyond its interface contract.
//
// It is intended for internal use by gatewayd only.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/buildkite/roko"

	"github.com/nimbus-robotics/gatewayd/internal/agenthttp"
	"github.com/nimbus-robotics/gatewayd/logger"
)

// ErrInvalidCredential is returned when the identity collaborator rejects a
// bearer token (expired or otherwise invalid).
type ErrInvalidCredential struct {
	StatusCode int
}

func (e ErrInvalidCredential) Error() string {
	return fmt.Sprintf("identity: credential rejected with status %d", e.StatusCode)
}

// Verifier calls the identity collaborator's verify endpoint.
type Verifier struct {
	verifyURL string
	cli       *http.Client
	log       logger.Logger
}

// NewVerifier creates a Verifier against verifyURL (e.g.
// "http://localhost:9000/auth/verify").
func NewVerifier(l logger.Logger, verifyURL string) *Verifier {
	return &Verifier{
		verifyURL: verifyURL,
		cli:       agenthttp.NewClient(agenthttp.WithTimeout(10 * time.Second)),
		log:       l,
	}
}

// Verify calls POST /auth/verify with the given bearer token, retrying
// transient failures with a bounded backoff. A 200 response body is decoded
// as the claims payload; any non-200 response is treated as an invalid
// credential and is not retried.
func (v *Verifier) Verify(ctx context.Context, bearer string) (map[string]any, error) {
	var claims map[string]any

	verify := func(r *roko.Retrier) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, nil)
		if err != nil {
			r.Break()
			return fmt.Errorf("building verify request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+bearer)

		resp, err := v.cli.Do(req)
		if err != nil {
			v.log.Warn("identity: verify call failed (%s)", r)
			return err
		}
		defer resp.Body.Close() //nolint:errcheck // response body close errors are inconsequential here

		if resp.StatusCode != http.StatusOK {
			// Invalid credentials are not a transient failure: stop retrying.
			r.Break()
			return ErrInvalidCredential{StatusCode: resp.StatusCode}
		}

		if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
			r.Break()
			return fmt.Errorf("decoding verify response: %w", err)
		}
		return nil
	}

	err := roko.NewRetrier(
		roko.WithMaxAttempts(3),
		roko.WithStrategy(roko.Constant(500*time.Millisecond)),
	).DoWithContext(ctx, verify)
	if err != nil {
		return nil, err
	}

	return claims, nil
}
