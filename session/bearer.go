package session

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/kochabx/sessionkeeper/errors"
)

type tokenSource struct {
	ctx context.Context
	v   *Verifier
	id  string
}

// TokenSource returns the session's access token, verifying (and refreshing)
// the session on every call. An unauthenticated session yields the typed
// ErrSessionExpired or ErrUnauthorized.
func TokenSource(ctx context.Context, v *Verifier, id string) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, v: v, id: id}
}

func (ts *tokenSource) Token() (*oauth2.Token, error) {
	res, err := ts.v.Verify(ts.ctx, ts.id)
	if err != nil {
		return nil, err
	}
	if !res.IsAuthenticated() {
		return nil, res.Err()
	}

	t := &oauth2.Token{AccessToken: res.Session.AccessToken, TokenType: "Bearer"}
	if exp, err := ts.v.inspector.ExpiresAt(res.Session.AccessToken); err == nil {
		t.Expiry = exp
	}
	return t, nil
}

// NewHTTPClient returns a client that attaches the session's bearer token to
// every request.
func NewHTTPClient(ctx context.Context, v *Verifier, id string) *http.Client {
	return oauth2.NewClient(ctx, TokenSource(ctx, v, id))
}

// CheckResponse converts a domain API rejection into a typed error. A 401
// means the token slipped through verification and the session is dead.
func CheckResponse(resp *http.Response) error {
	target := "domain api"
	if resp.Request != nil && resp.Request.URL != nil {
		target = resp.Request.Method + " " + resp.Request.URL.Path
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return errors.ErrSessionExpired.WithMessage("%s rejected the access token", target)
	case http.StatusForbidden:
		return errors.Forbidden("%s forbidden", target)
	default:
		return nil
	}
}
