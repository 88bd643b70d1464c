package web

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/kochabx/sessionkeeper/cache"
	"github.com/kochabx/sessionkeeper/errors"
	"github.com/kochabx/sessionkeeper/session"

	xhttp "github.com/kochabx/sessionkeeper/core/net/http"
)

// CategoryLoader fetches a user's categories from the domain backend.
type CategoryLoader interface {
	LoadCategories(ctx context.Context, sessionID string) ([]cache.Category, error)
}

// StaticCategories serves a fixed list, for running without a domain API.
type StaticCategories []cache.Category

func (s StaticCategories) LoadCategories(context.Context, string) ([]cache.Category, error) {
	return append([]cache.Category(nil), s...), nil
}

// DomainAPI loads categories from the finance API with the session's bearer
// token. A rejected token surfaces as errors.ErrSessionExpired.
type DomainAPI struct {
	BaseURL  string
	Verifier *session.Verifier
}

func (d *DomainAPI) LoadCategories(ctx context.Context, sessionID string) ([]cache.Category, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, xhttp.Join(d.BaseURL, "categories"), nil)
	if err != nil {
		return nil, errors.Internal("build categories request").WithCause(err)
	}
	req.Header.Set("Accept", xhttp.ContentTypeJSON)

	resp, err := session.NewHTTPClient(ctx, d.Verifier, sessionID).Do(req)
	if err != nil {
		// Token source failures keep their auth kind through *url.Error.
		if errors.IsAuthFailure(err) {
			return nil, err
		}
		return nil, errors.BadGateway("categories request").WithCause(err)
	}
	defer resp.Body.Close()

	if err := session.CheckResponse(resp); err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.BadGateway("categories api returned %d", resp.StatusCode)
	}

	var out []cache.Category
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.BadGateway("decode categories").WithCause(err)
	}
	return out, nil
}
