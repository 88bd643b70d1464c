package http

import (
	"net/url"
	"path"
)

// URLBuilder composes URLs from a base with chained calls.
type URLBuilder struct {
	u     url.URL
	query url.Values
}

// FromURL starts a builder from an absolute or relative URL.
func FromURL(raw string) (*URLBuilder, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	return &URLBuilder{u: *u, query: u.Query()}, nil
}

// AppendPath joins segments onto the current path, skipping empty ones.
func (b *URLBuilder) AppendPath(segments ...string) *URLBuilder {
	parts := []string{b.u.Path}
	for _, s := range segments {
		if s != "" {
			parts = append(parts, s)
		}
	}
	b.u.Path = path.Join(parts...)
	return b
}

// SetQuery sets key to value, dropping the key when value is empty.
func (b *URLBuilder) SetQuery(key, value string) *URLBuilder {
	if value == "" {
		b.query.Del(key)
		return b
	}
	b.query.Set(key, value)
	return b
}

func (b *URLBuilder) String() string {
	u := b.u
	u.RawQuery = b.query.Encode()
	return u.String()
}

// Join appends path segments to base. An unparsable base is returned as is.
func Join(base string, segments ...string) string {
	b, err := FromURL(base)
	if err != nil {
		return base
	}
	return b.AppendPath(segments...).String()
}
