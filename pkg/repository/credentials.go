package repository

import (
	"context"
	"net/http"
)

// Credentials authenticates requests to a repository.
type Credentials interface {
	Apply(ctx context.Context, req *http.Request) error
}

// BasicAuth sends HTTP basic credentials.
type BasicAuth struct {
	Username string
	Password string
}

func (b BasicAuth) Apply(_ context.Context, req *http.Request) error {
	req.SetBasicAuth(b.Username, b.Password)
	return nil
}

// BearerToken sends "Authorization: Bearer <token>".
type BearerToken string

func (t BearerToken) Apply(_ context.Context, req *http.Request) error {
	req.Header.Set("Authorization", "Bearer "+string(t))
	return nil
}

// Header sends a fixed header, for repositories keyed by a private token
// header (GitLab's Private-Token, for example).
type Header struct {
	Name  string
	Value string
}

func (h Header) Apply(_ context.Context, req *http.Request) error {
	req.Header.Set(h.Name, h.Value)
	return nil
}

// CredentialsFunc adapts a function, for tokens that must be refreshed.
type CredentialsFunc func(ctx context.Context, req *http.Request) error

func (f CredentialsFunc) Apply(ctx context.Context, req *http.Request) error { return f(ctx, req) }

// Headers sends a fixed set of headers. Credentials forwarded to the
// transitive engine arrive in this form.
type Headers http.Header

func (h Headers) Apply(_ context.Context, req *http.Request) error {
	for name, values := range h {
		req.Header.Del(name)
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	return nil
}
