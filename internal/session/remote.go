package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// Remote is anything the guardian can health-check and discard.
type Remote interface {
	Alive(ctx context.Context) bool
	Close() error
}

// RemoteSession performs storefront requests on behalf of a logged-in user.
type RemoteSession interface {
	Remote
	Do(ctx context.Context, req Request) (Response, error)
}

// Request is a storefront call relative to the session's base URL.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	// Form is sent as the request body when set.
	Form url.Values
}

// Response is the raw storefront reply.
type Response struct {
	Status int
	Body   []byte
}

// OK reports a 2xx status.
func (r Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// DecodeJSON unmarshals the body into v.
func (r Response) DecodeJSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response (status %d): %w", r.Status, err)
	}
	return nil
}

func resolve(base *url.URL, req Request) string {
	ref := &url.URL{Path: req.Path}
	if len(req.Query) > 0 {
		ref.RawQuery = req.Query.Encode()
	}
	return base.ResolveReference(ref).String()
}
