package httpclient

import (
	"context"
	"net/http"
)

// Doer is the HTTP surface adapters depend on; tests swap in fakes.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}
