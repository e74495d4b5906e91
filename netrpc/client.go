// Package netrpc implements the inter-node transport a topology.Mapper
// uses to reach a peer's internal endpoints (fork broadcasts, person
// lookups). Grounded on FeatureBase's http.InternalClient
// (http/client.go): a plain *http.Client issuing requests built from a
// peer's URI, with a shared User-Agent. A non-2xx reply is returned as
// its status code and body, not as an error; only transport failures
// are errors.
package netrpc

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/perple-io/openset/errors"
	"github.com/perple-io/openset/topology"
)

const userAgent = "openset-internal/1"

// Client issues synchronous internode RPCs on behalf of a
// topology.StaticMapper, implementing topology.RemoteDoer.
type Client struct {
	http *http.Client
}

// NewClient constructs a Client with the given request timeout.
// Grounded on InternalClient's injected *http.Client, generalized here
// to build its own default transport since OpenSet has no equivalent
// of Pilosa's shared client pool to borrow.
func NewClient(timeout time.Duration) *Client {
	return &Client{http: &http.Client{Timeout: timeout}}
}

// Do issues method against node's URI+path, returning the response
// status and body, or a transport-level error. Its signature matches
// topology.RemoteDoer exactly, so a *Client's Do method can be passed
// directly to topology.NewStaticMapper.
func (c *Client) Do(ctx context.Context, node topology.Node, method, path string, headers map[string]string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, "http://"+node.URI+path, reader)
	if err != nil {
		return 0, nil, errors.Wrap(err, "building internode request")
	}
	req.Header.Set("User-Agent", userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, errors.Wrap(err, "issuing internode request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, errors.Wrapf(err, "reading response body from %s%s", node.URI, path)
	}
	return resp.StatusCode, respBody, nil
}
