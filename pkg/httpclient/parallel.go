package httpclient

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Result is the independent outcome of one request in a Parallel batch.
type Result struct {
	Response *Response
	Err      error
}

// OK reports whether the request succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// Parallel sends all requests concurrently and returns one Result per
// request in input order. A failing request never cancels its siblings.
func (c *Client) Parallel(ctx context.Context, reqs []Request) []Result {
	results := make([]Result, len(reqs))

	var g errgroup.Group
	if c.cfg.Parallelism > 0 {
		g.SetLimit(c.cfg.Parallelism)
	}

	for i, req := range reqs {
		g.Go(func() error {
			resp, err := c.Do(ctx, req)
			results[i] = Result{Response: resp, Err: err}
			return nil
		})
	}

	g.Wait()
	return results
}
