package views

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Overview maps every view to its datasets.
type Overview map[string][]string

// Overview lists all views and fetches their dataset lists concurrently on
// the one session. The first failure cancels the rest.
func (c *Client) Overview(ctx context.Context, includeHidden bool) (Overview, error) {
	names, err := c.Views(ctx)
	if err != nil {
		return nil, err
	}
	lists := make([][]string, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, name := range names {
		g.Go(func() error {
			ds, err := c.DataSets(gctx, name, includeHidden)
			if err != nil {
				return err
			}
			lists[i] = ds
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make(Overview, len(names))
	for i, name := range names {
		out[name] = lists[i]
	}
	return out, nil
}
