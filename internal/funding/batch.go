package funding

import (
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/deepak28290/hlhpythoracle/internal/domain"
)

// BatchProcess applies every update independently and returns one result per
// update, in input order. Updates for different markets run concurrently;
// updates for the same market run sequentially in input order.
func (e *Engine) BatchProcess(updates []domain.PriceUpdate, now time.Time) []domain.UpdateResult {
	results := make([]domain.UpdateResult, len(updates))

	groups := make(map[string][]int)
	var order []string
	for i, u := range updates {
		symbol, err := e.registry.Resolve(u.FeedID)
		if err != nil {
			results[i] = domain.UpdateResult{Err: err}
			continue
		}
		if _, seen := groups[symbol]; !seen {
			order = append(order, symbol)
		}
		groups[symbol] = append(groups[symbol], i)
	}

	var g errgroup.Group
	for _, symbol := range order {
		idx := groups[symbol]
		g.Go(func() error {
			for _, i := range idx {
				o, err := e.ProcessUpdate(updates[i].FeedID, updates[i].Observation, now)
				if err != nil {
					results[i] = domain.UpdateResult{Err: err}
					continue
				}
				results[i] = domain.UpdateResult{Outcome: &o}
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
