package optimizer

import (
	"context"
	"sort"
)

// Batch is one progressive-delivery step: the selections of one tier.
type Batch struct {
	ResultID   string      `json:"result_id"`
	Seq        int         `json:"seq"`
	Tier       int         `json:"tier"`
	Selections []Selection `json:"selections"`
	Tokens     int         `json:"tokens"`
	Last       bool        `json:"last"`
}

// Stream optimizes req and hands the selections to fn one tier at a time,
// foundation tiers first, so a host can start loading context before the
// whole result has been delivered. Selections keep their result order
// within a tier. An error from fn stops the stream and is returned; the
// complete result is returned either way once optimization succeeded.
func (o *Optimizer) Stream(ctx context.Context, req Request, fn func(Batch) error) (*Result, error) {
	res, err := o.Optimize(ctx, req)
	if err != nil {
		return nil, err
	}
	batches := Batches(res)
	for _, b := range batches {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := fn(b); err != nil {
			return res, err
		}
	}
	return res, nil
}

// Batches groups res selections by tier in ascending tier order.
func Batches(res *Result) []Batch {
	byTier := make(map[int][]Selection)
	var tiers []int
	for _, s := range res.Selections {
		if _, ok := byTier[s.Tier]; !ok {
			tiers = append(tiers, s.Tier)
		}
		byTier[s.Tier] = append(byTier[s.Tier], s)
	}
	sort.Ints(tiers)

	out := make([]Batch, len(tiers))
	for i, tier := range tiers {
		b := Batch{ResultID: res.ID, Seq: i, Tier: tier, Selections: byTier[tier], Last: i == len(tiers)-1}
		for _, s := range b.Selections {
			b.Tokens += s.Tokens
		}
		out[i] = b
	}
	return out
}
