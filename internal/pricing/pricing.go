// Package pricing maps a finished request to its price in credits.
package pricing

import (
	"github.com/suPer8Hu/ai-broker/internal/config"
	"github.com/suPer8Hu/ai-broker/internal/request"
)

// Policy is pure: the same snapshot, flow and payload always give the same price.
// The broker and the paywall must price through the same Policy value.
type Policy struct {
	table config.PricingTable
}

func New(rt *config.Runtime) Policy {
	return Policy{table: rt.Pricing}
}

func (p Policy) Price(flow string, payload request.Payload) int64 {
	base, ok := p.table.Subtypes[flow+"/"+payload.Subtype]
	if !ok {
		base, ok = p.table.Base[flow]
	}
	if !ok {
		base = p.table.DefaultBase
	}
	return clamp(base*p.table.Multiplier, p.table.Min, p.table.Max)
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
