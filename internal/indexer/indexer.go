// Package indexer assigns stable ids to the distinct indicator identities seen
// across a batch of tables and records which combination uses which indicator.
package indexer

import (
	"sort"

	"demoindex/internal/demographic"
)

// Indicator is a distinct (code, group) pair with its assigned id.
type Indicator struct {
	ID    int64
	Code  string
	Group string
}

func (i Indicator) Identity() demographic.Identity {
	return demographic.Identity{Code: i.Code, Group: i.Group}
}

// Combination is one resolved source table; ID is the table's enumeration ordinal.
type Combination struct {
	ID int64
}

// Edge links a combination to one of its indicators.
type Edge struct {
	CombinationID int64
	IndicatorID   int64
}

// Indexer accumulates observations in call order.
//
// Indicator ids are handed out by first sighting (0, 1, 2, ...), so the same
// observation sequence always yields the same ids. The zero value is not
// usable; call New.
//
// Concurrency:
//   - Not safe for concurrent use; the pipeline observes tables sequentially.
type Indexer struct {
	ids        map[demographic.Identity]int64
	indicators []Indicator

	combos    []Combination
	comboSeen map[int64]bool

	edges    []Edge
	edgeSeen map[Edge]bool
}

func New() *Indexer {
	return &Indexer{
		ids:       make(map[demographic.Identity]int64),
		comboSeen: make(map[int64]bool),
		edgeSeen:  make(map[Edge]bool),
	}
}

// Observe records that the table at ordinal resolved to identities.
//
// Edge cases:
//   - An empty identity list records nothing; unresolved tables never become
//     combinations.
//   - An identity repeated within one call produces a single edge.
//   - Observing the same ordinal twice merges the edge sets.
func (x *Indexer) Observe(ordinal int, identities []demographic.Identity) {
	if len(identities) == 0 {
		return
	}
	cid := int64(ordinal)
	if !x.comboSeen[cid] {
		x.comboSeen[cid] = true
		x.combos = append(x.combos, Combination{ID: cid})
	}
	for _, id := range identities {
		iid := x.assign(id)
		e := Edge{CombinationID: cid, IndicatorID: iid}
		if x.edgeSeen[e] {
			continue
		}
		x.edgeSeen[e] = true
		x.edges = append(x.edges, e)
	}
}

func (x *Indexer) assign(id demographic.Identity) int64 {
	if v, ok := x.ids[id]; ok {
		return v
	}
	v := int64(len(x.indicators))
	x.ids[id] = v
	x.indicators = append(x.indicators, Indicator{ID: v, Code: id.Code, Group: id.Group})
	return v
}

// IndicatorID returns the id assigned to identity, if it has been observed.
func (x *Indexer) IndicatorID(id demographic.Identity) (int64, bool) {
	v, ok := x.ids[id]
	return v, ok
}

// Indicators returns indicators in id order.
func (x *Indexer) Indicators() []Indicator {
	return append([]Indicator(nil), x.indicators...)
}

// Combinations returns combinations sorted by id.
func (x *Indexer) Combinations() []Combination {
	out := append([]Combination(nil), x.combos...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Edges returns edges in observation order.
func (x *Indexer) Edges() []Edge {
	return append([]Edge(nil), x.edges...)
}
