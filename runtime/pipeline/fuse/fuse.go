// Package fuse merges per-source candidate lists into one ranking using
// reciprocal rank fusion or weighted score summation. Fusion is
// deterministic: the same sources in any order produce the same output.
package fuse

import (
	"fmt"
	"sort"

	"toolatlas.dev/search/query"
	"toolatlas.dev/search/runtime/pipeline"
)

// rrfK dampens the rank contribution so top ranks dominate without a single
// source's first hit overwhelming the rest.
const rrfK = 60

// Fuser implements pipeline.Fuser.
type Fuser struct{}

// New returns a Fuser.
func New() *Fuser { return &Fuser{} }

// Fuse merges the sources with the given method and caps the output at max.
// With a single source the method degrades to a pass-through of that
// source's order.
func (f *Fuser) Fuse(method query.FusionMethod, sources []pipeline.SourceResult, max int) ([]query.Candidate, error) {
	if max <= 0 {
		max = pipeline.DefaultMaxResults
	}
	ordered := make([]pipeline.SourceResult, len(sources))
	copy(ordered, sources)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Name < ordered[j].Name })

	var merged []query.Candidate
	switch {
	case len(ordered) <= 1 || method == query.FusionNone:
		merged = passthrough(ordered)
	case method == query.FusionRRF:
		merged = rrf(ordered)
	case method == query.FusionWeightedSum:
		merged = weightedSum(ordered)
	default:
		return nil, fmt.Errorf("unknown fusion method %q", method)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].ID < merged[j].ID
	})
	if len(merged) > max {
		merged = merged[:max]
	}
	return merged, nil
}

// passthrough concatenates and deduplicates without rescoring.
func passthrough(sources []pipeline.SourceResult) []query.Candidate {
	byID := make(map[string]*query.Candidate)
	var order []string
	for _, src := range sources {
		for _, c := range src.Candidates {
			if cur, ok := byID[c.ID]; ok {
				mergeInto(cur, c)
				continue
			}
			cp := c
			byID[c.ID] = &cp
			order = append(order, c.ID)
		}
	}
	out := make([]query.Candidate, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out
}

// rrf scores each candidate as the sum over sources of 1/(k + rank + 1),
// rank being the zero-based position in that source.
func rrf(sources []pipeline.SourceResult) []query.Candidate {
	byID := make(map[string]*query.Candidate)
	scores := make(map[string]float64)
	for _, src := range sources {
		for rank, c := range src.Candidates {
			scores[c.ID] += 1.0 / float64(rrfK+rank+1)
			if cur, ok := byID[c.ID]; ok {
				mergeInto(cur, c)
			} else {
				cp := c
				byID[c.ID] = &cp
			}
		}
	}
	return collect(byID, scores)
}

// weightedSum min-max normalizes each source's scores to [0,1], multiplies
// by the source weight and sums, dividing by the total weight. A source
// whose scores have no spread falls back to rank normalization.
func weightedSum(sources []pipeline.SourceResult) []query.Candidate {
	byID := make(map[string]*query.Candidate)
	scores := make(map[string]float64)
	totalWeight := 0.0
	for _, src := range sources {
		w := src.Weight
		if w <= 0 {
			w = 1.0
		}
		totalWeight += w
		norm := normalized(src.Candidates)
		for i, c := range src.Candidates {
			scores[c.ID] += w * norm[i]
			if cur, ok := byID[c.ID]; ok {
				mergeInto(cur, c)
			} else {
				cp := c
				byID[c.ID] = &cp
			}
		}
	}
	if totalWeight > 0 {
		for id := range scores {
			scores[id] /= totalWeight
		}
	}
	return collect(byID, scores)
}

// normalized returns per-candidate scores min-max scaled to [0,1]. When all
// raw scores are equal the source still expresses an ordering, so the i-th
// of N candidates gets 1 - i/N.
func normalized(cands []query.Candidate) []float64 {
	out := make([]float64, len(cands))
	if len(cands) == 0 {
		return out
	}
	lo, hi := cands[0].Score, cands[0].Score
	for _, c := range cands[1:] {
		if c.Score < lo {
			lo = c.Score
		}
		if c.Score > hi {
			hi = c.Score
		}
	}
	if hi == lo {
		n := float64(len(cands))
		for i := range out {
			out[i] = 1.0 - float64(i)/n
		}
		return out
	}
	for i, c := range cands {
		out[i] = (c.Score - lo) / (hi - lo)
	}
	return out
}

// mergeInto folds a duplicate occurrence of a candidate into the retained
// one: provenance accumulates and the richer metadata wins.
func mergeInto(dst *query.Candidate, src query.Candidate) {
	dst.Provenance = append(dst.Provenance, src.Provenance...)
	if dst.Metadata.Name == "" {
		dst.Metadata = src.Metadata
	}
	if len(dst.Embedding) == 0 {
		dst.Embedding = src.Embedding
	}
}

// collect materializes the fused candidates, stamping the fusion score and
// marking multi-source candidates as fused.
func collect(byID map[string]*query.Candidate, scores map[string]float64) []query.Candidate {
	out := make([]query.Candidate, 0, len(byID))
	for id, c := range byID {
		cp := *c
		cp.Score = scores[id]
		if len(cp.Provenance) > 1 {
			cp.Source = query.SourceFusion
		}
		out = append(out, cp)
	}
	return out
}
