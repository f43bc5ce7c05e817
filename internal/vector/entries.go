package vector

import (
	"fmt"
	"math"
	"sort"

	"github.com/hyperjump/secondbrain/internal/models"
)

// entrySet is the ordered in-memory view shared by all index backends.
// Slice order is insertion order; a replaced entry keeps its slot.
type entrySet struct {
	dims    int
	entries []*Entry
	pos     map[string]int
}

func newEntrySet() *entrySet {
	return &entrySet{pos: make(map[string]int)}
}

// clone copies the slice and position map. Entries are never mutated once stored, so they are shared.
func (s *entrySet) clone() *entrySet {
	c := &entrySet{
		dims:    s.dims,
		entries: make([]*Entry, len(s.entries)),
		pos:     make(map[string]int, len(s.pos)),
	}
	copy(c.entries, s.entries)
	for id, i := range s.pos {
		c.pos[id] = i
	}
	return c
}

func (s *entrySet) upsert(e *Entry) {
	if s.dims == 0 {
		s.dims = len(e.Vector)
	}
	if i, ok := s.pos[e.ID]; ok {
		s.entries[i] = e
		return
	}
	s.pos[e.ID] = len(s.entries)
	s.entries = append(s.entries, e)
}

func (s *entrySet) remove(id string) bool {
	i, ok := s.pos[id]
	if !ok {
		return false
	}
	s.entries = append(s.entries[:i:i], s.entries[i+1:]...)
	delete(s.pos, id)
	for j := i; j < len(s.entries); j++ {
		s.pos[s.entries[j].ID] = j
	}
	return true
}

func (s *entrySet) get(id string) (*Entry, bool) {
	i, ok := s.pos[id]
	if !ok {
		return nil, false
	}
	return s.entries[i], true
}

func (s *entrySet) ids() []string {
	out := make([]string, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.ID
	}
	return out
}

// query ranks all entries by cosine similarity, highest first. The sort is stable over
// insertion order, so equal scores keep the earlier-inserted entry first.
func (s *entrySet) query(q []float32, k int) ([]*Match, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d: %w", k, models.ErrInvalidArgument)
	}
	if len(s.entries) == 0 {
		return []*Match{}, nil
	}
	if len(q) != s.dims {
		return nil, fmt.Errorf("query has %d dimensions, index has %d: %w", len(q), s.dims, models.ErrDimensionMismatch)
	}
	type scored struct {
		entry *Entry
		score float64
	}
	qNorm := L2Norm(q)
	scores := make([]scored, len(s.entries))
	for i, e := range s.entries {
		scores[i] = scored{entry: e, score: cosine(q, qNorm, e.Vector)}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	if k > len(scores) {
		k = len(scores)
	}
	out := make([]*Match, k)
	for i := 0; i < k; i++ {
		e := scores[i].entry
		out[i] = &Match{ID: e.ID, Score: scores[i].score, Content: e.Content, Metadata: copyMetadata(e.Metadata)}
	}
	return out, nil
}

// CosineSimilarity returns the cosine of the angle between a and b in [-1, 1].
// Mismatched lengths or a zero vector give 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	return cosine(a, L2Norm(a), b)
}

func cosine(q []float32, qNorm float64, v []float32) float64 {
	vNorm := L2Norm(v)
	if qNorm == 0 || vNorm == 0 {
		return 0
	}
	return InnerProduct(q, v) / (qNorm * vNorm)
}

// InnerProduct returns the dot product of two equal-length vectors.
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// L2Norm returns the L2 norm of a vector.
func L2Norm(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}
