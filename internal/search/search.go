// Package search is the semantic-search collaborator contract. The ranking
// engine itself lives outside this service; the core only consumes its
// ordered ID list.
package search

import "context"

// Hit is one ranked candidate.
type Hit struct {
	UserID int64   `json:"user_id"`
	Score  float64 `json:"score"`
}

// Searcher returns ranked candidates for a query, skipping excluded IDs.
type Searcher interface {
	Search(ctx context.Context, query string, excludeIDs []int64, limit int) ([]Hit, error)
}

// FixedSearcher serves a configured candidate pool in order, for deployments
// without a vector backend and for tests. Scores decay linearly by rank.
type FixedSearcher struct {
	Candidates []int64
}

func (f *FixedSearcher) Search(_ context.Context, _ string, excludeIDs []int64, limit int) ([]Hit, error) {
	skip := make(map[int64]bool, len(excludeIDs))
	for _, id := range excludeIDs {
		skip[id] = true
	}
	var out []Hit
	for i, id := range f.Candidates {
		if skip[id] {
			continue
		}
		out = append(out, Hit{UserID: id, Score: 1 - float64(i)/float64(len(f.Candidates)+1)})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}
