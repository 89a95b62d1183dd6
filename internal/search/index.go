package search

import (
	"context"
	"log"
	"os"
	"strings"

	"github.com/blevesearch/bleve"

	"github.com/mohammad-safakhou/chainbrief/internal/store"
)

// Index is a full-text index over brief artifacts. It is derived data: it
// can always be rebuilt from the artifact layer.
type Index struct {
	idx    bleve.Index
	logger *log.Logger
}

type briefDoc struct {
	Summary   string `json:"summary"`
	Watchlist string `json:"watchlist"`
	Timestamp int64  `json:"timestamp"`
}

// Open opens the index at path, creating it when absent.
func Open(path string) (*Index, error) {
	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, bleve.NewIndexMapping())
	}
	if err != nil {
		return nil, err
	}
	return &Index{
		idx:    idx,
		logger: log.New(os.Stdout, "[SEARCH] ", log.LstdFlags),
	}, nil
}

// OpenInMemory builds an ephemeral index, for tests.
func OpenInMemory() (*Index, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	return &Index{
		idx:    idx,
		logger: log.New(os.Stdout, "[SEARCH] ", log.LstdFlags),
	}, nil
}

func (i *Index) Close() error { return i.idx.Close() }

// IndexArtifact adds or replaces one artifact document.
func (i *Index) IndexArtifact(a store.Artifact) error {
	return i.idx.Index(a.ArtifactID, briefDoc{
		Summary:   a.Summary,
		Watchlist: strings.Join(a.Watchlist, " "),
		Timestamp: a.Timestamp,
	})
}

// Search returns matching artifact ids, best first.
func (i *Index) Search(query string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	req := bleve.NewSearchRequestOptions(bleve.NewQueryStringQuery(query), limit, 0, false)
	res, err := i.idx.Search(req)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

// Rebuild reindexes recent artifacts from the store. Called on startup so
// the index catches up after being deleted or falling behind.
func (i *Index) Rebuild(ctx context.Context, st *store.Store) error {
	artifacts, err := st.RecentArtifacts(ctx, 1000)
	if err != nil {
		return err
	}
	for _, a := range artifacts {
		if err := i.IndexArtifact(a); err != nil {
			return err
		}
	}
	if len(artifacts) > 0 {
		i.logger.Printf("reindexed %d artifacts", len(artifacts))
	}
	return nil
}
