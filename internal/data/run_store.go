package data

import (
	"context"
	"time"

	"InsightLane/internal/conf"
	"InsightLane/internal/model"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultRunCacheSize = 1000
	defaultRunCacheTTL  = time.Hour
)

// RunStore keeps recent pipeline runs in process, addressable by collection id and
// by analysis id. Runs are evicted after the configured TTL or when the cache is full.
type RunStore struct {
	byCollection *expirable.LRU[string, *model.PipelineRun]
	byAnalysis   *expirable.LRU[string, *model.PipelineRun]
}

// NewRunStore creates a RunStore sized by the pipeline config.
func NewRunStore(c *conf.Pipeline) *RunStore {
	size, ttl := defaultRunCacheSize, defaultRunCacheTTL
	if c != nil {
		if c.RunCacheSize > 0 {
			size = int(c.RunCacheSize)
		}
		if c.RunCacheTtl != nil && c.RunCacheTtl.AsDuration() > 0 {
			ttl = c.RunCacheTtl.AsDuration()
		}
	}
	return &RunStore{
		byCollection: expirable.NewLRU[string, *model.PipelineRun](size, nil, ttl),
		byAnalysis:   expirable.NewLRU[string, *model.PipelineRun](size, nil, ttl),
	}
}

// Save records run under its collection id and, once analyzed, its analysis id.
// Earlier analyses of the same collection stay addressable.
func (s *RunStore) Save(_ context.Context, run *model.PipelineRun) error {
	s.byCollection.Add(run.CollectionID, run)
	if run.AnalysisID != "" {
		s.byAnalysis.Add(run.AnalysisID, run)
	}
	return nil
}

func (s *RunStore) GetByCollectionID(_ context.Context, id string) (*model.PipelineRun, error) {
	if run, ok := s.byCollection.Get(id); ok {
		return run, nil
	}
	return nil, model.ErrRunNotFound
}

func (s *RunStore) GetByAnalysisID(_ context.Context, id string) (*model.PipelineRun, error) {
	if run, ok := s.byAnalysis.Get(id); ok {
		return run, nil
	}
	return nil, model.ErrRunNotFound
}
