package subscription

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// PlansListSource loads the plan catalog.
type PlansListSource interface {
	Load(ctx context.Context) (map[string]Plan, error)
}

type inMemSource struct {
	mu    sync.RWMutex
	plans map[string]Plan
}

// NewInMemSource returns a source over copies of plans.
// Panics when no plans are given.
func NewInMemSource(plans ...Plan) PlansListSource {
	if len(plans) == 0 {
		panic("subscription: at least one plan is required")
	}
	m := make(map[string]Plan, len(plans))
	for _, p := range plans {
		m[p.ID] = p.clone()
	}
	return &inMemSource{plans: m}
}

func (s *inMemSource) Load(context.Context) (map[string]Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Plan, len(s.plans))
	for id, p := range s.plans {
		out[id] = p.clone()
	}
	return out, nil
}

// yamlCatalog is the file layout:
//
//	plans:
//	  - id: pro
//	    tier: 2
//	    trial_days: 14
//	    included_tokens: 5000
type yamlCatalog struct {
	Plans []Plan `yaml:"plans"`
}

type yamlSource struct {
	open func() (io.ReadCloser, error)
}

// NewYAMLFileSource reads plans from a YAML file on every Load.
func NewYAMLFileSource(path string) PlansListSource {
	return &yamlSource{open: func() (io.ReadCloser, error) { return os.Open(path) }}
}

// NewYAMLSource reads plans from YAML bytes.
func NewYAMLSource(data []byte) PlansListSource {
	return &yamlSource{open: func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}}
}

func (s *yamlSource) Load(ctx context.Context) (map[string]Plan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r, err := s.open()
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}
	defer r.Close()

	var doc yamlCatalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, fmt.Errorf("decode yaml: %w", err))
	}

	plans := make(map[string]Plan, len(doc.Plans))
	for _, p := range doc.Plans {
		if _, dup := plans[p.ID]; dup {
			return nil, errors.Join(ErrInvalidPlanConfiguration, fmt.Errorf("duplicate plan id %q", p.ID))
		}
		plans[p.ID] = p
	}
	return plans, nil
}
