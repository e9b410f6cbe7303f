package session

import (
	"context"

	"segcomplete/pkg/config"
)

// Effect is an editor tool driven by the host.
type Effect interface {
	Name() string
	Activate(ctx context.Context) error
	Deactivate()
	Apply(ctx context.Context) error
}

var _ Effect = (*Session)(nil)

// GrowFromSeedsName is the name of the grow-from-seeds effect.
const GrowFromSeedsName = "Grow from seeds"

// NewGrowFromSeeds returns the grow-from-seeds effect. It needs two
// non-empty visible segments unless the MinimumSegments parameter says
// otherwise.
func NewGrowFromSeeds(h Host, params *config.Parameters, opts Options) (*Session, error) {
	opts.Name = GrowFromSeedsName
	if opts.MinimumSegments <= 0 {
		opts.MinimumSegments = 2
	}
	return New(h, params, opts)
}

// Activate makes ctx the context of automatic updates.
func (s *Session) Activate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
	s.log.Debug("Effect activated")
	return nil
}

// Deactivate discards any preview.
func (s *Session) Deactivate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	s.ctx = context.Background()
	s.log.Debug("Effect deactivated")
}
