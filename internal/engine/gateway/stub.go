package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harborwave/humanizer/internal/domain"
)

// StubGateway records every Send call in memory and returns a synthetic
// accepted result, for local development and tests that don't need a real
// provider.
type StubGateway struct {
	mu   sync.Mutex
	sent []domain.SendSpec
	// FailNext, when > 0, makes the next N sends return Err.
	FailNext int
	Err      error
}

func NewStubGateway() *StubGateway { return &StubGateway{} }

func (g *StubGateway) Send(ctx context.Context, spec domain.SendSpec) (*domain.SendResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.FailNext > 0 {
		g.FailNext--
		if g.Err != nil {
			return nil, g.Err
		}
	}

	g.sent = append(g.sent, spec)
	return &domain.SendResult{ProviderMessageID: uuid.New().String(), AcceptedAt: time.Now()}, nil
}

// Sent returns a copy of every spec accepted so far.
func (g *StubGateway) Sent() []domain.SendSpec {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]domain.SendSpec, len(g.sent))
	copy(out, g.sent)
	return out
}
