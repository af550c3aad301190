// Package gateway defines MessageGateway: the boundary between the engine
// and whatever outbound messaging provider actually places a send. Adapters
// implement Gateway; the engine depends only on this interface.
package gateway

import (
	"context"

	"github.com/harborwave/humanizer/internal/domain"
)

// Gateway sends a single humanized message through a provider and returns
// its acknowledgement. Implementations must be safe for concurrent use.
type Gateway interface {
	Send(ctx context.Context, spec domain.SendSpec) (*domain.SendResult, error)
}

// Factory resolves a Gateway for a given account credential, mirroring the
// older SenderFactory pattern so the scheduler stays provider-agnostic.
type Factory interface {
	GatewayFor(ctx context.Context, accountCredential string) (Gateway, error)
}

// SingleGatewayFactory always returns the same Gateway, for deployments with
// one configured provider.
type SingleGatewayFactory struct {
	GW Gateway
}

func (f SingleGatewayFactory) GatewayFor(ctx context.Context, accountCredential string) (Gateway, error) {
	return f.GW, nil
}
