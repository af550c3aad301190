package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborwave/humanizer/internal/domain"
)

func TestStubGateway_RecordsSent(t *testing.T) {
	g := NewStubGateway()
	spec := domain.SendSpec{Address: "+15550001234", Text: "hello"}

	result, err := g.Send(context.Background(), spec)
	require.NoError(t, err)
	assert.NotEmpty(t, result.ProviderMessageID)
	assert.Len(t, g.Sent(), 1)
	assert.Equal(t, spec, g.Sent()[0])
}

func TestStubGateway_FailsNextWithErr(t *testing.T) {
	g := NewStubGateway()
	g.FailNext = 1
	g.Err = errors.New("provider unavailable")

	_, err := g.Send(context.Background(), domain.SendSpec{Address: "+15550001234"})
	assert.ErrorIs(t, err, g.Err)
	assert.Empty(t, g.Sent())

	_, err = g.Send(context.Background(), domain.SendSpec{Address: "+15550001234"})
	assert.NoError(t, err)
	assert.Len(t, g.Sent(), 1)
}
