package publisher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturingPublisher struct {
	events []Event
	err    error
}

func (c *capturingPublisher) PublishEvent(_ context.Context, event Event) error {
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, event)
	return nil
}

func TestPublishFansOutToAllAdapters(t *testing.T) {
	t.Cleanup(Reset)
	Reset()

	first := &capturingPublisher{}
	second := &capturingPublisher{}
	require.NoError(t, RegisterPublisher("first", first))
	require.NoError(t, RegisterPublisher("second", second))

	Publish(context.Background(), Event{Kind: DoseTaken, OwnerID: "owner-1"})

	require.Len(t, first.events, 1)
	require.Len(t, second.events, 1)
	assert.Equal(t, DoseTaken, first.events[0].Kind)
}

func TestRegisterPublisherRejectsDuplicateName(t *testing.T) {
	t.Cleanup(Reset)
	Reset()

	require.NoError(t, RegisterPublisher("db", &capturingPublisher{}))
	assert.Error(t, RegisterPublisher("db", &capturingPublisher{}))
}

func TestPublishSurvivesFailingAdapter(t *testing.T) {
	t.Cleanup(Reset)
	Reset()

	broken := &capturingPublisher{err: errors.New("broker down")}
	healthy := &capturingPublisher{}
	require.NoError(t, RegisterPublisher("broken", broken))
	require.NoError(t, RegisterPublisher("healthy", healthy))

	Publish(context.Background(), Event{Kind: DoseSkipped, OwnerID: "owner-1"})

	assert.Len(t, healthy.events, 1)
}
