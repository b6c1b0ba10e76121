package hooks_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflowhq/engine/hooks"
)

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	bus := hooks.NewBus()
	var gotA, gotB hooks.Event

	subA, err := bus.Register(hooks.SubscriberFunc(func(ctx context.Context, e hooks.Event) error {
		gotA = e
		return nil
	}))
	require.NoError(t, err)
	defer subA.Close()

	subB, err := bus.Register(hooks.SubscriberFunc(func(ctx context.Context, e hooks.Event) error {
		gotB = e
		return nil
	}))
	require.NoError(t, err)
	defer subB.Close()

	bus.Publish(context.Background(), hooks.New(hooks.WorkflowStart, "sess-1", nil))

	assert.Equal(t, hooks.WorkflowStart, gotA.Type)
	assert.Equal(t, hooks.WorkflowStart, gotB.Type)
}

func TestPublishIsolatesSubscriberError(t *testing.T) {
	bus := hooks.NewBus()
	var secondCalled bool

	sub1, _ := bus.Register(hooks.SubscriberFunc(func(ctx context.Context, e hooks.Event) error {
		return errors.New("boom")
	}))
	defer sub1.Close()

	sub2, _ := bus.Register(hooks.SubscriberFunc(func(ctx context.Context, e hooks.Event) error {
		secondCalled = true
		return nil
	}))
	defer sub2.Close()

	bus.Publish(context.Background(), hooks.New(hooks.WorkflowError, "sess-1", nil))
	assert.True(t, secondCalled, "a failing subscriber must not block delivery to the next one")
}

func TestCloseUnregistersSubscriber(t *testing.T) {
	bus := hooks.NewBus()
	var called bool
	sub, _ := bus.Register(hooks.SubscriberFunc(func(ctx context.Context, e hooks.Event) error {
		called = true
		return nil
	}))
	sub.Close()
	sub.Close() // idempotent

	bus.Publish(context.Background(), hooks.New(hooks.StepComplete, "sess-1", nil))
	assert.False(t, called)
}

func TestRegisterRejectsNilSubscriber(t *testing.T) {
	bus := hooks.NewBus()
	_, err := bus.Register(nil)
	assert.Error(t, err)
}
