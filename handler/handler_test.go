package handler

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ronittamrakar/Xordon-sub048/errors"
	"github.com/ronittamrakar/Xordon-sub048/queue"
)

func echoHandler(jobType string) Handler {
	return HandlerFunc{
		JobType: jobType,
		Fn: func(ctx context.Context, job *queue.Job) (json.RawMessage, error) {
			return job.Payload, nil
		},
	}
}

func TestRegistryRegisterAndDispatch(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(echoHandler("email.send")))

	assert.True(t, registry.Has("email.send"))
	assert.False(t, registry.Has("email.receive"))
	assert.Contains(t, registry.Names(), "email.send")

	job := &queue.Job{ID: "job_1", JobType: "email.send", Payload: json.RawMessage(`{"ok":true}`)}
	result, err := registry.Dispatch(context.Background(), job)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(result))
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(echoHandler("email.send")))

	err := registry.Register(echoHandler("email.send"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "email.send")
}

func TestRegistryRejectsEmptyName(t *testing.T) {
	registry := NewRegistry()
	require.Error(t, registry.Register(echoHandler("")))
}

func TestDispatchUnknownJobType(t *testing.T) {
	registry := NewRegistry()

	job := &queue.Job{ID: "job_1", JobType: "nope"}
	_, err := registry.Dispatch(context.Background(), job)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownJobType))
	assert.Contains(t, err.Error(), "nope")
}

func TestDispatchPropagatesHandlerError(t *testing.T) {
	registry := NewRegistry()
	boom := errors.New("boom")
	require.NoError(t, registry.Register(HandlerFunc{
		JobType: "explode",
		Fn: func(ctx context.Context, job *queue.Job) (json.RawMessage, error) {
			return nil, boom
		},
	}))

	_, err := registry.Dispatch(context.Background(), &queue.Job{JobType: "explode"})
	assert.True(t, errors.Is(err, boom))
}
