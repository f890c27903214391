package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ronittamrakar/Xordon-sub048/handler"
	xtest "github.com/ronittamrakar/Xordon-sub048/internal/testing"
	"github.com/ronittamrakar/Xordon-sub048/queue"
	"github.com/ronittamrakar/Xordon-sub048/schedule"
)

func TestTickerRunsDispatchCycles(t *testing.T) {
	db := xtest.CreateTestDB(t)
	q := queue.NewStore(db)
	schedules := schedule.NewStore(db)

	done := make(chan string, 1)
	registry := handler.NewRegistry()
	registry.MustRegister(handler.HandlerFunc{
		JobType: "notify",
		Fn: func(ctx context.Context, job *queue.Job) (json.RawMessage, error) {
			select {
			case done <- job.ID:
			default:
			}
			return json.RawMessage(`{}`), nil
		},
	})

	id, err := q.Schedule("notify", json.RawMessage(`{}`), nil, "", "")
	require.NoError(t, err)

	disp := NewDispatcher(schedules, q, registry, DefaultConfig(), zap.NewNop().Sugar())
	ticker := NewTicker(disp, TickerConfig{Interval: 10 * time.Millisecond}, zap.NewNop().Sugar())
	ticker.Start()
	defer ticker.Stop()

	select {
	case executed := <-done:
		assert.Equal(t, id, executed)
	case <-time.After(5 * time.Second):
		t.Fatal("ticker never executed the pending job")
	}

	ticker.Stop()
	_, count := ticker.LastTick()
	assert.Greater(t, count, int64(0))
}

func TestTickerStopIsIdempotent(t *testing.T) {
	db := xtest.CreateTestDB(t)
	disp := NewDispatcher(schedule.NewStore(db), queue.NewStore(db), handler.NewRegistry(), DefaultConfig(), zap.NewNop().Sugar())

	ticker := NewTicker(disp, TickerConfig{Interval: time.Hour}, zap.NewNop().Sugar())
	ticker.Start()
	ticker.Stop()
	ticker.Stop()
}
