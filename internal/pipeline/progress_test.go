package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/filing-summary/internal/model"
)

func TestEmitterDeliversInOrder(t *testing.T) {
	e := NewEmitter()

	var mu sync.Mutex
	var got []model.ProgressStage
	e.Subscribe(func(ev model.ProgressEvent) {
		mu.Lock()
		got = append(got, ev.Stage)
		mu.Unlock()
	})

	stages := []model.ProgressStage{
		model.StageQueued, model.StageFetching, model.StageParsing,
		model.StageAnalyzing, model.StageSummarizing, model.StageCompleted,
	}
	for _, s := range stages {
		e.Emit(s, string(s))
	}
	e.Close()

	assert.Equal(t, stages, got)
}

func TestEmitterOrderUnderConcurrentEmits(t *testing.T) {
	e := NewEmitter()

	var mu sync.Mutex
	var got []model.ProgressEvent
	e.Subscribe(func(ev model.ProgressEvent) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})

	// Concurrent emitters model the recovery fan-out; each listener must
	// still observe a single serialized event stream.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				e.Emit(model.StageAnalyzing, "working")
			}
		}()
	}
	wg.Wait()
	e.Close()

	require.Len(t, got, 40)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i].ElapsedSeconds, got[i-1].ElapsedSeconds)
	}
}

func TestEmitterHeartbeat(t *testing.T) {
	e := NewEmitter()

	var mu sync.Mutex
	var beats int
	e.Subscribe(func(ev model.ProgressEvent) {
		if ev.Heartbeat {
			mu.Lock()
			beats++
			mu.Unlock()
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	e.Emit(model.StageSummarizing, "long stage")
	e.StartHeartbeat(ctx, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return beats >= 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	e.Close()
}

func TestEmitterNoEventsAfterClose(t *testing.T) {
	e := NewEmitter()

	var mu sync.Mutex
	var count int
	e.Subscribe(func(ev model.ProgressEvent) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	e.Emit(model.StageQueued, "queued")
	e.Close()
	e.Emit(model.StageCompleted, "late event")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestEmitterMultipleListeners(t *testing.T) {
	e := NewEmitter()

	var mu sync.Mutex
	streams := make([][]model.ProgressStage, 3)
	for i := 0; i < 3; i++ {
		e.Subscribe(func(ev model.ProgressEvent) {
			mu.Lock()
			streams[i] = append(streams[i], ev.Stage)
			mu.Unlock()
		})
	}

	e.Emit(model.StageQueued, "a")
	e.Emit(model.StageAnalyzing, "b")
	e.Emit(model.StageCompleted, "c")
	e.Close()

	want := []model.ProgressStage{model.StageQueued, model.StageAnalyzing, model.StageCompleted}
	for i := 0; i < 3; i++ {
		assert.Equal(t, want, streams[i])
	}
}
