package eventbus

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"garden-doctor-go/internal/domain/eventbus/infrastructure"
	"garden-doctor-go/internal/platform/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu     sync.Mutex
	events []string
}

func (h *recordingHandler) Handle(eventType string, data AnalysisEventData) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, eventType+"/"+data.RequestID)
}

func (h *recordingHandler) snapshot() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...)
}

func TestPublishAsyncDeliversToHandlers(t *testing.T) {
	bus := New(Options{Workers: 2})
	defer bus.Stop()

	rec := &recordingHandler{}
	require.NoError(t, SetupEventHandlers(bus, rec, NewLogEventHandler(nil)))

	bus.PublishAsync(EventAnalysisCompleted, AnalysisEventData{RequestID: "a"})
	bus.PublishAsync(EventAnalysisFailed, AnalysisEventData{RequestID: "b"})
	bus.WaitAsync()

	assert.ElementsMatch(t, []string{"analysis:completed/a", "analysis:failed/b"}, rec.snapshot())
	assert.Zero(t, bus.Dropped())
}

func TestPanickingHandlerDoesNotKillWorker(t *testing.T) {
	bus := New(Options{Workers: 1})
	defer bus.Stop()

	calls := 0
	require.NoError(t, bus.Subscribe(EventAnalysisFailed, func(data AnalysisEventData) {
		calls++
		if data.RequestID == "boom" {
			panic("handler exploded")
		}
	}))

	bus.PublishAsync(EventAnalysisFailed, AnalysisEventData{RequestID: "boom"})
	bus.PublishAsync(EventAnalysisFailed, AnalysisEventData{RequestID: "ok"})
	bus.WaitAsync()

	assert.Equal(t, 2, calls)
}

func TestStopDrainsAndDropsLatePublishes(t *testing.T) {
	bus := New(Options{Workers: 1, QueueSize: 8})
	rec := &recordingHandler{}
	require.NoError(t, SetupEventHandlers(bus, rec))

	for _, id := range []string{"1", "2", "3"} {
		bus.PublishAsync(EventAnalysisCompleted, AnalysisEventData{RequestID: id})
	}
	bus.Stop()
	bus.Stop()

	assert.Len(t, rec.snapshot(), 3)

	bus.PublishAsync(EventAnalysisCompleted, AnalysisEventData{RequestID: "late"})
	assert.Equal(t, int64(1), bus.Dropped())
}

func TestFullQueueDropsEvents(t *testing.T) {
	// 未启动 worker，队列只能容纳一个事件
	bus := NewAsyncEventBus(1, 1, nil)

	bus.PublishAsync(EventAnalysisCompleted, AnalysisEventData{RequestID: "kept"})
	bus.PublishAsync(EventAnalysisCompleted, AnalysisEventData{RequestID: "dropped"})
	assert.Equal(t, int64(1), bus.Dropped())

	bus.Start()
	bus.Stop()
}

func TestWaitAsyncWhilePublishing(t *testing.T) {
	bus := New(Options{Workers: 2, QueueSize: 1024})
	defer bus.Stop()

	var handled sync.Map
	require.NoError(t, bus.Subscribe(EventAnalysisCompleted, func(data AnalysisEventData) {
		handled.Store(data.RequestID, true)
	}))

	const publishers, perPublisher = 4, 50
	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perPublisher; i++ {
				bus.PublishAsync(EventAnalysisCompleted, AnalysisEventData{RequestID: fmt.Sprintf("%d-%d", p, i)})
			}
		}(p)
	}

	// 发布过程中反复等待，计数归零后再次增加也必须安全
	waitDone := make(chan struct{})
	go func() {
		defer close(waitDone)
		for i := 0; i < 20; i++ {
			bus.WaitAsync()
		}
	}()

	wg.Wait()
	<-waitDone
	bus.WaitAsync()

	count := 0
	handled.Range(func(_, _ any) bool {
		count++
		return true
	})
	assert.Equal(t, publishers*perPublisher-int(bus.Dropped()), count)
}

func TestPersistEventHandlerStoresEvents(t *testing.T) {
	db, err := storage.Open(storage.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close(db) })

	repo := infrastructure.NewEventRepository(db)
	bus := New(Options{Workers: 1})
	require.NoError(t, SetupEventHandlers(bus, NewPersistEventHandler(repo, nil)))

	now := time.Now()
	bus.PublishAsync(EventAnalysisCompleted, AnalysisEventData{
		RequestID: "req-1", Backend: "remote", PlantName: "Aloe", IsHealthy: true, Timestamp: now,
	})
	bus.PublishAsync(EventAnalysisFailed, AnalysisEventData{
		RequestID: "req-2", Backend: "local", Kind: "execution", Message: "Analysis failed", Timestamp: now,
	})
	bus.Stop()

	ctx := context.Background()
	stats, err := repo.GetEventStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{EventAnalysisCompleted: 1, EventAnalysisFailed: 1}, stats)

	events, err := repo.FindByRequestID(ctx, "req-2")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "local", events[0].Backend)
	assert.Equal(t, "execution", events[0].Kind)
	data, ok := events[0].Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Analysis failed", data["message"])

	failed, err := repo.FindByEventType(ctx, EventAnalysisFailed, 10)
	require.NoError(t, err)
	assert.Len(t, failed, 1)

	deleted, err := repo.DeleteOldEvents(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
}
