package eventbus

import (
	"sync"
	"sync/atomic"

	"garden-doctor-go/internal/platform/logging"

	evbus "github.com/asaskevich/EventBus"
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 256
)

// AsyncEventBus 异步事件总线，发布方不会被订阅者阻塞
type AsyncEventBus struct {
	bus       evbus.Bus
	logger    *logging.Logger
	workerNum int
	workChan  chan asyncEvent

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
	dropped atomic.Int64

	// pending 计数已入队未处理完的事件，可与 PublishAsync 并发等待
	pendingMu   sync.Mutex
	pendingCond *sync.Cond
	pending     int
}

type asyncEvent struct {
	topic string
	args  []interface{}
}

// NewAsyncEventBus 创建异步事件总线
func NewAsyncEventBus(workerNum, queueSize int, logger *logging.Logger) *AsyncEventBus {
	if workerNum <= 0 {
		workerNum = defaultWorkers
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = logging.NewDiscard()
	}

	aeb := &AsyncEventBus{
		bus:       evbus.New(),
		logger:    logger,
		workerNum: workerNum,
		workChan:  make(chan asyncEvent, queueSize),
	}
	aeb.pendingCond = sync.NewCond(&aeb.pendingMu)
	return aeb
}

// Start 启动 worker
func (aeb *AsyncEventBus) Start() {
	for i := 0; i < aeb.workerNum; i++ {
		aeb.wg.Add(1)
		go aeb.worker()
	}
}

// Stop drains queued events and waits for the workers to exit. Later
// publishes are dropped.
func (aeb *AsyncEventBus) Stop() {
	aeb.mu.Lock()
	if aeb.stopped {
		aeb.mu.Unlock()
		return
	}
	aeb.stopped = true
	close(aeb.workChan)
	aeb.mu.Unlock()

	aeb.wg.Wait()
}

func (aeb *AsyncEventBus) worker() {
	defer aeb.wg.Done()

	for event := range aeb.workChan {
		aeb.dispatch(event)
	}
}

func (aeb *AsyncEventBus) dispatch(event asyncEvent) {
	defer aeb.donePending()
	defer func() {
		if r := recover(); r != nil {
			aeb.logger.ErrorTag("事件", "事件处理 panic: topic=%s err=%v", event.topic, r)
		}
	}()
	aeb.bus.Publish(event.topic, event.args...)
}

// Publish 同步发布
func (aeb *AsyncEventBus) Publish(topic string, args ...interface{}) {
	aeb.bus.Publish(topic, args...)
}

// PublishAsync 异步发布，队列满或已停止时丢弃
func (aeb *AsyncEventBus) PublishAsync(topic string, args ...interface{}) {
	aeb.mu.RLock()
	defer aeb.mu.RUnlock()

	if aeb.stopped {
		aeb.dropped.Add(1)
		return
	}

	aeb.addPending()
	select {
	case aeb.workChan <- asyncEvent{topic: topic, args: args}:
	default:
		aeb.donePending()
		aeb.dropped.Add(1)
		aeb.logger.WarnTag("事件", "事件队列已满，丢弃事件: topic=%s", topic)
	}
}

// Subscribe 订阅事件
func (aeb *AsyncEventBus) Subscribe(topic string, fn interface{}) error {
	return aeb.bus.Subscribe(topic, fn)
}

// Unsubscribe 取消订阅
func (aeb *AsyncEventBus) Unsubscribe(topic string, handler interface{}) error {
	return aeb.bus.Unsubscribe(topic, handler)
}

// HasCallback 检查是否有订阅者
func (aeb *AsyncEventBus) HasCallback(topic string) bool {
	return aeb.bus.HasCallback(topic)
}

// Dropped returns how many events were discarded.
func (aeb *AsyncEventBus) Dropped() int64 {
	return aeb.dropped.Load()
}

// WaitAsync blocks until no accepted event is left unhandled. It may run
// while other goroutines keep publishing.
func (aeb *AsyncEventBus) WaitAsync() {
	aeb.pendingMu.Lock()
	defer aeb.pendingMu.Unlock()
	for aeb.pending > 0 {
		aeb.pendingCond.Wait()
	}
}

func (aeb *AsyncEventBus) addPending() {
	aeb.pendingMu.Lock()
	aeb.pending++
	aeb.pendingMu.Unlock()
}

func (aeb *AsyncEventBus) donePending() {
	aeb.pendingMu.Lock()
	aeb.pending--
	if aeb.pending == 0 {
		aeb.pendingCond.Broadcast()
	}
	aeb.pendingMu.Unlock()
}
