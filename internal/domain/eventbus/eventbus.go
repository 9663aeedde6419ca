package eventbus

import "garden-doctor-go/internal/platform/logging"

// Publisher is what the analysis path needs from the bus.
type Publisher interface {
	PublishAsync(topic string, args ...interface{})
}

// Options 事件总线参数
type Options struct {
	Workers   int
	QueueSize int
	Logger    *logging.Logger
}

// New 创建并启动异步事件总线
func New(opts Options) *AsyncEventBus {
	bus := NewAsyncEventBus(opts.Workers, opts.QueueSize, opts.Logger)
	bus.Start()
	return bus
}

type noopPublisher struct{}

func (noopPublisher) PublishAsync(string, ...interface{}) {}

// Discard drops every event.
var Discard Publisher = noopPublisher{}
