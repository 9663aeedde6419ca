package eventbus

import (
	"context"
	"time"

	"garden-doctor-go/internal/domain/eventbus/repository"
	"garden-doctor-go/internal/platform/logging"
)

const persistTimeout = 5 * time.Second

// EventHandler 事件处理器接口
type EventHandler interface {
	Handle(eventType string, data AnalysisEventData)
}

// LogEventHandler writes one log line per analysis.
type LogEventHandler struct {
	logger *logging.Logger
}

func NewLogEventHandler(logger *logging.Logger) *LogEventHandler {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &LogEventHandler{logger: logger}
}

func (h *LogEventHandler) Handle(eventType string, data AnalysisEventData) {
	switch eventType {
	case EventAnalysisCompleted:
		h.logger.InfoTag("事件", "分析完成: request_id=%s backend=%s plant=%s healthy=%v cached=%v 耗时=%dms",
			data.RequestID, data.Backend, data.PlantName, data.IsHealthy, data.Cached, data.DurationMS)
	case EventAnalysisFailed:
		h.logger.WarnTag("事件", "分析失败: request_id=%s backend=%s kind=%s message=%s 耗时=%dms",
			data.RequestID, data.Backend, data.Kind, data.Message, data.DurationMS)
	default:
		h.logger.DebugTag("事件", "未处理的事件类型: %s", eventType)
	}
}

// PersistEventHandler 将事件写入事件存储库
type PersistEventHandler struct {
	repo   repository.EventRepository
	logger *logging.Logger
}

func NewPersistEventHandler(repo repository.EventRepository, logger *logging.Logger) *PersistEventHandler {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &PersistEventHandler{repo: repo, logger: logger}
}

func (h *PersistEventHandler) Handle(eventType string, data AnalysisEventData) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	createdAt := data.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	err := h.repo.Store(ctx, repository.Event{
		EventType: eventType,
		RequestID: data.RequestID,
		Backend:   data.Backend,
		Kind:      data.Kind,
		Data:      data,
		CreatedAt: createdAt,
	})
	if err != nil {
		h.logger.WarnTag("事件", "事件持久化失败: type=%s request_id=%s err=%v", eventType, data.RequestID, err)
	}
}

// SetupEventHandlers subscribes every handler to both analysis topics.
func SetupEventHandlers(bus *AsyncEventBus, handlers ...EventHandler) error {
	for _, topic := range []string{EventAnalysisCompleted, EventAnalysisFailed} {
		for _, handler := range handlers {
			if handler == nil {
				continue
			}
			topic, handler := topic, handler
			if err := bus.Subscribe(topic, func(data AnalysisEventData) {
				handler.Handle(topic, data)
			}); err != nil {
				return err
			}
		}
	}
	return nil
}
