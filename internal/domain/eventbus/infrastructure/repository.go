package infrastructure

import (
	"context"
	"strconv"
	"time"

	"garden-doctor-go/internal/domain/eventbus/repository"
	"garden-doctor-go/internal/platform/errors"
	"garden-doctor-go/internal/platform/storage"

	"github.com/bytedance/sonic"
	"gorm.io/gorm"
)

// eventRepository persists analysis events in the analysis_events table.
type eventRepository struct {
	db *gorm.DB
}

// NewEventRepository 创建事件存储库
func NewEventRepository(db *gorm.DB) repository.EventRepository {
	return &eventRepository{db: db}
}

func (r *eventRepository) Store(ctx context.Context, event repository.Event) error {
	data, err := sonic.ConfigStd.Marshal(event.Data)
	if err != nil {
		return errors.Wrap(errors.KindStorage, "event.store.marshal", "failed to marshal event data", err)
	}

	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	row := &storage.AnalysisEvent{
		EventType: event.EventType,
		RequestID: event.RequestID,
		Backend:   event.Backend,
		Kind:      event.Kind,
		Data:      data,
		CreatedAt: createdAt,
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return errors.Wrap(errors.KindStorage, "event.store.create", "failed to store event", err)
	}
	return nil
}

func (r *eventRepository) FindByRequestID(ctx context.Context, requestID string) ([]repository.Event, error) {
	var rows []storage.AnalysisEvent
	if err := r.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "event.find.request", "failed to find events by request ID", err)
	}
	return convertRows(rows)
}

func (r *eventRepository) FindByEventType(ctx context.Context, eventType string, limit int) ([]repository.Event, error) {
	var rows []storage.AnalysisEvent
	query := r.db.WithContext(ctx).
		Where("event_type = ?", eventType).
		Order("created_at DESC, id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "event.find.type", "failed to find events by type", err)
	}
	return convertRows(rows)
}

func (r *eventRepository) DeleteOldEvents(ctx context.Context, beforeTime time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("created_at < ?", beforeTime).
		Delete(&storage.AnalysisEvent{})
	if result.Error != nil {
		return 0, errors.Wrap(errors.KindStorage, "event.delete.old", "failed to delete old events", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *eventRepository) GetEventStats(ctx context.Context) (map[string]int64, error) {
	var stats []struct {
		EventType string
		Count     int64
	}
	if err := r.db.WithContext(ctx).
		Model(&storage.AnalysisEvent{}).
		Select("event_type, count(*) as count").
		Group("event_type").
		Scan(&stats).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "event.stats", "failed to get event stats", err)
	}

	result := make(map[string]int64, len(stats))
	for _, stat := range stats {
		result[stat.EventType] = stat.Count
	}
	return result, nil
}

func convertRows(rows []storage.AnalysisEvent) ([]repository.Event, error) {
	events := make([]repository.Event, len(rows))
	for i, row := range rows {
		var data interface{}
		if len(row.Data) > 0 {
			if err := sonic.ConfigStd.Unmarshal(row.Data, &data); err != nil {
				return nil, errors.Wrap(errors.KindStorage, "event.convert.unmarshal", "failed to unmarshal event data", err)
			}
		}
		events[i] = repository.Event{
			ID:        strconv.FormatUint(uint64(row.ID), 10),
			EventType: row.EventType,
			RequestID: row.RequestID,
			Backend:   row.Backend,
			Kind:      row.Kind,
			Data:      data,
			CreatedAt: row.CreatedAt,
		}
	}
	return events, nil
}
