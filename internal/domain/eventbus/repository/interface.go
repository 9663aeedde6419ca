package repository

import (
	"context"
	"time"
)

// EventRepository 分析事件数据访问接口
type EventRepository interface {
	// Store 存储分析事件
	Store(ctx context.Context, event Event) error

	// FindByRequestID 根据请求ID查找事件
	FindByRequestID(ctx context.Context, requestID string) ([]Event, error)

	// FindByEventType 根据事件类型查找事件，limit<=0 表示不限制
	FindByEventType(ctx context.Context, eventType string, limit int) ([]Event, error)

	// DeleteOldEvents 删除指定时间之前的旧事件
	DeleteOldEvents(ctx context.Context, beforeTime time.Time) (int64, error)

	// GetEventStats 按事件类型统计数量
	GetEventStats(ctx context.Context) (map[string]int64, error)
}

// Event 分析事件
type Event struct {
	ID        string
	EventType string
	RequestID string
	Backend   string
	Kind      string
	Data      interface{}
	CreatedAt time.Time
}
