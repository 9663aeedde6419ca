package eventbus

import "time"

// 事件类型定义
const (
	EventAnalysisCompleted = "analysis:completed"
	EventAnalysisFailed    = "analysis:failed"
)

// AnalysisEventData 一次分析请求的结果摘要
type AnalysisEventData struct {
	RequestID  string    `json:"request_id"`
	Backend    string    `json:"backend"`
	CacheKey   string    `json:"cache_key,omitempty"`
	Cached     bool      `json:"cached"`
	MediaType  string    `json:"media_type,omitempty"`
	ImageBytes int       `json:"image_bytes"`
	PlantName  string    `json:"plant_name,omitempty"`
	IsHealthy  bool      `json:"is_healthy"`
	Kind       string    `json:"kind,omitempty"` // 失败类型
	Message    string    `json:"message,omitempty"`
	Details    string    `json:"details,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}
