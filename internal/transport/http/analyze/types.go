package analyze

// AnalyzeRequest is the JSON body of POST /api/analyze.
type AnalyzeRequest struct {
	// Image 为 data URI 或裸 base64
	Image string `json:"image"`
}

// ErrorResponse 分析失败时的返回体
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Message string `json:"message,omitempty"`
}

// StatusData 是 /api/status 的 data 字段
type StatusData struct {
	Backend  string         `json:"backend"`
	Cache    map[string]any `json:"cache,omitempty"`
	Pipeline PipelineStats  `json:"pipeline"`
}

// PipelineStats mirrors the image pipeline counters.
type PipelineStats struct {
	TotalProcessed    int64 `json:"total_processed"`
	FailedValidations int64 `json:"failed_validations"`
	SecurityIncidents int64 `json:"security_incidents"`
}
