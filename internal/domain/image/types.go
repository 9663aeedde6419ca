package image

// ValidationResult captures the outcome of security validation.
type ValidationResult struct {
	IsValid      bool
	Format       string
	Width        int
	Height       int
	FileSize     int64
	Error        error
	SecurityRisk string
}

// Metrics aggregates pipeline statistics for the status endpoint.
type Metrics struct {
	TotalProcessed    int64 `json:"total_processed"`
	FailedValidations int64 `json:"failed_validations"`
	SecurityIncidents int64 `json:"security_incidents"`
}
