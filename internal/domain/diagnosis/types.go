package diagnosis

// 默认占位值
const (
	NotAvailable  = "N/A"
	UnknownPlant  = "Unknown Plant"
	StatusHealthy = "Healthy"
	StatusUnknown = "Unknown Condition"
)

// Record is the normalized diagnosis returned to clients. After Normalize every
// field is populated and Recommendations is never nil.
type Record struct {
	PlantName        string           `json:"plant_name"`
	IsHealthy        bool             `json:"is_healthy"`
	Summary          string           `json:"summary"`
	CareInstructions CareInstructions `json:"care_instructions"`
	Diagnostics      Diagnostics      `json:"diagnostics"`
}

type CareInstructions struct {
	Light       string `json:"light"`
	Water       string `json:"water"`
	Environment string `json:"environment"`
	Temperature string `json:"temperature"`
}

type Diagnostics struct {
	Status          string   `json:"status"`
	Description     string   `json:"description"`
	Recommendations []string `json:"recommendations"`
}

// Clone returns a deep copy.
func (r Record) Clone() Record {
	out := r
	out.Diagnostics.Recommendations = append([]string{}, r.Diagnostics.Recommendations...)
	return out
}
