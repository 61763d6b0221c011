// Package printer contains shared wire types to avoid import cycles.
package printer

// Summary provides a lightweight overview for health checks
type Summary struct {
	Status         string `json:"status"` // "ok", "warning", "error"
	DetectedCount  int    `json:"detected_count"`
	AvailableCount int    `json:"available_count"`
	ThermalCount   int    `json:"thermal_count"`
	DefaultName    string `json:"default_name,omitempty"`
}

// DescriptorDTO is the getList element format
type DescriptorDTO struct {
	Name      string `json:"name"`
	Model     string `json:"model"`
	Default   bool   `json:"default"`
	Available bool   `json:"available"`
}

// SessionDTO reports the current binding for health checks
type SessionDTO struct {
	Bound   bool   `json:"bound"`
	Printer string `json:"printer,omitempty"`
}
