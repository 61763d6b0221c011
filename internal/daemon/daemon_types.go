package daemon

import (
	"github.com/adcondev/pos-printer/internal/printer"
)

// HealthResponse representa el estado de salud del servicio de impresión.
type HealthResponse struct {
	Status   string             `json:"status"`
	Session  printer.SessionDTO `json:"session"`
	Queue    QueueStatus        `json:"queue"`
	Worker   WorkerStatus       `json:"worker"`
	Printers printer.Summary    `json:"printers"`
	Clients  int                `json:"clients"`
	Build    BuildInfo          `json:"build"`
	Uptime   int                `json:"uptime_seconds"`
}

// QueueStatus representa el estado de la cola de llamadas.
type QueueStatus struct {
	Current     int     `json:"current"`
	Capacity    int     `json:"capacity"`
	Utilization float64 `json:"utilization"`
}

// WorkerStatus representa el estado del trabajador.
type WorkerStatus struct {
	Running       bool  `json:"running"`
	JobsProcessed int64 `json:"jobs_processed"`
	JobsFailed    int64 `json:"jobs_failed"`
}

// BuildInfo contiene información sobre la compilación del servicio.
type BuildInfo struct {
	Env  string `json:"env"`
	Date string `json:"date"`
	Time string `json:"time"`
}
