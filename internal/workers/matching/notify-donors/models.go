// internal/workers/matching/notify-donors/models.go
package notifydonors

type Input struct {
	RequestID     string  `json:"requestId"`
	Mode          string  `json:"mode,omitempty"`
	MaxDistanceKm float64 `json:"maxDistanceKm,omitempty"`
	Limit         int     `json:"limit,omitempty"`
}

type Output struct {
	RequestID string   `json:"requestId"`
	Matched   int      `json:"matched"`
	Notified  int      `json:"notified"`
	JobIDs    []string `json:"jobIds"`
	Degraded  bool     `json:"degraded"`
	Source    string   `json:"source,omitempty"`
	Message   string   `json:"message,omitempty"`
}
