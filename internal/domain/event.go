package domain

// ProgressEvent is the single event shape delivered to task observers.
// It doubles as the wire format for the streaming endpoint.
type ProgressEvent struct {
	Status       TaskStatus `json:"status"`
	Stage        string     `json:"stage,omitempty"`
	Progress     int        `json:"progress"`
	Current      int        `json:"current,omitempty"`
	Total        int        `json:"total,omitempty"`
	Message      string     `json:"message,omitempty"`
	OutputImages []string   `json:"output_images,omitempty"`
	Error        string     `json:"error,omitempty"`
}
