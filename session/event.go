package session

// Event types produced by the recorder.
const (
	EventClick      = "click"
	EventInput      = "input"
	EventNavigation = "navigation"
)

// Event is one recorded user interaction. Timestamp is milliseconds
// relative to the recording epoch (monotonic, non-negative; the first
// event may be 0). Target is a compact selector descriptor: the tag name,
// optionally suffixed with "#id" or ".class.class".
type Event struct {
	Type      string    `json:"type"`
	Timestamp int64     `json:"timestamp"`
	Target    string    `json:"target"`
	Data      EventData `json:"data"`
}

// EventData is the variant payload. Fields are populated per event type:
// click → X, Y and up to 50 chars of inner Text; input → Value and
// InputType; navigation → URL (popstate-derived events may omit it).
type EventData struct {
	X         int    `json:"x,omitempty"`
	Y         int    `json:"y,omitempty"`
	Text      string `json:"text,omitempty"`
	Value     string `json:"value,omitempty"`
	InputType string `json:"type,omitempty"`
	URL       string `json:"url,omitempty"`
}
