package types

import "encoding/json"

// Channel names a client may subscribe to.
const (
	ChannelRooms    = "rooms"
	ChannelProgress = "progress"
	ChannelQueue    = "queue"
	ChannelTAAccept = "ta_accept"
)

// AllowedChannels is the fixed subscription allow-list. Anything else in a
// channels parameter is silently dropped.
var AllowedChannels = map[string]bool{
	ChannelRooms:    true,
	ChannelProgress: true,
	ChannelQueue:    true,
	ChannelTAAccept: true,
}

// changeLogChannels are the channels sourced from the change_log table.
// ta_accept is sourced from ta_assignments and has its own poller.
var changeLogChannels = map[string]bool{
	ChannelRooms:    true,
	ChannelProgress: true,
	ChannelQueue:    true,
}

// User is the authenticated identity attached to a connection after a
// successful session lookup. The shape mirrors the user record the HTTP
// tier keeps in its session store.
type User struct {
	ID   int64  `json:"user_id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// ChangeEvent is one row of the change_log table mapped to its wire shape.
type ChangeEvent struct {
	ID       int64           `json:"id"`
	Channel  string          `json:"channel"`
	RefID    int64           `json:"ref_id"`
	CourseID *int64          `json:"course_id"`
	TS       int64           `json:"ts"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// TAEvent is one row of the ta_assignments table mapped to its wire shape.
// AssignmentID is null when the table has no usable key column and the
// poller orders by the synthetic timestamp expression instead.
type TAEvent struct {
	QueueID      int64  `json:"queue_id"`
	UserID       int64  `json:"user_id"`
	TAUserID     int64  `json:"ta_user_id"`
	TAName       string `json:"ta_name"`
	StartedAt    string `json:"started_at"`
	AssignmentID *int64 `json:"assignment_id"`
}

// Envelope wraps every server-to-client message. Type is always "event";
// Event is the channel name (or "ta_accept").
type Envelope struct {
	Type  string `json:"type"`
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// NewEvent builds the standard event envelope.
func NewEvent(event string, data any) Envelope {
	return Envelope{Type: "event", Event: event, Data: data}
}
