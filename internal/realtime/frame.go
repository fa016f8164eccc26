package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/btouchard/switchboard/internal/model"
)

// Event is the discriminating tag of a wire frame.
type Event string

const (
	EventJoin         Event = "join"         // client → server
	EventJoined       Event = "joined"       // server → client, join acknowledged
	EventNotifyAdmins Event = "notifyAdmins" // server → members of admins
	EventNotifyUser   Event = "notifyUser"   // server → members of user_<id>
	EventError        Event = "error"        // server → client, rejected frame
)

// Frame is the JSON envelope exchanged over a live connection.
type Frame struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinAck is the data of an EventJoined frame.
type JoinAck struct {
	Channel model.Channel `json:"channel"`
}

// ErrorData is the data of an EventError frame.
type ErrorData struct {
	Message string `json:"message"`
}

// NewFrame encodes data into a frame tagged with event.
func NewFrame(event Event, data any) (Frame, error) {
	f := Frame{Event: event}
	if data == nil {
		return f, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Frame{}, fmt.Errorf("encoding %s frame: %w", event, err)
	}
	f.Data = raw
	return f, nil
}

// Decode unmarshals the frame data into v.
func (f Frame) Decode(v any) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("%s frame has no data", f.Event)
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("decoding %s frame: %w", f.Event, err)
	}
	return nil
}
