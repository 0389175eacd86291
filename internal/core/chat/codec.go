package chat

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Envelope is the wire frame used in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode marshals an intent into a wire frame.
func Encode(in Intent) ([]byte, error) {
	return Frame(in.IntentName(), in)
}

// Frame marshals an arbitrary payload under the given event name.
func Frame(name string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", name, err)
	}
	return json.Marshal(Envelope{Event: name, Data: data})
}

// Decode turns a wire frame into an Event. It never fails: frames that cannot
// be decoded are returned as Malformed so the caller can log and drop them.
func Decode(raw []byte) Event {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Malformed{Raw: raw, Err: err}
	}
	if env.Event == "" {
		return Malformed{Raw: raw, Err: errors.New("missing event name")}
	}

	ev, err := decodePayload(env)
	if err != nil {
		return Malformed{Name: env.Event, Raw: raw, Err: err}
	}
	return ev
}

func decodePayload(env Envelope) (Event, error) {
	switch env.Event {
	case EventNewMessage:
		var msg Message
		if err := unmarshal(env.Data, &msg); err != nil {
			return nil, err
		}
		if err := checkMessage(msg); err != nil {
			return nil, err
		}
		return NewMessage{Message: msg}, nil

	case EventMessageSent:
		var ev MessageSent
		if err := unmarshal(env.Data, &ev); err != nil {
			return nil, err
		}
		if ev.CorrelationID == "" {
			return nil, errors.New("missing correlationId")
		}
		if err := checkMessage(ev.Message); err != nil {
			return nil, err
		}
		return ev, nil

	case EventMessageError:
		var ev MessageError
		if err := unmarshal(env.Data, &ev); err != nil {
			return nil, err
		}
		if ev.CorrelationID == "" {
			return nil, errors.New("missing correlationId")
		}
		return ev, nil

	case EventMessagesRead:
		var r ReadReceipt
		if err := unmarshal(env.Data, &r); err != nil {
			return nil, err
		}
		if r.RoomID == 0 {
			return nil, errors.New("missing roomId")
		}
		return MessagesRead{Receipt: r}, nil

	case EventReactionUpdate:
		var ev ReactionUpdate
		if err := unmarshal(env.Data, &ev); err != nil {
			return nil, err
		}
		if ev.MessageID == 0 {
			return nil, errors.New("missing messageId")
		}
		return ev, nil

	case EventError:
		var ev ServerError
		if err := unmarshal(env.Data, &ev); err != nil {
			return nil, err
		}
		return ev, nil

	case EventAuthError:
		var ev AuthFailure
		// the message is optional; a bare auth_error frame is still an auth failure
		_ = json.Unmarshal(env.Data, &ev)
		return ev, nil

	case EventUserTyping:
		var ev UserTyping
		if err := unmarshal(env.Data, &ev); err != nil {
			return nil, err
		}
		if ev.RoomID == 0 {
			return nil, errors.New("missing roomId")
		}
		return ev, nil

	default:
		return DomainEvent{Name: env.Event, Payload: env.Data}, nil
	}
}

func unmarshal(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return errors.New("missing payload")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

func checkMessage(m Message) error {
	switch {
	case m.ID == 0:
		return errors.New("message missing id")
	case m.RoomID == 0:
		return errors.New("message missing roomId")
	case m.Type != "" && !m.Type.Valid():
		return fmt.Errorf("message has unknown type %q", m.Type)
	}
	return nil
}
