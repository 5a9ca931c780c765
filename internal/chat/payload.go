package chat

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedPayload is returned for push payloads matching no known shape.
var ErrMalformedPayload = errors.New("malformed push payload")

// Shape identifies which inbound push payload layout was recognized.
type Shape int

const (
	ShapeUnknown Shape = iota
	// ShapeFlat is {id, message, isAdmin, senderName, timestamp}.
	ShapeFlat
	// ShapeNested carries a full {sender: {name, email, isAdmin}} object.
	ShapeNested
)

func (s Shape) String() string {
	switch s {
	case ShapeFlat:
		return "flat"
	case ShapeNested:
		return "nested"
	default:
		return "unknown"
	}
}

// FlexString accepts a JSON string or number.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*f = FlexString(n.String())
	return nil
}

// pushPayload is the union of every field either shape may carry.
type pushPayload struct {
	Event          string          `json:"event"`
	Data           json.RawMessage `json:"data"`
	ID             FlexString      `json:"id"`
	ConversationID FlexString      `json:"conversationId"`
	TempID         string          `json:"tempId"`
	Message        *string         `json:"message"`
	Text           *string         `json:"text"`
	IsAdmin        *bool           `json:"isAdmin"`
	SenderName     *string         `json:"senderName"`
	Sender         json.RawMessage `json:"sender"`
	Timestamp      FlexString      `json:"timestamp"`
}

// Normalize converts a raw push payload into the canonical confirmed Message.
// Payloads matching neither shape yield ErrMalformedPayload; callers drop them.
// A missing timestamp falls back to now.
func Normalize(raw []byte, now time.Time) (Message, Shape, error) {
	p, err := decodePayload(raw)
	if err != nil {
		return Message{}, ShapeUnknown, err
	}

	shape, sender := p.shape()
	var text string
	switch shape {
	case ShapeFlat:
		text = *p.Message
		sender = Sender{Name: *p.SenderName}
		if p.IsAdmin != nil {
			sender.IsAdmin = *p.IsAdmin
		}
	case ShapeNested:
		if p.Text != nil {
			text = *p.Text
		} else {
			text = *p.Message
		}
	default:
		return Message{}, ShapeUnknown, fmt.Errorf("%w: no known sender fields", ErrMalformedPayload)
	}

	ts := now.UTC()
	if p.Timestamp != "" {
		parsed, err := ParseTimestamp(string(p.Timestamp))
		if err != nil {
			return Message{}, shape, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		ts = parsed
	}

	return Message{
		ID:             string(p.ID),
		TempID:         p.TempID,
		ConversationID: string(p.ConversationID),
		Text:           text,
		Sender:         sender,
		Timestamp:      ts,
		State:          StateConfirmed,
	}, shape, nil
}

func decodePayload(raw []byte) (pushPayload, error) {
	var p pushPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return pushPayload{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	// Envelope: {"event": "...", "data": {...}}
	if len(p.Data) > 0 && p.Data[0] == '{' {
		var inner pushPayload
		if err := json.Unmarshal(p.Data, &inner); err != nil {
			return pushPayload{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return inner, nil
	}
	return p, nil
}

func (p pushPayload) shape() (Shape, Sender) {
	if len(p.Sender) > 0 && p.Sender[0] == '{' && (p.Text != nil || p.Message != nil) {
		var s Sender
		if err := json.Unmarshal(p.Sender, &s); err == nil && strings.TrimSpace(s.Name) != "" {
			return ShapeNested, s
		}
	}
	if p.Message != nil && p.SenderName != nil {
		return ShapeFlat, Sender{}
	}
	return ShapeUnknown, Sender{}
}

// ParseTimestamp parses ISO-8601 strings and unix seconds or milliseconds.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.UTC(), nil
	}
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", value)
}

// FormatTimestamp renders t the way the delta endpoint expects it.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
