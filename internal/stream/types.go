package stream

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Delimiter terminates every frame on the wire.
const Delimiter = "\r\n"

// Kind identifies the protocol-level category of an announcement.
type Kind int

const (
	KindPing Kind = iota + 1
	KindEvent
	KindDelete
	KindFriends
	KindData
	KindError
	// KindNamed is an event announced under its own free-form name.
	KindNamed
)

// Category is what listeners subscribe to. Name is only set for KindNamed.
type Category struct {
	Kind Kind
	Name string
}

var (
	Ping    = Category{Kind: KindPing}
	Event   = Category{Kind: KindEvent}
	Delete  = Category{Kind: KindDelete}
	Friends = Category{Kind: KindFriends}
	Data    = Category{Kind: KindData}
	Error   = Category{Kind: KindError}
)

// Fixed lists the categories that do not carry a name.
var Fixed = []Category{Ping, Event, Delete, Friends, Data, Error}

// Named returns the category for a stream event called name.
func Named(name string) Category {
	return Category{Kind: KindNamed, Name: name}
}

func (c Category) String() string {
	switch c.Kind {
	case KindPing:
		return "ping"
	case KindEvent:
		return "event"
	case KindDelete:
		return "delete"
	case KindFriends:
		return "friends"
	case KindData:
		return "data"
	case KindError:
		return "error"
	case KindNamed:
		return c.Name
	default:
		return fmt.Sprintf("kind(%d)", int(c.Kind))
	}
}

// Message is one decoded stream item. Numbers are kept as json.Number.
type Message map[string]any

// Has reports whether key is present, even with a null value.
func (m Message) Has(key string) bool {
	_, ok := m[key]
	return ok
}

// String returns the value at key when it is a string.
func (m Message) String(key string) string {
	s, _ := m[key].(string)
	return s
}

// Object returns the nested object at key, or nil.
func (m Message) Object(key string) Message {
	obj, _ := m[key].(map[string]any)
	return obj
}

// Announcement is the payload delivered to listeners.
// Message is nil for ping and error announcements; Err is only set for error.
type Announcement struct {
	Category Category
	Message  Message
	Err      error
}

// ErrNotObject indicates a frame decoded to valid JSON that is not an object.
var ErrNotObject = errors.New("frame is not a JSON object")

// FrameError reports a frame that could not be turned into a Message.
type FrameError struct {
	Source string
	Err    error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("invalid frame %q: %v", e.Source, e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// EventName renders the value of an "event" property as a category name.
// Non-string values are named by their compact JSON text.
func EventName(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
