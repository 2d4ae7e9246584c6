package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/markis/firehose/internal/events"
)

const (
	// DefaultReadSize is the chunk size Process reads from the network.
	DefaultReadSize = 4096

	// Buffers that grew past this are released once they drain.
	maxRetainedBuffer = 64 * 1024
)

var delimiter = []byte(Delimiter)

// Hub is the notification hub a Parser announces through.
type Hub = events.Hub[Category, Announcement]

// NewHub creates a hub suitable for NewParser.
func NewHub(opts ...events.Option[Category]) *Hub {
	return events.New[Category, Announcement](opts...)
}

// ParserOption configures a Parser.
type ParserOption func(*Parser)

// WithReadSize sets the read size used by Process.
func WithReadSize(n int) ParserOption {
	return func(p *Parser) {
		if n > 0 {
			p.readSize = n
		}
	}
}

// Parser reassembles delimiter-framed JSON messages from an arbitrarily
// chunked byte stream and announces each one through its hub.
//
// A Parser belongs to one connection and must not be fed concurrently.
type Parser struct {
	hub *Hub
	buf []byte
	// scanned is how much of buf is known to hold no delimiter.
	scanned  int
	readSize int
}

// NewParser returns a parser announcing through hub. A nil hub gets a fresh one.
func NewParser(hub *Hub, opts ...ParserOption) *Parser {
	if hub == nil {
		hub = NewHub()
	}
	p := &Parser{hub: hub, readSize: DefaultReadSize}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Hub returns the hub the parser announces through.
func (p *Parser) Hub() *Hub {
	return p.hub
}

// Subscribe registers fn for category on the parser's hub.
func (p *Parser) Subscribe(category Category, fn func(Announcement)) *events.Subscription {
	return p.hub.Subscribe(category, fn)
}

// Receive appends chunk to the buffer and announces every frame it completes.
// Any trailing partial frame stays buffered for the next call.
func (p *Parser) Receive(chunk []byte) {
	p.buf = append(p.buf, chunk...)
	base := p.buf

	for {
		i := bytes.Index(p.buf[p.scanned:], delimiter)
		if i < 0 {
			break
		}
		end := p.scanned + i
		body := string(p.buf[:end])
		p.buf = p.buf[end+len(delimiter):]
		p.scanned = 0
		p.dispatch(body)
	}

	if len(p.buf) != len(base) {
		n := copy(base, p.buf)
		p.buf = base[:n]
		if n == 0 && cap(p.buf) > maxRetainedBuffer {
			p.buf = nil
		}
	}
	// A trailing '\r' may be completed by the next chunk.
	p.scanned = max(len(p.buf)-(len(delimiter)-1), 0)
}

// Write implements io.Writer on top of Receive. It never fails.
func (p *Parser) Write(b []byte) (int, error) {
	p.Receive(b)
	return len(b), nil
}

// Process feeds r into the parser until EOF, a read error or ctx is done.
// EOF is a clean end of stream and returns nil.
func (p *Parser) Process(ctx context.Context, r io.Reader) error {
	done := ctx.Done()
	chunk := make([]byte, p.readSize)

	for {
		select {
		case <-done:
			return ctx.Err()
		default:
		}

		n, err := r.Read(chunk)
		if n > 0 {
			p.Receive(chunk[:n])
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("failed to read stream: %w", err)
	}
}

// Buffered returns the partial frame waiting for its delimiter.
func (p *Parser) Buffered() string {
	return string(p.buf)
}

// Reset discards any partial frame.
func (p *Parser) Reset() {
	p.buf = p.buf[:0]
	p.scanned = 0
}

func (p *Parser) dispatch(body string) {
	if body == "" {
		p.hub.Announce(Ping, Announcement{Category: Ping})
		return
	}

	msg, err := decodeMessage(body)
	if err != nil {
		p.hub.Announce(Error, Announcement{
			Category: Error,
			Err:      &FrameError{Source: body, Err: err},
		})
		return
	}

	switch {
	case msg.Has("event"):
		p.announce(Named(EventName(msg["event"])), msg)
		p.announce(Event, msg)
	case msg.Has("delete"):
		p.announce(Delete, msg)
	case msg.Has("friends") || msg.Has("friends_str"):
		p.announce(Friends, msg)
	default:
		p.announce(Data, msg)
	}
}

func (p *Parser) announce(category Category, msg Message) {
	p.hub.Announce(category, Announcement{Category: category, Message: msg})
}

func decodeMessage(body string) (Message, error) {
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after JSON value")
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	return obj, nil
}
