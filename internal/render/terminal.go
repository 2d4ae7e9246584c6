package render

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/cli/go-gh/v2/pkg/markdown"
	"go.uber.org/zap"

	"github.com/markis/firehose/internal/config"
	"github.com/markis/firehose/internal/events"
	"github.com/markis/firehose/internal/stream"
)

type TerminalRenderer struct {
	out      io.Writer
	log      *zap.Logger
	format   string
	markdown *glamour.TermRenderer
}

func NewTerminalRenderer(out io.Writer, cfg config.Render, log *zap.Logger) (*TerminalRenderer, error) {
	if log == nil {
		log = zap.NewNop()
	}

	t := &TerminalRenderer{
		out:    out,
		log:    log,
		format: cfg.Format,
	}

	if cfg.Format == config.FormatMarkdown {
		md, err := glamour.NewTermRenderer(
			markdown.WithWrap(cfg.Wrap),
			glamour.WithAutoStyle(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create markdown renderer: %w", err)
		}
		t.markdown = md
	}

	return t, nil
}

// Attach subscribes the renderer to every fixed category of p.
func (t *TerminalRenderer) Attach(p *stream.Parser) []*events.Subscription {
	return []*events.Subscription{
		p.Subscribe(stream.Data, t.onData),
		p.Subscribe(stream.Delete, t.onDelete),
		p.Subscribe(stream.Friends, t.onFriends),
		p.Subscribe(stream.Event, t.onEvent),
		p.Subscribe(stream.Ping, t.onPing),
		p.Subscribe(stream.Error, t.onError),
	}
}

func (t *TerminalRenderer) onData(a stream.Announcement) {
	if t.format == config.FormatJSON {
		t.writeJSON(a.Message)
		return
	}

	text := statusText(a.Message)
	if text == "" {
		t.log.Debug("skipping item without text", zap.Any("keys", keys(a.Message)))
		return
	}

	user := a.Message.Object("user").String("screen_name")
	if t.format == config.FormatPlain {
		if user != "" {
			t.printf("@%s: %s\n", user, text)
		} else {
			t.printf("%s\n", text)
		}
		return
	}

	content := text
	if user != "" {
		content = fmt.Sprintf("**@%s**\n\n%s", user, text)
	}
	if err := t.renderContent(content); err != nil {
		t.log.Warn("render failed", zap.Error(err))
	}
}

func (t *TerminalRenderer) onDelete(a stream.Announcement) {
	if t.format == config.FormatJSON {
		t.writeJSON(a.Message)
		return
	}

	status := a.Message.Object("delete").Object("status")
	id := status.String("id_str")
	if id == "" {
		id = fmt.Sprint(status["id"])
	}
	t.printf("deleted status %s\n", id)
}

func (t *TerminalRenderer) onFriends(a stream.Announcement) {
	if t.format == config.FormatJSON {
		t.writeJSON(a.Message)
		return
	}

	list, ok := a.Message["friends"].([]any)
	if !ok {
		list, _ = a.Message["friends_str"].([]any)
	}
	t.printf("following %d accounts\n", len(list))
}

func (t *TerminalRenderer) onEvent(a stream.Announcement) {
	if t.format == config.FormatJSON {
		t.writeJSON(a.Message)
		return
	}

	name := stream.EventName(a.Message["event"])
	source := a.Message.Object("source").String("screen_name")
	target := a.Message.Object("target").String("screen_name")
	switch {
	case source != "" && target != "":
		t.printf("event %s: @%s -> @%s\n", name, source, target)
	default:
		t.printf("event %s\n", name)
	}
}

func (t *TerminalRenderer) onPing(stream.Announcement) {
	t.log.Debug("keep-alive")
}

func (t *TerminalRenderer) onError(a stream.Announcement) {
	var fe *stream.FrameError
	if errors.As(a.Err, &fe) {
		t.log.Warn("skipping malformed frame", zap.String("source", fe.Source), zap.Error(fe.Err))
		return
	}
	t.log.Warn("stream error", zap.Error(a.Err))
}

func (t *TerminalRenderer) renderContent(content string) error {
	content = strings.TrimSpace(content)

	mdContent, err := t.markdown.Render(content)
	if err != nil {
		return fmt.Errorf("failed to render markdown: %w", err)
	}

	t.printf("%s\n", strings.TrimSpace(mdContent))
	return nil
}

func (t *TerminalRenderer) writeJSON(msg stream.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		t.log.Warn("failed to encode message", zap.Error(err))
		return
	}
	t.printf("%s\n", data)
}

func (t *TerminalRenderer) printf(format string, args ...any) {
	if _, err := fmt.Fprintf(t.out, format, args...); err != nil {
		t.log.Warn("failed to write output", zap.Error(err))
	}
}

// statusText prefers the untruncated text of extended statuses.
func statusText(m stream.Message) string {
	if text := m.Object("extended_tweet").String("full_text"); text != "" {
		return text
	}
	if text := m.String("full_text"); text != "" {
		return text
	}
	return m.String("text")
}

func keys(m stream.Message) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
