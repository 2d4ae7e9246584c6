package render

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/markis/firehose/internal/config"
	"github.com/markis/firehose/internal/stream"
)

func newRenderer(t *testing.T, format string) (*stream.Parser, *bytes.Buffer, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	var out bytes.Buffer

	r, err := NewTerminalRenderer(&out, config.Render{Format: format, Wrap: 80}, zap.New(core))
	require.NoError(t, err)

	p := stream.NewParser(nil)
	r.Attach(p)
	return p, &out, logs
}

func TestPlainOutput(t *testing.T) {
	p, out, _ := newRenderer(t, config.FormatPlain)

	p.Receive([]byte(`{"text":"short","user":{"screen_name":"alice"}}` + "\r\n"))
	p.Receive([]byte(`{"text":"cut…","extended_tweet":{"full_text":"the whole thing"}}` + "\r\n"))
	p.Receive([]byte(`{"delete":{"status":{"id":1,"id_str":"1"}}}` + "\r\n"))
	p.Receive([]byte(`{"friends":[1,2,3]}` + "\r\n"))
	p.Receive([]byte(`{"event":"follow","source":{"screen_name":"bob"},"target":{"screen_name":"alice"}}` + "\r\n"))

	assert.Equal(t,
		"@alice: short\n"+
			"the whole thing\n"+
			"deleted status 1\n"+
			"following 3 accounts\n"+
			"event follow: @bob -> @alice\n",
		out.String())
}

func TestJSONOutput(t *testing.T) {
	p, out, _ := newRenderer(t, config.FormatJSON)

	p.Receive([]byte(`{"id":1234567890123456789}` + "\r\n" + `{"event":"x"}` + "\r\n"))

	assert.Equal(t, `{"id":1234567890123456789}`+"\n"+`{"event":"x"}`+"\n", out.String())
}

func TestMarkdownOutput(t *testing.T) {
	p, out, _ := newRenderer(t, config.FormatMarkdown)

	p.Receive([]byte(`{"text":"hello","user":{"screen_name":"carol"}}` + "\r\n"))

	assert.Contains(t, out.String(), "hello")
	assert.Contains(t, out.String(), "carol")
}

func TestPingAndErrorsGoToLog(t *testing.T) {
	p, out, logs := newRenderer(t, config.FormatPlain)

	p.Receive([]byte("\r\nnot json\r\n"))

	assert.Empty(t, out.String())
	assert.Equal(t, 1, logs.FilterMessage("keep-alive").Len())

	malformed := logs.FilterMessage("skipping malformed frame").All()
	require.Len(t, malformed, 1)
	assert.Equal(t, "not json", malformed[0].ContextMap()["source"])
}

func TestItemWithoutTextIsSkipped(t *testing.T) {
	p, out, logs := newRenderer(t, config.FormatPlain)

	p.Receive([]byte(`{"limit":{"track":12}}` + "\r\n"))

	assert.Empty(t, out.String())
	assert.Equal(t, 1, logs.FilterMessage("skipping item without text").Len())
}

func TestNonStringEventNames(t *testing.T) {
	p, out, _ := newRenderer(t, config.FormatPlain)

	p.Receive([]byte(`{"event":42}` + "\r\n" + `{"event":null}` + "\r\n"))

	assert.Equal(t, "event 42\nevent null\n", out.String())
}
