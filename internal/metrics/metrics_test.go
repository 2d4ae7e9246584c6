package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markis/firehose/internal/events"
	"github.com/markis/firehose/internal/stream"
)

func TestAttachCountsCategories(t *testing.T) {
	m := New()
	p := stream.NewParser(nil)
	m.Attach(p)

	p.Receive([]byte("\r\n\r\n" +
		`{"event":"favorite"}` + "\r\n" +
		`{"delete":{}}` + "\r\n" +
		`{"text":"hi"}` + "\r\n" +
		`nope` + "\r\n"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesAnnounced.WithLabelValues("ping")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesAnnounced.WithLabelValues("event")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesAnnounced.WithLabelValues("delete")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesAnnounced.WithLabelValues("data")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesAnnounced.WithLabelValues("error")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.FramesAnnounced.WithLabelValues("friends")))
}

func TestRecordFault(t *testing.T) {
	m := New()
	hub := stream.NewHub(events.WithFaultHandler[stream.Category](m.RecordFault))
	p := stream.NewParser(hub)
	p.Subscribe(stream.Data, func(stream.Announcement) { panic("listener bug") })

	p.Receive([]byte(`{"id":1}` + "\r\n"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ListenerFaults.WithLabelValues("data")))
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	p := stream.NewParser(nil)
	m.Attach(p)
	p.Receive([]byte("\r\n"))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `firehose_frames_announced_total{category="ping"} 1`)
}
