package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestNewWithWritersFansOut(t *testing.T) {
	var a, b bytes.Buffer
	l := NewWithWriters(false, &a, &b)

	l.Info("connected", zap.String("endpoint", "https://stream.example.com"))

	for _, buf := range []*bytes.Buffer{&a, &b} {
		assert.Contains(t, buf.String(), "connected")
		assert.Contains(t, buf.String(), "INFO")
		assert.Contains(t, buf.String(), "stream.example.com")
	}
}

func TestDebugLevel(t *testing.T) {
	var quiet, loud bytes.Buffer

	NewWithWriters(false, &quiet).Debug("ping")
	NewWithWriters(true, &loud).Debug("ping")

	assert.Empty(t, quiet.String())
	assert.Contains(t, loud.String(), "ping")
}
