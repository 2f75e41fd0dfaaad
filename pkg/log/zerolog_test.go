package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestZerologAdapter_Fields(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerologAdapterWithLogger(zerolog.New(&buf))

	l.Info("batch flushed",
		String("path", "/var/log/app.log"),
		Int("lines", 2),
		Int64("offset", 42),
		Bool("final", true),
		Duration("took", time.Second),
		Err(errors.New("boom")),
	)

	var got map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v (%s)", err, buf.String())
	}
	if got["message"] != "batch flushed" {
		t.Errorf("message = %v, want batch flushed", got["message"])
	}
	if got["path"] != "/var/log/app.log" {
		t.Errorf("path = %v", got["path"])
	}
	if got["lines"] != float64(2) {
		t.Errorf("lines = %v, want 2", got["lines"])
	}
	if got["offset"] != float64(42) {
		t.Errorf("offset = %v, want 42", got["offset"])
	}
	if got["error"] != "boom" {
		t.Errorf("error = %v, want boom", got["error"])
	}
	if got["level"] != "info" {
		t.Errorf("level = %v, want info", got["level"])
	}
}

func TestZerologAdapter_With(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerologAdapterWithLogger(zerolog.New(&buf)).With(String("dir", "/var/log"))

	l.Warn("overflow")

	var got map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["dir"] != "/var/log" {
		t.Errorf("dir = %v, want /var/log", got["dir"])
	}
	if got["level"] != "warn" {
		t.Errorf("level = %v, want warn", got["level"])
	}
}

func TestNoopLogger(t *testing.T) {
	var l Logger = NewNoopLogger()
	l.Debug("x")
	l.With(String("k", "v")).Error("y", Err(errors.New("z")))
}
