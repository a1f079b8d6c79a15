package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestGatedWriter_BuffersWhileClosed(t *testing.T) {
	var out bytes.Buffer
	gw := NewGatedWriter(GatedWriterConfig{
		Underlying:   &out,
		InitialState: GateClosed,
	})

	if _, err := gw.Write([]byte("first\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := gw.Write([]byte("second\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if out.Len() != 0 {
		t.Errorf("expected no output while gate closed, got %q", out.String())
	}
	if gw.BufferedSize() == 0 {
		t.Error("expected buffered logs")
	}

	if err := gw.OpenGate(); err != nil {
		t.Fatalf("open gate failed: %v", err)
	}

	if got := out.String(); got != "first\nsecond\n" {
		t.Errorf("expected buffered logs flushed in order, got %q", got)
	}
	if gw.BufferedSize() != 0 {
		t.Error("expected buffer drained after gate opened")
	}
}

func TestGatedWriter_PassThroughWhileOpen(t *testing.T) {
	var out bytes.Buffer
	gw := NewGatedWriter(GatedWriterConfig{
		Underlying:   &out,
		InitialState: GateOpen,
	})

	if _, err := gw.Write([]byte("direct\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if got := out.String(); got != "direct\n" {
		t.Errorf("expected direct write, got %q", got)
	}
}

func TestGatedWriter_MaxBufferDiscardsOldest(t *testing.T) {
	var out bytes.Buffer
	gw := NewGatedWriter(GatedWriterConfig{
		Underlying:    &out,
		InitialState:  GateClosed,
		MaxBufferSize: 10,
	})

	gw.Write([]byte("aaaaa"))
	gw.Write([]byte("bbbbb"))
	gw.Write([]byte("ccccc"))

	if gw.BufferedSize() > 10 {
		t.Errorf("buffer exceeded limit: %d", gw.BufferedSize())
	}

	gw.OpenGate()
	if !strings.HasSuffix(out.String(), "ccccc") {
		t.Errorf("expected newest logs kept, got %q", out.String())
	}
}

func TestGatedLogger_SharedGateAcrossSubsystems(t *testing.T) {
	var out bytes.Buffer
	gl, _ := NewGatedLogger(&Config{
		Level:  InfoLevel,
		Format: JSONFormat,
	}, GatedWriterConfig{
		Underlying:   &out,
		InitialState: GateClosed,
	})

	child := gl.WithSystem("storage")
	child.Info("hello from storage")
	gl.Info("hello from core")

	if out.Len() != 0 {
		t.Errorf("expected gate closed, got %q", out.String())
	}

	if err := gl.OpenGate(); err != nil {
		t.Fatalf("open gate failed: %v", err)
	}
	if !child.IsGateOpen() {
		t.Error("expected child logger to share the opened gate")
	}
	if !strings.Contains(out.String(), "hello from storage") {
		t.Errorf("expected buffered subsystem log flushed, got %q", out.String())
	}
}
