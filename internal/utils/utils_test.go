package utils

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"
)

func TestGenerateImageID(t *testing.T) {
	// Integration test using the OS filesystem
	tmp, err := os.CreateTemp("", "image_test*.jpg")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmp.Name())

	// Write dummy content
	if _, err := tmp.Write([]byte("fake image content")); err != nil {
		t.Fatal(err)
	}
	tmp.Close()

	id, err := GenerateImageID(tmp.Name())
	if err != nil || id == "" {
		t.Errorf("Failed to generate ID: %v", err)
	}

	// Verify Determinism
	id2, _ := GenerateImageID(tmp.Name())
	if id != id2 {
		t.Errorf("Hash is not deterministic. Got %s, then %s", id, id2)
	}

	// Verify Sensitivity (Change content -> Change ID)
	f, _ := os.OpenFile(tmp.Name(), os.O_APPEND|os.O_WRONLY, 0644)
	f.Write([]byte(" modification"))
	f.Close()
	// Make sure mtime moves even on coarse filesystems
	future := time.Now().Add(time.Minute)
	os.Chtimes(tmp.Name(), future, future)

	id3, _ := GenerateImageID(tmp.Name())
	if id == id3 {
		t.Error("Hash did not change after file modification")
	}

	if _, err := GenerateImageID("does-not-exist.png"); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestIsImagePath(t *testing.T) {
	tests := map[string]bool{
		"a.jpg":       true,
		"b.JPEG":      true,
		"c.png":       true,
		"d.webp":      true,
		"e.tiff":      true,
		"f.txt":       false,
		"noextension": false,
	}
	for path, want := range tests {
		if got := IsImagePath(path); got != want {
			t.Errorf("IsImagePath(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestShowError(t *testing.T) {
	var buf bytes.Buffer
	old := errOut
	errOut = &buf
	defer func() { errOut = old }()

	s := &SafeCommand{Stderr: bytes.NewBufferString("Traceback: boom")}
	ShowError("Locator crashed", errors.New("broken pipe"), s)

	out := buf.String()
	for _, want := range []string{"Locator crashed", "broken pipe", "Traceback: boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("ShowError output missing %q:\n%s", want, out)
		}
	}
}

func TestLoggerDefaultsSilent(t *testing.T) {
	if Logger().Enabled(context.Background(), slog.LevelError) {
		t.Fatal("default logger should be disabled")
	}

	var buf bytes.Buffer
	SetLogger(slog.New(slog.NewTextHandler(&buf, nil)))
	Logger().Info("hello", "k", "v")
	if !strings.Contains(buf.String(), "hello") {
		t.Errorf("custom logger not used: %q", buf.String())
	}

	SetLogger(nil)
	if Logger().Enabled(context.Background(), slog.LevelError) {
		t.Fatal("SetLogger(nil) should restore the silent logger")
	}
}
