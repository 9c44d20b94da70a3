package capture

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestCapture_DisabledNeverWrites(t *testing.T) {
	dir := t.TempDir()
	c := New(Config{Enabled: false, Dir: dir, File: "wire.log"})
	c.Write(Record{Direction: DirectionRequest, Timestamp: time.Now(), SessionID: "s1"})
	if _, err := os.Stat(filepath.Join(dir, "wire.log")); !os.IsNotExist(err) {
		t.Fatalf("expected no file written while disabled")
	}
}

func TestCapture_WritesHeaderAndBody(t *testing.T) {
	dir := t.TempDir()
	c := New(Config{Enabled: true, Dir: dir, File: "wire.log", TruncateBytes: 1000})
	c.Write(Record{
		Direction: DirectionRequest,
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		ClientIP:  "1.2.3.4",
		SessionID: "s1",
		Backend:   "openai",
		Model:     "gpt-4",
		Payload:   []byte(`{"hello":"world"}`),
	})
	data, err := os.ReadFile(filepath.Join(dir, "wire.log"))
	if err != nil {
		t.Fatalf("read capture file: %v", err)
	}
	got := string(data)
	if !strings.Contains(got, "----- REQUEST 2026-01-02T03:04:05Z -----") {
		t.Fatalf("missing header: %s", got)
	}
	if !strings.Contains(got, "client=1.2.3.4") || !strings.Contains(got, "session=s1") || !strings.Contains(got, "backend=openai model=gpt-4") {
		t.Fatalf("missing metadata line: %s", got)
	}
	if !strings.Contains(got, `{"hello":"world"}`) {
		t.Fatalf("missing payload: %s", got)
	}
}

func TestCapture_TruncatesOversizedPayload(t *testing.T) {
	dir := t.TempDir()
	c := New(Config{Enabled: true, Dir: dir, File: "wire.log", TruncateBytes: 5})
	c.Write(Record{Direction: DirectionReply, Timestamp: time.Now(), SessionID: "s1", Payload: []byte("0123456789")})
	data, _ := os.ReadFile(filepath.Join(dir, "wire.log"))
	if !strings.Contains(string(data), truncatedMarker) {
		t.Fatalf("expected truncation marker, got %s", data)
	}
	if strings.Contains(string(data), "56789") {
		t.Fatalf("expected payload cut at 5 bytes, got %s", data)
	}
}

func TestCapture_RotatesOnSize(t *testing.T) {
	dir := t.TempDir()
	c := New(Config{Enabled: true, Dir: dir, File: "wire.log", MaxFileBytes: 10, MaxRotations: 3, TruncateBytes: 1000})
	for i := 0; i < 3; i++ {
		c.Write(Record{Direction: DirectionRequest, Timestamp: time.Now(), SessionID: "s1", Payload: []byte("0123456789abcdef")})
	}
	if _, err := os.Stat(filepath.Join(dir, "wire.log.1")); err != nil {
		t.Fatalf("expected rotated file wire.log.1 to exist: %v", err)
	}
}

func TestCapture_MisconfiguredDirNeverPanics(t *testing.T) {
	c := New(Config{Enabled: true, Dir: "/dev/null/not-a-real-dir", File: "wire.log"})
	c.Write(Record{Direction: DirectionRequest, Timestamp: time.Now(), SessionID: "s1"})
}
