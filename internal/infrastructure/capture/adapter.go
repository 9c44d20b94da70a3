package capture

import (
	"time"

	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/request"
)

// Adapter implements request.CaptureWriter (C12's narrow view for C11),
// translating the domain layer's direction/meta strings into this
// package's Record shape without the request package ever depending on
// infrastructure.
type Adapter struct {
	Sink *Capture
}

// NewAdapter wraps a Capture for use as C11's CaptureWriter.
func NewAdapter(c *Capture) *Adapter {
	return &Adapter{Sink: c}
}

// Capture implements request.CaptureWriter.
func (a *Adapter) Capture(direction string, meta request.CaptureMeta, payload []byte) {
	a.Sink.Write(Record{
		Direction: Direction(direction),
		Timestamp: time.Now(),
		ClientIP:  meta.ClientIP,
		Agent:     meta.Agent,
		SessionID: meta.SessionID,
		Backend:   meta.Backend,
		Model:     meta.Model,
		KeyName:   meta.KeyName,
		Payload:   payload,
	})
}

var _ request.CaptureWriter = (*Adapter)(nil)
