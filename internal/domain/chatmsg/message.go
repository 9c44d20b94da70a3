// Package chatmsg defines the canonical chat message shape shared by the
// command parser (C3), the redaction middleware (C8), and the request
// processor (C11), so none of them needs to depend on the others just to
// describe "a chat message".
package chatmsg

// Role is the speaker of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType distinguishes text parts (which commands/redaction operate on)
// from opaque non-text parts (images, audio, …) that are preserved
// verbatim.
type PartType string

const (
	PartText    PartType = "text"
	PartOpaque  PartType = "opaque"
)

// Part is one piece of multimodal content. Non-text parts carry their
// original wire representation in Raw and are never inspected or
// rewritten by the command parser or redaction middleware.
type Part struct {
	Type PartType
	Text string
	Raw  map[string]any
}

// Message is the canonical chat message: content is either a plain
// string or an ordered sequence of Parts, never both.
type Message struct {
	Role        Role
	Content     string
	Parts       []Part
	ToolCallID  string
	Name        string
}

// IsMultipart reports whether this message uses the Parts representation.
func (m *Message) IsMultipart() bool { return m.Parts != nil }

// Clone returns a deep copy so processing pipelines can rewrite content
// without aliasing the caller's slice/message.
func (m Message) Clone() Message {
	cp := m
	if m.Parts != nil {
		cp.Parts = make([]Part, len(m.Parts))
		copy(cp.Parts, m.Parts)
	}
	return cp
}
