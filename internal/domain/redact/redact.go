// Package redact implements the redaction middleware (C8): before every
// outbound call, known API keys are scrubbed from message text, and
// any residual command syntax that survived parsing is stripped as a
// defense-in-depth second pass. The same rewrite is applied to the wire
// capture record, so a raw key never reaches disk either.
package redact

import (
	"regexp"
	"strings"
	"sync"

	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/chatmsg"
)

// Placeholder is substituted for every discovered key occurrence.
const Placeholder = "(API_KEY_HAS_BEEN_REDACTED)"

// defaultPrefix mirrors command.DefaultPrefix; duplicated here (rather
// than imported) so this package stays free of a dependency on the
// command package's dispatch machinery for what is just a literal.
const defaultPrefix = "!/"

// commandSyntaxPattern is the defense-in-depth sweep for stray command
// text that the parser should already have removed (e.g. a command typed
// inside a non-text-processed message, or one the parser's segment logic
// didn't reach). It matches "<prefix><name>(...)" or a bare prefixed word,
// recompiled whenever the configured command prefix changes.
func commandSyntaxPattern(prefix string) *regexp.Regexp {
	return regexp.MustCompile(regexp.QuoteMeta(prefix) + `[A-Za-z][A-Za-z0-9_-]*(\([^)]*\))?`)
}

// Redactor scrubs known API keys from outbound text. It is safe for
// concurrent use; the key set can be refreshed as configuration/env
// changes without restarting the process.
type Redactor struct {
	mu     sync.RWMutex
	keys   []string // sorted longest-first so overlapping keys redact greedily
	prefix string
	sweep  *regexp.Regexp
}

// New constructs a Redactor from an initial key set (cmd/proxy passes the
// configured extra keys plus every backend's configured API keys; no
// environment variables are scanned for further keys), using the
// default command prefix for the defense-in-depth sweep until SetPrefix
// is called with the configured one.
func New(keys []string) *Redactor {
	r := &Redactor{}
	r.SetPrefix(defaultPrefix)
	r.SetKeys(keys)
	return r
}

// SetPrefix recompiles the defense-in-depth command-syntax sweep for a
// non-default command prefix; cmd/proxy calls it once at startup with the
// configured prefix.
func (r *Redactor) SetPrefix(prefix string) {
	if prefix == "" {
		prefix = defaultPrefix
	}
	r.mu.Lock()
	r.prefix = prefix
	r.sweep = commandSyntaxPattern(prefix)
	r.mu.Unlock()
}

// SetKeys replaces the known key set, e.g. after a config reload.
func (r *Redactor) SetKeys(keys []string) {
	cleaned := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			cleaned = append(cleaned, k)
		}
	}
	// Longest-first so a key that is a prefix of another doesn't partially
	// mask it.
	for i := 1; i < len(cleaned); i++ {
		for j := i; j > 0 && len(cleaned[j]) > len(cleaned[j-1]); j-- {
			cleaned[j], cleaned[j-1] = cleaned[j-1], cleaned[j]
		}
	}
	r.mu.Lock()
	r.keys = cleaned
	r.mu.Unlock()
}

// RedactText replaces every occurrence of a known key with Placeholder
// and strips any residual command syntax.
func (r *Redactor) RedactText(text string) string {
	r.mu.RLock()
	keys := r.keys
	sweep := r.sweep
	r.mu.RUnlock()

	for _, k := range keys {
		if k == "" {
			continue
		}
		text = strings.ReplaceAll(text, k, Placeholder)
	}
	return sweep.ReplaceAllString(text, "")
}

// RedactMessages rewrites user-visible text parts of every message in
// place on a copy, leaving non-text parts untouched. Applied to the
// outbound request payload and mirrored onto the wire-capture record.
func (r *Redactor) RedactMessages(messages []chatmsg.Message) []chatmsg.Message {
	out := make([]chatmsg.Message, len(messages))
	for i, m := range messages {
		cp := m.Clone()
		if cp.IsMultipart() {
			for j, part := range cp.Parts {
				if part.Type == chatmsg.PartText {
					cp.Parts[j].Text = r.RedactText(part.Text)
				}
			}
		} else {
			cp.Content = r.RedactText(cp.Content)
		}
		out[i] = cp
	}
	return out
}
