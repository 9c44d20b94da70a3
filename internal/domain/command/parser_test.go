package command

import (
	"testing"

	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/session"
)

type stubHandler struct {
	name    string
	aliases []string
	fn      func(Args, *session.State, Context) (Result, *session.State)
}

func (h stubHandler) Name() string          { return h.name }
func (h stubHandler) Aliases() []string     { return h.aliases }
func (h stubHandler) Description() string   { return "stub" }
func (h stubHandler) Examples() []string    { return nil }
func (h stubHandler) Handle(a Args, s *session.State, c Context) (Result, *session.State) {
	return h.fn(a, s, c)
}

func newTestDispatcher(reg *Registry, preserveUnknown bool) *Dispatcher {
	return &Dispatcher{
		Registry:        reg,
		PreserveUnknown: preserveUnknown,
		Context:         Context{CommandPrefix: DefaultPrefix},
	}
}

func TestFindCommands_CallForm(t *testing.T) {
	matches := findCommands("hi !/set(temperature=0.2) there", DefaultPrefix)
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if matches[0].name != "set" || matches[0].argsStr != "temperature=0.2" {
		t.Fatalf("unexpected match: %+v", matches[0])
	}
}

func TestFindCommands_BareHelloAndHelp(t *testing.T) {
	matches := findCommands("!/hello and !/help", DefaultPrefix)
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if !matches[0].bare || matches[0].name != "hello" {
		t.Fatalf("expected bare hello, got %+v", matches[0])
	}
}

func TestFindCommands_HelloWithParensIsCallForm(t *testing.T) {
	// "hello" immediately followed by "(" must NOT match the bare form.
	matches := findCommands("!/hello(foo=1)", DefaultPrefix)
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if matches[0].bare {
		t.Fatal("expected call form, not bare form, when hello is followed by (")
	}
	if matches[0].argsStr != "foo=1" {
		t.Fatalf("unexpected args: %q", matches[0].argsStr)
	}
}

func TestParseArgs_BareAndQuoted(t *testing.T) {
	args := ParseArgs(`name=demo, policy="km", flag`)
	if args["name"] != "demo" {
		t.Fatalf("got name=%v", args["name"])
	}
	if args["policy"] != "km" {
		t.Fatalf("got policy=%v", args["policy"])
	}
	if args["flag"] != true {
		t.Fatalf("got flag=%v", args["flag"])
	}
}

func TestProcessText_RemovesCommandSpanAndNormalizesWhitespace(t *testing.T) {
	reg := NewRegistry()
	reg.Register(stubHandler{
		name: "set",
		fn: func(a Args, s *session.State, c Context) (Result, *session.State) {
			return Result{Success: true, Message: "ok"}, s
		},
	})
	d := newTestDispatcher(reg, true)

	text, found, results, _ := d.ProcessText("!/set(temperature=0.2)   Summarize:   hi", session.Default())
	if !found {
		t.Fatal("expected a command to be found")
	}
	if text != "Summarize: hi" {
		t.Fatalf("got %q", text)
	}
	if len(results) != 1 || !results[0].Success {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestProcessText_UnknownCommandPreservedInNonInteractive(t *testing.T) {
	d := newTestDispatcher(NewRegistry(), true)
	text, found, results, _ := d.ProcessText("do !/bogus(x=1) thing", session.Default())
	if !found {
		t.Fatal("expected found=true even for unknown commands")
	}
	if text != "do !/bogus(x=1) thing" {
		t.Fatalf("expected unknown command preserved verbatim, got %q", text)
	}
	if results[0].Success {
		t.Fatal("expected unknown command to fail")
	}
}

func TestProcessText_UnknownCommandDroppedInInteractive(t *testing.T) {
	d := newTestDispatcher(NewRegistry(), false)
	text, _, _, _ := d.ProcessText("do !/bogus(x=1) thing", session.Default())
	if text != "do thing" {
		t.Fatalf("expected unknown command dropped, got %q", text)
	}
}

func TestProcessText_StripsXMLTagsAndComments(t *testing.T) {
	d := newTestDispatcher(NewRegistry(), true)
	text, _, _, _ := d.ProcessText("!/hello <b>bold</b>\n# a comment\nkeep", session.Default())
	if containsAny(text, "<", ">") {
		t.Fatalf("expected XML-like tags stripped, got %q", text)
	}
	if !containsAny(text, "bold") || !containsAny(text, "keep") {
		t.Fatalf("expected surviving text content, got %q", text)
	}
}

func TestProcessText_OnlyFirstCommandInSegmentRuns(t *testing.T) {
	reg := NewRegistry()
	reg.Register(stubHandler{
		name: "bump",
		fn: func(a Args, s *session.State, c Context) (Result, *session.State) {
			return Result{Success: true}, s.WithProject(s.Project + "x")
		},
	})
	d := newTestDispatcher(reg, true)

	text, _, results, finalState := d.ProcessText("!/bump() !/bump() !/bump()", session.Default())
	if finalState.Project != "x" {
		t.Fatalf("expected only the first command to run, got project %q", finalState.Project)
	}
	if len(results) != 1 {
		t.Fatalf("expected exactly 1 result, got %d", len(results))
	}
	if !containsAny(text, "!/bump()") {
		t.Fatalf("expected the later, unprocessed commands to survive as literal text, got %q", text)
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		for i := 0; i+len(sub) <= len(s); i++ {
			if s[i:i+len(sub)] == sub {
				return true
			}
		}
	}
	return false
}
