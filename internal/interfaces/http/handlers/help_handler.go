package handlers

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/yuin/goldmark"

	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/command"
)

// HelpHandler serves a small human-readable debug page listing every
// registered command (spec.md §4.4's handler set), rendered from
// Markdown to HTML via goldmark — the same registry the `!/help` command
// handler enumerates, given a browsable home here instead of only the
// in-band text reply.
type HelpHandler struct {
	Registry      *command.Registry
	CommandPrefix string
}

// NewHelpHandler constructs the /help debug page handler.
func NewHelpHandler(registry *command.Registry, commandPrefix string) *HelpHandler {
	return &HelpHandler{Registry: registry, CommandPrefix: commandPrefix}
}

// Help handles GET /help: renders every registered command's name,
// description, and examples as Markdown, converts it to HTML, and
// serves it directly (no template engine — this is a debug aid, not a
// user-facing product surface).
func (h *HelpHandler) Help(c *gin.Context) {
	md := h.renderMarkdown()

	var html strings.Builder
	html.WriteString("<!DOCTYPE html><html><head><meta charset=\"utf-8\"><title>Commands</title></head><body>\n")
	if err := goldmark.Convert([]byte(md), &html); err != nil {
		c.Data(500, "text/plain; charset=utf-8", []byte("failed to render help: "+err.Error()))
		return
	}
	html.WriteString("\n</body></html>")

	c.Data(200, "text/html; charset=utf-8", []byte(html.String()))
}

func (h *HelpHandler) renderMarkdown() string {
	if h.Registry == nil {
		return "# Commands\n\nno commands registered"
	}

	all := h.Registry.All()
	sort.Slice(all, func(i, j int) bool { return all[i].Name() < all[j].Name() })

	var b strings.Builder
	fmt.Fprintf(&b, "# Commands\n\nPrefix: `%s`\n\n", h.CommandPrefix)
	for _, handler := range all {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", handler.Name(), handler.Description())
		if aliases := handler.Aliases(); len(aliases) > 0 {
			fmt.Fprintf(&b, "Aliases: %s\n\n", strings.Join(aliases, ", "))
		}
		for _, ex := range handler.Examples() {
			fmt.Fprintf(&b, "    %s\n", ex)
		}
		b.WriteString("\n")
	}
	return b.String()
}
