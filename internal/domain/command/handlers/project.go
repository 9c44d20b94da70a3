package handlers

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/command"
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/session"
)

// Project implements `!/project(name)`.
type Project struct{}

func (Project) Name() string        { return "project" }
func (Project) Aliases() []string   { return nil }
func (Project) Description() string { return "Tag the session with a project name." }
func (Project) Examples() []string  { return []string{"!/project(my-app)"} }

func (Project) Handle(args command.Args, s *session.State, _ command.Context) (command.Result, *session.State) {
	name, _ := firstArgKey(args)
	if name == "" {
		return command.Result{Success: false, Message: "project requires a name"}, s
	}
	return command.Result{Success: true, Message: "project set to " + name}, s.WithProject(name)
}

// ProjectDir implements `!/project-dir(path)`. Existence/readability
// validation happens here (the call site), not in the session value
// object, which stays free of filesystem access.
type ProjectDir struct{}

func (ProjectDir) Name() string        { return "project-dir" }
func (ProjectDir) Aliases() []string   { return nil }
func (ProjectDir) Description() string { return "Set the project directory for this session, must exist and be readable." }
func (ProjectDir) Examples() []string  { return []string{"!/project-dir(~/code/my-app)"} }

func (ProjectDir) Handle(args command.Args, s *session.State, _ command.Context) (command.Result, *session.State) {
	raw, _ := firstArgKey(args)
	if raw == "" {
		return command.Result{Success: false, Message: "project-dir requires a path"}, s
	}
	dir := expandHome(raw)
	info, err := os.Stat(dir)
	if err != nil {
		return command.Result{Success: false, Message: "project-dir does not exist: " + dir}, s
	}
	if !info.IsDir() {
		return command.Result{Success: false, Message: "project-dir is not a directory: " + dir}, s
	}
	f, err := os.Open(dir)
	if err != nil {
		return command.Result{Success: false, Message: "project-dir is not readable: " + dir}, s
	}
	f.Close()
	return command.Result{Success: true, Message: "project-dir set to " + dir}, s.WithProjectDir(dir)
}

func expandHome(path string) string {
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// Pwd implements `!/pwd`, a supplemented feature reporting the session's
// current project directory.
type Pwd struct{}

func (Pwd) Name() string        { return "pwd" }
func (Pwd) Aliases() []string   { return nil }
func (Pwd) Description() string { return "Report the session's current project directory." }
func (Pwd) Examples() []string  { return []string{"!/pwd"} }

func (Pwd) Handle(_ command.Args, s *session.State, _ command.Context) (command.Result, *session.State) {
	if s.ProjectDir == "" {
		return command.Result{Success: true, Message: "no project-dir set"}, s
	}
	return command.Result{Success: true, Message: s.ProjectDir}, s
}
