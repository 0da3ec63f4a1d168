package host

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/beachside/beach/internal/logger"
)

// configFiles maps a hosted command's name to the dotfiles it is known to
// rewrite in place, so a session can restore them on exit without the
// operator noticing a diff in their own config.
var configFiles = map[string][]string{
	"claude": {"~/.claude/settings.json"},
	"codex":  {"~/.codex/config.json"},
	"cursor": {"~/.cursor/settings.json"},
}

// ConfigSnapshot holds the pre-session contents of a command's config
// files so they can be restored after the session ends.
type ConfigSnapshot struct {
	files map[string][]byte // path -> original content (nil = didn't exist)
}

// SnapshotConfig reads the known config files for command and remembers
// their contents. Returns nil if command has no registered config files.
func SnapshotConfig(command string) *ConfigSnapshot {
	paths, ok := configFiles[command]
	if !ok {
		return nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	snap := &ConfigSnapshot{files: make(map[string][]byte)}
	for _, p := range paths {
		abs := expandTilde(p, home)
		data, err := os.ReadFile(abs)
		if err != nil {
			snap.files[abs] = nil
		} else {
			snap.files[abs] = data
		}
	}
	return snap
}

// Restore reverts every snapshotted file to its pre-session state,
// removing files the hosted command created that did not previously exist.
func (s *ConfigSnapshot) Restore() {
	if s == nil {
		return
	}
	for path, data := range s.files {
		if data == nil {
			if _, err := os.Stat(path); err == nil {
				logger.Log.Info("removing session-created config", "path", path)
				os.Remove(path)
			}
			continue
		}
		current, err := os.ReadFile(path)
		if err != nil || string(current) != string(data) {
			logger.Log.Info("restoring config", "path", path)
			os.MkdirAll(filepath.Dir(path), 0700)
			os.WriteFile(path, data, 0600)
		}
	}
}

func expandTilde(p, home string) string {
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(home, p[2:])
	}
	return p
}
