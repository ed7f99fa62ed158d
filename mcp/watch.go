package mcp

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"pkt.systems/walletd/internal/session"
	"pkt.systems/walletd/internal/svcfields"
)

// watchSession revokes the server the instant the session file disappears.
// Lock on the shell side deletes session.json; the watcher turns that into
// cancelled outbound calls without waiting for the next tool invocation.
func (s *server) watchSession(ctx context.Context) {
	logger := svcfields.WithSubsystem(s.logger, "mcp.session.watch")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("session watch unavailable", "error", err)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(s.cfg.WatchDir); err != nil {
		logger.Warn("session watch unavailable", "dir", s.cfg.WatchDir, "error", err)
		return
	}
	sessionPath := filepath.Join(s.cfg.WatchDir, session.FileName)
	logger.Debug("watching session file", "path", sessionPath)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Name != sessionPath {
				continue
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				s.revoke("session file removed")
				return
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("session watch error", "error", err)
		}
	}
}
