// Package service implements the pipeline services: the queue subscriber, the
// job orchestrator, per-directory submission tasks, the worker heartbeat
// publisher, and the background monitor.
package service

import "log/slog"

func resolveLogger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
