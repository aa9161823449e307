package service

import (
	"log/slog"

	"squash/internal/server/storage"
)

// lease tracks every file a single request creates so they can be released
// on any exit path. Only the committed output survives release.
type lease struct {
	staging storage.Store
	output  storage.Store
	log     *slog.Logger

	input     string
	outputs   []string
	committed string
}

func (l *lease) track(outputKey string) {
	l.outputs = append(l.outputs, outputKey)
}

func (l *lease) commit(outputKey string) {
	l.committed = outputKey
}

// discard removes an output right away, e.g. after a failed strategy.
func (l *lease) discard(outputKey string) {
	if err := l.output.Delete(outputKey); err != nil {
		l.log.Warn("failed to remove partial output", "key", outputKey, "error", err)
	}
}

func (l *lease) release() {
	if l.input != "" {
		if err := l.staging.Delete(l.input); err != nil {
			l.log.Warn("failed to remove staged upload", "key", l.input, "error", err)
		}
	}
	for _, key := range l.outputs {
		if key == l.committed {
			continue
		}
		l.discard(key)
	}
}
