package activity

import (
	"fmt"
	"log/slog"
	"time"

	"wpdock/internal/domain"
	"wpdock/internal/logger"
)

const (
	LevelInfo  = "info"
	LevelError = "error"
)

// Publisher pushes entries to live subscribers.
type Publisher interface {
	Publish(topic, kind string, v any)
}

type Log struct {
	repo         domain.ActivityRepository
	pub          Publisher
	topic        string
	defaultLimit int
	log          *slog.Logger
	now          func() time.Time
}

func NewLog(repo domain.ActivityRepository, pub Publisher, topic string, defaultLimit int, l *slog.Logger) *Log {
	if l == nil {
		l = logger.Discard()
	}
	if defaultLimit <= 0 {
		defaultLimit = 100
	}
	return &Log{repo: repo, pub: pub, topic: topic, defaultLimit: defaultLimit, log: l, now: time.Now}
}

// Record appends one entry. Storage failures are logged and never block
// the operation that produced the entry.
func (l *Log) Record(site, level, format string, args ...any) domain.Activity {
	entry := domain.Activity{
		Action:    fmt.Sprintf(format, args...),
		Site:      site,
		Level:     level,
		Timestamp: l.now().UTC(),
	}
	if err := l.repo.AppendActivity(&entry); err != nil {
		l.log.Error("failed to persist activity", "action", entry.Action, "error", err)
	}
	if l.pub != nil {
		l.pub.Publish(l.topic, "activity", entry)
	}
	return entry
}

func (l *Log) Info(site, format string, args ...any) {
	l.Record(site, LevelInfo, format, args...)
}

func (l *Log) Error(site, format string, args ...any) {
	l.Record(site, LevelError, format, args...)
}

// List returns the newest entries first. A non-positive limit uses the
// configured default.
func (l *Log) List(limit int) ([]domain.Activity, error) {
	if limit <= 0 {
		limit = l.defaultLimit
	}
	return l.repo.ListActivities(limit)
}
