package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
)

// MonitorEventType enumerates the session events pushed to exam monitors.
type MonitorEventType string

const (
	EventProgressPaused    MonitorEventType = "progress.paused"
	EventProgressResumed   MonitorEventType = "progress.resumed"
	EventSubmissionCreated MonitorEventType = "submission.created"
	EventSessionSwept      MonitorEventType = "session.swept"
)

// MonitorEvent is one session event on an exam's monitor channel.
type MonitorEvent struct {
	Type      MonitorEventType        `json:"type"`
	StudentID int                     `json:"student_id"`
	Score     *int                    `json:"score,omitempty"`
	Trigger   model.SubmissionTrigger `json:"trigger,omitempty"`
	Reason    string                  `json:"reason,omitempty"`
	At        time.Time               `json:"at"`
}

// RedisMonitorPublisher publishes events on the exam's Redis Pub/Sub channel.
type RedisMonitorPublisher struct {
	rdb *redis.Client
}

// NewRedisMonitorPublisher creates a new RedisMonitorPublisher.
func NewRedisMonitorPublisher(rdb *redis.Client) *RedisMonitorPublisher {
	return &RedisMonitorPublisher{rdb: rdb}
}

// Publish sends the event; monitors that are not subscribed simply miss it.
func (p *RedisMonitorPublisher) Publish(ctx context.Context, examID uuid.UUID, event MonitorEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode monitor event: %w", err)
	}
	channel := config.CacheKey.ExamMonitorChannel(examID.String())
	return p.rdb.Publish(ctx, channel, payload).Err()
}
