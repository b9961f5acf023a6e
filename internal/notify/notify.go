// Package notify publishes pipeline progress events to NATS so external
// tooling can follow long-running generation runs. The publisher is
// optional: a nil *Publisher is safe to call and does nothing.
package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Stage identifies which part of the pipeline produced a progress event.
type Stage string

// Pipeline stages reported in progress events.
const (
	StageStructure Stage = "structure"
	StageScript    Stage = "script"
	StageAudio     Stage = "audio"
	StageEpisode   Stage = "episode"
)

// ItemProgressEvent reports the outcome of a single work item at one stage.
type ItemProgressEvent struct {
	Header    events.EventHeader `json:"header"`
	Stage     Stage              `json:"stage"`
	ItemTitle string             `json:"item_title"`
	Status    string             `json:"status"`
	Detail    string             `json:"detail,omitempty"`
}

// Publisher publishes progress events for one pipeline run. All events in a
// run share a workflow ID so subscribers can correlate them.
type Publisher struct {
	natsConnection *nats.Conn
	subject        string
	workflowID     string
	log            *logger.Logger
}

// New creates a publisher for the given subject. Each publisher represents
// one run and stamps a fresh workflow ID on every event it emits.
func New(natsConnection *nats.Conn, subject string, log *logger.Logger) *Publisher {
	return &Publisher{
		natsConnection: natsConnection,
		subject:        subject,
		workflowID:     uuid.NewString(),
		log:            log,
	}
}

// WorkflowID returns the identifier stamped on this run's events.
func (p *Publisher) WorkflowID() string {
	if p == nil {
		return ""
	}

	return p.workflowID
}

// ItemProgress publishes a progress event for one work item. Publish
// failures are logged and swallowed: progress reporting must never fail the
// pipeline.
func (p *Publisher) ItemProgress(stage Stage, itemTitle, status, detail string) {
	if p == nil {
		return
	}

	event := ItemProgressEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now().UTC(),
			WorkflowID: p.workflowID,
			EventID:    uuid.NewString(),
			UserID:     "",
			TenantID:   "",
		},
		Stage:     stage,
		ItemTitle: itemTitle,
		Status:    status,
		Detail:    detail,
	}

	publishErr := p.publish(event)
	if publishErr != nil {
		p.log.Warn("Failed to publish progress event for %q: %v", itemTitle, publishErr)
	}
}

func (p *Publisher) publish(event ItemProgressEvent) error {
	data, marshalErr := json.Marshal(event)
	if marshalErr != nil {
		return fmt.Errorf("failed to marshal progress event: %w", marshalErr)
	}

	publishErr := p.natsConnection.Publish(p.subject, data)
	if publishErr != nil {
		return fmt.Errorf("failed to publish to subject %s: %w", p.subject, publishErr)
	}

	return nil
}
