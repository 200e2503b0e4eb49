package sinks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/linkcheck/internal/checker"
	"github.com/JakeFAU/linkcheck/internal/progress"
)

// WorkingLink is the notification published for each working link.
type WorkingLink struct {
	RunID      string             `json:"run_id"`
	URL        string             `json:"url"`
	Detail     string             `json:"detail"`
	Confidence checker.Confidence `json:"confidence,omitempty"`
	Account    string             `json:"account"`
	FoundAt    time.Time          `json:"found_at"`
}

// PublishSink forwards WORKING results to a Publisher as they are found.
type PublishSink struct {
	pub    checker.Publisher
	topic  string
	logger *zap.Logger
}

// NewPublishSink publishes to topic through pub.
func NewPublishSink(pub checker.Publisher, topic string, logger *zap.Logger) *PublishSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublishSink{pub: pub, topic: topic, logger: logger.Named("publish")}
}

// Consume publishes every working link in batch. Failures are returned
// together after the whole batch was attempted.
func (s *PublishSink) Consume(ctx context.Context, batch []progress.Event) error {
	var errs []error
	for _, evt := range batch {
		if evt.Stage != progress.StageTaskDone || evt.Outcome != checker.OutcomeWorking {
			continue
		}
		msg := WorkingLink{
			RunID:      evt.RunID,
			URL:        evt.URL,
			Detail:     evt.Detail,
			Confidence: evt.Confidence,
			Account:    evt.Credential,
			FoundAt:    evt.TS,
		}
		id, err := s.pub.Publish(ctx, s.topic, msg)
		if err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", evt.URL, err))
			continue
		}
		s.logger.Debug("published working link", zap.String("url", evt.URL), zap.String("message_id", id))
	}
	return errors.Join(errs...)
}

// Close implements the Sink interface; it performs no action.
func (s *PublishSink) Close(context.Context) error {
	return nil
}
