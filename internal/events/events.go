// Package events publishes committed grades on a message bus. Subscribers
// in the same process receive them through a Go channel; when Kafka brokers
// are configured every event is also published there.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v2/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/pavelanni/gradedesk/internal/grading"
	"github.com/pavelanni/gradedesk/internal/model"
)

// TopicGradesCommitted carries one model.GradeCommit per saved submission.
const TopicGradesCommitted = "grades.committed"

// Recorder stores committed grades.
type Recorder interface {
	RecordCommit(ctx context.Context, c model.GradeCommit) (int64, error)
}

// Bus is the grade event bus.
type Bus struct {
	local  *gochannel.GoChannel
	remote message.Publisher
	logger watermill.LoggerAdapter
}

// New creates a bus. With no brokers events stay in process.
func New(logger *slog.Logger, brokers []string) (*Bus, error) {
	wl := watermill.NewSlogLogger(logger)
	b := &Bus{
		local:  gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, wl),
		logger: wl,
	}
	if len(brokers) == 0 {
		return b, nil
	}
	pub, err := kafka.NewPublisher(kafka.PublisherConfig{
		Brokers:   brokers,
		Marshaler: kafka.DefaultMarshaler{},
	}, wl)
	if err != nil {
		_ = b.local.Close()
		return nil, fmt.Errorf("create kafka publisher: %w", err)
	}
	b.remote = pub
	return b, nil
}

// PublishCommit publishes a committed grade to every configured publisher.
func (b *Bus) PublishCommit(ctx context.Context, c model.GradeCommit) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal grade commit: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("exam_id", fmt.Sprint(c.ExamID))

	if err := b.local.Publish(TopicGradesCommitted, msg); err != nil {
		return fmt.Errorf("publish grade commit: %w", err)
	}
	if b.remote != nil {
		if err := b.remote.Publish(TopicGradesCommitted, msg.Copy()); err != nil {
			return fmt.Errorf("publish grade commit to kafka: %w", err)
		}
	}
	return nil
}

// CommitHook adapts the bus to grading.CommitHook. Publish failures are
// logged; the grades are already saved at that point.
func (b *Bus) CommitHook() grading.CommitHook {
	return func(ctx context.Context, c grading.Committed) {
		if err := b.PublishCommit(ctx, ToGradeCommit(c)); err != nil {
			slog.Error("publishing grade commit failed",
				"exam_id", c.Exam.ID, "student_id", c.Submission.StudentID, "error", err)
		}
	}
}

// ToGradeCommit converts a grading result to its event payload.
func ToGradeCommit(c grading.Committed) model.GradeCommit {
	return model.GradeCommit{
		CourseID:    c.Exam.CourseID,
		ExamID:      c.Exam.ID,
		StudentID:   c.Submission.StudentID,
		StudentName: c.Submission.StudentName,
		Total:       c.Total,
		MaxScore:    c.Exam.OverallScore(),
		Percentage:  c.Percentage,
		CommittedAt: c.At,
	}
}

// Subscribe returns the in-process stream of committed grades.
func (b *Bus) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	return b.local.Subscribe(ctx, TopicGradesCommitted)
}

// StartLedger subscribes to committed grades and records them in the
// background until ctx is done. The returned channel is closed when the
// ledger stops. The ledger is best effort: messages that cannot be decoded
// or recorded are logged and acked.
func (b *Bus) StartLedger(ctx context.Context, rec Recorder) (<-chan struct{}, error) {
	messages, err := b.Subscribe(ctx)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", TopicGradesCommitted, err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range messages {
			var c model.GradeCommit
			if err := json.Unmarshal(msg.Payload, &c); err != nil {
				slog.Warn("skipping malformed grade commit", "uuid", msg.UUID, "error", err)
			} else if _, err := rec.RecordCommit(ctx, c); err != nil {
				slog.Error("recording grade commit failed", "uuid", msg.UUID, "error", err)
			}
			msg.Ack()
		}
	}()
	return done, nil
}

// Close shuts down all publishers and subscribers.
func (b *Bus) Close() error {
	var errs []error
	if b.remote != nil {
		errs = append(errs, b.remote.Close())
	}
	errs = append(errs, b.local.Close())
	return errors.Join(errs...)
}
