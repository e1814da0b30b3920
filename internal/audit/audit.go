// Package audit delivers security gate decisions to durable or observable
// destinations.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/fleetd/internal/logging"
	"github.com/fyrsmithlabs/fleetd/internal/orchestrator"
)

// DefaultSubject is the subject prefix for audit events.
const DefaultSubject = "fleetd.audit.security"

// NATSSink publishes each record as JSON on
//
//	{subject}.{thread_id}
type NATSSink struct {
	nc      *nats.Conn
	subject string
}

// NewNATSSink creates a sink publishing under subject.
func NewNATSSink(nc *nats.Conn, subject string) (*NATSSink, error) {
	if nc == nil {
		return nil, errors.New("nats connection is required")
	}
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSSink{nc: nc, subject: subject}, nil
}

// Subject returns the subject a record for threadID is published on.
func (s *NATSSink) Subject(threadID string) string {
	return fmt.Sprintf("%s.%s", s.subject, threadID)
}

// Record publishes rec.
func (s *NATSSink) Record(ctx context.Context, rec orchestrator.AuditRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	if err := s.nc.Publish(s.Subject(rec.ThreadID), data); err != nil {
		return fmt.Errorf("publish audit record: %w", err)
	}
	return nil
}

// LogSink writes records to a structured logger. Blocks are logged at warn
// level, allows at debug.
type LogSink struct {
	logger *logging.Logger
}

// NewLogSink creates a sink writing to logger.
func NewLogSink(logger *logging.Logger) *LogSink {
	return &LogSink{logger: logger.Named("audit")}
}

// Record logs rec. It never fails.
func (s *LogSink) Record(ctx context.Context, rec orchestrator.AuditRecord) error {
	fields := []zap.Field{
		zap.String("audit.id", rec.ID),
		zap.Time("audit.timestamp", rec.Timestamp),
		zap.String("gate", rec.Gate),
		zap.String("decision", rec.Decision),
		zap.String("reason", rec.Reason),
	}
	ctx = logging.WithThreadID(ctx, rec.ThreadID)
	if rec.Decision == orchestrator.DecisionBlock {
		s.logger.Warn(ctx, "security gate decision", fields...)
		return nil
	}
	s.logger.Debug(ctx, "security gate decision", fields...)
	return nil
}

// MultiSink fans a record out to every sink. All sinks are attempted; the
// failures are joined.
type MultiSink []orchestrator.AuditSink

// Record delivers rec to every sink.
func (m MultiSink) Record(ctx context.Context, rec orchestrator.AuditRecord) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Record(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
