package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/fleetd/internal/logging"
)

// DefaultAlertSubject is the subject prefix alerts are published under.
const DefaultAlertSubject = "fleetd.alerts"

// NATSAlertPublisher publishes alerts as JSON on
//
//	{subject}.{vehicle_id}
type NATSAlertPublisher struct {
	nc      *nats.Conn
	subject string
}

// NewNATSAlertPublisher creates a publisher under subject.
func NewNATSAlertPublisher(nc *nats.Conn, subject string) (*NATSAlertPublisher, error) {
	if nc == nil {
		return nil, errors.New("nats connection is required")
	}
	if subject == "" {
		subject = DefaultAlertSubject
	}
	return &NATSAlertPublisher{nc: nc, subject: subject}, nil
}

// Record publishes alert.
func (p *NATSAlertPublisher) Record(ctx context.Context, alert Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	if err := p.nc.Publish(p.subject+"."+alert.VehicleID, data); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}

// SubscribeAlerts feeds every alert published under subject into sink.
// Undecodable messages are logged and dropped. Unsubscribe the returned
// subscription to stop.
func SubscribeAlerts(nc *nats.Conn, subject string, sink AlertSink, logger *logging.Logger) (*nats.Subscription, error) {
	if nc == nil {
		return nil, errors.New("nats connection is required")
	}
	if subject == "" {
		subject = DefaultAlertSubject
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.Named("alerts")

	sub, err := nc.Subscribe(subject+".>", func(msg *nats.Msg) {
		ctx := context.Background()
		var alert Alert
		if err := json.Unmarshal(msg.Data, &alert); err != nil {
			logger.Warn(ctx, "dropping malformed alert", zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		if err := sink.Record(ctx, alert); err != nil {
			logger.Error(ctx, "alert sink failed", zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return sub, nil
}
