package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// SubjectPrefix roots every published subject.
const SubjectPrefix = "opsassist.events"

// Publisher is the subset of *nats.Conn the NATS notifier needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes events as JSON to
// opsassist.events.<session>.<type>.
type NATSPublisher struct {
	pub    Publisher
	logger *zap.Logger
	conn   *nats.Conn
}

// NewNATSPublisher wraps an existing publisher.
func NewNATSPublisher(pub Publisher, logger *zap.Logger) *NATSPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSPublisher{pub: pub, logger: logger}
}

// ConnectNATS dials url and returns a publisher that owns the connection.
func ConnectNATS(url string, logger *zap.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(url, nats.Name("opsassist"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	p := NewNATSPublisher(conn, logger)
	p.conn = conn
	return p, nil
}

// Subject returns the subject an event is published on. Session ids are
// sanitised so they stay a single subject token.
func Subject(e Event) string {
	session := e.SessionID
	if session == "" {
		session = "_"
	}
	session = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(session)
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, session, e.Type)
}

func (p *NATSPublisher) Notify(_ context.Context, e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		p.logger.Error("marshal event", zap.Error(err))
		return
	}
	subject := Subject(e)
	if err := p.pub.Publish(subject, data); err != nil {
		p.logger.Warn("publish event", zap.String("subject", subject), zap.Error(err))
	}
}

// Close drains the owned connection, if any.
func (p *NATSPublisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}
