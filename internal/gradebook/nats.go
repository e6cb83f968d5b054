package gradebook

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// Publisher is the part of *nats.Conn used for grade events.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher emits every push as a JSON event so other services can follow
// grade changes.
type NATSPublisher struct {
	conn    Publisher
	subject string
}

func NewNATSPublisher(conn Publisher, subject string) *NATSPublisher {
	return &NATSPublisher{conn: conn, subject: subject}
}

func ConnectNATS(url string) (*nats.Conn, error) {
	conn, err := nats.Connect(url, nats.Name("semla-gradebook"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return conn, nil
}

func (p *NATSPublisher) Push(ctx context.Context, grade Grade) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(grade)
	if err != nil {
		return fmt.Errorf("failed to encode grade event: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("failed to publish grade event: %w", err)
	}
	return nil
}
