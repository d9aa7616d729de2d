package bus

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
)

// TaskSubmittedSubject carries one TaskSubmitted event per queued task.
const TaskSubmittedSubject = "jailer.tasks.submitted"

// TaskSubmitted is the audit record of a task sent to the controller.
type TaskSubmitted struct {
	ID             string    `json:"id"`
	ImplantID      uint32    `json:"implant_id"`
	Task           string    `json:"task"`
	TaskParameters string    `json:"task_parameters"`
	StatusCode     int       `json:"status_code"`
	SubmittedAt    time.Time `json:"submitted_at"`
}

// Bus wraps a NATS JetStream connection used to publish audit events.
type Bus struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// New creates a Bus connected to the provided NATS endpoint.
func New(url string, opts ...nats.Option) (*Bus, error) {
	defaults := []nats.Option{
		nats.Name("jailer"),
		nats.Timeout(5 * time.Second),
		nats.NoReconnect(),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, err
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}

	return &Bus{conn: nc, js: js}, nil
}

// Close flushes pending publishes and shuts down the connection.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
}

// Publish encodes v as JSON and publishes it to the given subject.
func (b *Bus) Publish(ctx context.Context, subj string, v any) error {
	if b == nil {
		return errors.New("nil bus")
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	pubOpts := []nats.PubOpt{nats.Context(ctx)}
	if event, ok := v.(TaskSubmitted); ok && event.ID != "" {
		pubOpts = append(pubOpts, nats.MsgId(event.ID))
	}
	_, err = b.js.Publish(subj, data, pubOpts...)
	return err
}
