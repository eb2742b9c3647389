package notify

import (
	"context"
	"time"

	"github.com/aquasecurity/vuln-notify/types"
)

// Destination is a chat channel notifications are delivered to.
type Destination interface {
	// Identity returns the name the bot is known as on the platform.
	Identity(ctx context.Context) (string, error)
	// Ready fails when the configured channel can't be reached.
	Ready(ctx context.Context) error
	Send(ctx context.Context, m Message) error
}

// Publisher formats CVEs and hands them to a Destination.
type Publisher struct {
	dest Destination
	now  func() time.Time
}

func NewPublisher(dest Destination) *Publisher {
	return &Publisher{dest: dest, now: time.Now}
}

func (p *Publisher) Identity(ctx context.Context) (string, error) {
	return p.dest.Identity(ctx)
}

func (p *Publisher) Ready(ctx context.Context) error {
	return p.dest.Ready(ctx)
}

func (p *Publisher) Publish(ctx context.Context, v types.Vulnerability) error {
	return p.dest.Send(ctx, NewMessage(v, p.now()))
}
