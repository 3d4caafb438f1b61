package nats

import (
	"context"
	"fmt"
	"sync"

	"github.com/kychandar/robobridge/services"
	"github.com/nats-io/nats.go"
	slogctx "github.com/veqryn/slog-context"
)

// NatsPubSub is a best-effort core NATS provider: no persistence, no acks.
type NatsPubSub struct {
	nc   *nats.Conn
	subs map[string]*nats.Subscription
	mu   sync.Mutex
}

func NewNatsPubSub(natsURL string) (services.PubSubProvider, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("robobridge"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NatsPubSub{
		nc:   nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

func (n *NatsPubSub) Publish(ctx context.Context, subjectName string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := n.nc.Publish(subjectName, data); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Subscribe registers callBack for subjectName. One subscription per
// subject.
func (n *NatsPubSub) Subscribe(ctx context.Context, subjectName string, callBack func(msg []byte)) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.subs[subjectName]; ok {
		return fmt.Errorf("subject %s already subscribed", subjectName)
	}

	sub, err := n.nc.Subscribe(subjectName, func(m *nats.Msg) {
		callBack(m.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	slogctx.FromCtx(ctx).DebugContext(ctx, "nats subscribed", "subject", subjectName)
	n.subs[subjectName] = sub
	return nil
}

func (n *NatsPubSub) UnSubscribe(subjectName string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	sub, ok := n.subs[subjectName]
	if !ok {
		return fmt.Errorf("no subscription for subject %s", subjectName)
	}

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	delete(n.subs, subjectName)
	return nil
}

// Close drains pending messages and waits for the connection to close.
func (n *NatsPubSub) Close() error {
	done := make(chan struct{})

	n.nc.SetClosedHandler(func(_ *nats.Conn) {
		close(done) // signal that drain is done
	})

	if err := n.nc.Drain(); err != nil {
		return err
	}

	<-done
	return nil
}
