// Package nodeagent implements the node-side counterpart to
// internal/multicast: a loop that watches one control znode, decodes
// whatever admin.Message lands in it, and acknowledges it. It is adapted
// from cmd/node/main.go's handleControl handler in the teacher repo (log
// the payload, acknowledge, no real operation performed) — moved from an
// HTTP endpoint to a DCS watch loop. It owns no key-value storage: the
// storage engine itself is an external collaborator per the spec this
// module implements.
package nodeagent

import (
	"context"
	"fmt"

	"github.com/dreamware/ecs/internal/admin"
	"github.com/dreamware/ecs/internal/dcs"
	"github.com/dreamware/ecs/internal/ecslog"
)

// Handler reacts to a decoded admin.Message and returns the payload the
// agent should echo back in its ACK (may be nil). Returning an error stops
// the agent's Run loop, and cmd/nodeagent then exits the process. The
// control znode belongs to the Controller's session and stays in place, so
// the Controller's next multicast round to this node ends in Timeout.
type Handler func(ctx context.Context, msg admin.Message) ([]byte, error)

// Agent is the minimal process a launched node runs: it exists purely to
// answer the admin protocol so Multicaster rounds have something real to
// talk to in integration tests and in a deployed cluster.
type Agent struct {
	client  dcs.Client
	name    string
	path    string
	handler Handler
	log     *ecslog.Logger
}

// New builds an Agent for node name, reachable at "/kv_servers/<name>".
// handler defaults to one that does nothing and acks every message.
func New(client dcs.Client, name string, handler Handler, log *ecslog.Logger) *Agent {
	if handler == nil {
		handler = func(ctx context.Context, msg admin.Message) ([]byte, error) { return nil, nil }
	}
	if log == nil {
		log = ecslog.NewNop()
	}
	return &Agent{client: client, name: name, path: "/kv_servers/" + name, handler: handler, log: log}
}

// Run watches the agent's control znode until ctx is canceled or a
// SHUTDOWN message is handled. Each iteration re-registers the watch
// (watches are one-shot), reads whatever was written, and writes back an
// ACK with the same request id so Multicaster can tell it apart from a
// stale watch firing late.
func (a *Agent) Run(ctx context.Context) error {
	for {
		watch, err := a.client.Watch(ctx, a.path)
		if err != nil {
			return fmt.Errorf("nodeagent: watch %s: %w", a.path, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watch:
			if !ok || ev.State == dcs.StateExpired {
				return dcs.ErrSessionLost
			}
			if ev.Type != dcs.EventNodeDataChanged {
				continue
			}
		}

		data, _, err := a.client.Get(ctx, a.path)
		if err != nil {
			return fmt.Errorf("nodeagent: get %s: %w", a.path, err)
		}
		msg, err := admin.Decode(data)
		if err != nil {
			a.log.Warnf("nodeagent %s: malformed admin message: %v", a.name, err)
			continue
		}
		if msg.OpType == admin.OpAck {
			// Our own previous ack; ignore.
			continue
		}

		payload, err := a.handler(ctx, msg)
		if err != nil {
			return fmt.Errorf("nodeagent: handling %s: %w", msg.OpType, err)
		}

		ack, err := admin.Encode(admin.Message{OpType: admin.OpAck, RequestID: msg.RequestID, Payload: payload})
		if err != nil {
			return fmt.Errorf("nodeagent: encode ack: %w", err)
		}
		if _, err := a.client.Set(ctx, a.path, ack, -1); err != nil {
			return fmt.Errorf("nodeagent: ack %s: %w", msg.OpType, err)
		}

		if msg.OpType == admin.OpShutdown {
			return nil
		}
	}
}
