// Package multicast implements the fan-out of a single admin command to
// many node control znodes, generalizing
// internal/coordinator.HealthMonitor.checkAllNodes's one-goroutine-per-node,
// independent-outcome pattern from a recurring poll to a one-shot,
// deadline-bound round.
package multicast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dreamware/ecs/internal/admin"
	"github.com/dreamware/ecs/internal/dcs"
	"github.com/dreamware/ecs/internal/ecslog"
)

// Outcome classifies how a single target resolved.
type Outcome int

const (
	Acked Outcome = iota
	Timeout
	WriteFailed
	SessionLost
	TargetGone
)

func (o Outcome) String() string {
	switch o {
	case Acked:
		return "ACKED"
	case Timeout:
		return "TIMEOUT"
	case WriteFailed:
		return "WRITE_FAILED"
	case SessionLost:
		return "SESSION_LOST"
	case TargetGone:
		return "TARGET_GONE"
	default:
		return "UNKNOWN"
	}
}

// Result is the per-target outcome of a Send round.
type Result struct {
	Target  string
	Outcome Outcome
	Err     error
}

// Multicaster sends the same admin.Message to a set of node control
// znodes ("/kv_servers/<name>") and waits, up to the caller's context
// deadline, for each target to overwrite its znode with an ACK.
//
// There is no retry: a target that times out is reported back to the
// caller (Controller) to decide what to do, exactly as
// HealthMonitor.checkNode reports failures upward instead of retrying
// internally.
type Multicaster struct {
	client dcs.Client
	log    *ecslog.Logger
}

// New builds a Multicaster over the given coordination-service client.
func New(client dcs.Client, log *ecslog.Logger) *Multicaster {
	if log == nil {
		log = ecslog.NewNop()
	}
	return &Multicaster{client: client, log: log}
}

// Send writes cmd to every target's control znode and waits for each to
// ack. ctx's deadline governs the whole round, and Send applies
// RoundTimeout when ctx carries none; targets still pending when it
// expires are reported Timeout. The returned slice has exactly one
// Result per target, in no particular order.
func (m *Multicaster) Send(ctx context.Context, targets []string, cmd admin.Message) []Result {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, RoundTimeout)
		defer cancel()
	}
	cmd.RequestID = uuid.NewString()

	results := make([]Result, len(targets))
	var wg sync.WaitGroup
	wg.Add(len(targets))

	for i, target := range targets {
		i, target := i, target
		go func() {
			defer wg.Done()
			results[i] = m.sendOne(ctx, target, cmd)
		}()
	}
	wg.Wait()
	return results
}

func (m *Multicaster) sendOne(ctx context.Context, target string, cmd admin.Message) Result {
	path := controlPath(target)

	body, err := admin.Encode(cmd)
	if err != nil {
		return Result{Target: target, Outcome: WriteFailed, Err: err}
	}

	exists, version, err := m.client.Exists(ctx, path)
	if err != nil {
		m.log.Warnf("multicast: exists %s: %v", path, err)
		return Result{Target: target, Outcome: WriteFailed, Err: err}
	}
	if !exists {
		return Result{Target: target, Outcome: TargetGone, Err: fmt.Errorf("multicast: %s: %w", target, dcs.ErrNoNode)}
	}

	// Write the command before registering the watch. Registering first
	// would mean this very Set fires the data-change event the watch just
	// armed, and the loop below would decode its own command and mistake
	// it for a stale or missing ack.
	if _, err := m.client.Set(ctx, path, body, version); err != nil {
		if err == dcs.ErrSessionLost {
			return Result{Target: target, Outcome: SessionLost, Err: err}
		}
		return Result{Target: target, Outcome: WriteFailed, Err: err}
	}

	for {
		watch, err := m.client.Watch(ctx, path)
		if err != nil {
			return Result{Target: target, Outcome: WriteFailed, Err: err}
		}

		// Close the lost-wakeup window between the previous write and
		// this watch registration: the node may have already acked, in
		// which case no further data-change event will ever fire.
		if data, _, err := m.client.Get(ctx, path); err == nil {
			if acked, ok := isAck(data, cmd.RequestID); ok && acked {
				return Result{Target: target, Outcome: Acked}
			}
		}

		select {
		case ev, ok := <-watch:
			if !ok {
				return Result{Target: target, Outcome: SessionLost, Err: dcs.ErrSessionLost}
			}
			if ev.State == dcs.StateExpired {
				return Result{Target: target, Outcome: SessionLost, Err: dcs.ErrSessionLost}
			}
			if ev.Type != dcs.EventNodeDataChanged {
				continue
			}
			data, _, err := m.client.Get(ctx, path)
			if err != nil {
				return Result{Target: target, Outcome: WriteFailed, Err: err}
			}
			if acked, ok := isAck(data, cmd.RequestID); ok && acked {
				return Result{Target: target, Outcome: Acked}
			}
			// An unrelated change (e.g. a stale ack from a prior round);
			// re-register the watch and keep waiting instead of declaring
			// a timeout.
		case <-ctx.Done():
			return Result{Target: target, Outcome: Timeout, Err: ctx.Err()}
		}
	}
}

// isAck reports whether data decodes as an admin.Message and, if so,
// whether it is the ACK for requestID. ok is false when data does not even
// decode (callers treat that the same as "not our ack yet" rather than
// failing the round, since a node may briefly write transitional state).
func isAck(data []byte, requestID string) (acked, ok bool) {
	msg, err := admin.Decode(data)
	if err != nil {
		return false, false
	}
	return msg.OpType == admin.OpAck && msg.RequestID == requestID, true
}

func controlPath(name string) string {
	return "/kv_servers/" + name
}

// RoundTimeout is the deadline Send applies to a round whose ctx carries
// no deadline of its own.
const RoundTimeout = 10 * time.Second
