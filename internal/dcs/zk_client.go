package dcs

import (
	"context"
	"errors"
	"time"

	"github.com/go-zookeeper/zk"
)

// ZKClient is the production Client backend, wrapping a
// github.com/go-zookeeper/zk connection.
type ZKClient struct {
	servers []string
	conn    *zk.Conn
	events  <-chan zk.Event
}

// NewZKClient builds a client targeting the given ZooKeeper ensemble. Call
// Connect before any other method.
func NewZKClient(servers []string) *ZKClient {
	return &ZKClient{servers: servers}
}

// Connect dials the ensemble and blocks until the session reaches
// StateHasSession, closing the race the original design notes flag: a
// caller that proceeds before the session is confirmed can lose its first
// few writes to a session that was never really up.
func (c *ZKClient) Connect(ctx context.Context, timeout time.Duration) error {
	conn, events, err := zk.Connect(c.servers, timeout)
	if err != nil {
		return err
	}
	c.conn = conn
	c.events = events

	deadline := time.Now().Add(timeout)
	for {
		select {
		case ev := <-events:
			if ev.State == zk.StateHasSession {
				return nil
			}
			if ev.State == zk.StateAuthFailed {
				return errors.New("dcs: zookeeper auth failed")
			}
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Until(deadline)):
			return errors.New("dcs: timed out waiting for session")
		}
	}
}

func (c *ZKClient) Create(ctx context.Context, path string, data []byte, mode CreateMode) (string, error) {
	flags := zkFlags(mode)
	p, err := c.conn.Create(path, data, flags, zk.WorldACL(zk.PermAll))
	if errors.Is(err, zk.ErrNodeExists) {
		return "", ErrNodeExists
	}
	if err != nil {
		return "", err
	}
	return p, nil
}

func (c *ZKClient) Exists(ctx context.Context, path string) (bool, int32, error) {
	ok, stat, err := c.conn.Exists(path)
	if err != nil {
		return false, 0, err
	}
	if !ok {
		return false, 0, nil
	}
	return true, stat.Version, nil
}

func (c *ZKClient) Get(ctx context.Context, path string) ([]byte, int32, error) {
	data, stat, err := c.conn.Get(path)
	if errors.Is(err, zk.ErrNoNode) {
		return nil, 0, ErrNoNode
	}
	if err != nil {
		return nil, 0, err
	}
	return data, stat.Version, nil
}

func (c *ZKClient) Set(ctx context.Context, path string, data []byte, version int32) (int32, error) {
	stat, err := c.conn.Set(path, data, version)
	switch {
	case errors.Is(err, zk.ErrNoNode):
		return 0, ErrNoNode
	case errors.Is(err, zk.ErrBadVersion):
		return 0, ErrBadVersion
	case err != nil:
		return 0, err
	}
	return stat.Version, nil
}

func (c *ZKClient) Delete(ctx context.Context, path string, version int32) error {
	err := c.conn.Delete(path, version)
	switch {
	case errors.Is(err, zk.ErrNoNode):
		return ErrNoNode
	case errors.Is(err, zk.ErrBadVersion):
		return ErrBadVersion
	}
	return err
}

func (c *ZKClient) Children(ctx context.Context, path string) ([]string, error) {
	children, _, err := c.conn.Children(path)
	if errors.Is(err, zk.ErrNoNode) {
		return nil, ErrNoNode
	}
	return children, err
}

func (c *ZKClient) Watch(ctx context.Context, path string) (<-chan Event, error) {
	_, _, zch, err := c.conn.ExistsW(path)
	if err != nil {
		return nil, err
	}
	out := make(chan Event, 1)
	go func() {
		select {
		case ev := <-zch:
			out <- translateEvent(ev)
		case <-ctx.Done():
			close(out)
		}
	}()
	return out, nil
}

func (c *ZKClient) Close() error {
	c.conn.Close()
	return nil
}

func zkFlags(mode CreateMode) int32 {
	switch mode {
	case Ephemeral:
		return zk.FlagEphemeral
	case EphemeralSequential:
		return zk.FlagEphemeral | zk.FlagSequence
	default:
		return 0
	}
}

func translateEvent(ev zk.Event) Event {
	out := Event{Path: ev.Path}
	switch ev.Type {
	case zk.EventNodeCreated:
		out.Type = EventNodeCreated
	case zk.EventNodeDeleted:
		out.Type = EventNodeDeleted
	case zk.EventNodeDataChanged:
		out.Type = EventNodeDataChanged
	case zk.EventNodeChildrenChanged:
		out.Type = EventNodeChildrenChanged
	default:
		out.Type = EventSession
	}
	switch ev.State {
	case zk.StateHasSession, zk.StateConnected:
		out.State = StateConnected
	case zk.StateExpired:
		out.State = StateExpired
	default:
		out.State = StateDisconnected
	}
	return out
}
