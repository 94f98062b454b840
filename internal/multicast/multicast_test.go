package multicast

import (
	"context"
	"testing"
	"time"

	"github.com/dreamware/ecs/internal/admin"
	"github.com/dreamware/ecs/internal/dcs"
)

func seedTarget(t *testing.T, c *dcs.FakeClient, name string) {
	t.Helper()
	ctx := context.Background()
	if _, err := c.Create(ctx, "/kv_servers", nil, dcs.Persistent); err != nil && err != dcs.ErrNodeExists {
		t.Fatalf("create parent: %v", err)
	}
	if _, err := c.Create(ctx, "/kv_servers/"+name, []byte("{}"), dcs.Persistent); err != nil {
		t.Fatalf("create target %s: %v", name, err)
	}
}

// ackAfterWatch simulates a node agent: it waits for the znode to change
// then immediately overwrites it with an ACK carrying the same request id.
func ackAfterWatch(t *testing.T, c *dcs.FakeClient, name string) {
	t.Helper()
	path := "/kv_servers/" + name
	go func() {
		ctx := context.Background()
		watch, err := c.Watch(ctx, path)
		if err != nil {
			return
		}
		<-watch
		data, _, err := c.Get(ctx, path)
		if err != nil {
			return
		}
		cmd, err := admin.Decode(data)
		if err != nil {
			return
		}
		ack, err := admin.Encode(admin.Message{OpType: admin.OpAck, RequestID: cmd.RequestID})
		if err != nil {
			return
		}
		_, version, err := c.Get(ctx, path)
		if err != nil {
			return
		}
		c.Set(ctx, path, ack, version)
	}()
}

func TestMulticaster_SendAllAck(t *testing.T) {
	c := dcs.NewFakeClient()
	for _, n := range []string{"a", "b", "c"} {
		seedTarget(t, c, n)
		ackAfterWatch(t, c, n)
	}

	mc := New(c, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	results := mc.Send(ctx, []string{"a", "b", "c"}, admin.Message{OpType: admin.OpStart})
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for _, r := range results {
		if r.Outcome != Acked {
			t.Errorf("target %s: expected Acked, got %v (%v)", r.Target, r.Outcome, r.Err)
		}
	}
}

func TestMulticaster_TargetGoneIsReportedDistinctly(t *testing.T) {
	c := dcs.NewFakeClient()
	seedTarget(t, c, "present")

	mc := New(c, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	results := mc.Send(ctx, []string{"present", "absent"}, admin.Message{OpType: admin.OpStop})

	byTarget := map[string]Result{}
	for _, r := range results {
		byTarget[r.Target] = r
	}
	if byTarget["absent"].Outcome != TargetGone {
		t.Errorf("expected absent target to be TargetGone, got %v", byTarget["absent"].Outcome)
	}
}

func TestMulticaster_PartialTimeout(t *testing.T) {
	c := dcs.NewFakeClient()
	seedTarget(t, c, "responsive")
	seedTarget(t, c, "silent")
	ackAfterWatch(t, c, "responsive")
	// "silent" never acks.

	mc := New(c, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	results := mc.Send(ctx, []string{"responsive", "silent"}, admin.Message{OpType: admin.OpStart})
	byTarget := map[string]Result{}
	for _, r := range results {
		byTarget[r.Target] = r
	}
	if byTarget["responsive"].Outcome != Acked {
		t.Errorf("expected responsive to ack, got %v", byTarget["responsive"].Outcome)
	}
	if byTarget["silent"].Outcome != Timeout {
		t.Errorf("expected silent to time out, got %v", byTarget["silent"].Outcome)
	}
}
