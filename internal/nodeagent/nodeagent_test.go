package nodeagent

import (
	"context"
	"testing"
	"time"

	"github.com/dreamware/ecs/internal/admin"
	"github.com/dreamware/ecs/internal/dcs"
)

func TestAgent_AcksStartAndStopsOnShutdown(t *testing.T) {
	c := dcs.NewFakeClient()
	ctx := context.Background()
	if _, err := c.Create(ctx, "/kv_servers", nil, dcs.Persistent); err != nil {
		t.Fatalf("create parent: %v", err)
	}
	if _, err := c.Create(ctx, "/kv_servers/node-a", []byte("{}"), dcs.Persistent); err != nil {
		t.Fatalf("create znode: %v", err)
	}

	var handled []admin.OpType
	agent := New(c, "node-a", func(ctx context.Context, msg admin.Message) ([]byte, error) {
		handled = append(handled, msg.OpType)
		return nil, nil
	}, nil)

	done := make(chan error, 1)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { done <- agent.Run(runCtx) }()

	send := func(op admin.OpType) {
		_, version, err := c.Exists(ctx, "/kv_servers/node-a")
		if err != nil {
			t.Fatalf("exists: %v", err)
		}
		body, err := admin.Encode(admin.Message{OpType: op, RequestID: "r"})
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if _, err := c.Set(ctx, "/kv_servers/node-a", body, version); err != nil {
			t.Fatalf("set: %v", err)
		}
	}

	time.Sleep(50 * time.Millisecond) // let the agent register its first watch
	send(admin.OpStart)
	time.Sleep(50 * time.Millisecond)
	send(admin.OpShutdown)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("agent did not stop after SHUTDOWN")
	}

	if len(handled) != 2 || handled[0] != admin.OpStart || handled[1] != admin.OpShutdown {
		t.Errorf("unexpected handled sequence: %v", handled)
	}
}
