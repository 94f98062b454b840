// Package integration exercises the full ECS control loop end to end
// against an in-memory coordination service, the in-process analogue of
// the teacher's test/integration/distributed_storage_test.go, which spawns
// real coordinator/node binaries as subprocesses and drives them over
// HTTP. There is no live ZooKeeper ensemble to spawn in this environment
// and no real storage engine left to query, so this test builds the same
// "start a cluster, drive it through its lifecycle, assert observable
// state" shape against a dcs.FakeClient and internal/nodeagent.Agent
// goroutines instead.
package integration

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/dreamware/ecs/internal/admin"
	"github.com/dreamware/ecs/internal/controller"
	"github.com/dreamware/ecs/internal/dcs"
	"github.com/dreamware/ecs/internal/nodeagent"
	"github.com/dreamware/ecs/internal/ring"
)

const seedConfig = `
node-1 10.0.0.1 7000
node-2 10.0.0.2 7001
node-3 10.0.0.3 7002
`

func newCluster(t *testing.T) (*controller.Controller, *dcs.FakeClient, func()) {
	t.Helper()
	client := dcs.NewFakeClient()
	var cancels []context.CancelFunc

	launch := func(ctx context.Context, n *ring.Node) error {
		agentCtx, cancel := context.WithCancel(context.Background())
		cancels = append(cancels, cancel)
		go nodeagent.New(client, n.Name, nil, nil).Run(agentCtx)
		return nil
	}

	ctrl := controller.New(client, launch, nil)
	if err := ctrl.Init(context.Background(), strings.NewReader(seedConfig), time.Second); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return ctrl, client, func() {
		for _, c := range cancels {
			c()
		}
	}
}

func TestClusterLifecycle_AddStartStopShutdown(t *testing.T) {
	ctrl, client, stop := newCluster(t)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	added, err := ctrl.AddNodes(ctx, 3, ring.LRU, 4096)
	if err != nil {
		t.Fatalf("AddNodes: %v", err)
	}
	names := make([]string, len(added))
	for i, n := range added {
		names[i] = n.Name
	}

	if err := ctrl.Start(ctx, names); err != nil {
		t.Fatalf("Start: %v", err)
	}

	rawMeta, _, err := client.Get(ctx, "/metadata")
	if err != nil {
		t.Fatalf("get metadata: %v", err)
	}
	meta, err := admin.DecodeMetadata(rawMeta)
	if err != nil {
		t.Fatalf("decode metadata: %v", err)
	}
	if len(meta.Nodes) != 3 {
		t.Fatalf("expected 3 active nodes published, got %d", len(meta.Nodes))
	}

	for i := 0; i < 50; i++ {
		key := []byte("key-" + string(rune('a'+i%26)))
		n, err := ctrl.GetNodeByKey(key)
		if err != nil {
			t.Fatalf("GetNodeByKey: %v", err)
		}
		found := false
		for _, name := range names {
			if n.Name == name {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("GetNodeByKey returned unknown node %s", n.Name)
		}
	}

	if err := ctrl.Stop(ctx, names); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if err := ctrl.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	for _, name := range names {
		if _, err := ctrl.NodeByName(name); err == nil {
			t.Errorf("expected %s removed from table after shutdown", name)
		}
	}
}

func TestClusterLifecycle_PartialAddFailureLeavesPoolUntouched(t *testing.T) {
	ctrl, _, stop := newCluster(t)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	before := ctrl.PoolSize()
	if _, err := ctrl.AddNodes(ctx, before+1, ring.FIFO, 1024); err == nil {
		t.Fatal("expected AddNodes to fail when requesting more than the pool holds")
	}
	if ctrl.PoolSize() != before {
		t.Errorf("pool size changed after a rejected AddNodes: before=%d after=%d", before, ctrl.PoolSize())
	}
}
