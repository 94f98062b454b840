package dcs

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFakeClient_CreateGetSet(t *testing.T) {
	c := NewFakeClient()
	ctx := context.Background()

	if _, err := c.Create(ctx, "/kv_servers", nil, Persistent); err != nil {
		t.Fatalf("Create parent: %v", err)
	}
	p, err := c.Create(ctx, "/kv_servers/node-a", []byte("hello"), Ephemeral)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p != "/kv_servers/node-a" {
		t.Fatalf("unexpected path %s", p)
	}

	data, version, err := c.Get(ctx, p)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("expected hello, got %s", data)
	}
	if version != 0 {
		t.Errorf("expected version 0, got %d", version)
	}

	newVersion, err := c.Set(ctx, p, []byte("world"), version)
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	if newVersion != 1 {
		t.Errorf("expected version 1, got %d", newVersion)
	}

	if _, err := c.Set(ctx, p, []byte("stale"), version); !errors.Is(err, ErrBadVersion) {
		t.Fatalf("expected ErrBadVersion, got %v", err)
	}
}

func TestFakeClient_CreateDuplicate(t *testing.T) {
	c := NewFakeClient()
	ctx := context.Background()
	if _, err := c.Create(ctx, "/x", nil, Persistent); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := c.Create(ctx, "/x", nil, Persistent); !errors.Is(err, ErrNodeExists) {
		t.Fatalf("expected ErrNodeExists, got %v", err)
	}
}

func TestFakeClient_WatchFiresOnSet(t *testing.T) {
	c := NewFakeClient()
	ctx := context.Background()
	if _, err := c.Create(ctx, "/watched", []byte("v1"), Persistent); err != nil {
		t.Fatalf("Create: %v", err)
	}

	ch, err := c.Watch(ctx, "/watched")
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if _, err := c.Set(ctx, "/watched", []byte("v2"), -1); err != nil {
		t.Fatalf("Set: %v", err)
	}

	select {
	case ev := <-ch:
		if ev.Type != EventNodeDataChanged {
			t.Errorf("expected EventNodeDataChanged, got %v", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("watch did not fire")
	}
}

func TestFakeClient_ChildrenListsDirectDescendantsOnly(t *testing.T) {
	c := NewFakeClient()
	ctx := context.Background()
	for _, p := range []string{"/kv_servers", "/kv_servers/a", "/kv_servers/b", "/kv_servers/a/nested"} {
		if _, err := c.Create(ctx, p, nil, Persistent); err != nil {
			t.Fatalf("Create %s: %v", p, err)
		}
	}
	children, err := c.Children(ctx, "/kv_servers")
	if err != nil {
		t.Fatalf("Children: %v", err)
	}
	if len(children) != 2 {
		t.Fatalf("expected 2 children, got %v", children)
	}
}

func TestFakeClient_CloseExpiresWatches(t *testing.T) {
	c := NewFakeClient()
	ctx := context.Background()
	if _, err := c.Create(ctx, "/n", nil, Ephemeral); err != nil {
		t.Fatalf("Create: %v", err)
	}
	ch, err := c.Watch(ctx, "/n")
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case ev := <-ch:
		if ev.State != StateExpired {
			t.Errorf("expected StateExpired, got %v", ev.State)
		}
	case <-time.After(time.Second):
		t.Fatal("close did not notify watcher")
	}
}

var _ Client = (*FakeClient)(nil)
var _ Client = (*ZKClient)(nil)
