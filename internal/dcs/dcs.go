// Package dcs abstracts the durable coordination service (a ZooKeeper-like
// store of versioned znodes with one-shot watches) behind a capability
// interface, the way internal/coordinator's HealthMonitor in the teacher
// repo takes its HTTP check as an injectable func instead of calling
// net/http directly. Controller code depends only on Client; ZKClient is
// the production backend and FakeClient is the in-memory one used by every
// test in this module.
package dcs

import (
	"context"
	"errors"
	"time"
)

// CreateMode controls znode lifetime and naming, mirroring ZooKeeper's
// create flags (see the EPHEMERAL/SEQUENCE constants in the legacy cgo
// binding this package's semantics are grounded on).
type CreateMode int

const (
	// Persistent znodes survive session loss and must be deleted
	// explicitly.
	Persistent CreateMode = iota
	// Ephemeral znodes are removed automatically when the creating
	// session ends.
	Ephemeral
	// EphemeralSequential znodes are ephemeral and also get a
	// monotonically increasing suffix appended to their path.
	EphemeralSequential
)

// EventType classifies a watch firing.
type EventType int

const (
	EventNodeCreated EventType = iota
	EventNodeDeleted
	EventNodeDataChanged
	EventNodeChildrenChanged
	EventSession
)

// SessionState reports the client's connection health. It is carried in
// the State field of every Event delivered by Client.Watch: ZKClient
// translates it from the underlying zk event, and FakeClient sets it
// directly (StateExpired when the client is closed).
type SessionState int

const (
	StateConnected SessionState = iota
	StateDisconnected
	StateExpired
)

// Event is delivered on the channel returned by Client.Watch. Watches are
// one-shot: after an Event fires the watch must be re-registered.
type Event struct {
	Type  EventType
	Path  string
	State SessionState
}

var (
	// ErrNoNode mirrors ZooKeeper's ZNONODE: the path does not exist.
	ErrNoNode = errors.New("dcs: no such znode")
	// ErrNodeExists mirrors ZNODEEXISTS: Create on an existing path.
	ErrNodeExists = errors.New("dcs: znode already exists")
	// ErrBadVersion is returned by Set/Delete when the caller's version
	// does not match the znode's current version (optimistic concurrency
	// failure).
	ErrBadVersion = errors.New("dcs: version mismatch")
	// ErrSessionLost reports that the session has ended. FakeClient
	// returns it from Create once Close has been called; ZKClient returns
	// the underlying zk errors as they are and does not map them to it.
	ErrSessionLost = errors.New("dcs: session lost")
)

// Client is the coordination-service capability every ECS component
// depends on. A production caller gets a *ZKClient; tests get a
// *FakeClient. Both satisfy the same contract so Controller, Multicaster,
// and Agent never know which one they were handed.
type Client interface {
	// Connect blocks until a session is established or timeout elapses.
	Connect(ctx context.Context, timeout time.Duration) error

	// Create makes a new znode at path holding data, returning the
	// actual path created (path itself, unless mode is
	// EphemeralSequential, in which case the generated suffix is
	// included).
	Create(ctx context.Context, path string, data []byte, mode CreateMode) (string, error)

	// Exists reports whether path exists and, if so, its current
	// version.
	Exists(ctx context.Context, path string) (bool, int32, error)

	// Get returns path's data and current version.
	Get(ctx context.Context, path string) ([]byte, int32, error)

	// Set overwrites path's data if version matches the znode's current
	// version (or version is -1 to skip the check), returning the new
	// version.
	Set(ctx context.Context, path string, data []byte, version int32) (int32, error)

	// Delete removes path if version matches (or version is -1).
	Delete(ctx context.Context, path string, version int32) error

	// Children lists the immediate child names of path.
	Children(ctx context.Context, path string) ([]string, error)

	// Watch registers a one-shot watch on path and returns a channel
	// that receives at most one Event. ZKClient closes the channel
	// without sending when ctx is done before the watch fires.
	Watch(ctx context.Context, path string) (<-chan Event, error)

	// Close releases the session.
	Close() error
}
