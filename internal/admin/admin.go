// Package admin defines the wire format for control-plane messages and for
// the cluster metadata snapshot, retargeting the teacher's JSON-envelope
// idiom (internal/cluster.BroadcastRequest, encoded over HTTP) onto znode
// bytes instead of an HTTP body.
package admin

import (
	"encoding/json"
	"fmt"

	"github.com/dreamware/ecs/internal/ring"
)

// OpType names an admin command.
type OpType string

const (
	OpInit        OpType = "INIT"
	OpStart       OpType = "START"
	OpStop        OpType = "STOP"
	OpShutdown    OpType = "SHUTDOWN"
	OpMoveData    OpType = "MOVE_DATA"
	OpReceiveData OpType = "RECEIVE_DATA"
	OpAck         OpType = "ACK"
)

// Message is the self-describing record written to a node's control
// znode and read back off its ack. Range and Destination are only
// populated for MOVE_DATA/RECEIVE_DATA; Payload carries opaque data the
// recipient does not interpret.
type Message struct {
	OpType      OpType          `json:"opType"`
	RangeFrom   string          `json:"rangeFrom,omitempty"`
	RangeTo     string          `json:"rangeTo,omitempty"`
	Destination string          `json:"destination,omitempty"`
	RequestID   string          `json:"requestId,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Encode serializes a Message the way cluster.PostJSON serializes its
// BroadcastRequest bodies.
func Encode(m Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("admin: encode message: %w", err)
	}
	return b, nil
}

// Decode parses bytes read back off a znode into a Message.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("admin: decode message: %w", err)
	}
	return m, nil
}

// NodeEntry is one row of a MetadataSnapshot: the subset of ring.Node a
// storage engine needs to route client requests, deliberately excluding
// internal ring bookkeeping.
type NodeEntry struct {
	Name      string `json:"name"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	RangeFrom string `json:"rangeFrom"`
	RangeTo   string `json:"rangeTo"`
}

// MetadataSnapshot is the serialized, active-only node list published to
// the well-known metadata znode whenever ring membership changes.
type MetadataSnapshot struct {
	Nodes []NodeEntry `json:"nodes"`
}

// BuildMetadataSnapshot filters nodes down to ACTIVE members and shapes
// them into the published wire format.
func BuildMetadataSnapshot(nodes []*ring.Node) MetadataSnapshot {
	snap := MetadataSnapshot{Nodes: make([]NodeEntry, 0, len(nodes))}
	for _, n := range nodes {
		if n.Status != ring.Active {
			continue
		}
		snap.Nodes = append(snap.Nodes, NodeEntry{
			Name:      n.Name,
			Host:      n.Host,
			Port:      n.Port,
			RangeFrom: n.RangeFrom.String(),
			RangeTo:   n.RangeTo.String(),
		})
	}
	return snap
}

// EncodeMetadata serializes a snapshot for publication.
func EncodeMetadata(snap MetadataSnapshot) ([]byte, error) {
	b, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("admin: encode metadata: %w", err)
	}
	return b, nil
}

// DecodeMetadata parses a previously published snapshot.
func DecodeMetadata(data []byte) (MetadataSnapshot, error) {
	var snap MetadataSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return MetadataSnapshot{}, fmt.Errorf("admin: decode metadata: %w", err)
	}
	return snap, nil
}
