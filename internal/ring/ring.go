// Package ring implements the consistent hash ring at the center of ECS:
// node positions are MD5 hashes on a 128-bit circle, and each node owns the
// half-open-below, closed-above arc (predecessor, self].
//
// The ring itself holds no knowledge of node lifecycle (see internal/ring's
// Status) beyond what is needed to answer membership and routing queries;
// the controller decides when a node is eligible to be added or removed.
package ring

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/btree"
)

var (
	// ErrDuplicateHash is returned by Add when a node's hash collides with
	// one already on the ring. Two distinct "host:port" identities hashing
	// to the same 128-bit value is astronomically unlikely but checked
	// for explicitly since a silent overwrite would corrupt routing.
	ErrDuplicateHash = errors.New("ring: duplicate node hash")
	// ErrRingEmpty is returned by any lookup performed against a ring with
	// no members.
	ErrRingEmpty = errors.New("ring: empty")
	// ErrNodeNotFound is returned by Remove/GetNodeByHash when no node
	// occupies the given position.
	ErrNodeNotFound = errors.New("ring: node not found")
)

type ringItem struct {
	hash Hash
	node *Node
}

func lessItem(a, b ringItem) bool { return a.hash.Less(b.hash) }

const btreeDegree = 32

// HashRing is safe for concurrent use. Reads take the read lock; Add and
// Remove take the write lock and recompute the affected neighbors' ranges.
type HashRing struct {
	mu     sync.RWMutex
	tree   *btree.BTreeG[ringItem]
	byName map[string]Hash
}

// New returns an empty ring.
func New() *HashRing {
	return &HashRing{tree: btree.NewG(btreeDegree, lessItem), byName: make(map[string]Hash)}
}

// Add places node on the ring at HashKey(node.Addr()) — MD5("host:port") per
// spec.md §3 — and recomputes the range of node and of its new successor
// (the node immediately clockwise, whose RangeFrom must now start after
// node's hash instead of node's former predecessor).
func (r *HashRing) Add(node *Node) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	h := HashKey([]byte(node.Addr()))
	if _, ok := r.tree.Get(ringItem{hash: h}); ok {
		return fmt.Errorf("%w: %s", ErrDuplicateHash, h)
	}

	node.Hash = h
	node.RangeTo = h
	r.tree.ReplaceOrInsert(ringItem{hash: h, node: node})
	r.byName[node.Name] = h

	node.RangeFrom = r.predecessorHash(h)
	if succ, ok := r.strictSuccessorItem(h); ok {
		succ.node.RangeFrom = h
	}
	return nil
}

// Remove takes node off the ring by name and extends its successor's range
// to cover the gap it leaves behind.
func (r *HashRing) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.byName[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, name)
	}
	item, ok := r.tree.Get(ringItem{hash: h})
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, name)
	}

	succ, hasSucc := r.strictSuccessorItem(h)
	r.tree.Delete(ringItem{hash: h})
	delete(r.byName, name)

	if hasSucc {
		succ.node.RangeFrom = item.node.RangeFrom
	}
	return nil
}

// RemoveAll empties the ring, discarding every member's range assignment.
func (r *HashRing) RemoveAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tree.Clear(false)
	r.byName = make(map[string]Hash)
}

// GetNodeByKey returns the node owning key's hash position: the first node
// whose hash is >= HashKey(key), wrapping to the ring's minimum if key
// hashes past the last node.
func (r *HashRing) GetNodeByKey(key []byte) (*Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.tree.Len() == 0 {
		return nil, ErrRingEmpty
	}
	h := HashKey(key)
	item, ok := r.successorItem(h)
	if !ok {
		min, _ := r.tree.Min()
		item = min
	}
	return item.node, nil
}

// GetNodeByHash returns the node occupying exactly the given position.
func (r *HashRing) GetNodeByHash(h Hash) (*Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.tree.Get(ringItem{hash: h})
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, h)
	}
	return item.node, nil
}

// GetRange returns the (from, to] range currently assigned to name.
func (r *HashRing) GetRange(name string) (from, to Hash, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.byName[name]
	if !ok {
		return Hash{}, Hash{}, fmt.Errorf("%w: %s", ErrNodeNotFound, name)
	}
	item, ok := r.tree.Get(ringItem{hash: h})
	if !ok {
		return Hash{}, Hash{}, fmt.Errorf("%w: %s", ErrNodeNotFound, name)
	}
	return item.node.RangeFrom, item.node.RangeTo, nil
}

// Len returns the number of nodes currently on the ring.
func (r *HashRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tree.Len()
}

// Nodes returns a snapshot of every node currently on the ring, ordered by
// ring position, for metadata publication.
func (r *HashRing) Nodes() []*Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Node, 0, r.tree.Len())
	r.tree.Ascend(func(item ringItem) bool {
		out = append(out, item.node)
		return true
	})
	return out
}

// successorItem returns the first item at or after h, wrapping to the
// ring's minimum when h is past every existing node. Caller must hold
// r.mu (read or write).
func (r *HashRing) successorItem(h Hash) (ringItem, bool) {
	var found ringItem
	ok := false
	r.tree.AscendGreaterOrEqual(ringItem{hash: h}, func(item ringItem) bool {
		found, ok = item, true
		return false
	})
	if !ok {
		return r.tree.Min()
	}
	return found, ok
}

// strictSuccessorItem returns the first item strictly after h (never h
// itself, even if a node currently occupies that exact position),
// wrapping to the ring's minimum. The second return is false only when no
// other node exists on the ring. Caller must hold r.mu.
func (r *HashRing) strictSuccessorItem(h Hash) (ringItem, bool) {
	var found ringItem
	ok := false
	r.tree.AscendGreaterOrEqual(ringItem{hash: h}, func(item ringItem) bool {
		if item.hash == h {
			return true // skip self, keep ascending
		}
		found, ok = item, true
		return false
	})
	if !ok {
		min, hasMin := r.tree.Min()
		if !hasMin || min.hash == h {
			return ringItem{}, false
		}
		return min, true
	}
	return found, ok
}

// predecessorHash returns the hash immediately before h on the ring, or h
// itself if the ring holds no other node (a lone node owns the whole
// circle). Caller must hold r.mu.
func (r *HashRing) predecessorHash(h Hash) Hash {
	if r.tree.Len() <= 1 {
		return h
	}
	var pred Hash
	found := false
	r.tree.DescendLessOrEqual(ringItem{hash: h}, func(item ringItem) bool {
		if item.hash == h {
			return true // skip self, keep descending
		}
		pred, found = item.hash, true
		return false
	})
	if found {
		return pred
	}
	max, _ := r.tree.Max()
	return max.hash
}
