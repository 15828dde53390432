package buffer

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

type lruKNode struct {
	// Last k access timestamps, oldest first.
	history   []uint64
	evictable bool
}

// LRUKReplacer picks eviction victims by backward k-distance: the gap between
// a frame's most recent and k-th most recent access. Frames with fewer than k
// recorded accesses count as infinitely distant and are preferred over any
// finite-distance frame; among those, the one with the earliest recorded
// access goes first (classic LRU).
type LRUKReplacer struct {
	mu        sync.Mutex
	nodes     map[int]*lruKNode
	timestamp uint64
	size      int
	numFrames int
	k         int
}

func NewLRUKReplacer(numFrames, k int) *LRUKReplacer {
	return &LRUKReplacer{
		nodes:     make(map[int]*lruKNode),
		numFrames: numFrames,
		k:         k,
	}
}

// RecordAccess appends the current logical timestamp to the frame's history,
// keeping at most the last k entries. An unseen frame gets a fresh history
// and starts out evictable.
func (r *LRUKReplacer) RecordAccess(frameId int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if frameId < 0 || frameId >= r.numFrames {
		log.Fatalf("Frame id %d is out of range, replacer holds %d frames.", frameId, r.numFrames)
	}
	r.timestamp++
	node, ok := r.nodes[frameId]
	if !ok {
		node = &lruKNode{evictable: true}
		r.nodes[frameId] = node
		r.size++
	}
	node.history = append(node.history, r.timestamp)
	if len(node.history) > r.k {
		node.history = node.history[1:]
	}
}

// SetEvictable toggles whether the frame may be chosen as a victim. Toggling
// to the current value is a no-op; otherwise the replacer's size moves by one.
func (r *LRUKReplacer) SetEvictable(frameId int, evictable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[frameId]
	if !ok {
		log.Fatalf("Frame %d has no recorded access history.", frameId)
	}
	if node.evictable == evictable {
		return
	}
	node.evictable = evictable
	if evictable {
		r.size++
	} else {
		r.size--
	}
}

// Evict removes and returns the evictable frame with the greatest backward
// k-distance, or false if no frame is evictable.
func (r *LRUKReplacer) Evict() (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	victim := -1
	var victimInf bool
	var victimKey uint64
	for frameId, node := range r.nodes {
		if !node.evictable {
			continue
		}
		inf := len(node.history) < r.k
		var key uint64
		if inf {
			key = node.history[0]
		} else {
			key = node.history[len(node.history)-1] - node.history[0]
		}
		better := false
		switch {
		case victim == -1:
			better = true
		case inf != victimInf:
			better = inf
		case inf:
			better = key < victimKey
		default:
			better = key > victimKey
		}
		if better {
			victim, victimInf, victimKey = frameId, inf, key
		}
	}
	if victim == -1 {
		return 0, false
	}
	delete(r.nodes, victim)
	r.size--
	return victim, true
}

// Remove discards the frame's history regardless of its k-distance. Removing
// an untracked frame is a no-op; removing a non-evictable frame is fatal.
func (r *LRUKReplacer) Remove(frameId int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[frameId]
	if !ok {
		return
	}
	if !node.evictable {
		log.Fatalf("Cannot remove non-evictable frame %d.", frameId)
	}
	delete(r.nodes, frameId)
	r.size--
}

// Size is the number of currently evictable frames.
func (r *LRUKReplacer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}
