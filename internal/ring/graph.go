// Package ring maintains the transaction entity graph and extracts
// suspicious entity clusters from it.
package ring

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// NodeKey builds the canonical graph key for an entity.
func NodeKey(typ domain.EntityType, id string) string {
	return string(typ) + ":" + id
}

// splitKey recovers the entity type and id from a node key.
func splitKey(key string) (domain.EntityType, string) {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return domain.EntityType(key[:i]), key[i+1:]
	}
	return "", key
}

// node is one entity in the arena. Nodes are addressed by index; the
// key table maps entity keys to indices.
type node struct {
	key string
	typ domain.EntityType
	id  string

	// txCount is the number of distinct transactions this entity
	// participated in.
	txCount int64

	// maxScore is the highest fraud score among transactions
	// involving this entity. Cluster risk derives from it.
	maxScore float64
}

// edgeKey addresses an undirected edge by ordered node indices.
type edgeKey struct {
	a, b int // a < b
}

func makeEdgeKey(i, j int) edgeKey {
	if i < j {
		return edgeKey{a: i, b: j}
	}
	return edgeKey{a: j, b: i}
}

// graph is the append-only entity graph for one tenant: an entity
// index table plus adjacency keyed by index pairs. Edges are never
// removed and shared counts only increase.
type graph struct {
	// writeGate serializes writers and allows timeout-bounded
	// acquisition, so a stalled writer surfaces as ErrGraphBusy
	// instead of blocking the caller indefinitely.
	writeGate chan struct{}

	mu    sync.RWMutex
	index map[string]int
	nodes []node
	edges map[edgeKey]int64
	adj   map[int]map[int]struct{}

	// seenTx makes updates idempotent per transaction id: each
	// transaction contributes its pairwise increments exactly once.
	seenTx map[string]struct{}
}

func newGraph() *graph {
	return &graph{
		writeGate: make(chan struct{}, 1),
		index:     make(map[string]int),
		edges:     make(map[edgeKey]int64),
		adj:       make(map[int]map[int]struct{}),
		seenTx:    make(map[string]struct{}),
	}
}

// txNodeKeys lists the graph keys for a transaction's entities.
func txNodeKeys(tx *domain.Transaction) []string {
	var keys []string
	if tx.UserID != "" {
		keys = append(keys, NodeKey(domain.EntityUser, tx.UserID))
	}
	if tx.DeviceID != "" {
		keys = append(keys, NodeKey(domain.EntityDevice, tx.DeviceID))
	}
	if tx.MerchantID != "" {
		keys = append(keys, NodeKey(domain.EntityMerchant, tx.MerchantID))
	}
	if tx.IPAddress != "" {
		keys = append(keys, NodeKey(domain.EntityIP, tx.IPAddress))
	}
	return keys
}

// update applies one transaction to the graph: nodes for each entity,
// an incremented shared count on every pairwise edge, and the running
// max fraud score per node. Re-applying the same transaction id is a
// no-op. Returns domain.ErrGraphBusy when the write gate cannot be
// acquired within the timeout.
func (g *graph) update(tx *domain.Transaction, fraudScore float64, lockTimeout time.Duration) error {
	if tx == nil || tx.ID == "" {
		return fmt.Errorf("transaction with id is required")
	}

	timer := time.NewTimer(lockTimeout)
	defer timer.Stop()

	select {
	case g.writeGate <- struct{}{}:
	case <-timer.C:
		return domain.ErrGraphBusy
	}
	defer func() { <-g.writeGate }()

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, dup := g.seenTx[tx.ID]; dup {
		return nil
	}

	keys := txNodeKeys(tx)
	idxs := make([]int, 0, len(keys))
	for _, key := range keys {
		idxs = append(idxs, g.ensureNode(key))
	}

	for _, i := range idxs {
		g.nodes[i].txCount++
		if fraudScore > g.nodes[i].maxScore {
			g.nodes[i].maxScore = fraudScore
		}
	}

	for x := 0; x < len(idxs); x++ {
		for y := x + 1; y < len(idxs); y++ {
			g.addEdge(idxs[x], idxs[y])
		}
	}

	g.seenTx[tx.ID] = struct{}{}
	return nil
}

// ensureNode returns the index for a key, appending a node if new.
// Caller holds the write lock.
func (g *graph) ensureNode(key string) int {
	if i, ok := g.index[key]; ok {
		return i
	}
	typ, id := splitKey(key)
	i := len(g.nodes)
	g.nodes = append(g.nodes, node{key: key, typ: typ, id: id})
	g.index[key] = i
	g.adj[i] = make(map[int]struct{})
	return i
}

// addEdge increments the shared count on an edge, creating it on
// first co-occurrence. Caller holds the write lock.
func (g *graph) addEdge(i, j int) {
	k := makeEdgeKey(i, j)
	g.edges[k]++
	g.adj[i][j] = struct{}{}
	g.adj[j][i] = struct{}{}
}

// degree returns the number of distinct neighbors of an entity.
func (g *graph) degree(key string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	i, ok := g.index[key]
	if !ok {
		return 0
	}
	return len(g.adj[i])
}

// snapshot copies the graph state under the read lock. Detection runs
// on the copy, so it never observes a graph mid-mutation.
type graphSnapshot struct {
	nodes []node
	edges map[edgeKey]int64
	adj   map[int][]int
}

func (g *graph) snapshot() *graphSnapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()

	snap := &graphSnapshot{
		nodes: make([]node, len(g.nodes)),
		edges: make(map[edgeKey]int64, len(g.edges)),
		adj:   make(map[int][]int, len(g.adj)),
	}
	copy(snap.nodes, g.nodes)
	for k, v := range g.edges {
		snap.edges[k] = v
	}
	for i, nbrs := range g.adj {
		out := make([]int, 0, len(nbrs))
		for j := range nbrs {
			out = append(out, j)
		}
		snap.adj[i] = out
	}
	return snap
}

// stats returns node and edge counts.
func (g *graph) stats() (nodes, edges int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes), len(g.edges)
}
