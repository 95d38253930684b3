package ring

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Detector tracks per-tenant entity graphs and extracts clusters of
// entities linked through repeated shared transactions. It implements
// scorer.GraphContext so the relational scorer can read entity degrees.
type Detector struct {
	cfg    domain.RingConfig
	logger *slog.Logger

	mu      sync.RWMutex
	tenants map[string]*graph
}

// NewDetector creates an empty detector.
func NewDetector(cfg domain.RingConfig, logger *slog.Logger) *Detector {
	return &Detector{
		cfg:     cfg,
		logger:  logger,
		tenants: make(map[string]*graph),
	}
}

func (d *Detector) tenant(tenantID string) *graph {
	d.mu.RLock()
	g, ok := d.tenants[tenantID]
	d.mu.RUnlock()
	if ok {
		return g
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if g, ok = d.tenants[tenantID]; ok {
		return g
	}
	g = newGraph()
	d.tenants[tenantID] = g
	return g
}

// Update folds a scored transaction into the tenant's graph. A busy
// graph is retried a bounded number of times before ErrGraphBusy is
// returned to the caller.
func (d *Detector) Update(ctx context.Context, tenantID string, tx *domain.Transaction, fraudScore float64) error {
	g := d.tenant(tenantID)

	var err error
	for attempt := 0; attempt <= d.cfg.UpdateRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err = g.update(tx, fraudScore, d.cfg.LockTimeout)
		if err != domain.ErrGraphBusy {
			return err
		}
		d.logger.Warn("entity graph busy, retrying",
			"tenant_id", tenantID,
			"tx_id", tx.ID,
			"attempt", attempt+1,
		)
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	return err
}

// Degree returns the number of distinct neighbors of an entity in the
// tenant's graph. Unknown entities and tenants have degree zero.
func (d *Detector) Degree(tenantID, entityID string) int {
	d.mu.RLock()
	g, ok := d.tenants[tenantID]
	d.mu.RUnlock()
	if !ok {
		return 0
	}
	return g.degree(entityID)
}

// Stats reports node and edge counts for a tenant's graph.
func (d *Detector) Stats(tenantID string) (nodes, edges int) {
	d.mu.RLock()
	g, ok := d.tenants[tenantID]
	d.mu.RUnlock()
	if !ok {
		return 0, 0
	}
	return g.stats()
}

// DetectClusters extracts entity clusters from the tenant's graph.
//
// A non-user entity becomes a hub once minShared or more transactions
// involve it, and an edge qualifies once its shared count reaches
// minShared. Components are formed over qualifying edges plus every
// edge incident to a hub, so a merchant fanning out to many one-off
// counterparties still pulls them into one cluster. User volume never
// qualifies a hub: a repeat customer linking unrelated merchants is
// ordinary behavior, not a ring. A component is emitted when it
// holds at least two distinct non-user entities or at least two
// distinct users. Results are deterministic: members are sorted and
// the cluster id is the smallest member key.
func (d *Detector) DetectClusters(tenantID string, minShared int64) []domain.Cluster {
	d.mu.RLock()
	g, ok := d.tenants[tenantID]
	d.mu.RUnlock()
	if !ok {
		return nil
	}

	snap := g.snapshot()
	if len(snap.nodes) == 0 {
		return nil
	}

	uf := newUnionFind(len(snap.nodes))
	linked := make(map[int]bool)

	for k, count := range snap.edges {
		if count >= minShared {
			uf.union(k.a, k.b)
			linked[k.a] = true
			linked[k.b] = true
		}
	}
	for i := range snap.nodes {
		if snap.nodes[i].typ == domain.EntityUser {
			continue
		}
		if snap.nodes[i].txCount < minShared {
			continue
		}
		for _, j := range snap.adj[i] {
			uf.union(i, j)
			linked[i] = true
			linked[j] = true
		}
	}

	components := make(map[int][]int)
	for i := range linked {
		root := uf.find(i)
		components[root] = append(components[root], i)
	}

	var clusters []domain.Cluster
	for _, members := range components {
		if c, ok := buildCluster(snap, members); ok {
			clusters = append(clusters, c)
		}
	}

	sort.Slice(clusters, func(i, j int) bool { return clusters[i].ID < clusters[j].ID })
	return clusters
}

// buildCluster assembles a Cluster from component node indices,
// reporting ok=false when the component is too small to matter.
func buildCluster(snap *graphSnapshot, members []int) (domain.Cluster, bool) {
	var c domain.Cluster
	var risk float64
	nonUsers := 0

	keys := make([]string, 0, len(members))
	for _, i := range members {
		n := snap.nodes[i]
		keys = append(keys, n.key)
		if n.maxScore > risk {
			risk = n.maxScore
		}
		switch n.typ {
		case domain.EntityUser:
			c.Users = append(c.Users, n.id)
		case domain.EntityDevice:
			c.Devices = append(c.Devices, n.id)
			nonUsers++
		case domain.EntityMerchant:
			c.Merchants = append(c.Merchants, n.id)
			nonUsers++
		case domain.EntityIP:
			c.IPs = append(c.IPs, n.id)
			nonUsers++
		default:
			nonUsers++
		}
	}

	if nonUsers < 2 && len(c.Users) < 2 {
		return domain.Cluster{}, false
	}

	sort.Strings(keys)
	sort.Strings(c.Users)
	sort.Strings(c.Devices)
	sort.Strings(c.Merchants)
	sort.Strings(c.IPs)

	c.ID = keys[0]
	c.Members = keys
	c.Risk = risk
	c.Type = classify(c)
	return c, true
}

// classify tags a cluster by the plurality type among its non-user
// members. Merchant-dominated components read as coordinated merchant
// activity; everything else is a cluster of linked users.
func classify(c domain.Cluster) domain.ClusterType {
	if len(c.Merchants) >= len(c.Devices) && len(c.Merchants) >= len(c.IPs) && len(c.Merchants) > 0 {
		return domain.ClusterMerchantRing
	}
	return domain.ClusterUserCluster
}

// View returns the tenant's graph nodes, edges, and current clusters
// for inspection.
func (d *Detector) View(tenantID string, minShared int64) *domain.GraphView {
	view := &domain.GraphView{
		Nodes:    []domain.GraphNode{},
		Edges:    []domain.GraphEdge{},
		Clusters: []domain.Cluster{},
	}

	d.mu.RLock()
	g, ok := d.tenants[tenantID]
	d.mu.RUnlock()
	if !ok {
		return view
	}

	snap := g.snapshot()
	for _, n := range snap.nodes {
		view.Nodes = append(view.Nodes, domain.GraphNode{
			ID:    n.key,
			Type:  n.typ,
			Label: n.id,
		})
	}
	for k, count := range snap.edges {
		view.Edges = append(view.Edges, domain.GraphEdge{
			Source:      snap.nodes[k.a].key,
			Target:      snap.nodes[k.b].key,
			SharedCount: count,
		})
	}
	sort.Slice(view.Nodes, func(i, j int) bool { return view.Nodes[i].ID < view.Nodes[j].ID })
	sort.Slice(view.Edges, func(i, j int) bool {
		if view.Edges[i].Source != view.Edges[j].Source {
			return view.Edges[i].Source < view.Edges[j].Source
		}
		return view.Edges[i].Target < view.Edges[j].Target
	})

	if clusters := d.DetectClusters(tenantID, minShared); clusters != nil {
		view.Clusters = clusters
	}
	return view
}

// unionFind is a plain disjoint-set over node indices with path
// halving and union by size.
type unionFind struct {
	parent []int
	size   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{
		parent: make([]int, n),
		size:   make([]int, n),
	}
	for i := range uf.parent {
		uf.parent[i] = i
		uf.size[i] = 1
	}
	return uf
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	if uf.size[ra] < uf.size[rb] {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	uf.size[ra] += uf.size[rb]
}
