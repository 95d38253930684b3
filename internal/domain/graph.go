package domain

// EntityType classifies a node in the transaction entity graph.
type EntityType string

const (
	EntityUser     EntityType = "user"
	EntityDevice   EntityType = "device"
	EntityMerchant EntityType = "merchant"
	EntityIP       EntityType = "ip"
)

// ClusterType tags a detected ring by its dominant entity type.
type ClusterType string

const (
	ClusterUserCluster  ClusterType = "user-cluster"
	ClusterMerchantRing ClusterType = "merchant-ring"
)

// GraphNode is the read view of one entity in the graph.
type GraphNode struct {
	ID    string     `json:"id"`
	Type  EntityType `json:"type"`
	Label string     `json:"label"`
}

// GraphEdge is the read view of one co-occurrence edge.
type GraphEdge struct {
	Source      string `json:"source"`
	Target      string `json:"target"`
	SharedCount int64  `json:"sharedCount"`
}

// Cluster is a connected set of entities qualifying as a ring.
// Clusters are views recomputed from the current graph snapshot;
// they carry no independent lifecycle.
type Cluster struct {
	ID      string      `json:"id"`
	Type    ClusterType `json:"type"`
	Members []string    `json:"members"`

	// Member ids grouped by entity type, sorted.
	Users     []string `json:"users"`
	Devices   []string `json:"devices,omitempty"`
	Merchants []string `json:"merchants,omitempty"`
	IPs       []string `json:"ips,omitempty"`

	// Risk is the maximum fraud score among transactions involving
	// any cluster member.
	Risk float64 `json:"risk"`
}

// GraphView is the API response for GET /clusters.
type GraphView struct {
	Nodes    []GraphNode `json:"nodes"`
	Edges    []GraphEdge `json:"edges"`
	Clusters []Cluster   `json:"clusters"`
}
