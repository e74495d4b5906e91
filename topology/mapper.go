// Package topology implements the Cluster Mapper (C5): it resolves
// partition ownership and carries the sync RPCs a Query Coordinator
// needs to fork a request across the cluster. Grounded on
// FeatureBase's Cluster.PartitionNodes (cluster.go) for ownership
// resolution and topology.Noder for naming, simplified to single
// ownership (no replicas) since OpenSet defines a partition as owned
// by exactly one node at a time.
package topology

import (
	"context"
	"hash/fnv"
)

// Node identifies one cluster member.
type Node struct {
	ID  string // stable node identity, independent of address
	URI string // host:port this node's internal RPC surface listens on
}

// PartitionResponse is one node's reply to a Broadcast or Unicast call.
type PartitionResponse struct {
	Node       Node
	StatusCode int
	Body       []byte
	Err        error // transport-level failure; distinct from an application 4xx in Body
}

// LocalFunc executes a fork request against this node's own partitions,
// used by Broadcast/Unicast in place of a network round trip when the
// target node is Self(). Grounded on FeatureBase executor.go's mapper()
// choosing mapperLocal over remoteExec when n.ID == e.Node.ID.
type LocalFunc func(ctx context.Context) (statusCode int, body []byte, err error)

// Mapper resolves (partition -> owner node) and carries sync RPCs to
// peers. It is the Query Coordinator's only dependency on cluster
// membership and transport.
type Mapper interface {
	// Self returns this node's identity.
	Self() Node

	// Nodes returns every node currently believed to be a cluster
	// member, in a stable order.
	Nodes() []Node

	// OwnerOf resolves the node that owns partitionID out of
	// partitionMax total partitions.
	OwnerOf(partitionID, partitionMax int) Node

	// OwnedPartitions returns every partition (out of partitionMax)
	// this node currently owns.
	OwnedPartitions(partitionMax int) []int

	// Broadcast issues (method, path, body) to every node in Nodes(),
	// concurrently, substituting local for the network call when a
	// node is Self(). One PartitionResponse per node is returned, in
	// no particular order.
	Broadcast(ctx context.Context, local LocalFunc, method, path string, headers map[string]string, body []byte) []PartitionResponse

	// Unicast issues (method, path, body) to exactly one node,
	// substituting local when node is Self().
	Unicast(ctx context.Context, node Node, local LocalFunc, method, path string, headers map[string]string, body []byte) PartitionResponse
}

// PartitionHash is the default consistent-hash ring used by OwnerOf
// implementations in this package: fnv-1a of the partition id, modulo
// the node count. Grounded on cluster.go's Cluster.Hash (fnv64a(index
// bytes, shard/partition bytes) mod node count), simplified to hash the
// partition id alone since OpenSet partitions are not scoped per-index
// at this layer.
func PartitionHash(partitionID, nodeCount int) int {
	if nodeCount <= 0 {
		return 0
	}
	h := fnv.New64a()
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(partitionID >> (8 * i))
	}
	h.Write(buf[:])
	return int(h.Sum64() % uint64(nodeCount))
}
