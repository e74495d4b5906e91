package topology

import (
	"context"
	"sync"
)

// RemoteDoer performs the actual network call for a non-self node. It
// is injected rather than imported so this package has no dependency
// on the transport package (netrpc depends on topology for addressing,
// not the other way around).
type RemoteDoer func(ctx context.Context, node Node, method, path string, headers map[string]string, body []byte) (statusCode int, respBody []byte, err error)

// StaticMapper is a Mapper whose node list changes only when SetNodes
// is called (by configuration reload or a membership Watcher). It
// implements the single-owner consistent-hash ring described in
// mapper.go.
type StaticMapper struct {
	self   Node
	remote RemoteDoer

	mu    sync.RWMutex
	nodes []Node
}

// NewStaticMapper constructs a Mapper seeded with nodes (which must
// include self). remote is used for every non-self Broadcast/Unicast
// target.
func NewStaticMapper(self Node, nodes []Node, remote RemoteDoer) *StaticMapper {
	return &StaticMapper{self: self, remote: remote, nodes: append([]Node{}, nodes...)}
}

func (m *StaticMapper) Self() Node { return m.self }

func (m *StaticMapper) Nodes() []Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Node, len(m.nodes))
	copy(out, m.nodes)
	return out
}

// SetNodes replaces the node list wholesale, e.g. in response to a
// membership Watcher event.
func (m *StaticMapper) SetNodes(nodes []Node) {
	m.mu.Lock()
	m.nodes = append([]Node{}, nodes...)
	m.mu.Unlock()
}

func (m *StaticMapper) OwnerOf(partitionID, partitionMax int) Node {
	nodes := m.Nodes()
	if len(nodes) == 0 {
		return Node{}
	}
	return nodes[PartitionHash(partitionID, len(nodes))]
}

func (m *StaticMapper) OwnedPartitions(partitionMax int) []int {
	nodes := m.Nodes()
	if len(nodes) == 0 {
		return nil
	}
	var owned []int
	for pid := 0; pid < partitionMax; pid++ {
		if nodes[PartitionHash(pid, len(nodes))].ID == m.self.ID {
			owned = append(owned, pid)
		}
	}
	return owned
}

func (m *StaticMapper) Broadcast(ctx context.Context, local LocalFunc, method, path string, headers map[string]string, body []byte) []PartitionResponse {
	nodes := m.Nodes()
	type indexed struct {
		i int
		r PartitionResponse
	}
	ch := make(chan indexed, len(nodes))
	var wg sync.WaitGroup
	for i, n := range nodes {
		wg.Add(1)
		go func(i int, n Node) {
			defer wg.Done()
			ch <- indexed{i, m.call(ctx, n, local, method, path, headers, body)}
		}(i, n)
	}
	wg.Wait()
	close(ch)

	out := make([]PartitionResponse, len(nodes))
	for ir := range ch {
		out[ir.i] = ir.r
	}
	return out
}

func (m *StaticMapper) Unicast(ctx context.Context, node Node, local LocalFunc, method, path string, headers map[string]string, body []byte) PartitionResponse {
	return m.call(ctx, node, local, method, path, headers, body)
}

func (m *StaticMapper) call(ctx context.Context, n Node, local LocalFunc, method, path string, headers map[string]string, body []byte) PartitionResponse {
	if n.ID == m.self.ID && local != nil {
		status, respBody, err := local(ctx)
		return PartitionResponse{Node: n, StatusCode: status, Body: respBody, Err: err}
	}
	status, respBody, err := m.remote(ctx, n, method, path, headers, body)
	return PartitionResponse{Node: n, StatusCode: status, Body: respBody, Err: err}
}
