package topology

import (
	"sync"

	"github.com/hashicorp/memberlist"

	"github.com/perple-io/openset/logger"
)

// OwnershipListener is notified when the set of partitions this node
// owns may have changed, so the caller can tear down any Partition
// Loop it no longer owns: a partition leaving active_owner state
// triggers PartitionRemoved on each of its loops.
type OwnershipListener interface {
	OwnershipChanged()
}

// Watcher keeps a StaticMapper's node list in sync with cluster
// membership using github.com/hashicorp/memberlist -- the gossip
// library FeatureBase's own membership layer (disco/gossip) is built
// on. Each membership event updates the Mapper's node list and notifies
// every registered OwnershipListener so it can re-evaluate which
// partitions it still owns.
type Watcher struct {
	mapper *StaticMapper
	log    logger.Logger
	list   *memberlist.Memberlist

	mu        sync.Mutex
	listeners []OwnershipListener
}

// NewWatcher creates a memberlist.Memberlist bound to name/bindAddr,
// wiring its membership events to keep mapper's node list current.
// uriOf resolves a gossip member's name to the internal RPC URI this
// package's Node.URI expects (memberlist's own Meta payload is used to
// carry it, set via config.Delegate in production; for this substrate
// we key URIs by node name through a caller-supplied lookup instead, so
// this package does not need to know the RPC wire format).
func NewWatcher(name, bindAddr string, bindPort int, mapper *StaticMapper, uriOf func(name string) string, log logger.Logger) (*Watcher, error) {
	w := &Watcher{mapper: mapper, log: log}

	cfg := memberlist.DefaultLocalConfig()
	cfg.Name = name
	cfg.BindAddr = bindAddr
	cfg.BindPort = bindPort
	cfg.Events = &eventDelegate{w: w, uriOf: uriOf}
	cfg.LogOutput = nopWriter{}

	list, err := memberlist.Create(cfg)
	if err != nil {
		return nil, err
	}
	w.list = list
	return w, nil
}

// Join contacts existing cluster members at the given gossip addresses.
func (w *Watcher) Join(existing []string) (int, error) {
	if len(existing) == 0 {
		return 0, nil
	}
	return w.list.Join(existing)
}

// Members returns the current gossip membership's node names.
func (w *Watcher) Members() []string {
	out := make([]string, 0)
	for _, m := range w.list.Members() {
		out = append(out, m.Name)
	}
	return out
}

// Subscribe registers l to be notified on every membership change.
func (w *Watcher) Subscribe(l OwnershipListener) {
	w.mu.Lock()
	w.listeners = append(w.listeners, l)
	w.mu.Unlock()
}

// Shutdown leaves the gossip cluster gracefully.
func (w *Watcher) Shutdown() error {
	if err := w.list.Leave(0); err != nil {
		w.log.Warnf("topology: leave failed: %v", err)
	}
	return w.list.Shutdown()
}

func (w *Watcher) refresh(uriOf func(name string) string) {
	// memberlist.Create delivers the local node's own join event before
	// NewWatcher has stored the list; that event is skipped and the
	// mapper keeps the node list it was constructed with.
	if w.list == nil {
		return
	}
	members := w.list.Members()
	nodes := make([]Node, 0, len(members))
	for _, m := range members {
		nodes = append(nodes, Node{ID: m.Name, URI: uriOf(m.Name)})
	}
	w.mapper.SetNodes(nodes)

	w.mu.Lock()
	listeners := append([]OwnershipListener{}, w.listeners...)
	w.mu.Unlock()
	for _, l := range listeners {
		l.OwnershipChanged()
	}
}

// eventDelegate adapts memberlist's join/leave/update callbacks into a
// single "refresh the node list" operation; OpenSet's ownership model
// does not distinguish why membership changed, only that it did.
type eventDelegate struct {
	w     *Watcher
	uriOf func(name string) string
}

func (d *eventDelegate) NotifyJoin(*memberlist.Node)   { d.w.refresh(d.uriOf) }
func (d *eventDelegate) NotifyLeave(*memberlist.Node)  { d.w.refresh(d.uriOf) }
func (d *eventDelegate) NotifyUpdate(*memberlist.Node) { d.w.refresh(d.uriOf) }

// nopWriter discards memberlist's own internal logging; OpenSet routes
// cluster-membership events through logger.Logger via OwnershipListener
// instead.
type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
