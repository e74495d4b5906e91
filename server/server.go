// Package server assembles OpenSet's components into one running node,
// following FeatureBase's server.Command (server/server.go): a single
// struct that owns the process's Config, constructs every collaborator
// in dependency order, and exposes Run/Close for the cmd layer to drive.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/gorilla/mux"

	"github.com/perple-io/openset/config"
	"github.com/perple-io/openset/ingress"
	"github.com/perple-io/openset/logger"
	"github.com/perple-io/openset/memstore"
	"github.com/perple-io/openset/netrpc"
	"github.com/perple-io/openset/query"
	"github.com/perple-io/openset/scheduler"
	"github.com/perple-io/openset/statsprom"
	"github.com/perple-io/openset/topology"
)

// Command owns one node's full dependency graph: Config in, a running
// HTTP listener and worker Pool out. Grounded on server.Command's role
// in cmd/server.go, generalized since OpenSet has one listener instead
// of Pilosa's separate gossip/HTTP/internal ports.
type Command struct {
	Config *config.Config

	Logger logger.Logger
	Stats  *statsprom.Stats
	Store  *memstore.Store
	Pool   *scheduler.Pool
	Mapper *topology.StaticMapper
	Coord  *query.Coordinator

	watcher *topology.Watcher
	httpSrv *http.Server
	ln      net.Listener

	// Done is closed when the server stops on its own (e.g. the listener
	// failing), as opposed to being asked to Close by its caller.
	Done chan struct{}
}

// NewCommand returns a Command with default Config and a standard
// stderr Logger; callers mutate Config (typically via cmd-layer flags
// and a TOML file) before calling Run.
func NewCommand() *Command {
	return &Command{
		Config: config.NewConfig(),
		Logger: logger.NewStandardLogger(os.Stderr),
		Done:   make(chan struct{}),
	}
}

// Run validates Config, constructs every collaborator, and starts
// serving. It returns once the listener is up; shutdown happens via
// Close.
func (c *Command) Run() error {
	if err := c.Config.Validate(); err != nil {
		return err
	}

	c.Stats = statsprom.New()

	workerCount := c.Config.Scheduler.WorkerCount
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}
	c.Pool = scheduler.NewPool(workerCount, c.Logger.WithPrefix("scheduler "), c.Stats)

	c.Store = memstore.New(c.Config.Cluster.PartitionMax)

	self := topology.Node{ID: c.Config.Bind, URI: c.Config.Bind}
	client := netrpc.NewClient(10 * time.Second)

	nodes := []topology.Node{self}
	for _, host := range c.Config.Cluster.Hosts {
		if host == c.Config.Bind {
			continue
		}
		nodes = append(nodes, topology.Node{ID: host, URI: host})
	}
	c.Mapper = topology.NewStaticMapper(self, nodes, client.Do)

	if c.Config.Cluster.Type == "gossip" {
		host, _, err := net.SplitHostPort(c.Config.Bind)
		if err != nil {
			host = c.Config.Bind
		}
		watcher, err := topology.NewWatcher(self.ID, host, c.Config.Cluster.GossipPort, c.Mapper, func(name string) string { return name }, c.Logger.WithPrefix("gossip "))
		if err != nil {
			return fmt.Errorf("starting gossip watcher: %w", err)
		}
		if _, err := watcher.Join(c.Config.Cluster.Hosts); err != nil {
			c.Logger.Warnf("server: joining seed hosts: %v", err)
		}
		c.watcher = watcher
	}

	c.Coord = query.NewCoordinator(
		self, c.Mapper, c.Pool,
		c.Store, c.Store, c.Store,
		c.Config.Cluster.PartitionMax, c.Config.Ingress.MaxConcurrentQueries,
		c.Logger.WithPrefix("query "), c.Stats,
	)

	c.Pool.Start()

	internalSrv := netrpc.NewServer(c.Coord, c.Logger.WithPrefix("internal "))
	ingressSrv := ingress.NewServer(c.Coord, c.Logger.WithPrefix("ingress "), c.Stats,
		c.Config.Ingress.QueryDispatchThreads, c.Config.Ingress.OtherDispatchThreads)

	top := mux.NewRouter()
	top.PathPrefix("/v1/internal/").Handler(internalSrv.Router())
	top.PathPrefix("/").Handler(ingressSrv.Router())

	ln, err := net.Listen("tcp", c.Config.Bind)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", c.Config.Bind, err)
	}
	c.ln = ln
	c.httpSrv = &http.Server{Handler: top}

	go func() {
		if err := c.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			c.Logger.Errorf("server: http listener: %v", err)
		}
		close(c.Done)
	}()

	c.Logger.Infof("server: listening on %s (%d workers, %d partitions)", c.Config.Bind, workerCount, c.Config.Cluster.PartitionMax)
	return nil
}

// Close shuts everything down: the HTTP listener, the gossip watcher (if
// any), and every worker in the Pool.
func (c *Command) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if c.httpSrv != nil {
		if err := c.httpSrv.Shutdown(ctx); err != nil {
			c.Logger.Warnf("server: shutdown: %v", err)
		}
	}
	if c.watcher != nil {
		if err := c.watcher.Shutdown(); err != nil {
			c.Logger.Warnf("server: gossip shutdown: %v", err)
		}
	}
	if c.Pool != nil {
		c.Pool.Stop()
	}
	return nil
}
