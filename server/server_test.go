package server

import (
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perple-io/openset/logger"
)

func newTestCommand(t *testing.T) *Command {
	t.Helper()
	c := NewCommand()
	c.Logger = logger.NopLogger
	c.Config.Bind = "127.0.0.1:0"
	c.Config.Cluster.Type = "static"
	c.Config.Cluster.PartitionMax = 2
	c.Config.Scheduler.WorkerCount = 1
	require.NoError(t, c.Run())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCommand_Run_RejectsInvalidConfig(t *testing.T) {
	c := NewCommand()
	c.Config.Cluster.Type = "bogus"
	assert.Error(t, c.Run())
}

func TestCommand_Run_StartsAListenerServingPing(t *testing.T) {
	c := newTestCommand(t)

	resp, err := http.Get(fmt.Sprintf("http://%s/ping", c.ln.Addr().String()))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
}

func TestCommand_Run_RoutesInternalPrefixSeparatelyFromIngress(t *testing.T) {
	c := newTestCommand(t)
	addr := c.ln.Addr().String()

	resp, err := http.Post(fmt.Sprintf("http://%s/v1/internal/nope", addr), "text/plain", strings.NewReader(""))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 404, resp.StatusCode)

	resp2, err := http.Get(fmt.Sprintf("http://%s/ping", addr))
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, 200, resp2.StatusCode)
}

func TestCommand_Run_ConstructsEveryCollaborator(t *testing.T) {
	c := newTestCommand(t)
	assert.NotNil(t, c.Stats)
	assert.NotNil(t, c.Pool)
	assert.NotNil(t, c.Store)
	assert.NotNil(t, c.Mapper)
	assert.NotNil(t, c.Coord)
	assert.Nil(t, c.watcher, "static cluster should not start a gossip watcher")
}

func TestCommand_Close_StopsListenerAndWorkerPool(t *testing.T) {
	c := newTestCommand(t)
	addr := c.ln.Addr().String()

	require.NoError(t, c.Close())

	select {
	case <-c.Done:
	case <-time.After(2 * time.Second):
		t.Fatal("Done was not closed after Close")
	}

	_, err := http.Get(fmt.Sprintf("http://%s/ping", addr))
	assert.Error(t, err)
}

func TestCommand_Close_IsSafeWithoutRun(t *testing.T) {
	c := NewCommand()
	assert.NoError(t, c.Close())
}
