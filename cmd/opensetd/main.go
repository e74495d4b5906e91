// Package main is opensetd's entrypoint. Grounded on FeatureBase's
// cmd/pilosa/main.go + cmd/root.go + cmd/server.go: a thin main()
// deferring to a cobra command, whose flags double as the TOML config
// file's keys via viper, with a graceful-SIGINT-then-hard-exit shutdown
// sequence.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/perple-io/openset/server"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := server.NewCommand()

	root := &cobra.Command{
		Use:   "opensetd",
		Short: "opensetd runs an OpenSet node.",
		Long: `opensetd runs an OpenSet node: the Open-Loop scheduler, the Shuttle-based
query coordinator, and the HTTP intake that fronts them.

It will start listening for both client queries and peer fork traffic on
its configured bind address once every flag, environment variable, and
config file value has been resolved.`,
		PersistentPreRunE: func(c *cobra.Command, args []string) error {
			return bindConfig(viper.New(), c.Flags())
		},
		RunE: func(c *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}

	flags := root.Flags()
	flags.StringVarP(&cmd.Config.DataDir, "data-dir", "d", "", "Directory to store opensetd data files.")
	flags.StringVarP(&cmd.Config.Bind, "bind", "b", cmd.Config.Bind, "Address to listen on for client and peer traffic.")
	flags.StringVarP(&cmd.Config.LogPath, "log-path", "", "", "Path to write log output to; empty means stderr.")
	flags.BoolVarP(&cmd.Config.Verbose, "verbose", "v", false, "Enable debug-level logging.")
	flags.StringVarP(&cmd.Config.Cluster.Type, "cluster.type", "", cmd.Config.Cluster.Type, "Cluster membership mode: static or gossip.")
	flags.IntVarP(&cmd.Config.Cluster.PartitionMax, "cluster.partition-max", "", cmd.Config.Cluster.PartitionMax, "Fixed total partition count.")
	flags.StringSliceVarP(&cmd.Config.Cluster.Hosts, "cluster.hosts", "", cmd.Config.Cluster.Hosts, "Comma-separated list of cluster member addresses.")
	flags.IntVarP(&cmd.Config.Cluster.GossipPort, "cluster.gossip-port", "", cmd.Config.Cluster.GossipPort, "Port for inter-node gossip membership traffic.")
	flags.IntVarP(&cmd.Config.Scheduler.WorkerCount, "scheduler.worker-count", "", cmd.Config.Scheduler.WorkerCount, "Worker Pool size; 0 uses the number of logical CPUs.")
	flags.IntVarP(&cmd.Config.Ingress.MaxConcurrentQueries, "ingress.max-concurrent-queries", "", cmd.Config.Ingress.MaxConcurrentQueries, "Cap on concurrently in-flight originator queries.")
	flags.IntVarP(&cmd.Config.Ingress.QueryDispatchThreads, "ingress.query-dispatch-threads", "", cmd.Config.Ingress.QueryDispatchThreads, "Size of the HTTP intake's query dispatch pool.")
	flags.IntVarP(&cmd.Config.Ingress.OtherDispatchThreads, "ingress.other-dispatch-threads", "", cmd.Config.Ingress.OtherDispatchThreads, "Size of the HTTP intake's non-query dispatch pool.")
	flags.StringVarP(&cmd.Config.Metric.Service, "metric.service", "", cmd.Config.Metric.Service, "Metrics backend: prometheus or nop.")
	flags.StringP("config", "c", "", "TOML configuration file to read from.")

	root.SetOutput(os.Stderr)
	return root
}

// bindConfig merges command-line flags, OPENSET_-prefixed environment
// variables, and an optional TOML file into flags' bound variables, in
// that priority order.
func bindConfig(v *viper.Viper, flags *pflag.FlagSet) error {
	if err := v.BindPFlags(flags); err != nil {
		return err
	}

	v.SetEnvPrefix("OPENSET")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	configPath := v.GetString("config")
	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading configuration file %q: %w", configPath, err)
		}

		validTags := make(map[string]bool)
		flags.VisitAll(func(f *pflag.Flag) { validTags[f.Name] = true })
		for _, key := range v.AllKeys() {
			if !validTags[key] {
				return fmt.Errorf("invalid option in configuration file: %v", key)
			}
		}
	}

	var flagErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if flagErr != nil || f.Name == "config" {
			return
		}
		var value string
		if f.Value.Type() == "stringSlice" {
			value = strings.Join(v.GetStringSlice(f.Name), ",")
		} else {
			value = v.GetString(f.Name)
		}
		if value == "" {
			return
		}
		if err := flags.Set(f.Name, value); err != nil {
			flagErr = fmt.Errorf("setting %s: %w", f.Name, err)
		}
	})
	return flagErr
}

// runServe mirrors cmd/server.go's RunE: start the server, then block
// until either it stops on its own or a SIGINT asks it to shut down
// gracefully (a second SIGINT forces an immediate exit).
func runServe(cmd *server.Command) error {
	if err := cmd.Config.Validate(); err != nil {
		return err
	}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}

	sig := make(chan os.Signal, 2)
	signal.Notify(sig, os.Interrupt)
	select {
	case s := <-sig:
		cmd.Logger.Infof("opensetd: received %s; shutting down", s)
		go func() { <-sig; os.Exit(1) }()
		return cmd.Close()
	case <-cmd.Done:
		cmd.Logger.Warnf("opensetd: server stopped unexpectedly")
		return nil
	}
}
