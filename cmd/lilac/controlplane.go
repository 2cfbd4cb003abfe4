package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lilac-sh/lilac/pkg/controlplane"
	"github.com/lilac-sh/lilac/pkg/health"
	"github.com/lilac-sh/lilac/pkg/log"
	"github.com/lilac-sh/lilac/pkg/metrics"
	"github.com/lilac-sh/lilac/pkg/placement"
	"github.com/lilac-sh/lilac/pkg/reaper"
	"github.com/lilac-sh/lilac/pkg/repository"
	"github.com/lilac-sh/lilac/pkg/scheduler"
	"github.com/lilac-sh/lilac/pkg/security"
	"github.com/spf13/cobra"
)

var controlplaneCmd = &cobra.Command{
	Use:   "controlplane",
	Short: "Control plane operations",
}

var controlplaneStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the control plane",
	Long:  `Start the Lilac control plane: the agent-facing HTTP API, the scheduler loop, and optionally the stale-node reaper.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		addr, _ := cmd.Flags().GetString("addr")
		opsAddr, _ := cmd.Flags().GetString("ops-addr")
		clusterKeys, _ := cmd.Flags().GetStringArray("cluster-key")
		schedulerInterval, _ := cmd.Flags().GetDuration("scheduler-interval")
		heartbeatInterval, _ := cmd.Flags().GetDuration("heartbeat-interval")
		withReaper, _ := cmd.Flags().GetBool("with-reaper")
		reaperInterval, _ := cmd.Flags().GetDuration("reaper-interval")

		repo, err := repository.NewBoltRepository(dataDir)
		if err != nil {
			return fmt.Errorf("open repository: %w", err)
		}
		defer repo.Close()

		keys := security.NewClusterKeyStore()
		for _, entry := range clusterKeys {
			clusterID, key, ok := strings.Cut(entry, "=")
			if !ok || clusterID == "" || key == "" {
				return fmt.Errorf("malformed --cluster-key %q, want clusterID=key", entry)
			}
			keys.AddKey(clusterID, key)
		}

		placementEngine := placement.NewEngine(repo)
		sched := scheduler.NewScheduler(repo, placementEngine, schedulerInterval)
		sched.Start()
		log.Logger.Info().Msg("scheduler started")

		var nodeReaper *reaper.Reaper
		if withReaper {
			nodeReaper = reaper.New(repo, heartbeatInterval, reaperInterval)
			nodeReaper.Start()
			log.Logger.Info().Msg("reaper started")
		}

		collector := metrics.NewCollector(repo)
		collector.Start()

		healthSrv := health.NewServer()
		healthSrv.AddCheck("repository", func(ctx context.Context) error {
			_, err := repo.ListAllNodes(ctx)
			return err
		})
		runOpsServer(opsAddr, healthSrv)

		server := controlplane.NewServer(repo, keys, addr)
		errCh := make(chan error, 1)
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			if err := server.Start(ctx); err != nil {
				errCh <- fmt.Errorf("control plane server error: %w", err)
			}
		}()
		log.Logger.Info().Str("addr", addr).Msg("control plane listening")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			log.Logger.Info().Msg("shutting down")
		case err := <-errCh:
			log.Logger.Error().Err(err).Msg("shutting down after server error")
		}

		cancel()
		sched.Stop()
		if nodeReaper != nil {
			nodeReaper.Stop()
		}
		collector.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown control plane server: %w", err)
		}
		log.Logger.Info().Msg("shutdown complete")
		return nil
	},
}

var controlplaneKeygenCmd = &cobra.Command{
	Use:   "keygen <cluster-id>",
	Short: "Generate a bearer token for a cluster",
	Long:  `Generate a new cluster API key. The key is not persisted anywhere; pass it to "controlplane start --cluster-key <cluster-id>=<key>" to reinstate it on restart, and to agents via --cluster-api-key.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		clusterID := args[0]
		store := security.NewClusterKeyStore()
		key, err := store.IssueKey(clusterID)
		if err != nil {
			return fmt.Errorf("generate key: %w", err)
		}
		fmt.Printf("Cluster ID: %s\n", clusterID)
		fmt.Printf("API Key:    %s\n", key.Key)
		return nil
	},
}

func init() {
	controlplaneCmd.AddCommand(controlplaneStartCmd)
	controlplaneCmd.AddCommand(controlplaneKeygenCmd)

	controlplaneStartCmd.Flags().String("data-dir", "./lilac-data", "Bolt data directory")
	controlplaneStartCmd.Flags().String("addr", ":8443", "Agent-facing API address")
	controlplaneStartCmd.Flags().String("ops-addr", "127.0.0.1:9090", "Address for /metrics and /healthz,/readyz")
	controlplaneStartCmd.Flags().StringArray("cluster-key", nil, "Cluster bearer token to seed, as clusterID=key (repeatable)")
	controlplaneStartCmd.Flags().Duration("scheduler-interval", scheduler.DefaultInterval, "Scheduling cycle period")
	controlplaneStartCmd.Flags().Duration("heartbeat-interval", 15*time.Second, "Expected agent heartbeat period, used by the reaper's staleness threshold")
	controlplaneStartCmd.Flags().Bool("with-reaper", true, "Run the stale-node reaper alongside the scheduler")
	controlplaneStartCmd.Flags().Duration("reaper-interval", reaper.DefaultInterval, "Reap cycle period")
}
