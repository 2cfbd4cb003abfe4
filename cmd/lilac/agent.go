package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lilac-sh/lilac/pkg/agent"
	"github.com/lilac-sh/lilac/pkg/client"
	"github.com/lilac-sh/lilac/pkg/config"
	"github.com/lilac-sh/lilac/pkg/health"
	"github.com/lilac-sh/lilac/pkg/log"
	"github.com/lilac-sh/lilac/pkg/runtime"
	"github.com/spf13/cobra"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Node agent operations",
}

var agentStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the node agent",
	Long:  `Start the Lilac node agent: introspect host resources, heartbeat the control plane, and run whatever job it assigns.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		clusterID, _ := cmd.Flags().GetString("cluster-id")
		controlPlaneURL, _ := cmd.Flags().GetString("control-plane-url")
		clusterAPIKey, _ := cmd.Flags().GetString("cluster-api-key")
		dockerHost, _ := cmd.Flags().GetString("docker-host")
		heartbeatInterval, _ := cmd.Flags().GetDuration("heartbeat-interval")
		opsAddr, _ := cmd.Flags().GetString("ops-addr")

		if clusterID == "" {
			return fmt.Errorf("--cluster-id is required")
		}

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load agent config: %w", err)
		}
		if controlPlaneURL != "" {
			cfg.ControlPlaneURL = controlPlaneURL
		}
		if clusterAPIKey != "" {
			cfg.ClusterAPIKey = clusterAPIKey
		}
		if !cmd.Flags().Changed("heartbeat-interval") && cfg.HeartbeatInterval != "" {
			d, err := time.ParseDuration(cfg.HeartbeatInterval)
			if err != nil {
				return fmt.Errorf("parse heartbeat_interval %q: %w", cfg.HeartbeatInterval, err)
			}
			heartbeatInterval = d
		}
		if cfg.ControlPlaneURL == "" {
			return fmt.Errorf("control plane url not set (--control-plane-url or config file)")
		}

		if dockerHost != "" {
			cfg.DockerHost = dockerHost
		}
		dockerRuntime, err := runtime.NewDockerRuntime(cfg.DockerHost)
		if err != nil {
			return fmt.Errorf("connect to docker: %w", err)
		}
		defer dockerRuntime.Close()

		hostname, err := os.Hostname()
		if err != nil {
			hostname = cfg.NodeID
		}

		cpClient := client.New(cfg.ControlPlaneURL, cfg.ClusterAPIKey)

		a := agent.New(agent.Config{
			NodeID:            cfg.NodeID,
			ClusterID:         clusterID,
			Hostname:          hostname,
			HeartbeatInterval: heartbeatInterval,
			Client:            cpClient,
			Runtime:           dockerRuntime,
			Registry:          cfg.RegistryCredential,
		})

		healthSrv := health.NewServer()
		healthSrv.AddCheck("docker", func(ctx context.Context) error {
			_, err := dockerRuntime.ListJobContainers(ctx)
			return err
		})
		runOpsServer(opsAddr, healthSrv)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := a.Start(ctx); err != nil {
			return fmt.Errorf("start agent: %w", err)
		}
		log.Logger.Info().Str("node_id", cfg.NodeID).Str("cluster_id", clusterID).Msg("agent running, press ctrl+c to stop")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		log.Logger.Info().Msg("shutting down")
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 35*time.Second)
		defer stopCancel()
		if err := a.Stop(stopCtx); err != nil {
			return fmt.Errorf("stop agent: %w", err)
		}
		log.Logger.Info().Msg("shutdown complete")
		return nil
	},
}

func init() {
	agentCmd.AddCommand(agentStartCmd)

	agentStartCmd.Flags().String("config", config.DefaultPath, "Path to agent config file")
	agentStartCmd.Flags().String("cluster-id", "", "Cluster this node belongs to (required)")
	agentStartCmd.Flags().String("control-plane-url", "", "Control plane base URL, e.g. https://control.example.com (overrides config file)")
	agentStartCmd.Flags().String("cluster-api-key", "", "Cluster bearer token (overrides config file)")
	agentStartCmd.Flags().String("docker-host", "", "Docker daemon address (defaults to DOCKER_HOST env or the local socket)")
	agentStartCmd.Flags().Duration("heartbeat-interval", agent.DefaultHeartbeatInterval, "Heartbeat period")
	agentStartCmd.Flags().String("ops-addr", "127.0.0.1:9091", "Address for /metrics and /healthz,/readyz")
}
