package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/lilac-sh/lilac/pkg/health"
	"github.com/lilac-sh/lilac/pkg/log"
	"github.com/lilac-sh/lilac/pkg/metrics"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "lilac",
	Short: "Lilac - distributed ML training job orchestrator",
	Long: `Lilac schedules containerized ML training jobs onto a fleet of
GPU and CPU nodes: a control plane places queued jobs by best-fit
bin-packing, and a node agent on each host reports status and runs
whatever it is assigned.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Lilac version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(controlplaneCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

// runOpsServer mounts /metrics and /healthz,/readyz on a single
// unauthenticated listener, separate from the bearer-protected
// agent-facing API, mirroring the teacher's dedicated metrics/health
// listener alongside its gRPC API.
func runOpsServer(addr string, healthSrv *health.Server) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", healthSrv.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Logger.Error().Err(err).Str("addr", addr).Msg("ops server failed")
		}
	}()
	log.Logger.Info().Str("addr", addr).Msg("ops server listening (/metrics, /healthz, /readyz)")
}
