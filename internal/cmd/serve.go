package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/arittr/spectacular-codex/internal/api"
	"github.com/arittr/spectacular-codex/internal/errors"
	"github.com/arittr/spectacular-codex/internal/event"
	"github.com/arittr/spectacular-codex/internal/job"
	"github.com/arittr/spectacular-codex/internal/mcp"
	"github.com/arittr/spectacular-codex/internal/metrics"
	"github.com/arittr/spectacular-codex/internal/orchestrator"
)

// Version is reported to MCP clients.
var Version = "dev"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept runs over MCP and/or HTTP",
	Long: `Start a long-lived orchestrator for one repository.

--mcp serves the execute and status tools on stdin/stdout, for use as an MCP
server by a coding agent. --http serves the job API and Prometheus metrics on
server.http_addr. Both may be enabled together; they share one job store, so a
run started over MCP is visible over HTTP. With neither flag, --http is
assumed.

Runs execute in the background. Stopping the server cancels them; their
finished task branches are kept and a later run with the same id resumes.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("repo", "", "repository to run in (default: current directory)")
	serveCmd.Flags().Bool("mcp", false, "serve MCP tools over stdio")
	serveCmd.Flags().Bool("http", false, "serve the HTTP API")
	serveCmd.Flags().String("addr", "", "HTTP listen address (default: server.http_addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	withMCP, _ := cmd.Flags().GetBool("mcp")
	withHTTP, _ := cmd.Flags().GetBool("http")
	if !withMCP && !withHTTP {
		withHTTP = true
	}

	dir, err := repoDir(cmd)
	if err != nil {
		return err
	}
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.HTTPAddr = addr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := event.NewBus(logger)
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics.New(reg).Subscribe(bus)

	jobs := job.NewStore()
	orch, err := orchestrator.FromConfig(ctx, cfg, dir, jobs, logger, bus)
	if err != nil {
		return err
	}
	// Canceled runs still record their failure before the process exits.
	defer orch.Wait()

	g, gctx := errgroup.WithContext(ctx)

	if withHTTP {
		srv, err := api.NewServer(api.Config{
			Addr:     cfg.Server.HTTPAddr,
			Gatherer: reg,
			Logger:   logger,
		}, orch, jobs)
		if err != nil {
			return err
		}
		g.Go(srv.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if withMCP {
		srv, err := mcp.NewServer(mcp.Config{Name: "spectacular", Version: Version, Logger: logger}, orch, jobs)
		if err != nil {
			return err
		}
		g.Go(func() error {
			// The client closing stdin ends the whole server.
			defer stop()
			return srv.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
