package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/arittr/spectacular-codex/internal/errors"
	"github.com/arittr/spectacular-codex/internal/job"
)

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show the status of runs on a serving instance",
	Long: `Query a running 'spectacular serve --http' instance for job status.

With a run id, shows that run in detail. Without one, lists every run the
server still tracks. Jobs live in the server's memory only; completed work is
always recoverable from git with 'spectacular resume-check'.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().String("addr", "", "server address (default: server.http_addr)")
	statusCmd.Flags().Bool("json", false, "print raw JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = viper.GetString("server.http_addr")
	}
	asJSON, _ := cmd.Flags().GetBool("json")
	out := cmd.OutOrStdout()

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	if len(args) == 0 {
		var jobs []job.Job
		if err := getJSON(ctx, addr, "/runs", &jobs); err != nil {
			return err
		}
		if asJSON {
			return writeJSON(out, jobs)
		}
		if len(jobs) == 0 {
			fmt.Fprintln(out, "No runs")
			return nil
		}
		s := newStyles(out)
		for i, j := range jobs {
			if i > 0 {
				fmt.Fprintln(out)
			}
			renderJob(out, s, j)
		}
		return nil
	}

	var j job.Job
	if err := getJSON(ctx, addr, "/runs/"+args[0], &j); err != nil {
		return err
	}
	if asJSON {
		return writeJSON(out, j)
	}
	renderJob(out, newStyles(out), j)
	return nil
}

// getJSON fetches path from the server at addr and decodes the body into v.
func getJSON(ctx context.Context, addr, path string, v any) error {
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+path, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach server at %s (is 'spectacular serve --http' running?): %w", addr, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errors.NewRunNotFoundError(strings.TrimPrefix(path, "/runs/"))
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
