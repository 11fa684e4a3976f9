// Command client sends generate requests through the router and reports how
// the answers were spread across servers.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/angeloszaimis/randdistri/internal/control"
	"github.com/angeloszaimis/randdistri/internal/loadgen"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand(out io.Writer) *cobra.Command {
	var (
		addr        string
		requests    int
		concurrency int
		minValue    int64
		maxValue    int64
		pause       time.Duration
		timeout     time.Duration
		quiet       bool
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:           "randdistri-client",
		Short:         "Generate random numbers through the router",
		Long:          "Sends generate requests to the router and prints each answer followed by the per-server distribution.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := loadgen.Config{
				Target:      strings.TrimRight(addr, "/") + "/generate",
				Requests:    requests,
				Concurrency: concurrency,
				Pause:       pause,
				Timeout:     timeout,
			}
			if cmd.Flags().Changed("min") {
				cfg.Min = &minValue
			}
			if cmd.Flags().Changed("max") {
				cfg.Max = &maxValue
			}

			runner, err := loadgen.NewRunner(cfg)
			if err != nil {
				return err
			}
			if !quiet && !asJSON {
				runner.OnOutcome = func(o loadgen.Outcome) {
					if o.OK() {
						fmt.Fprintf(out, "[%03d] number: %4d | server: %-8s | route: %s\n", o.Index+1, o.Number, o.FromServer, o.RequestTo)
						return
					}
					fmt.Fprintf(out, "[%03d] error: %s\n", o.Index+1, o.Error)
				}
			}

			summary, err := runner.Run(cmd.Context())
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(summary); encErr != nil {
					return encErr
				}
			} else {
				fmt.Fprintln(out)
				summary.Print(out)
			}
			return err
		},
	}

	cmd.PersistentFlags().StringVar(&addr, "addr", "http://127.0.0.1:5000", "router base URL")

	flags := cmd.Flags()
	flags.IntVarP(&requests, "requests", "n", 20, "number of requests to send")
	flags.IntVarP(&concurrency, "concurrency", "c", 1, "requests in flight at once")
	flags.Int64Var(&minValue, "min", 1, "lower bound passed to the workers")
	flags.Int64Var(&maxValue, "max", 100, "upper bound passed to the workers")
	flags.DurationVar(&pause, "pause", 0, "pause after each request")
	flags.DurationVar(&timeout, "timeout", 5*time.Second, "per-request timeout")
	flags.BoolVarP(&quiet, "quiet", "q", false, "only print the summary")
	flags.BoolVar(&asJSON, "json", false, "print the summary as JSON")

	cmd.AddCommand(newStatusCommand(out, &addr))

	return cmd
}

func newStatusCommand(out io.Writer, addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server states and request counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(*addr, "/")+"/api/status", nil)
			if err != nil {
				return err
			}
			res, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("fetching status: %w", err)
			}
			defer res.Body.Close()

			if res.StatusCode != http.StatusOK {
				return fmt.Errorf("fetching status: router answered %s", res.Status)
			}

			var st control.Status
			if err := json.NewDecoder(res.Body).Decode(&st); err != nil {
				return fmt.Errorf("decoding status: %w", err)
			}

			fmt.Fprintf(out, "%-10s %-4s %7s %9s %8s %s\n", "SERVER", "UP", "WEIGHT", "REQUESTS", "RUNNING", "FAILURE")
			for _, s := range st.Servers {
				failure := "-"
				if s.FailureIn > 0 {
					failure = fmt.Sprintf("%ds", s.FailureIn)
				}
				fmt.Fprintf(out, "%-10s %-4s %7d %9d %8t %s\n", s.ID, s.Status, s.Weight, s.Requests, s.Running, failure)
			}
			fmt.Fprintf(out, "total requests: %d\n", st.TotalRequests)
			return nil
		},
	}
}
