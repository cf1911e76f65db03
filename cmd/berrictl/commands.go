package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sakif/berri-graph/internal/config"
	"github.com/sakif/berri-graph/internal/model"
	"github.com/sakif/berri-graph/internal/server"
)

type rootOptions struct {
	configPath string
	jsonOutput bool
	verbose    bool
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "berrictl",
		Short:         "Sync follow graphs and find mutuals from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("CONFIG_FILE"), "path to a YAML config file")
	root.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "print results as JSON")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log debug output to stderr")

	root.AddCommand(newSyncCmd(opts), newMutualsCmd(opts))
	return root
}

// openApp loads configuration and opens the backends.
func openApp(ctx context.Context, opts *rootOptions) (*server.App, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return server.NewApp(ctx, cfg, logger)
}

func newSyncCmd(opts *rootOptions) *cobra.Command {
	var direction string

	cmd := &cobra.Command{
		Use:   "sync <username>",
		Short: "Refresh one edge list of a user if the staleness policy asks for it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := model.ParseDirection(direction)
			if err != nil {
				return err
			}

			app, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer app.Close()

			res, err := app.Connections.ProcessUser(cmd.Context(), args[0], dir)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(out, res)
			}
			fmt.Fprintf(out, "user:      %s (%s)\n", res.User.Username, res.User.ID)
			fmt.Fprintf(out, "direction: %s\n", res.Direction)
			fmt.Fprintf(out, "decision:  refresh=%t reason=%s cached=%d live=%d\n",
				res.Decision.Refresh, res.Decision.Reason, res.Decision.Cached, res.Decision.Live)
			if res.Delta != nil {
				fmt.Fprintf(out, "edges:     +%d -%d total=%d\n", res.Delta.Added, res.Delta.Removed, res.Delta.Total)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&direction, "direction", "d", string(model.Followers), "followers or following")
	return cmd
}

func newMutualsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mutuals <requester> <target>",
		Short: "List accounts the requester follows that follow the target",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer app.Close()

			res, err := app.Mutuals.FindMutuals(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(out, map[string]any{
					"mutuals": res.Result.Mutuals,
					"count":   len(res.Result.Mutuals),
					"debug":   res.Debug,
				})
			}

			fmt.Fprintf(out, "%d mutuals between %s and %s\n",
				len(res.Result.Mutuals), res.Result.Requester.Username, res.Result.Target.Username)
			if len(res.Result.Mutuals) == 0 {
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "USERNAME\tNAME\tFOLLOWERS")
			for _, u := range res.Result.Mutuals {
				fmt.Fprintf(tw, "@%s\t%s\t%d\n", u.Username, strings.TrimSpace(u.Name), u.FollowersCount)
			}
			return tw.Flush()
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
