package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/claude/repsession/internal/catalog"
	sessionmcp "github.com/claude/repsession/internal/mcp"
	"github.com/claude/repsession/internal/models"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
)

var (
	runCmd = &cobra.Command{
		Use:   "run [script.yaml]",
		Short: "Play a workout script through the session engine",
		Long: `Dispatches each step of the script to the user's session and prints the
resulting session as JSON. A snapshot from an interrupted run is
recovered first, so a script can continue where the last one stopped.`,
		Args: cobra.ExactArgs(1),
		RunE: runScript,
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show the recovered session and its pending changes",
		Args:  cobra.NoArgs,
		RunE:  showStatus,
	}

	discardCmd = &cobra.Command{
		Use:   "discard",
		Short: "Delete the user's saved snapshot",
		Args:  cobra.NoArgs,
		RunE:  discardSnapshot,
	}

	catalogCmd = &cobra.Command{
		Use:   "catalog [catalog.yaml]",
		Short: "Validate and list the exercise catalog",
		Args:  cobra.MaximumNArgs(1),
		RunE:  listCatalog,
	}

	mcpCmd = &cobra.Command{
		Use:   "mcp",
		Short: "Serve the workout history tools over stdio MCP",
		Long: `Runs an MCP server on stdin/stdout whose tools read the user's history
from the remote data service.`,
		Args: cobra.NoArgs,
		RunE: serveMCP,
	}

	closeTimeout time.Duration
)

func init() {
	runCmd.Flags().DurationVar(&closeTimeout, "close-timeout", time.Minute, "how long to wait for the final flush and save")
}

func runScript(cmd *cobra.Command, args []string) error {
	actions, err := loadScript(args[0])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, cleanup, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		if err := cleanup(cctx); err != nil {
			log.Error("closing engine", "error", err)
		}
	}()

	ctrl, err := eng.Open(ctx, cfg.Engine.UserID)
	if err != nil {
		return err
	}

	var last models.Session
	for _, a := range actions {
		if a.ev != nil {
			last, err = ctrl.Dispatch(ctx, a.ev)
			if err != nil {
				return fmt.Errorf("dispatching %s: %w", a.ev.Name(), err)
			}
			log.Info("step", "event", a.ev.Name(), "state", last.State, "sets", len(last.Sets))
		}
		if a.wait > 0 {
			select {
			case <-time.After(a.wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	last, err = ctrl.Session(ctx)
	if err != nil {
		return err
	}
	return printJSON(last)
}

func showStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	eng, cleanup, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer cleanup(context.WithoutCancel(ctx))

	ctrl, err := eng.Open(ctx, cfg.Engine.UserID)
	if err != nil {
		return err
	}
	s, err := ctrl.Session(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "user\t%s\n", s.UserID)
	fmt.Fprintf(w, "state\t%s\n", s.State)
	if s.StartedAt != nil {
		fmt.Fprintf(w, "session\t%s\n", s.ID)
		fmt.Fprintf(w, "started\t%s\n", s.StartedAt.Format(time.RFC3339))
		fmt.Fprintf(w, "elapsed\t%s\n", time.Duration(s.ElapsedSeconds)*time.Second)
	}
	fmt.Fprintf(w, "sets\t%d\n", s.Metrics.TotalSets)
	fmt.Fprintf(w, "volume\t%.1f kg\n", s.Metrics.TotalVolume)
	fmt.Fprintf(w, "sync\t%s (%d pending)\n", s.SyncStatus, s.PendingChanges)
	for _, it := range ctrl.Queue() {
		fmt.Fprintf(w, "  %s\t%s retries=%d\n", it.Payload.Kind(), it.Payload.RecordID(), it.Retries)
	}
	return w.Flush()
}

func discardSnapshot(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Delete(ctx, cfg.Engine.UserID); err != nil {
		return err
	}
	log.Info("snapshot discarded", "user", cfg.Engine.UserID)
	return nil
}

func listCatalog(_ *cobra.Command, args []string) error {
	path := cfg.Engine.Catalog
	if len(args) > 0 {
		path = args[0]
	}
	if path == "" {
		return errors.New("no catalog given and engine.catalog is not set")
	}
	cat, err := catalog.Load(path)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "EXERCISE\tMOVEMENT\tINTENSITY\tSETS\tREST\tMUSCLES")
	for _, ex := range cat.Exercises() {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%ds\t%s\n",
			ex.ExerciseID, ex.Movement, ex.Intensity, ex.TotalSets, ex.DefaultRestSeconds,
			strings.Join(ex.MuscleGroups, ","))
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "PLAN\tNAME\tEXERCISES")
	for _, p := range cat.Plans() {
		fmt.Fprintf(w, "%s\t%s\t%s\n", p.ID, p.Name, strings.Join(p.Exercises, ","))
	}
	return w.Flush()
}

func serveMCP(_ *cobra.Command, _ []string) error {
	if cfg.Engine.RemoteURL == "" {
		return errors.New("engine.remote_url is required for the MCP server")
	}
	ds := sessionmcp.NewHTTPClient(cfg.Engine.RemoteURL, cfg.Auth.APIKey)
	srv := sessionmcp.New(ds, Version, log)

	user := cfg.Engine.UserID
	log.Info("serving MCP on stdio", "user", user, "remote", cfg.Engine.RemoteURL)
	return mcpserver.ServeStdio(srv, mcpserver.WithStdioContextFunc(func(ctx context.Context) context.Context {
		return sessionmcp.WithUserID(ctx, user)
	}))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
