// Command tablekeeper manages the demo tables: it upgrades them, reports
// their status, drops them, and serves them over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/rzpsarthak13/tablekeeper/internal/logging"
	"github.com/rzpsarthak13/tablekeeper/pkg/tablekeeper"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type app struct {
	configPath string
	tenant     string
	logLevel   string

	config   *tablekeeper.Config
	logger   *slog.Logger
	closeLog func()
}

func newRootCmd() *cobra.Command {
	a := &app{closeLog: func() {}}

	root := &cobra.Command{
		Use:          "tablekeeper",
		Short:        "Keep versioned tables up to date",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.closeLog()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to a YAML or JSON config file")
	root.PersistentFlags().StringVar(&a.tenant, "tenant", "", "tenant whose tables are managed (overrides the config)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error (overrides the config)")

	root.AddCommand(
		a.upgradeCmd(),
		a.statusCmd(),
		a.dropCmd(),
		a.serveCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := tablekeeper.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}

	logger, closeLog, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		SeqURL: cfg.Logging.SeqURL,
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	a.config = cfg
	a.logger = logger
	a.closeLog = closeLog
	return nil
}

// open creates a client and registers the demo tables.
func (a *app) open(ctx context.Context) (tablekeeper.Client, []*tablekeeper.Handle, error) {
	client, err := tablekeeper.NewClient(a.config, tablekeeper.WithLogger(a.logger))
	if err != nil {
		return nil, nil, err
	}

	var handles []*tablekeeper.Handle
	for _, def := range demoTables(a.config.Database.Type) {
		h, err := client.Register(ctx, def, a.tenant)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		handles = append(handles, h)
	}
	return client, handles, nil
}

func (a *app) upgradeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upgrade",
		Short: "Bring every table up to its declared version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, handles, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			err = client.InitAll(cmd.Context())
			printStatus(cmd, handles)
			return err
		},
	}
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Compare stored and declared versions without upgrading",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, handles, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TABLE\tDECLARED\tSTORED\tSTATUS\tOPTION")
			for _, h := range handles {
				stored, err := h.StoredVersion(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n", h.Name(), h.Version(), stored, versionStatus(stored, h.Version()), h.VersionOption())
			}
			return w.Flush()
		},
	}
}

func versionStatus(stored, declared int) string {
	switch {
	case stored == 0:
		return "not installed"
	case stored == declared:
		return "current"
	case stored < declared:
		return "upgrade pending"
	default:
		return "newer than definition"
	}
}

func (a *app) dropCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "drop TABLE",
		Short: "Drop a table and forget its stored version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to drop without --yes")
			}
			client, handles, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			for _, h := range handles {
				if h.Name() == args[0] || h.ShortName() == args[0] {
					if err := client.Drop(cmd.Context(), h); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Table %s dropped.\n", h.Name())
					return nil
				}
			}
			return fmt.Errorf("unknown table %q", args[0])
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the drop")
	return cmd
}

func (a *app) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Upgrade the tables and serve them over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			client, _, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			// Tables that fail stay registered; their routes answer with
			// the diagnostic.
			if err := client.InitAll(ctx); err != nil {
				a.logger.Error("some tables are not ready", "error", err)
			}
			if err := client.Start(ctx); err != nil {
				return err
			}

			if addr == "" {
				addr = a.config.HTTP.Addr
			}
			gin.SetMode(gin.ReleaseMode)
			srv := &http.Server{
				Addr:              addr,
				Handler:           newServer(client, a.logger).router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("listening", "addr", addr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			a.logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides the config)")
	return cmd
}

func printStatus(cmd *cobra.Command, handles []*tablekeeper.Handle) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TABLE\tSTATE\tVERSION\tSTORED\tOPTION")
	for _, h := range handles {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", h.Name(), h.State(), h.Version(), h.DBVersion(), h.VersionOption())
	}
	w.Flush()
	for _, h := range handles {
		if !h.Ready() {
			fmt.Fprintln(cmd.OutOrStdout(), h.Diagnostic())
		}
	}
}
