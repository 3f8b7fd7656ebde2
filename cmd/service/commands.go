package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"git-metrics/internal/export"
	"git-metrics/internal/model"
	"git-metrics/internal/report"
	"git-metrics/internal/syncer"
)

const shutdownTimeout = 10 * time.Second

func printer() report.Printer {
	return report.Printer{W: os.Stdout, UseColors: !color.NoColor}
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid repository id %q", arg)
	}
	return id, nil
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scheduled sync loop",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
	cmd.Flags().String("addr", "", "HTTP listen address")
	_ = v.BindPFlag("HTTP_ADDR", cmd.Flags().Lookup("addr"))
	return cmd
}

func serve(ctx context.Context) error {
	a, err := bootstrap(ctx, os.Stdout, true)
	if err != nil {
		return err
	}
	defer a.close()
	a.logger.Info("Database migrations applied successfully")

	a.registerConfigured(ctx)
	go a.syncer.Start(ctx)

	server := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server listening", "addr", a.cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
	case <-ctx.Done():
		a.logger.Info("Shutdown signal received. Exiting.")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func migrateCmd() *cobra.Command {
	var version int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations (latest by default, 0 rolls everything back)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd.Context(), os.Stderr, false)
			if err != nil {
				return err
			}
			defer a.close()
			return a.store.Migrate(version, a.logger)
		},
	}
	cmd.Flags().IntVar(&version, "version", -1, "target schema version")
	return cmd
}

func repoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repo",
		Short: "Manage registered repositories",
	}

	var name, kind, credential string
	add := &cobra.Command{
		Use:   "add <url>",
		Short: "Validate access and register a repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context(), os.Stderr, true)
			if err != nil {
				return err
			}
			defer a.close()
			repo, err := a.syncer.Register(cmd.Context(), syncer.RegisterParams{
				URL:        args[0],
				Name:       name,
				Provider:   model.ProviderKind(kind),
				Credential: credential,
			})
			if err != nil {
				return err
			}
			return printer().Repositories([]model.Repository{repo}, nil)
		},
	}
	add.Flags().StringVar(&name, "name", "", "display name (defaults to the provider's full name)")
	add.Flags().StringVar(&kind, "provider", "", "github or bitbucket (detected from the URL when empty)")
	add.Flags().StringVar(&credential, "credential", "", "access token for this repository")

	var all bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List registered repositories",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd.Context(), os.Stderr, true)
			if err != nil {
				return err
			}
			defer a.close()
			repos, err := a.store.ListRepositories(cmd.Context(), !all)
			if err != nil {
				return err
			}
			return printer().Repositories(repos, nil)
		},
	}
	list.Flags().BoolVar(&all, "all", false, "include deactivated repositories")

	var purge bool
	remove := &cobra.Command{
		Use:   "remove <id>",
		Short: "Deactivate a repository, or delete it with --purge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := bootstrap(cmd.Context(), os.Stderr, true)
			if err != nil {
				return err
			}
			defer a.close()
			if purge {
				return a.syncer.Delete(cmd.Context(), id)
			}
			return a.syncer.Deactivate(cmd.Context(), id)
		},
	}
	remove.Flags().BoolVar(&purge, "purge", false, "delete the repository with all its commits")

	cmd.AddCommand(add, list, remove)
	return cmd
}

func syncCmd() *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "sync <id>",
		Short: "Sync one repository and wait for it to finish",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := bootstrap(cmd.Context(), os.Stderr, true)
			if err != nil {
				return err
			}
			defer a.close()
			_, syncErr := a.syncer.SyncNow(cmd.Context(), id, full)
			if err := printer().SyncStatus(a.syncer.Status(id)); err != nil {
				return err
			}
			return syncErr
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "discard stored commits and re-ingest the full history")
	return cmd
}

func metricsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "metrics <id>",
		Short: "Print the comprehensive metrics of a synced repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := bootstrap(cmd.Context(), os.Stderr, true)
			if err != nil {
				return err
			}
			defer a.close()
			out, err := a.engine.Comprehensive(cmd.Context(), id)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}
			return printer().Comprehensive(out)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of tables")
	return cmd
}

func exportCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Write commits and rollups of a repository to Parquet files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := bootstrap(cmd.Context(), os.Stderr, true)
			if err != nil {
				return err
			}
			defer a.close()
			res, err := export.Repository(cmd.Context(), a.store, id, dir)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(os.Stdout, "Wrote %s, %s, %s\n", res.Commits, res.Daily, res.Hotspots)
			return err
		},
	}
	cmd.Flags().StringVar(&dir, "dir", ".", "output directory")
	return cmd
}
