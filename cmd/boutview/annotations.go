package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/gj2101/boutview/internal/annotation"
	"github.com/gj2101/boutview/internal/bout"
	"github.com/gj2101/boutview/internal/kv"
)

type scopeFlags struct {
	baseURL string
	csvURL  string
}

func (f *scopeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.baseURL, "base-url", "", "dataset base URL")
	cmd.Flags().StringVar(&f.csvURL, "csv-url", "", "call table URL the bouts came from")
	_ = cmd.MarkFlagRequired("base-url")
}

// withStore opens the configured state store and the annotation set of the scope.
func (a *app) withStore(ctx context.Context, f scopeFlags, fn func(*annotation.Store) error) error {
	store, closeStore, err := kv.Open(ctx, a.cfg.StoreDSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = closeStore() }()

	s, err := annotation.Open(ctx, store, annotation.Scope{BaseURL: f.baseURL, CSVURL: f.csvURL})
	if err != nil {
		return err
	}
	return fn(s)
}

func (a *app) annotationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "annotations",
		Short: "Export, import or clear bout tags and notes",
	}
	cmd.AddCommand(a.annotationsExportCmd())
	cmd.AddCommand(a.annotationsImportCmd())
	cmd.AddCommand(a.annotationsClearCmd())
	return cmd
}

func (a *app) annotationsExportCmd() *cobra.Command {
	var (
		scope scopeFlags
		calls string
		out   string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the annotated bout table as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			src := calls
			if src == "" {
				src = scope.csvURL
			}
			if src == "" {
				return errors.New("--calls or --csv-url is required")
			}
			text, err := readSource(cmd.Context(), src)
			if err != nil {
				return err
			}
			bouts, err := bout.Derive(text)
			if err != nil {
				return err
			}

			return a.withStore(cmd.Context(), scope, func(s *annotation.Store) error {
				var w io.Writer = cmd.OutOrStdout()
				if out != "" {
					f, err := os.Create(out)
					if err != nil {
						return fmt.Errorf("create %s: %w", out, err)
					}
					defer func() { _ = f.Close() }()
					w = f
				}
				return s.ExportCSV(w, bouts)
			})
		},
	}

	scope.register(cmd)
	cmd.Flags().StringVar(&calls, "calls", "", "call table file or URL (defaults to --csv-url)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (defaults to stdout)")
	return cmd
}

func (a *app) annotationsImportCmd() *cobra.Command {
	var scope scopeFlags

	cmd := &cobra.Command{
		Use:   "import <annotated.csv>",
		Short: "Replace the scope's tags and notes with those of a CSV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open %s: %w", args[0], err)
			}
			defer func() { _ = f.Close() }()

			return a.withStore(cmd.Context(), scope, func(s *annotation.Store) error {
				if err := s.ImportCSV(cmd.Context(), f); err != nil {
					return err
				}
				set := s.Snapshot()
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d tags and %d notes\n", len(set.Tags), len(set.Notes))
				return nil
			})
		},
	}

	scope.register(cmd)
	return cmd
}

func (a *app) annotationsClearCmd() *cobra.Command {
	var (
		scope scopeFlags
		yes   bool
	)

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every tag and note of the scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to clear annotations without --yes")
			}
			return a.withStore(cmd.Context(), scope, func(s *annotation.Store) error {
				if err := s.ClearAll(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "annotations cleared")
				return nil
			})
		},
	}

	scope.register(cmd)
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm clearing")
	return cmd
}
