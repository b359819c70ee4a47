package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/gj2101/boutview/internal/dataset"
	"github.com/gj2101/boutview/internal/media"
	"github.com/gj2101/boutview/internal/storage"
)

// uploader is the part of storage.Storage that publish needs.
type uploader interface {
	Key(name string) string
	EnsureBucket(ctx context.Context) error
	SetCORS(ctx context.Context, allowedOrigins []string) error
	UploadFile(ctx context.Context, key, filePath, contentType string) error
	PutObject(ctx context.Context, key string, body io.Reader, contentType string) error
}

func (a *app) publishCmd() *cobra.Command {
	var upload bool

	cmd := &cobra.Command{
		Use:   "publish <dataset-dir>",
		Short: "Write manifest.json for a dataset directory and optionally upload it to the bucket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := args[0]
			m, err := writeLocalManifest(root)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "manifest: %d files\n", len(m))
			if !upload {
				return nil
			}

			if !a.cfg.S3.Enabled() {
				return fmt.Errorf("--upload needs S3_BUCKET")
			}
			st, err := storage.New(cmd.Context(), storage.Config{
				Endpoint:  a.cfg.S3.Endpoint,
				Bucket:    a.cfg.S3.Bucket,
				Prefix:    a.cfg.S3.Prefix,
				AccessKey: a.cfg.S3.AccessKey,
				SecretKey: a.cfg.S3.SecretKey,
				Region:    a.cfg.S3.Region,
			})
			if err != nil {
				return fmt.Errorf("connect storage: %w", err)
			}
			return publish(cmd.Context(), root, m, st, a.cfg.CORSOrigins, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&upload, "upload", false, "upload files and manifest to the configured bucket")
	return cmd
}

func writeLocalManifest(root string) (dataset.Manifest, error) {
	m, err := dataset.BuildManifest(root)
	if err != nil {
		return nil, fmt.Errorf("build manifest: %w", err)
	}
	f, err := os.Create(filepath.Join(root, dataset.ManifestName))
	if err != nil {
		return nil, fmt.Errorf("create manifest: %w", err)
	}
	if err := dataset.WriteManifest(f, m); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close manifest: %w", err)
	}
	return m, nil
}

// publish uploads every manifest item and then the manifest itself, so a reader never sees a
// manifest naming files that are not there yet.
func publish(ctx context.Context, root string, m dataset.Manifest, up uploader, origins []string, out io.Writer) error {
	if err := up.EnsureBucket(ctx); err != nil {
		return err
	}
	if err := up.SetCORS(ctx, origins); err != nil {
		slog.Warn("publish: bucket CORS not set", "error", err)
	}

	for _, item := range m {
		key := up.Key(item.Path)
		if err := up.UploadFile(ctx, key, filepath.Join(root, filepath.FromSlash(item.Path)), media.ContentType(item.Path)); err != nil {
			return err
		}
		fmt.Fprintf(out, "uploaded %s (%d bytes)\n", key, item.Size)
	}

	var buf bytes.Buffer
	if err := dataset.WriteManifest(&buf, m); err != nil {
		return err
	}
	key := up.Key(dataset.ManifestName)
	if err := up.PutObject(ctx, key, &buf, "application/json"); err != nil {
		return err
	}
	fmt.Fprintf(out, "uploaded %s\n", key)
	return nil
}
