package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gj2101/boutview/internal/bout"
	"github.com/gj2101/boutview/internal/dataset"
)

func (a *app) boutsCmd() *cobra.Command {
	var fileIndex int

	cmd := &cobra.Command{
		Use:   "bouts <calls.csv | url>",
		Short: "Derive bouts from a call table and print them as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readSource(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			bouts, err := bout.Derive(text)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("file-index") {
				bouts = bout.ForFile(bouts, fileIndex)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(bouts)
		},
	}

	cmd.Flags().IntVar(&fileIndex, "file-index", 0, "only bouts of this file_num")
	return cmd
}

// readSource reads a local file, or fetches src when it is an http(s) URL.
func readSource(ctx context.Context, src string) (string, error) {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		return dataset.NewLoader(dataset.LoaderConfig{}).FetchText(ctx, src)
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", src, err)
	}
	return string(data), nil
}
