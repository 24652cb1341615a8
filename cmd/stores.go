package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/listings-crawler/internal/export"
	"github.com/sells-group/listings-crawler/internal/sink"
)

var storesCmd = &cobra.Command{
	Use:   "stores",
	Short: "Inspect and export persisted stores",
}

// -- stores count --

var storesCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Print the number of persisted stores",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		sk, err := openSink(ctx)
		if err != nil {
			return err
		}
		defer sk.Close() //nolint:errcheck

		n, err := sk.Count(ctx)
		if err != nil {
			return eris.Wrap(err, "stores count")
		}
		_, _ = fmt.Fprintln(os.Stdout, n)
		return nil
	},
}

// -- stores list --

var storesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List persisted stores, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		sk, err := openSink(ctx)
		if err != nil {
			return err
		}
		defer sk.Close() //nolint:errcheck

		rows, err := sk.List(ctx, storeFilter(cmd))
		if err != nil {
			return eris.Wrap(err, "stores list")
		}
		if len(rows) == 0 {
			_, _ = fmt.Fprintln(os.Stderr, "No stores found.")
			return nil
		}
		formatStores(os.Stdout, rows)
		return nil
	},
}

// -- stores export --

var storesExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export persisted stores to an .xlsx workbook",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		sk, err := openSink(ctx)
		if err != nil {
			return err
		}
		defer sk.Close() //nolint:errcheck

		filter := storeFilter(cmd)
		path, _ := cmd.Flags().GetString("out")
		if path == "" {
			path = export.DefaultFileName(filter.Keyword, filter.Location)
		}

		n, err := exportStores(ctx, sk, filter, path)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(os.Stdout, "Exported %d store(s) to %s\n", n, path)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{storesListCmd, storesExportCmd} {
		c.Flags().String("keyword", "", "filter by search keyword (substring match)")
		c.Flags().String("location", "", "filter by search location (substring match)")
	}
	storesListCmd.Flags().Int("limit", 50, "max number of stores to display")
	storesExportCmd.Flags().Int("limit", 10000, "max number of stores to export")
	storesExportCmd.Flags().String("out", "", "output path (default listings_<keyword>_<location>.xlsx)")

	storesCmd.AddCommand(storesCountCmd)
	storesCmd.AddCommand(storesListCmd)
	storesCmd.AddCommand(storesExportCmd)
	rootCmd.AddCommand(storesCmd)
}

// openSink opens the configured store and ensures its schema.
func openSink(ctx context.Context) (*sink.Sink, error) {
	sk, err := initSink(ctx)
	if err != nil {
		return nil, err
	}
	if err := sk.Migrate(ctx); err != nil {
		_ = sk.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return sk, nil
}

func storeFilter(cmd *cobra.Command) sink.ListFilter {
	keyword, _ := cmd.Flags().GetString("keyword")
	location, _ := cmd.Flags().GetString("location")
	limit, _ := cmd.Flags().GetInt("limit")
	return sink.ListFilter{Keyword: keyword, Location: location, Limit: limit}
}

// exportStores writes the filtered stores to path and returns the row count.
func exportStores(ctx context.Context, sk *sink.Sink, filter sink.ListFilter, path string) (int, error) {
	rows, err := sk.List(ctx, filter)
	if err != nil {
		return 0, eris.Wrap(err, "stores export")
	}
	if err := export.WriteXLSX(path, rows); err != nil {
		return 0, err
	}
	zap.L().Info("exported stores", zap.Int("rows", len(rows)), zap.String("path", path))
	return len(rows), nil
}

// formatStores writes a tabular list of stores to out.
func formatStores(out io.Writer, rows []sink.Row) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tPHONE\tRATING\tKEYWORD\tLOCATION\tCREATED")
	_, _ = fmt.Fprintln(w, "----\t-----\t------\t-------\t--------\t-------")
	for _, r := range rows {
		name := r.Name
		if len(name) > 30 {
			name = name[:27] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			name,
			r.Phone.Display(),
			r.Rating,
			r.SearchKeyword,
			r.SearchLocation,
			r.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}
