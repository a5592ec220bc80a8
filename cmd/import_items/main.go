// Command import_items seeds the catalog from CSV files.
//
// Every file needs a header row with at least a "name" column. The kind comes
// from a "kind" column or from --kind. Categories are separated by ";".
package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"piazza-lending/config"
	"piazza-lending/library"
)

type options struct {
	configPath string
	dbPath     string
	driver     string
	kind       string
	reset      bool
}

type importStats struct {
	imported int
	failed   int
}

func main() {
	if err := newCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:          "import_items [flags] file.csv...",
		Short:        "Seed the catalog from CSV files",
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, args, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.configPath, "config", "piazza.yaml", "path to the YAML config file")
	cmd.Flags().StringVar(&opts.dbPath, "db", "", "database file (overrides database.path)")
	cmd.Flags().StringVar(&opts.driver, "driver", "", "sqlite3 (cgo) or sqlite (pure Go)")
	cmd.Flags().StringVar(&opts.kind, "kind", "", "kind of every row without a kind column")
	cmd.Flags().BoolVar(&opts.reset, "reset", false, "delete the database before importing")
	return cmd
}

func run(ctx context.Context, opts *options, files []string, out io.Writer) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.dbPath != "" {
		cfg.Database.Path = opts.dbPath
	}
	if opts.driver != "" {
		cfg.Database.Driver = opts.driver
	}
	var kind library.Kind
	if opts.kind != "" {
		if kind, err = library.ParseKind(opts.kind); err != nil {
			return err
		}
	}

	log := logrus.New()
	log.SetOutput(os.Stderr)
	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		log.SetLevel(level)
	}

	if opts.reset {
		fmt.Fprintln(out, "Cleaning up existing database files...")
		for _, file := range []string{cfg.Database.Path, cfg.Database.Path + "-shm", cfg.Database.Path + "-wal"} {
			if err := os.Remove(file); err != nil && !errors.Is(err, os.ErrNotExist) {
				fmt.Fprintf(out, "Warning: Could not remove %s: %v\n", file, err)
			}
		}
	}

	manager, err := library.NewLibraryManager(cfg.Database.Driver, cfg.Database.Path, library.WithLogger(log))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer manager.Close()

	var total importStats
	for _, path := range files {
		fmt.Fprintf(out, "Importing items from %s...\n", path)
		st, err := importFile(ctx, manager, path, kind, out)
		if err != nil {
			return err
		}
		total.imported += st.imported
		total.failed += st.failed
	}

	fmt.Fprintf(out, "\nImport complete!\n")
	fmt.Fprintf(out, "Successfully imported: %d items\n", total.imported)
	fmt.Fprintf(out, "Errors: %d\n", total.failed)

	if total.imported > 0 {
		fmt.Fprintln(out, "\nCatalog:")
		items, err := manager.ListItems(ctx, "", 0, 0)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%-5s %-50s %-10s %s\n", "ID", "Name", "Kind", "Copies")
		fmt.Fprintln(out, strings.Repeat("-", 75))
		for _, it := range items {
			fmt.Fprintf(out, "%-5d %-50s %-10s %d\n", it.ID, truncateString(it.Name, 50), it.Kind, it.TotalCopies)
		}
	}
	return nil
}

// importFile inserts every row of one file. A bad row is reported and
// skipped; a file that cannot be read at all stops the import.
func importFile(ctx context.Context, mgr *library.LibraryManager, path string, kind library.Kind, out io.Writer) (importStats, error) {
	var st importStats
	f, err := os.Open(path)
	if err != nil {
		return st, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return st, fmt.Errorf("%s: read header: %w", path, err)
	}
	cols, err := newColumns(header)
	if err != nil {
		return st, fmt.Errorf("%s: %w", path, err)
	}

	for line := 2; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return st, fmt.Errorf("%s: %w", path, err)
		}
		draft, err := draftFromRecord(cols, rec, kind)
		if err != nil {
			fmt.Fprintf(out, "Line %d: ERROR - %s\n", line, errorText(err))
			st.failed++
			continue
		}

		fmt.Fprintf(out, "Importing: %s... ", draft.Name)
		id, err := mgr.AddItem(ctx, draft)
		if err != nil {
			fmt.Fprintf(out, "ERROR - %s\n", errorText(err))
			st.failed++
			continue
		}
		fmt.Fprintf(out, "SUCCESS (ID: %d)\n", id)
		st.imported++
	}
	return st, nil
}

func errorText(err error) string {
	if library.KindOf(err) != "" {
		return library.UserMessage(err)
	}
	return err.Error()
}

func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
