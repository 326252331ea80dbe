package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/omerlv/chargelink/config"
	"github.com/omerlv/chargelink/core/store"
	infrastore "github.com/omerlv/chargelink/infra/store"
	"github.com/omerlv/chargelink/pkg/export"
)

var (
	exportOut    string
	exportFormat string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export session and CDR history from the snapshot store",
	RunE:  exportHistory,
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "sessions.csv", "output file (.csv, .json or .xlsx)")
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "", "output format, inferred from the extension when empty")
	rootCmd.AddCommand(exportCmd)
}

func exportHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	name := exportFormat
	if name == "" {
		name = strings.TrimPrefix(strings.ToLower(filepath.Ext(exportOut)), ".")
	}
	format, err := export.ParseFormat(name)
	if err != nil {
		return err
	}

	st, err := openExportStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	report, err := export.Load(cmd.Context(), st)
	if err != nil {
		return err
	}

	f, err := os.Create(exportOut)
	if err != nil {
		return err
	}
	if err := report.Write(f, format); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d sessions and %d cdrs to %s\n",
		len(report.Sessions), len(report.CDRs), exportOut)
	return nil
}

func openExportStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case "sqlite":
		return infrastore.NewSQLiteStore(cfg.Store.Path)
	case "postgres":
		return infrastore.NewPostgresStore(context.Background(), cfg.Store.DSN)
	default:
		return nil, fmt.Errorf("export requires a persistent store backend, got %s", cfg.Store.Backend)
	}
}
