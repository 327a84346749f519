package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/data-connectors/source-klaviyo/internal/klaviyoapi"
	"github.com/data-connectors/source-klaviyo/internal/message"
	"github.com/data-connectors/source-klaviyo/internal/stream"
	"github.com/data-connectors/source-klaviyo/internal/syncdriver"
	"github.com/data-connectors/source-klaviyo/pkg/logger"
	jsonpool "github.com/data-connectors/source-klaviyo/pkg/json"
)

// inputCatalogEntry is one line of the --catalog file's stream list.
type inputCatalogEntry struct {
	Name     string `json:"name"`
	SyncMode string `json:"sync_mode"`
}

type inputCatalog struct {
	Streams []inputCatalogEntry `json:"streams"`
}

func loadCatalog(path string) ([]syncdriver.CatalogEntry, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied path
	if err != nil {
		return nil, err
	}
	var doc inputCatalog
	if err := jsonpool.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	entries := make([]syncdriver.CatalogEntry, 0, len(doc.Streams))
	for _, e := range doc.Streams {
		mode := stream.SyncMode(e.SyncMode)
		if mode == "" {
			mode = stream.SyncModeIncremental
		}
		entries = append(entries, syncdriver.CatalogEntry{Name: e.Name, SyncMode: mode})
	}
	return entries, nil
}

func newReadCmd() *cobra.Command {
	var configPath, catalogPath, statePath string

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read the requested streams and emit RECORD/STATE/SOURCE_STATUS messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRead(configPath, catalogPath, statePath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to the configuration JSON file")
	cmd.Flags().StringVar(&catalogPath, "catalog", "", "path to the catalog JSON file")
	cmd.Flags().StringVar(&statePath, "state", "", "path to a previous run's state JSON file")
	_ = cmd.MarkFlagRequired("config")
	_ = cmd.MarkFlagRequired("catalog")
	return cmd
}

func runRead(configPath, catalogPath, statePath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	catalog, err := loadCatalog(catalogPath)
	if err != nil {
		return err
	}
	mgr, err := loadState(statePath)
	if err != nil {
		return err
	}

	writer := message.NewWriter(os.Stdout)

	logLevel := "info"
	if cfg.Debug {
		logLevel = "debug"
	}
	logger.SetProtocolSink(message.NewLogSink(writer))
	if err := logger.Init(logger.Config{Level: logLevel, Encoding: "json"}); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	spoolDir, err := os.MkdirTemp("", "source-klaviyo-spool-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(spoolDir)

	deps := stream.Deps{Client: klaviyoapi.New(cfg), Config: cfg}
	driver := syncdriver.New(deps, writer, spoolDir)

	return driver.Read(ctx, catalog, mgr)
}
