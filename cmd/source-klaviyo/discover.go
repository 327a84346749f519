package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/data-connectors/source-klaviyo/internal/klaviyoapi"
	"github.com/data-connectors/source-klaviyo/internal/stream"
	jsonpool "github.com/data-connectors/source-klaviyo/pkg/json"
)

type catalogStreamEntry struct {
	Name                string            `json:"name"`
	JSONSchema          stream.JSONSchema `json:"json_schema"`
	SupportedSyncModes  []string          `json:"supported_sync_modes"`
	SourceDefinedCursor bool              `json:"source_defined_cursor"`
	DefaultCursorField  string            `json:"default_cursor_field,omitempty"`
	PrimaryKey          string            `json:"primary_key,omitempty"`
}

type catalogDoc struct {
	Streams []catalogStreamEntry `json:"streams"`
}

func newDiscoverCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Emit the catalog of streams this connector can read",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			deps := stream.Deps{Client: klaviyoapi.New(cfg), Config: cfg}
			doc := discoverCatalog(deps)

			buf, err := jsonpool.MarshalIndent(doc, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, string(buf))
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to the configuration JSON file")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func discoverCatalog(deps stream.Deps) catalogDoc {
	all := stream.All(deps)

	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)

	doc := catalogDoc{Streams: make([]catalogStreamEntry, 0, len(names))}
	for _, name := range names {
		s := all[name]
		modes := []string{string(stream.SyncModeFullRefresh)}
		if s.SupportsIncremental() {
			modes = append(modes, string(stream.SyncModeIncremental))
		}
		doc.Streams = append(doc.Streams, catalogStreamEntry{
			Name:                s.Name(),
			JSONSchema:          s.JSONSchema(),
			SupportedSyncModes:  modes,
			SourceDefinedCursor: s.CursorField() != "",
			DefaultCursorField:  s.CursorField(),
			PrimaryKey:          s.PrimaryKey(),
		})
	}
	return doc
}
