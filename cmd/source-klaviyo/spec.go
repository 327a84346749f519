package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	jsonpool "github.com/data-connectors/source-klaviyo/pkg/json"
)

// specField describes one recognized configuration key (spec.md §6).
type specField struct {
	Key         string `json:"key"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description"`
}

type specDoc struct {
	DocumentationURL string      `json:"documentation_url,omitempty"`
	ConnectionSpec   []specField `json:"connection_specification"`
}

func newSpecCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "spec",
		Short: "Emit the connector's configuration specification as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			doc := specDoc{
				ConnectionSpec: []specField{
					{Key: "credentials.auth_type", Type: "string", Required: true, Description: "api_key or oauth"},
					{Key: "credentials.api_key", Type: "string", Description: "bearer key for API-key mode"},
					{Key: "credentials.client_id", Type: "string", Description: "OAuth client id"},
					{Key: "credentials.client_secret", Type: "string", Description: "OAuth client secret"},
					{Key: "credentials.refresh_token", Type: "string", Description: "OAuth refresh token"},
					{Key: "initialize", Type: "boolean", Description: "if true, dual-cursor streams sort/filter by creation time; else by update time"},
					{Key: "backfill", Type: "boolean", Description: "if true, ignore and do not update state"},
					{Key: "max_stream_failures", Type: "integer", Description: "stream-level failure budget (-1 = unlimited)"},
					{Key: "max_slice_failures", Type: "integer", Description: "slice-level failure budget per stream (-1 = unlimited)"},
					{Key: "debug", Type: "boolean", Description: "raises log level"},
					{Key: "compress_state", Type: "boolean", Description: "if explicitly false, state is emitted uncompressed; default compresses"},
					{Key: "campaigns_cursor_initialize_driven", Type: "boolean", Description: "selects Campaigns' conflicting cursor policy: follow initialize (true) or stay fixed to updated_at (false, default)"},
					{Key: "events_cursor_initialize_driven", Type: "boolean", Description: "selects Events' conflicting cursor policy: dual updated/created driven by initialize (true) or fixed to datetime (false, default)"},
				},
			}
			buf, err := jsonpool.MarshalIndent(doc, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, string(buf))
			return nil
		},
	}
}
