package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/data-connectors/source-klaviyo/internal/klaviyoapi"
	jsonpool "github.com/data-connectors/source-klaviyo/pkg/json"
)

type checkResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func newCheckCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the supplied configuration against the Klaviyo API",
		RunE: func(cmd *cobra.Command, args []string) error {
			result := runCheck(configPath)
			buf, err := jsonpool.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, string(buf))
			if result.Status != "SUCCEEDED" {
				os.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to the configuration JSON file")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func runCheck(configPath string) checkResult {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return checkResult{Status: "FAILED", Message: err.Error()}
	}

	client := klaviyoapi.New(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// A single-record page is the cheapest call that both exercises
	// auth and confirms the account has access to the core endpoint.
	_, err = client.Fetch(ctx, klaviyoapi.Request{
		EndpointKey: klaviyoapi.EndpointProfiles,
		Path:        "/profiles",
		Query:       map[string]string{"page[size]": "1"},
	})
	if err != nil {
		return checkResult{Status: "FAILED", Message: err.Error()}
	}
	return checkResult{Status: "SUCCEEDED"}
}
