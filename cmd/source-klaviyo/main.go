package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	// Load .env file if it exists; ignore error if it doesn't.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "source-klaviyo",
		Short: "Klaviyo data connector source",
		Long:  "source-klaviyo incrementally ingests Events, Profiles, Campaigns, Flows, Templates and Metrics from the Klaviyo API and emits newline-delimited RECORD/STATE/SOURCE_STATUS/LOG messages.",
	}

	root.AddCommand(newSpecCmd(), newCheckCmd(), newDiscoverCmd(), newReadCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
