package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/data-connectors/source-klaviyo/internal/klaviyoapi"
	"github.com/data-connectors/source-klaviyo/internal/stream"
	"github.com/data-connectors/source-klaviyo/pkg/config"
)

func TestDiscoverCatalog_ListsEveryStreamSortedByName(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Credentials.AuthType = config.AuthTypeAPIKey
	cfg.Credentials.APIKey = "test-key"
	deps := stream.Deps{Client: klaviyoapi.New(cfg), Config: cfg}

	doc := discoverCatalog(deps)
	require.Len(t, doc.Streams, 6)

	names := make([]string, len(doc.Streams))
	for i, s := range doc.Streams {
		names[i] = s.Name
	}
	assert.True(t, sortedStrings(names), "discover output should be sorted by stream name")
}

func TestDiscoverCatalog_IncrementalStreamsAdvertiseBothModes(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Credentials.AuthType = config.AuthTypeAPIKey
	cfg.Credentials.APIKey = "test-key"
	deps := stream.Deps{Client: klaviyoapi.New(cfg), Config: cfg}

	doc := discoverCatalog(deps)
	for _, s := range doc.Streams {
		if s.SourceDefinedCursor {
			assert.Contains(t, s.SupportedSyncModes, "incremental", s.Name)
		}
	}
}

func sortedStrings(xs []string) bool {
	for i := 1; i < len(xs); i++ {
		if xs[i-1] > xs[i] {
			return false
		}
	}
	return true
}
