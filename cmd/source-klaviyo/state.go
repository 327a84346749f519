package main

import (
	"os"

	"github.com/data-connectors/source-klaviyo/internal/state"
	jsonpool "github.com/data-connectors/source-klaviyo/pkg/json"
)

// loadState reads an optional --state file, sniffing which of the two
// wire formats (legacy map or envelope list) it was written in. A
// missing path yields an empty Manager.
func loadState(path string) (*state.Manager, error) {
	if path == "" {
		return state.NewManager(), nil
	}
	raw, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied path
	if err != nil {
		if os.IsNotExist(err) {
			return state.NewManager(), nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return state.NewManager(), nil
	}

	var envelopes []state.Envelope
	if err := jsonpool.Unmarshal(raw, &envelopes); err == nil && len(envelopes) > 0 {
		return state.LoadEnvelopes(envelopes), nil
	}

	var legacy map[string]state.Watermark
	if err := jsonpool.Unmarshal(raw, &legacy); err != nil {
		return nil, err
	}
	return state.LoadLegacy(legacy), nil
}
