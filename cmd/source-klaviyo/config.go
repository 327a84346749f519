package main

import (
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/data-connectors/source-klaviyo/pkg/config"
)

// loadConfig reads --config, then overlays any KLAVIYO_-prefixed
// environment variables onto the operational knobs operators most often
// want to flip without editing the file on disk. A .yaml/.yml path is
// parsed as YAML; anything else is parsed as JSON.
func loadConfig(path string) (*config.Config, error) {
	cfg := config.NewConfig()

	ext := strings.ToLower(filepath.Ext(path))
	var err error
	if ext == ".yaml" || ext == ".yml" {
		err = config.Load(path, cfg)
	} else {
		err = config.LoadJSON(path, cfg)
	}
	if err != nil {
		return nil, err
	}

	overlayEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func overlayEnv(cfg *config.Config) {
	v := viper.New()
	v.SetEnvPrefix("klaviyo")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if v.IsSet("debug") {
		cfg.Debug = v.GetBool("debug")
	}
	if v.IsSet("backfill") {
		cfg.Backfill = v.GetBool("backfill")
	}
	if v.IsSet("initialize") {
		cfg.Initialize = v.GetBool("initialize")
	}
	if v.IsSet("max_stream_failures") {
		cfg.MaxStreamFailures = v.GetInt("max_stream_failures")
	}
	if v.IsSet("max_slice_failures") {
		cfg.MaxSliceFailures = v.GetInt("max_slice_failures")
	}
}
