package cmd

import (
	"fmt"

	"github.com/samsaffron/chatcore/internal/config"
	"github.com/samsaffron/chatcore/internal/llm"
)

func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configFile != "" {
		cfg, err = config.LoadFile(configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// applyProviderOverrides applies --provider, which may carry a model
// ("openai:gpt-4o").
func applyProviderOverrides(cfg *config.Config, providerFlag string) error {
	if providerFlag == "" {
		return nil
	}
	provider, model, err := llm.ParseProviderModel(providerFlag)
	if err != nil {
		return err
	}
	cfg.ApplyOverrides(provider, model)
	return nil
}
