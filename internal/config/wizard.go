package config

import (
	"fmt"
	"strconv"

	"github.com/manifoldco/promptui"
)

// RunWizard runs an interactive setup wizard and returns the resulting
// Config. The caller is responsible for saving it.
func RunWizard() (*Config, error) {
	fmt.Println("Welcome to nasvec! Let's configure your document store.")
	fmt.Println()

	cfg := DefaultConfig()

	storagePrompt := promptui.Prompt{
		Label:   "Storage directory",
		Default: cfg.StorageDir,
	}
	storageDir, err := storagePrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("storage dir prompt: %w", err)
	}
	cfg.StorageDir = storageDir

	embedPrompt := promptui.Prompt{
		Label:   "Embedding service base URL",
		Default: cfg.Embedding.BasePath,
	}
	basePath, err := embedPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("embedder prompt: %w", err)
	}
	cfg.Embedding.BasePath = basePath

	dimPrompt := promptui.Prompt{
		Label:   "Embedding dimensions",
		Default: strconv.Itoa(cfg.Embedding.Dimensions),
		Validate: func(s string) error {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				return fmt.Errorf("must be a positive integer")
			}
			return nil
		},
	}
	dimStr, err := dimPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("dimensions prompt: %w", err)
	}
	cfg.Embedding.Dimensions, _ = strconv.Atoi(dimStr)

	redisPrompt := promptui.Select{
		Label: "Use Redis for the metadata cache tier?",
		Items: []string{"no (disk-only)", "yes"},
	}
	redisIdx, _, err := redisPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("redis prompt: %w", err)
	}
	if redisIdx == 1 {
		hostPrompt := promptui.Prompt{Label: "Redis host", Default: "localhost"}
		host, err := hostPrompt.Run()
		if err != nil {
			return nil, fmt.Errorf("redis host prompt: %w", err)
		}
		cfg.Redis.Host = host
	}

	visionPrompt := promptui.Prompt{
		Label:   "Vision describer base URL (empty to disable)",
		Default: cfg.Vision.BasePath,
	}
	visionBase, err := visionPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("vision prompt: %w", err)
	}
	cfg.Vision.BasePath = visionBase

	fmt.Println()
	fmt.Println("Configuration complete.")
	return cfg, nil
}
