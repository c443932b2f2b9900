package cmd

import (
	"github.com/spf13/cobra"

	"github.com/zphilip/anything-llm-nas/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize nasvec configuration with an interactive wizard",
	Long:  `Runs an interactive wizard to configure storage, the embedder endpoint, and Redis, and writes a .nasvec.yml file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.RunWizard()
		if err != nil {
			return err
		}
		return cfg.Save(cfgFile)
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
