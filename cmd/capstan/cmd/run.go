package cmd

import (
	"github.com/spf13/cobra"

	"github.com/G-Research/capstan/internal/capstan"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs the scheduler and its REST API",
		RunE:  runCapstan,
	}
	return cmd
}

func runCapstan(_ *cobra.Command, _ []string) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}
	return capstan.Run(config)
}
