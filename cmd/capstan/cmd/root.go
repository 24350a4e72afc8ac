package cmd

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/G-Research/capstan/internal/common"
	commonconfig "github.com/G-Research/capstan/internal/common/config"
	"github.com/G-Research/capstan/internal/scheduler/configuration"
)

const (
	CustomConfigLocation string = "config"
	defaultConfigPath    string = "./config/capstan"
)

func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "capstan",
		SilenceUsage: true,
		Short:        "Schedules deployments onto clusters by priority, preempting lower priority work",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return errors.WithStack(viper.BindPFlag(CustomConfigLocation, cmd.Root().PersistentFlags().Lookup(CustomConfigLocation)))
		},
	}

	addConfigFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		runCmd(),
		migrateDbCmd(),
	)

	return cmd
}

func addConfigFlags(flags *pflag.FlagSet) {
	flags.StringSlice(
		CustomConfigLocation,
		[]string{},
		"Fully qualified path to application configuration file (for multiple config files repeat this arg or separate paths with commas)")
}

func loadConfig() (configuration.Configuration, error) {
	var config configuration.Configuration
	userSpecifiedConfigs := viper.GetStringSlice(CustomConfigLocation)

	common.LoadConfig(&config, defaultConfigPath, userSpecifiedConfigs)

	err := config.Validate()
	if err != nil {
		commonconfig.LogValidationErrors(err)
	}
	return config, err
}
