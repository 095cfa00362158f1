package cli

import (
	"context"
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/compozy/strata/cli/cmd/config"
	"github.com/compozy/strata/cli/cmd/settings"
	"github.com/compozy/strata/cli/helpers"
	pkgconfig "github.com/compozy/strata/pkg/config"
	"github.com/compozy/strata/pkg/logger"
	"github.com/compozy/strata/pkg/version"
)

func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "strata",
		Short:         "Resolve layered editor settings",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return SetupGlobalConfig(cmd)
		},
	}
	helpers.AddGlobalFlags(root)
	root.AddCommand(settings.Commands()...)
	root.AddCommand(config.NewConfigCommand(), versionCmd())
	return root
}

func versionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := cmd.Flags().GetString("format")
			if err != nil {
				return fmt.Errorf("failed to get format flag: %w", err)
			}
			format, err := helpers.ParseFormat(raw)
			if err != nil {
				return err
			}
			info := version.Get()
			if format == helpers.FormatText {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), info)
				return err
			}
			return helpers.Encode(cmd.OutOrStdout(), format, info)
		},
	}
	cmd.Flags().StringP("format", "f", string(helpers.FormatText), "Output format (text, json, yaml)")
	return cmd
}

// SetupGlobalConfig loads the tool configuration with precedence
// defaults < YAML file < environment < flags, installs the logger and stores
// both in the command context. The dotenv file is applied to the
// environment first.
func SetupGlobalConfig(cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	var envFile string
	if f := helpers.LookupFlag(cmd, "env-file"); f != nil {
		envFile = f.Value.String()
	}
	envPath, err := helpers.LoadEnvFile(envFile)
	if err != nil {
		return err
	}
	flags, err := helpers.ExtractCLIFlags(cmd)
	if err != nil {
		return fmt.Errorf("failed to extract CLI flags: %w", err)
	}
	var configFile string
	if f := helpers.LookupFlag(cmd, "config"); f != nil {
		configFile = f.Value.String()
	}

	var sources []pkgconfig.Source
	if configFile != "" {
		sources = append(sources, pkgconfig.NewYAMLProvider(afero.NewOsFs(), configFile))
	}
	if len(flags) > 0 {
		sources = append(sources, pkgconfig.NewCLIProvider(flags))
	}
	svc := pkgconfig.NewService()
	cfg, err := svc.Load(ctx, sources...)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.SetupLogger(cfg.Log.Level, cfg.Log.JSON, cfg.Log.Source)
	ctx = logger.ContextWithLogger(ctx, log)
	ctx = pkgconfig.ContextWithConfig(ctx, cfg)
	ctx = pkgconfig.ContextWithService(ctx, svc)
	cmd.SetContext(ctx)
	log.Debug("configuration loaded", "config_file", configFile, "env_file", envPath)
	return nil
}
