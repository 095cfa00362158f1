// Package config holds commands that report the tool's own configuration.
package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/compozy/strata/cli/helpers"
	"github.com/compozy/strata/pkg/config"
)

// NewConfigCommand groups the configuration subcommands.
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the tool configuration and where each value came from",
	}
	cmd.AddCommand(newShowCommand(), newValidateCommand(), newSchemaCommand())
	return cmd
}

func newShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration values",
		Args:  cobra.NoArgs,
		RunE:  runShow,
	}
	cmd.Flags().StringP("format", "f", string(helpers.FormatText), "Output format (text, json, yaml)")
	cmd.Flags().Bool("sources", false, "Show which source provided each value")
	return cmd
}

func runShow(cmd *cobra.Command, _ []string) error {
	raw, err := cmd.Flags().GetString("format")
	if err != nil {
		return fmt.Errorf("failed to get format flag: %w", err)
	}
	format, err := helpers.ParseFormat(raw)
	if err != nil {
		return err
	}
	showSources, err := cmd.Flags().GetBool("sources")
	if err != nil {
		return fmt.Errorf("failed to get sources flag: %w", err)
	}
	ctx := cmd.Context()
	flat := flattenConfig(config.FromContext(ctx))
	svc, tracked := config.ServiceFromContext(ctx)

	if format != helpers.FormatText {
		out := map[string]any{"config": flat}
		if showSources && tracked {
			sources := make(map[string]string, len(flat))
			for k := range flat {
				sources[k] = string(svc.GetSource(k))
			}
			out["sources"] = sources
		}
		return helpers.Encode(cmd.OutOrStdout(), format, out)
	}
	rows := helpers.SortedRows(flat)
	if showSources && tracked {
		for i := range rows {
			rows[i].Value = helpers.Text(fmt.Sprintf("%s (%s)", helpers.FormatValue(rows[i].Value), svc.GetSource(rows[i].Key)))
		}
	}
	return helpers.WriteTable(cmd.OutOrStdout(), [2]string{"KEY", "VALUE"}, rows)
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the loaded configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			svc, ok := config.ServiceFromContext(ctx)
			if !ok {
				svc = config.NewService()
			}
			if err := svc.Validate(config.FromContext(ctx)); err != nil {
				return helpers.NewCliError("INVALID_CONFIG", "configuration is invalid", err.Error())
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
			return err
		},
	}
}

func newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return helpers.Encode(cmd.OutOrStdout(), helpers.FormatJSON, config.JSONSchema())
		},
	}
}

// flattenConfig lists every configuration value by dotted path.
func flattenConfig(cfg *config.Config) map[string]any {
	out := map[string]any{
		"log.level":                cfg.Log.Level,
		"log.json":                 cfg.Log.JSON,
		"log.source":               cfg.Log.Source,
		"settings.defaults_file":   cfg.Settings.DefaultsFile,
		"settings.user_file":       cfg.Settings.UserFile,
		"settings.workspace_file":  cfg.Settings.WorkspaceFile,
		"settings.folders":         strings.Join(cfg.Settings.Folders, ","),
		"settings.folder_settings": cfg.Settings.FolderSettings,
		"watch.enabled":            cfg.Watch.Enabled,
		"watch.debounce":           cfg.Watch.Debounce.String(),
		"watch.max_wait":           cfg.Watch.MaxWait.String(),
		"cache.folder_lookup_size": cfg.Cache.FolderLookupSize,
	}
	scopes := make([]string, 0, len(cfg.Settings.Standalone))
	for scope := range cfg.Settings.Standalone {
		scopes = append(scopes, scope)
	}
	slices.Sort(scopes)
	for _, scope := range scopes {
		out["settings.standalone."+scope] = cfg.Settings.Standalone[scope]
	}
	return out
}
