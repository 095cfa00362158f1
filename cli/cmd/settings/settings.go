// Package settings holds the commands that resolve and inspect layered
// settings.
package settings

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/compozy/strata/cli/helpers"
	"github.com/compozy/strata/engine/configuration"
	"github.com/compozy/strata/engine/service"
	"github.com/compozy/strata/engine/workspace"
	"github.com/compozy/strata/pkg/config"
	"github.com/compozy/strata/pkg/logger"
)

// Commands returns every settings command.
func Commands() []*cobra.Command {
	return []*cobra.Command{
		NewGetCommand(),
		NewInspectCommand(),
		NewKeysCommand(),
		NewDiffCommand(),
		NewWatchCommand(),
	}
}

func addFormatFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("format", "f", string(helpers.FormatText), "Output format (text, json, yaml)")
}

func formatFlag(cmd *cobra.Command) (helpers.OutputFormat, error) {
	raw, err := cmd.Flags().GetString("format")
	if err != nil {
		return "", fmt.Errorf("failed to get format flag: %w", err)
	}
	return helpers.ParseFormat(raw)
}

func addOverrideFlags(cmd *cobra.Command) {
	cmd.Flags().String("resource", "", "Resolve for this file or folder (path or URI)")
	cmd.Flags().String("override", "", "Override identifier, e.g. a language id")
}

func overridesFlag(cmd *cobra.Command) (configuration.Overrides, error) {
	var o configuration.Overrides
	id, err := cmd.Flags().GetString("override")
	if err != nil {
		return o, fmt.Errorf("failed to get override flag: %w", err)
	}
	o.OverrideIdentifier = id
	raw, err := cmd.Flags().GetString("resource")
	if err != nil {
		return o, fmt.Errorf("failed to get resource flag: %w", err)
	}
	if raw == "" {
		return o, nil
	}
	r, err := resolveResource(raw)
	if err != nil {
		return o, err
	}
	o.Resource = r
	return o, nil
}

func resolveResource(raw string) (workspace.Resource, error) {
	if r, err := workspace.ParseResource(raw); err == nil {
		return r, nil
	}
	abs, err := absPath(raw)
	if err != nil {
		return "", err
	}
	return workspace.FileResource(abs), nil
}

// openService loads every layer described by the tool configuration in ctx.
// With watch.enabled the service also watches its files until closed.
func openService(ctx context.Context, layout service.Layout) (*service.Service, error) {
	cfg := config.FromContext(ctx)
	svc := service.New(ctx, layout,
		service.WithLookupCacheSize(cfg.Cache.FolderLookupSize),
		service.WithDebounce(cfg.Watch.Debounce, cfg.Watch.MaxWait),
	)
	if _, err := svc.Load(ctx); err != nil {
		_ = svc.Close()
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	if cfg.Watch.Enabled {
		if err := svc.Watch(ctx); err != nil {
			_ = svc.Close()
			return nil, fmt.Errorf("failed to watch settings: %w", err)
		}
	}
	logger.FromContext(ctx).Debug("settings loaded", "keys", len(svc.Current().AllKeys()))
	return svc, nil
}

func contextLayout(ctx context.Context) service.Layout {
	return service.LayoutFromConfig(config.FromContext(ctx))
}

// NewGetCommand prints the effective value of one key.
func NewGetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Print the effective value of a setting",
		Args:  cobra.ExactArgs(1),
		RunE:  runGet,
	}
	addFormatFlag(cmd)
	addOverrideFlags(cmd)
	return cmd
}

func runGet(cmd *cobra.Command, args []string) error {
	format, err := formatFlag(cmd)
	if err != nil {
		return err
	}
	o, err := overridesFlag(cmd)
	if err != nil {
		return err
	}
	svc, err := openService(cmd.Context(), contextLayout(cmd.Context()))
	if err != nil {
		return err
	}
	defer svc.Close()

	value := svc.Current().GetValue(args[0], o)
	if format == helpers.FormatText {
		_, err = fmt.Fprintln(cmd.OutOrStdout(), helpers.FormatValue(value))
		return err
	}
	return helpers.Encode(cmd.OutOrStdout(), format, map[string]any{"key": args[0], "value": value})
}

// NewInspectCommand prints what every layer contributes to one key.
func NewInspectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <key>",
		Short: "Show the value of a setting in every layer",
		Args:  cobra.ExactArgs(1),
		RunE:  runInspect,
	}
	addFormatFlag(cmd)
	addOverrideFlags(cmd)
	return cmd
}

func runInspect(cmd *cobra.Command, args []string) error {
	format, err := formatFlag(cmd)
	if err != nil {
		return err
	}
	o, err := overridesFlag(cmd)
	if err != nil {
		return err
	}
	svc, err := openService(cmd.Context(), contextLayout(cmd.Context()))
	if err != nil {
		return err
	}
	defer svc.Close()

	in := svc.Current().Lookup(args[0], o)
	if format == helpers.FormatText {
		return helpers.WriteTable(cmd.OutOrStdout(), [2]string{"LAYER", "VALUE"}, []helpers.Row{
			{Key: "default", Value: in.Default},
			{Key: "user", Value: in.User},
			{Key: "workspace", Value: in.Workspace},
			{Key: "folder", Value: in.WorkspaceFolder},
			{Key: "memory", Value: in.Memory},
			{Key: "effective", Value: in.Value},
		})
	}
	return helpers.Encode(cmd.OutOrStdout(), format, map[string]any{
		"key":       in.Key,
		"default":   in.Default,
		"user":      in.User,
		"workspace": in.Workspace,
		"folder":    in.WorkspaceFolder,
		"memory":    in.Memory,
		"value":     in.Value,
	})
}

// NewKeysCommand lists the keys each layer defines.
func NewKeysCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "List the keys defined by each layer",
		Args:  cobra.NoArgs,
		RunE:  runKeys,
	}
	addFormatFlag(cmd)
	addOverrideFlags(cmd)
	return cmd
}

func runKeys(cmd *cobra.Command, _ []string) error {
	format, err := formatFlag(cmd)
	if err != nil {
		return err
	}
	o, err := overridesFlag(cmd)
	if err != nil {
		return err
	}
	svc, err := openService(cmd.Context(), contextLayout(cmd.Context()))
	if err != nil {
		return err
	}
	defer svc.Close()

	snap := svc.Current()
	lk := snap.Keys(o.Resource)
	layers := map[string]any{
		"default":   orEmpty(lk.Default),
		"user":      orEmpty(lk.User),
		"workspace": orEmpty(lk.Workspace),
		"folder":    orEmpty(lk.WorkspaceFolder),
		"memory":    orEmpty(lk.Memory),
	}
	if format != helpers.FormatText {
		return helpers.Encode(cmd.OutOrStdout(), format, layers)
	}
	rows := make([]helpers.Row, 0, len(snap.AllKeys()))
	for _, k := range snap.AllKeys() {
		rows = append(rows, helpers.Row{Key: k, Value: snap.GetValue(k, o)})
	}
	return helpers.WriteTable(cmd.OutOrStdout(), [2]string{"KEY", "VALUE"}, rows)
}

func orEmpty(keys []string) []string {
	if keys == nil {
		return []string{}
	}
	return keys
}
