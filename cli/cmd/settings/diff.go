package settings

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/compozy/strata/cli/helpers"
	"github.com/compozy/strata/engine/configuration"
)

func absPath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", p, err)
	}
	return abs, nil
}

// NewDiffCommand compares the settings of two folders opened on their own.
func NewDiffCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diff <before-dir> <after-dir>",
		Short: "Compare the effective settings of two folders",
		Long: `Open each directory as a single-folder workspace over the same defaults and
user settings, then report which keys were added, removed or changed.
Keys whose value changed only under a language override are listed per
identifier.`,
		Args: cobra.ExactArgs(2),
		RunE: runDiff,
	}
	addFormatFlag(cmd)
	return cmd
}

func runDiff(cmd *cobra.Command, args []string) error {
	format, err := formatFlag(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	snapshots := make([]*configuration.Configuration, 0, 2)
	for _, dir := range args {
		abs, err := absPath(dir)
		if err != nil {
			return err
		}
		layout := contextLayout(ctx)
		layout.WorkspaceFile = ""
		layout.Folders = []string{abs}
		svc, err := openService(ctx, layout)
		if err != nil {
			return err
		}
		snapshots = append(snapshots, svc.Current().Configuration)
		_ = svc.Close()
	}

	// folder layers are keyed by folder, so compare the global views
	d := snapshots[1].Compare(snapshots[0], nil)
	if format != helpers.FormatText {
		overrides := make(map[string][]string, len(d.Overrides))
		for _, o := range d.Overrides {
			overrides[o.Identifier] = o.Keys
		}
		return helpers.Encode(cmd.OutOrStdout(), format, map[string]any{
			"added":     orEmpty(d.Added),
			"removed":   orEmpty(d.Removed),
			"updated":   orEmpty(d.Updated),
			"overrides": overrides,
		})
	}
	out := cmd.OutOrStdout()
	for _, k := range d.Added {
		fmt.Fprintf(out, "+ %s = %s\n", k, helpers.FormatValue(snapshots[1].GetValue(k, configuration.Overrides{}, nil)))
	}
	for _, k := range d.Removed {
		fmt.Fprintf(out, "- %s\n", k)
	}
	for _, k := range d.Updated {
		fmt.Fprintf(out, "~ %s: %s -> %s\n", k,
			helpers.FormatValue(snapshots[0].GetValue(k, configuration.Overrides{}, nil)),
			helpers.FormatValue(snapshots[1].GetValue(k, configuration.Overrides{}, nil)))
	}
	for _, o := range d.Overrides {
		view := configuration.Overrides{OverrideIdentifier: o.Identifier}
		for _, k := range o.Keys {
			fmt.Fprintf(out, "~ [%s] %s: %s -> %s\n", o.Identifier, k,
				helpers.FormatValue(snapshots[0].GetValue(k, view, nil)),
				helpers.FormatValue(snapshots[1].GetValue(k, view, nil)))
		}
	}
	return nil
}
