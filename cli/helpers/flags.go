package helpers

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// flagPaths maps global flags to tool configuration paths.
var flagPaths = map[string]string{
	"log-level":       "log.level",
	"log-json":        "log.json",
	"log-source":      "log.source",
	"defaults":        "settings.defaults_file",
	"user":            "settings.user_file",
	"workspace":       "settings.workspace_file",
	"folder":          "settings.folders",
	"folder-settings": "settings.folder_settings",
	"watch-debounce":  "watch.debounce",
}

// AddGlobalFlags adds the flags every command accepts.
func AddGlobalFlags(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.String("config", "", "Path to a YAML file with tool configuration")
	pf.String("env-file", ".env", "Dotenv file read before STRATA_ variables are applied")
	pf.String("log-level", "info", "Log level (debug, info, warn, error)")
	pf.Bool("log-json", false, "Emit logs as JSON")
	pf.Bool("log-source", false, "Include source locations in logs")
	pf.String("defaults", "", "File declaring settings and their defaults")
	pf.String("user", "", "User settings file")
	pf.String("workspace", "", "Workspace file listing folders")
	pf.StringSlice("folder", nil, "Workspace folder, repeatable; the first is the root")
	pf.String("folder-settings", "", "Settings file inside each folder")
	pf.Duration("watch-debounce", 0, "Delay before reloading a changed file")
}

// LookupFlag finds a flag declared on cmd or inherited from its parents,
// whether or not flags have been parsed yet.
func LookupFlag(cmd *cobra.Command, name string) *pflag.Flag {
	if f := cmd.Flags().Lookup(name); f != nil {
		return f
	}
	if f := cmd.PersistentFlags().Lookup(name); f != nil {
		return f
	}
	return cmd.InheritedFlags().Lookup(name)
}

// ExtractCLIFlags returns the explicitly set global flags keyed by
// configuration path.
func ExtractCLIFlags(cmd *cobra.Command) (map[string]any, error) {
	out := make(map[string]any)
	for name, path := range flagPaths {
		f := LookupFlag(cmd, name)
		if f == nil || !f.Changed {
			continue
		}
		value, err := flagValue(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read flag %s: %w", name, err)
		}
		out[path] = value
	}
	return out, nil
}

func flagValue(f *pflag.Flag) (any, error) {
	switch f.Value.Type() {
	case "bool":
		return strconv.ParseBool(f.Value.String())
	case "duration":
		return time.ParseDuration(f.Value.String())
	}
	if sv, ok := f.Value.(pflag.SliceValue); ok {
		return sv.GetSlice(), nil
	}
	return f.Value.String(), nil
}
