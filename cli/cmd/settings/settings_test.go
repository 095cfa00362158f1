package settings

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/strata/pkg/config"
	"github.com/compozy/strata/pkg/logger"
)

type fixture struct {
	cfg  *config.Config
	root string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{cfg: config.Default(), root: filepath.Join(dir, "app")}
	f.write(t, filepath.Join(dir, "defaults.json"), `{
		"editor.fontSize": {"type": "number", "default": 12, "scope": "language-overridable"},
		"editor.tabSize": {"type": "number", "default": 4, "scope": "resource"}
	}`)
	f.write(t, filepath.Join(dir, "user.json"), `{"editor.fontSize": 14, "[go]": {"editor.tabSize": 8}}`)
	f.write(t, filepath.Join(f.root, ".vscode", "settings.json"), `{"editor.tabSize": 2}`)
	f.cfg.Settings.DefaultsFile = filepath.Join(dir, "defaults.json")
	f.cfg.Settings.UserFile = filepath.Join(dir, "user.json")
	f.cfg.Settings.Folders = []string{f.root}
	return f
}

func (f *fixture) write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func (f *fixture) run(t *testing.T, cmd *cobra.Command, args ...string) string {
	t.Helper()
	ctx := logger.ContextWithLogger(t.Context(), logger.NewLogger(logger.TestConfig()))
	ctx = config.ContextWithConfig(ctx, f.cfg)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.ExecuteContext(ctx))
	return out.String()
}

func TestGetCommand(t *testing.T) {
	t.Run("Should print the effective value", func(t *testing.T) {
		f := newFixture(t)
		assert.Equal(t, "14\n", f.run(t, NewGetCommand(), "editor.fontSize"))
	})

	t.Run("Should resolve for a resource and an override", func(t *testing.T) {
		f := newFixture(t)
		file := filepath.Join(f.root, "main.go")
		assert.Equal(t, "2\n", f.run(t, NewGetCommand(), "editor.tabSize", "--resource", file))
		// the folder sets tabSize without an override block, so it still wins
		assert.Equal(t, "2\n", f.run(t, NewGetCommand(), "editor.tabSize", "--resource", file, "--override", "go"))
	})

	t.Run("Should encode json", func(t *testing.T) {
		f := newFixture(t)
		var got map[string]any
		require.NoError(t, json.Unmarshal([]byte(f.run(t, NewGetCommand(), "editor.fontSize", "-f", "json")), &got))
		assert.Equal(t, map[string]any{"key": "editor.fontSize", "value": float64(14)}, got)
	})

	t.Run("Should reject unknown formats", func(t *testing.T) {
		f := newFixture(t)
		cmd := NewGetCommand()
		cmd.SetArgs([]string{"editor.fontSize", "-f", "xml"})
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		err := cmd.ExecuteContext(config.ContextWithConfig(t.Context(), f.cfg))
		assert.ErrorContains(t, err, "unknown output format")
	})
}

func TestInspectCommand(t *testing.T) {
	t.Run("Should show every layer", func(t *testing.T) {
		f := newFixture(t)
		out := f.run(t, NewInspectCommand(), "editor.tabSize", "-f", "yaml", "--resource", f.root)
		assert.Contains(t, out, "default: 4")
		assert.Contains(t, out, "folder: 2")
		assert.Contains(t, out, "value: 2")
	})

	t.Run("Should print a table", func(t *testing.T) {
		f := newFixture(t)
		out := f.run(t, NewInspectCommand(), "editor.fontSize")
		assert.Contains(t, out, "effective")
		assert.Contains(t, out, "14")
	})
}

func TestKeysCommand(t *testing.T) {
	t.Run("Should list keys per layer", func(t *testing.T) {
		f := newFixture(t)
		var got map[string][]string
		require.NoError(t, json.Unmarshal([]byte(f.run(t, NewKeysCommand(), "-f", "json")), &got))
		assert.ElementsMatch(t, []string{"editor.fontSize", "editor.tabSize"}, got["default"])
		assert.Equal(t, []string{"editor.fontSize"}, got["user"])
		assert.Equal(t, []string{"editor.tabSize"}, got["workspace"])
		assert.Empty(t, got["memory"])
	})
}

func TestDiffCommand(t *testing.T) {
	t.Run("Should report changes between two folders", func(t *testing.T) {
		f := newFixture(t)
		after := filepath.Join(filepath.Dir(f.root), "next")
		f.write(t, filepath.Join(after, ".vscode", "settings.json"), `{"editor.tabSize": 3, "files.exclude": {"dist": true}}`)

		var got struct {
			Added     []string            `json:"added"`
			Removed   []string            `json:"removed"`
			Updated   []string            `json:"updated"`
			Overrides map[string][]string `json:"overrides"`
		}
		require.NoError(t, json.Unmarshal([]byte(f.run(t, NewDiffCommand(), f.root, after, "-f", "json")), &got))
		assert.Equal(t, []string{"files.exclude"}, got.Added)
		assert.Empty(t, got.Removed)
		assert.Equal(t, []string{"editor.tabSize"}, got.Updated)
		assert.Empty(t, got.Overrides)
	})

	t.Run("Should report changes under a language override", func(t *testing.T) {
		f := newFixture(t)
		after := filepath.Join(filepath.Dir(f.root), "lang")
		f.write(t, filepath.Join(after, ".vscode", "settings.json"), `{"[go]": {"editor.fontSize": 20}}`)

		var got struct {
			Overrides map[string][]string `json:"overrides"`
		}
		require.NoError(t, json.Unmarshal([]byte(f.run(t, NewDiffCommand(), f.root, after, "-f", "json")), &got))
		assert.Equal(t, map[string][]string{"go": {"editor.tabSize", "editor.fontSize"}}, got.Overrides)

		out := f.run(t, NewDiffCommand(), f.root, after)
		assert.Contains(t, out, "~ editor.tabSize: 2 -> 4")
		assert.Contains(t, out, "~ [go] editor.tabSize: 2 -> 8")
		assert.Contains(t, out, "~ [go] editor.fontSize: 14 -> 20")
	})

	t.Run("Should print a text diff", func(t *testing.T) {
		f := newFixture(t)
		after := filepath.Join(filepath.Dir(f.root), "empty")
		require.NoError(t, os.MkdirAll(after, 0o755))

		out := f.run(t, NewDiffCommand(), f.root, after)
		assert.Contains(t, out, "~ editor.tabSize: 2 -> 4")
	})
}

func TestOpenService(t *testing.T) {
	ctxFor := func(f *fixture) context.Context {
		ctx := logger.ContextWithLogger(t.Context(), logger.NewLogger(logger.TestConfig()))
		return config.ContextWithConfig(ctx, f.cfg)
	}

	t.Run("Should not watch files by default", func(t *testing.T) {
		f := newFixture(t)
		ctx := ctxFor(f)
		svc, err := openService(ctx, contextLayout(ctx))
		require.NoError(t, err)
		defer svc.Close()
		assert.Empty(t, svc.WatchedFiles())
	})

	t.Run("Should watch files when enabled", func(t *testing.T) {
		f := newFixture(t)
		f.cfg.Watch.Enabled = true
		ctx := ctxFor(f)
		svc, err := openService(ctx, contextLayout(ctx))
		require.NoError(t, err)
		defer svc.Close()
		assert.Contains(t, svc.WatchedFiles(), f.cfg.Settings.UserFile)
	})
}
