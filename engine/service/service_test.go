package service

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/strata/engine/change"
	"github.com/compozy/strata/engine/configuration"
	"github.com/compozy/strata/engine/schema"
	"github.com/compozy/strata/engine/workspace"
	"github.com/compozy/strata/pkg/logger"
)

const schemaFile = `{
	// settings known to the tests
	"editor.fontSize": {"type": "number", "default": 12, "scope": "language-overridable"},
	"editor.tabSize": {"type": "number", "default": 4, "scope": "resource"},
	"editor.wordWrap": {"type": "string", "default": "off", "scope": "resource"},
	"window.zoomLevel": {"type": "number", "default": 0, "scope": "window"},
	"task.command": {"type": "string", "executable": true, "scope": "resource"}
}`

var (
	appFolder = workspace.FileResource("/work/app")
	libFolder = workspace.FileResource("/work/lib")
	appFile   = workspace.FileResource("/work/app/main.go")
	libFile   = workspace.FileResource("/work/lib/lib.go")
)

type recorder struct {
	mu     sync.Mutex
	events []change.Event
}

func (r *recorder) listen(ev change.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []change.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]change.Event(nil), r.events...)
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	return logger.ContextWithLogger(t.Context(), logger.NewLogger(logger.TestConfig()))
}

func writeFile(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	require.NoError(t, fs.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
}

func newService(t *testing.T, fs afero.Fs, layout Layout) *Service {
	t.Helper()
	s := New(testContext(t), layout, WithFs(fs), WithDebounce(5*time.Millisecond, 50*time.Millisecond))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func folderLayout() Layout {
	return Layout{
		DefaultsFile: "/etc/strata/defaults.json",
		UserFile:     "/home/dev/settings.json",
		Folders:      []string{"/work/app"},
	}
}

func multiRootLayout() Layout {
	return Layout{
		DefaultsFile:  "/etc/strata/defaults.json",
		UserFile:      "/home/dev/settings.json",
		WorkspaceFile: "/work/dev.code-workspace",
	}
}

func TestService_Load(t *testing.T) {
	t.Run("Should apply layer precedence in folder mode", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		writeFile(t, fs, "/etc/strata/defaults.json", schemaFile)
		writeFile(t, fs, "/home/dev/settings.json", `{"editor.fontSize": 14, "editor.tabSize": 8}`)
		writeFile(t, fs, "/work/app/.vscode/settings.json", `{"editor.tabSize": 2}`)
		s := newService(t, fs, folderLayout())

		ev, err := s.Load(testContext(t))
		require.NoError(t, err)
		assert.True(t, ev.AffectsConfiguration("editor", ""))

		snap := s.Current()
		assert.Equal(t, float64(14), snap.GetValue("editor.fontSize", configuration.Overrides{}))
		assert.Equal(t, float64(2), snap.GetValue("editor.tabSize", configuration.Overrides{Resource: appFile}))
		assert.Equal(t, float64(2), snap.GetValue("editor.tabSize", configuration.Overrides{}))
		assert.Equal(t, "off", snap.GetValue("editor.wordWrap", configuration.Overrides{}))

		in := snap.Lookup("editor.tabSize", configuration.Overrides{Resource: appFile})
		assert.Equal(t, float64(4), in.Default)
		assert.Equal(t, float64(8), in.User)
		assert.Equal(t, float64(2), in.WorkspaceFolder)
	})

	t.Run("Should accept window settings from the root folder in folder mode", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		writeFile(t, fs, "/etc/strata/defaults.json", schemaFile)
		writeFile(t, fs, "/work/app/.vscode/settings.json", `{"window.zoomLevel": 1}`)
		s := newService(t, fs, folderLayout())

		_, err := s.Load(testContext(t))
		require.NoError(t, err)
		assert.Equal(t, float64(1), s.Current().GetValue("window.zoomLevel", configuration.Overrides{}))
	})

	t.Run("Should read a workspace file with several folders", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		writeFile(t, fs, "/etc/strata/defaults.json", schemaFile)
		writeFile(t, fs, "/work/dev.code-workspace", `{
			"folders": [{"path": "app"}, {"path": "lib", "name": "library"}],
			"settings": {"editor.tabSize": 3, "window.zoomLevel": 2}
		}`)
		writeFile(t, fs, "/work/lib/.vscode/settings.json", `{"editor.tabSize": 8, "window.zoomLevel": 5}`)
		s := newService(t, fs, multiRootLayout())

		_, err := s.Load(testContext(t))
		require.NoError(t, err)
		snap := s.Current()
		folders := snap.Workspace.Folders()
		require.Len(t, folders, 2)
		assert.Equal(t, appFolder, folders[0].URI)
		assert.Equal(t, "library", folders[1].Name)

		assert.Equal(t, float64(3), snap.GetValue("editor.tabSize", configuration.Overrides{Resource: appFile}))
		assert.Equal(t, float64(8), snap.GetValue("editor.tabSize", configuration.Overrides{Resource: libFile}))
		assert.Equal(t, float64(2), snap.GetValue("window.zoomLevel", configuration.Overrides{Resource: libFile}))
		assert.Nil(t, snap.Lookup("window.zoomLevel", configuration.Overrides{Resource: libFile}).WorkspaceFolder)
	})

	t.Run("Should never read executable settings from folders", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		writeFile(t, fs, "/etc/strata/defaults.json", schemaFile)
		writeFile(t, fs, "/work/app/.vscode/settings.json", `{"task.command": "rm -rf /"}`)
		s := newService(t, fs, folderLayout())

		_, err := s.Load(testContext(t))
		require.NoError(t, err)
		assert.Nil(t, s.Current().GetValue("task.command", configuration.Overrides{Resource: appFile}))

		writeFile(t, fs, "/home/dev/settings.json", `{"task.command": "make"}`)
		_, err = s.ReloadUser(testContext(t))
		require.NoError(t, err)
		assert.Equal(t, "make", s.Current().GetValue("task.command", configuration.Overrides{Resource: appFile}))
	})

	t.Run("Should namespace standalone files", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		writeFile(t, fs, "/work/app/.vscode/tasks.json", `{"version": "2.0.0"}`)
		s := newService(t, fs, folderLayout())

		_, err := s.Load(testContext(t))
		require.NoError(t, err)
		assert.Equal(t, "2.0.0", s.Current().GetValue("tasks.version", configuration.Overrides{Resource: appFile}))
	})

	t.Run("Should treat malformed and missing files as empty layers", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		writeFile(t, fs, "/etc/strata/defaults.json", schemaFile)
		writeFile(t, fs, "/home/dev/settings.json", `{"editor.fontSize": `)
		s := newService(t, fs, folderLayout())

		_, err := s.Load(testContext(t))
		require.NoError(t, err)
		assert.Equal(t, float64(12), s.Current().GetValue("editor.fontSize", configuration.Overrides{}))
		assert.Empty(t, s.Current().Keys("").User)
	})

	t.Run("Should notify listeners with every key", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		writeFile(t, fs, "/home/dev/settings.json", `{"a.b": 1}`)
		s := newService(t, fs, folderLayout())
		rec := &recorder{}
		s.OnChange(rec.listen)

		_, err := s.Load(testContext(t))
		require.NoError(t, err)
		events := rec.all()
		require.Len(t, events, 1)
		assert.Equal(t, []string{"a.b"}, events[0].AffectedKeys())
		assert.Equal(t, change.TargetDefault, events[0].Source())
	})

	t.Run("Should expand folder patterns in name order", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		writeFile(t, fs, "/etc/strata/defaults.json", schemaFile)
		writeFile(t, fs, "/work/pkgs/b/.vscode/settings.json", `{"editor.tabSize": 6}`)
		writeFile(t, fs, "/work/pkgs/a/.vscode/settings.json", `{"editor.tabSize": 5}`)
		writeFile(t, fs, "/work/pkgs/README.md", "not a folder")
		layout := folderLayout()
		layout.Folders = []string{"/work/pkgs/*", "/work/pkgs/a"}
		s := newService(t, fs, layout)

		_, err := s.Load(testContext(t))
		require.NoError(t, err)
		folders := s.Current().Workspace.Folders()
		require.Len(t, folders, 2)
		assert.Equal(t, workspace.FileResource("/work/pkgs/a"), folders[0].URI)
		assert.Equal(t, workspace.FileResource("/work/pkgs/b"), folders[1].URI)
		bFile := workspace.FileResource("/work/pkgs/b/x.go")
		assert.Equal(t, float64(6), s.Current().GetValue("editor.tabSize", configuration.Overrides{Resource: bFile}))
		assert.Equal(t, float64(5), s.Current().GetValue("editor.tabSize", configuration.Overrides{}))
	})
}

func TestService_Reload(t *testing.T) {
	t.Run("Should report only keys whose effective value changed", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		writeFile(t, fs, "/etc/strata/defaults.json", schemaFile)
		writeFile(t, fs, "/home/dev/settings.json", `{"editor.fontSize": 14, "editor.wordWrap": "on"}`)
		writeFile(t, fs, "/work/app/.vscode/settings.json", `{"editor.wordWrap": "bounded"}`)
		s := newService(t, fs, folderLayout())
		_, err := s.Load(testContext(t))
		require.NoError(t, err)
		rec := &recorder{}
		s.OnChange(rec.listen)

		writeFile(t, fs, "/home/dev/settings.json", `{"editor.fontSize": 16, "editor.wordWrap": "off"}`)
		ev, err := s.ReloadUser(testContext(t))
		require.NoError(t, err)
		assert.Equal(t, []string{"editor.fontSize"}, ev.AffectedKeys())
		assert.Equal(t, change.TargetUser, ev.Source())
		assert.Len(t, rec.all(), 1)

		ev, err = s.ReloadUser(testContext(t))
		require.NoError(t, err)
		assert.Empty(t, ev.AffectedKeys())
		assert.Len(t, rec.all(), 1)
	})

	t.Run("Should reload a folder and the workspace layer in folder mode", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		writeFile(t, fs, "/work/app/.vscode/settings.json", `{"editor.tabSize": 2}`)
		s := newService(t, fs, folderLayout())
		_, err := s.Load(testContext(t))
		require.NoError(t, err)

		writeFile(t, fs, "/work/app/.vscode/settings.json", `{"editor.tabSize": 6}`)
		ev, err := s.ReloadFolder(testContext(t), appFolder)
		require.NoError(t, err)
		assert.True(t, ev.AffectsConfiguration("editor.tabSize", appFile))
		assert.Equal(t, float64(6), s.Current().GetValue("editor.tabSize", configuration.Overrides{}))
		assert.Equal(t, float64(6), s.Current().Lookup("editor.tabSize", configuration.Overrides{}).Workspace)
	})

	t.Run("Should reject folders outside the workspace", func(t *testing.T) {
		s := newService(t, afero.NewMemMapFs(), folderLayout())
		_, err := s.Load(testContext(t))
		require.NoError(t, err)

		_, err = s.ReloadFolder(testContext(t), libFolder)
		assert.ErrorIs(t, err, configuration.ErrUnknownFolder)
	})

	t.Run("Should follow folders added to and removed from the workspace file", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		writeFile(t, fs, "/work/dev.code-workspace", `{"folders": [{"path": "app"}, {"path": "lib"}]}`)
		writeFile(t, fs, "/work/lib/.vscode/settings.json", `{"lib.only": true}`)
		writeFile(t, fs, "/work/docs/.vscode/settings.json", `{"docs.only": true}`)
		s := newService(t, fs, multiRootLayout())
		_, err := s.Load(testContext(t))
		require.NoError(t, err)

		writeFile(t, fs, "/work/dev.code-workspace", `{"folders": [{"path": "app"}, {"path": "docs"}]}`)
		ev, err := s.ReloadWorkspace(testContext(t))
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"lib.only", "docs.only"}, ev.AffectedKeys())

		snap := s.Current()
		require.Len(t, snap.Workspace.Folders(), 2)
		assert.Nil(t, snap.GetValue("lib.only", configuration.Overrides{Resource: libFile}))
		docs := workspace.FileResource("/work/docs/readme.md")
		assert.Equal(t, true, snap.GetValue("docs.only", configuration.Overrides{Resource: docs}))
	})

	t.Run("Should drop settings the defaults file stops declaring", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		writeFile(t, fs, "/etc/strata/defaults.json", schemaFile)
		s := newService(t, fs, folderLayout())
		_, err := s.Load(testContext(t))
		require.NoError(t, err)

		writeFile(t, fs, "/etc/strata/defaults.json", `{"editor.fontSize": {"type": "number", "default": 20}}`)
		ev, err := s.ReloadDefaults(testContext(t))
		require.NoError(t, err)
		assert.True(t, ev.AffectsConfiguration("editor.fontSize", ""))
		assert.True(t, ev.AffectsConfiguration("editor.tabSize", ""))
		_, ok := s.Registry().Property("editor.tabSize")
		assert.False(t, ok)
		assert.Equal(t, float64(20), s.Current().GetValue("editor.fontSize", configuration.Overrides{}))
	})
}

func TestService_UpdateMemory(t *testing.T) {
	t.Run("Should write and remove memory values", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		writeFile(t, fs, "/home/dev/settings.json", `{"editor.fontSize": 14}`)
		s := newService(t, fs, folderLayout())
		_, err := s.Load(testContext(t))
		require.NoError(t, err)

		ev := s.UpdateMemory("editor.fontSize", 30, configuration.Overrides{})
		assert.Equal(t, change.TargetMemory, ev.Source())
		assert.Equal(t, 30, s.Current().GetValue("editor.fontSize", configuration.Overrides{}))

		s.UpdateMemory("editor.fontSize", nil, configuration.Overrides{})
		assert.Equal(t, float64(14), s.Current().GetValue("editor.fontSize", configuration.Overrides{}))
	})

	t.Run("Should keep memory per resource", func(t *testing.T) {
		s := newService(t, afero.NewMemMapFs(), folderLayout())
		_, err := s.Load(testContext(t))
		require.NoError(t, err)

		s.UpdateMemory("k", "scoped", configuration.Overrides{Resource: appFile})
		assert.Equal(t, "scoped", s.Current().GetValue("k", configuration.Overrides{Resource: appFile}))
		assert.Nil(t, s.Current().GetValue("k", configuration.Overrides{}))
	})
}

func TestService_SchemaChanges(t *testing.T) {
	t.Run("Should reprocess settings after the registry changes", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		writeFile(t, fs, "/work/app/.vscode/settings.json", `{"deploy.run": "./deploy.sh"}`)
		s := newService(t, fs, folderLayout())
		_, err := s.Load(testContext(t))
		require.NoError(t, err)
		assert.Equal(t, "./deploy.sh", s.Current().GetValue("deploy.run", configuration.Overrides{}))

		rec := &recorder{}
		s.OnChange(rec.listen)
		require.NoError(t, s.Registry().Register(map[string]schema.Property{
			"deploy.run":    {Type: "string", Executable: true, Scope: schema.ScopeResource},
			"deploy.target":  {Type: "string", Default: "staging"},
		}))

		assert.Eventually(t, func() bool {
			snap := s.Current()
			return snap.GetValue("deploy.run", configuration.Overrides{}) == nil &&
				snap.GetValue("deploy.target", configuration.Overrides{}) == "staging"
		}, time.Second, 5*time.Millisecond)
		assert.Eventually(t, func() bool { return len(rec.all()) == 1 }, time.Second, 5*time.Millisecond)
	})
}

func TestParseSchemaFile(t *testing.T) {
	t.Run("Should read descriptors", func(t *testing.T) {
		props, err := parseSchemaFile([]byte(schemaFile))
		require.NoError(t, err)
		require.Len(t, props, 5)
		assert.Equal(t, schema.ScopeLanguageOverridable, props["editor.fontSize"].Scope)
		assert.Equal(t, float64(12), props["editor.fontSize"].Default)
		assert.True(t, props["task.command"].Executable)
		assert.Nil(t, props["task.command"].Default)
	})

	t.Run("Should reject unknown scopes", func(t *testing.T) {
		_, err := parseSchemaFile([]byte(`{"a": {"scope": "galaxy"}}`))
		assert.ErrorContains(t, err, "galaxy")
	})

	t.Run("Should treat blank content as no descriptors", func(t *testing.T) {
		props, err := parseSchemaFile([]byte("  // nothing\n"))
		require.NoError(t, err)
		assert.Empty(t, props)
	})
}

func TestService_Watch(t *testing.T) {
	t.Run("Should reload the user layer when its file changes", func(t *testing.T) {
		dir := t.TempDir()
		userFile := filepath.Join(dir, "settings.json")
		require.NoError(t, os.WriteFile(userFile, []byte(`{"editor.fontSize": 14}`), 0o644))
		s := newService(t, afero.NewOsFs(), Layout{UserFile: userFile})
		_, err := s.Load(testContext(t))
		require.NoError(t, err)
		require.NoError(t, s.Watch(testContext(t)))
		assert.Contains(t, s.WatchedFiles(), userFile)

		require.NoError(t, os.WriteFile(userFile, []byte(`{"editor.fontSize": 18}`), 0o644))
		assert.Eventually(t, func() bool {
			return s.Current().GetValue("editor.fontSize", configuration.Overrides{}) == float64(18)
		}, 2*time.Second, 10*time.Millisecond)
	})
}
