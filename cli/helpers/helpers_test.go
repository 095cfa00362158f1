package helpers

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractCLIFlags(t *testing.T) {
	t.Run("Should map only changed flags to config paths", func(t *testing.T) {
		cmd := &cobra.Command{Use: "test", RunE: func(*cobra.Command, []string) error { return nil }}
		AddGlobalFlags(cmd)
		cmd.SetArgs([]string{"--log-json", "--folder", "/a", "--folder", "/b", "--watch-debounce", "250ms", "--user", "u.json"})
		require.NoError(t, cmd.Execute())

		got, err := ExtractCLIFlags(cmd)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{
			"log.json":           true,
			"settings.folders":   []string{"/a", "/b"},
			"watch.debounce":     250 * time.Millisecond,
			"settings.user_file": "u.json",
		}, got)
	})
}

func TestParseFormat(t *testing.T) {
	t.Run("Should accept known formats", func(t *testing.T) {
		f, err := ParseFormat("yaml")
		require.NoError(t, err)
		assert.Equal(t, FormatYAML, f)
	})

	t.Run("Should reject unknown formats", func(t *testing.T) {
		_, err := ParseFormat("xml")
		var cliErr *CliError
		require.ErrorAs(t, err, &cliErr)
		assert.Equal(t, "INVALID_FORMAT", cliErr.Code)
	})
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "-", FormatValue(nil))
	assert.Equal(t, `"on"`, FormatValue("on"))
	assert.Equal(t, "2", FormatValue(float64(2)))
	assert.Equal(t, `{"a":[1,2]}`, FormatValue(map[string]any{"a": []any{1, 2}}))
}

func TestEncode(t *testing.T) {
	t.Run("Should write yaml", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Encode(&buf, FormatYAML, map[string]any{"key": "a.b"}))
		assert.Equal(t, "key: a.b\n", buf.String())
	})

	t.Run("Should write indented json without color off a terminal", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Encode(&buf, FormatJSON, map[string]any{"key": "a.b", "value": []any{1, 2}}))
		assert.JSONEq(t, `{"key":"a.b","value":[1,2]}`, buf.String())
		assert.Contains(t, buf.String(), "\n  \"key\"")
		assert.NotContains(t, buf.String(), "\x1b[")
	})
}

func TestFormatError(t *testing.T) {
	t.Run("Should render json errors with details", func(t *testing.T) {
		err := NewCliError("X", "broken", "more")
		assert.JSONEq(t, `{"error":"broken","details":"more"}`, FormatError(err, FormatJSON))
	})

	t.Run("Should include plain messages in text", func(t *testing.T) {
		assert.Contains(t, FormatError(errors.New("boom"), FormatText), "boom")
		assert.Empty(t, FormatError(nil, FormatText))
	})
}

func TestLoadEnvFile(t *testing.T) {
	t.Run("Should set variables from the file", func(t *testing.T) {
		t.Setenv("STRATA_TEST_ENV_FILE", "")
		require.NoError(t, os.Unsetenv("STRATA_TEST_ENV_FILE"))
		path := filepath.Join(t.TempDir(), ".env")
		require.NoError(t, os.WriteFile(path, []byte("STRATA_TEST_ENV_FILE=from-file\n"), 0o600))

		got, err := LoadEnvFile(path)
		require.NoError(t, err)
		assert.Equal(t, path, got)
		assert.Equal(t, "from-file", os.Getenv("STRATA_TEST_ENV_FILE"))
	})

	t.Run("Should keep variables that are already set", func(t *testing.T) {
		t.Setenv("STRATA_TEST_ENV_FILE", "from-env")
		path := filepath.Join(t.TempDir(), ".env")
		require.NoError(t, os.WriteFile(path, []byte("STRATA_TEST_ENV_FILE=from-file\n"), 0o600))

		_, err := LoadEnvFile(path)
		require.NoError(t, err)
		assert.Equal(t, "from-env", os.Getenv("STRATA_TEST_ENV_FILE"))
	})

	t.Run("Should ignore missing files and reject directories", func(t *testing.T) {
		dir := t.TempDir()
		_, err := LoadEnvFile(filepath.Join(dir, "missing.env"))
		require.NoError(t, err)
		_, err = LoadEnvFile(dir)
		assert.ErrorContains(t, err, "not a regular file")
	})
}
