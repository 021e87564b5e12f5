package commands

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vikashloomba/mcphost-go/internal/mcptest"
)

func TestMain(m *testing.M) {
	mcptest.RunIfServer()
	os.Exit(m.Run())
}

func TestLevelFromVerbosity(t *testing.T) {
	assert.Equal(t, slog.LevelWarn, levelFromVerbosity(0))
	assert.Equal(t, slog.LevelInfo, levelFromVerbosity(1))
	assert.Equal(t, slog.LevelDebug, levelFromVerbosity(2))
	assert.Equal(t, slog.LevelDebug, levelFromVerbosity(5))
}

func TestParseToolArgs(t *testing.T) {
	args, err := parseToolArgs("")
	require.NoError(t, err)
	assert.Empty(t, args)

	args, err = parseToolArgs(`{"a": 1, "b": "x"}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": float64(1), "b": "x"}, args)

	for _, bad := range []string{`[1,2]`, `null`, `{"a":`} {
		_, err := parseToolArgs(bad)
		require.Error(t, err, "input %s", bad)
		assert.NotEmpty(t, errors.GetAllHints(err), "input %s", bad)
	}
}

func TestRootRejectsQuietWithVerbose(t *testing.T) {
	_, err := runCLI(t, "servers", "-q", "-v")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--quiet and --verbose")
}

func TestRootRejectsUnknownLogFormat(t *testing.T) {
	_, err := runCLI(t, "servers", "--log-format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log format")
}

func TestMissingConfigHasHint(t *testing.T) {
	_, err := runCLI(t, "tools", "--config", filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	assert.NotEmpty(t, errors.GetAllHints(err))
}

func TestCommandsAgainstCalcServer(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping subprocess test in short mode")
	}
	config := writeCalcConfig(t)

	out, err := runCLI(t, "tools", "--config", config)
	require.NoError(t, err)
	assert.Contains(t, out, "calc_add")
	assert.Contains(t, out, "calc_sleep")

	out, err = runCLI(t, "prompts", "--config", config)
	require.NoError(t, err)
	assert.Contains(t, out, "calc_greet")

	out, err = runCLI(t, "resources", "--config", config)
	require.NoError(t, err)
	assert.Contains(t, out, "calc://readme")

	out, err = runCLI(t, "servers", "--config", config)
	require.NoError(t, err)
	assert.Contains(t, out, "calc")
	assert.Contains(t, out, "connected")

	out, err = runCLI(t, "call", "calc_add", "--config", config, "--args", `{"a": 2, "b": 3}`)
	require.NoError(t, err)
	assert.Equal(t, "5\n", out)

	_, err = runCLI(t, "call", "calc_missing", "--config", config)
	require.Error(t, err)
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeCalcConfig(t *testing.T) string {
	t.Helper()
	exe, args, env := mcptest.Command(mcptest.Calc)
	doc := map[string]any{
		"mcpServers": map[string]any{
			"calc": map[string]any{
				"command": append([]string{exe}, args...),
				"env":     env,
			},
		},
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "mcp.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}
