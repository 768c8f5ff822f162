package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "webmonitor.yaml")
	body := "store:\n  driver: sqlite\n  sqlite:\n    path: " + filepath.Join(dir, "monitor.db") + "\n" +
		"llm:\n  api_key: \"\"\n" +
		"logging:\n  level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMigrateAndLinks(t *testing.T) {
	t.Parallel()

	cfg := writeConfig(t)
	out, err := run(t, "migrate", "--config", cfg)
	require.NoError(t, err)
	require.Contains(t, out, "sqlite schema is up to date")

	out, err = run(t, "links", "--config", cfg)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "ID"))
	require.Contains(t, out, "LAST CHECKED")
}

func TestCheckUnknownLink(t *testing.T) {
	t.Parallel()

	_, err := run(t, "check", "missing", "--config", writeConfig(t))
	require.ErrorContains(t, err, "not found")
}

func TestArgsValidation(t *testing.T) {
	t.Parallel()

	_, err := run(t, "check", "--config", writeConfig(t))
	require.Error(t, err)
}

func TestBadConfigFile(t *testing.T) {
	t.Parallel()

	_, err := run(t, "links", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorContains(t, err, "load config")
}
