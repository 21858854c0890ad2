package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyforge/keyforge/internal/config"
	"github.com/keyforge/keyforge/internal/model"
	"github.com/keyforge/keyforge/internal/service"
)

// run executes the command tree against an isolated data directory and
// returns stdout.
func run(t *testing.T, dataDir string, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	cfgFile = ""

	var out bytes.Buffer
	cmd := newRootCmd("1.2.3", "abc", "today")
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--data-dir", dataDir}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func setup(t *testing.T) string {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("KEYFORGE_LOG_LEVEL", "error")
	return t.TempDir()
}

func TestKeyLifecycle(t *testing.T) {
	dir := setup(t)

	out, err := run(t, dir, "key", "generate", "--prefix", "TRIAL", "--count", "2", "--days", "7", "--json")
	require.NoError(t, err)
	var gen service.GenerateResult
	require.NoError(t, json.Unmarshal([]byte(out), &gen))
	require.Len(t, gen.Keys, 2)
	assert.Equal(t, model.Money(0), gen.TotalCost)
	key := gen.Keys[0].Key
	assert.True(t, strings.HasPrefix(key, "TRIAL-"))

	_, err = run(t, dir, "key", "verify", key)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not activated")

	out, err = run(t, dir, "key", "activate", key)
	require.NoError(t, err)
	assert.Contains(t, out, "License key activated successfully")

	out, err = run(t, dir, "key", "verify", key)
	require.NoError(t, err)
	assert.Contains(t, out, "License key is valid")

	_, err = run(t, dir, "key", "activate", key)
	assert.ErrorIs(t, err, service.ErrAlreadyActive)

	out, err = run(t, dir, "key", "list", "--prefix", "TRIAL")
	require.NoError(t, err)
	assert.Contains(t, out, key)
	assert.Contains(t, out, "CREATED BY")

	out, err = run(t, dir, "key", "delete", "--prefix", "TRIAL")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted 2 key(s)")
}

func TestKeyDeleteNeedsExactlyOneTarget(t *testing.T) {
	dir := setup(t)

	_, err := run(t, dir, "key", "delete")
	assert.Error(t, err)

	_, err = run(t, dir, "key", "delete", "SOME-KEY", "--prefix", "SOME")
	assert.Error(t, err)
}

func TestPriceImportAndList(t *testing.T) {
	dir := setup(t)

	file := filepath.Join(t.TempDir(), "prices.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`prices:
  - validity_days: 30
    price: 2.50
  - validity_days: 365
    price: 20
  - validity_days: abc
    price: 1
`), 0644))

	out, err := run(t, dir, "price", "import", file)
	require.NoError(t, err)
	assert.Contains(t, out, "Applied 2 price(s)")
	assert.Contains(t, out, "skipped row 3")

	out, err = run(t, dir, "price", "list", "--yaml")
	require.NoError(t, err)
	pf, err := config.ParsePriceFile([]byte(out))
	require.NoError(t, err)
	require.Len(t, pf.Prices, 2)
	assert.Equal(t, "30", pf.Prices[0].ValidityDays)
	assert.Equal(t, "2.50", pf.Prices[0].Price)
}

func TestModeratorDebtFromCLI(t *testing.T) {
	dir := setup(t)

	_, err := run(t, dir, "price", "set", "30", "1.25")
	require.NoError(t, err)

	out, err := run(t, dir, "moderator", "create", "--username", "alice", "--password", "s3cret-pass")
	require.NoError(t, err)
	assert.Contains(t, out, "Created moderator alice")

	out, err = run(t, dir, "moderator", "list", "--json")
	require.NoError(t, err)
	var mods []model.Moderator
	require.NoError(t, json.Unmarshal([]byte(out), &mods))
	require.Len(t, mods, 1)
	assert.Equal(t, model.Money(0), mods[0].Debt)

	_, err = run(t, dir, "moderator", "clear-debt", "bob")
	assert.ErrorIs(t, err, service.ErrNotFound)

	out, err = run(t, dir, "moderator", "clear-debt", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "Cleared debt of 0.00 for alice")

	out, err = run(t, dir, "moderator", "delete", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted moderator alice")
}

func TestOpenAPICommand(t *testing.T) {
	dir := setup(t)

	out, err := run(t, dir, "openapi", "--base-url", "https://licenses.example.com")
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Contains(t, doc, "paths")
	assert.Contains(t, out, "https://licenses.example.com")
	assert.Contains(t, out, "/api/activate")
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, t.TempDir(), "version", "--json")
	require.NoError(t, err)

	var info map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "1.2.3", info["version"])
	assert.Equal(t, "abc", info["commit"])
}

func TestConfigInit(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	tmp := t.TempDir()
	require.NoError(t, os.Chdir(tmp))
	t.Cleanup(func() { os.Chdir(wd) })

	_, err = run(t, tmp, "config", "init")
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(tmp, "keyforge.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.SampleYAML, string(data))

	_, err = run(t, tmp, "config", "init")
	assert.Error(t, err)

	_, err = run(t, tmp, "config", "init", "--force")
	assert.NoError(t, err)
}
