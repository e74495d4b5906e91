package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBindFlags(defaultBind string, defaultHosts []string) (*pflag.FlagSet, *string, *[]string) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	bind := flags.StringP("bind", "b", defaultBind, "")
	hosts := flags.StringSliceP("cluster.hosts", "", defaultHosts, "")
	flags.StringP("config", "c", "", "")
	return flags, bind, hosts
}

func TestBindConfig_NoOverridesKeepsDefaults(t *testing.T) {
	flags, bind, hosts := newBindFlags("localhost:9191", []string{})
	require.NoError(t, bindConfig(viper.New(), flags))
	assert.Equal(t, "localhost:9191", *bind)
	assert.Empty(t, *hosts)
}

func TestBindConfig_CommandLineFlagWins(t *testing.T) {
	flags, bind, _ := newBindFlags("localhost:9191", []string{})
	require.NoError(t, flags.Set("bind", "1.2.3.4:9000"))

	require.NoError(t, bindConfig(viper.New(), flags))
	assert.Equal(t, "1.2.3.4:9000", *bind)
}

func TestBindConfig_EnvironmentVariableOverridesDefault(t *testing.T) {
	t.Setenv("OPENSET_BIND", "9.9.9.9:1111")
	flags, bind, _ := newBindFlags("localhost:9191", []string{})

	require.NoError(t, bindConfig(viper.New(), flags))
	assert.Equal(t, "9.9.9.9:1111", *bind)
}

func TestBindConfig_StringSliceFlagFromEnvironment(t *testing.T) {
	t.Setenv("OPENSET_CLUSTER_HOSTS", "a:1,b:2")
	flags, _, hosts := newBindFlags("localhost:9191", []string{})

	require.NoError(t, bindConfig(viper.New(), flags))
	assert.Equal(t, []string{"a:1", "b:2"}, *hosts)
}

func TestBindConfig_TOMLFileOverridesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "opensetd.toml")
	require.NoError(t, os.WriteFile(path, []byte(`bind = "5.5.5.5:2222"`), 0o644))

	flags, bind, _ := newBindFlags("localhost:9191", []string{})
	require.NoError(t, flags.Set("config", path))

	require.NoError(t, bindConfig(viper.New(), flags))
	assert.Equal(t, "5.5.5.5:2222", *bind)
}

func TestBindConfig_UnknownTOMLKeyErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "opensetd.toml")
	require.NoError(t, os.WriteFile(path, []byte(`not-a-real-flag = 1`), 0o644))

	flags, _, _ := newBindFlags("localhost:9191", []string{})
	require.NoError(t, flags.Set("config", path))

	assert.Error(t, bindConfig(viper.New(), flags))
}

func TestBindConfig_MissingConfigFileErrors(t *testing.T) {
	flags, _, _ := newBindFlags("localhost:9191", []string{})
	require.NoError(t, flags.Set("config", "/does/not/exist.toml"))

	assert.Error(t, bindConfig(viper.New(), flags))
}

func TestNewRootCommand_FlagsCarryConfigDefaults(t *testing.T) {
	root := newRootCommand()
	bindFlag := root.Flags().Lookup("bind")
	require.NotNil(t, bindFlag)
	assert.Equal(t, "localhost:9191", bindFlag.DefValue)

	typeFlag := root.Flags().Lookup("cluster.type")
	require.NotNil(t, typeFlag)
	assert.Equal(t, "gossip", typeFlag.DefValue)
}
