package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	expected := []string{"annotate", "route", "serve", "sun", "runs"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "shaderoute", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestAnnotateCommand_Flags(t *testing.T) {
	for _, name := range []string{"sun-time", "out", "layers"} {
		assert.NotNil(t, annotateCmd.Flags().Lookup(name), "annotate should have --%s flag", name)
	}
	assert.NotNil(t, annotateCmd.Flags().ShorthandLookup("o"))
}

func TestRouteCommand_Flags(t *testing.T) {
	for _, name := range []string{"from", "to", "keys", "format", "sun-time", "out"} {
		assert.NotNil(t, routeCmd.Flags().Lookup(name), "route should have --%s flag", name)
	}
	format := routeCmd.Flags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "table", format.DefValue)

	from := routeCmd.Flags().Lookup("from")
	require.NotNil(t, from)
	assert.Equal(t, []string{"true"}, from.Annotations["cobra_annotation_bash_completion_one_required_flag"])
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
	assert.NotNil(t, serveCmd.Flags().Lookup("sun-time"))
}

func TestSunCommand_Flags(t *testing.T) {
	assert.NotNil(t, sunCmd.Flags().Lookup("time"))
	j := sunCmd.Flags().Lookup("json")
	require.NotNil(t, j)
	assert.Equal(t, "false", j.DefValue)
}

func TestRunsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range runsCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"list", "show", "stats"} {
		assert.True(t, names[name], "runs should have subcommand %q", name)
	}

	limit := runsListCmd.Flags().Lookup("limit")
	require.NotNil(t, limit)
	assert.Equal(t, "50", limit.DefValue)
}
