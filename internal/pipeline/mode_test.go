package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	cases := map[string]Mode{
		"asm":          ModeAssembly,
		"Assembly":     ModeAssembly,
		"c":            ModeC,
		" C ":          ModeC,
		"ir":           ModeIR,
		"intermediate": ModeIR,
		"ALL":          ModeAll,
	}
	for in, want := range cases {
		got, err := ParseMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseMode("tokens")
	assert.Error(t, err)
}

func TestModeArtifacts(t *testing.T) {
	assert.Equal(t, "--asm", ModeAssembly.Flag())
	assert.Equal(t, "--all", ModeAll.Flag())

	assert.False(t, ModeAssembly.ExpectsC())
	assert.False(t, ModeIR.ExpectsC())
	assert.True(t, ModeC.ExpectsC())
	assert.True(t, ModeAll.ExpectsC())

	var suffixes []string
	for _, a := range ModeAll.Artifacts() {
		suffixes = append(suffixes, a.Suffix)
	}
	assert.Equal(t, []string{".asm", ".c", "_intermediate.txt"}, suffixes)

	for _, m := range []Mode{ModeAssembly, ModeC, ModeIR, ModeAll} {
		parsed, err := ParseMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, parsed)
	}
}

func TestInvalidModePanics(t *testing.T) {
	assert.Panics(t, func() { _ = Mode(42).Flag() })
	assert.Equal(t, "Mode(42)", Mode(42).String())
}
