package cfg

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindFlagsRegistersEveryFlag(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	require.NoError(t, BindFlags(fs))

	for _, name := range []string{
		"app-name", "remote-url", "uid", "gid", "file-mode", "dir-mode",
		"o", "http-timeout", "op-rate-limit-hz", "max-concurrent-requests",
		"log-format", "log-severity", "log-file",
		"debug_invariants", "debug_mutex",
	} {
		assert.NotNil(t, fs.Lookup(name), "expected flag %q to be registered", name)
	}
}

func TestOctalRoundTrip(t *testing.T) {
	var o Octal
	require.NoError(t, o.UnmarshalText([]byte("755")))
	assert.Equal(t, Octal(0o755), o)

	text, err := o.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "755", string(text))
}

func TestOctalRejectsInvalidDigits(t *testing.T) {
	var o Octal
	assert.Error(t, o.UnmarshalText([]byte("999")))
}
