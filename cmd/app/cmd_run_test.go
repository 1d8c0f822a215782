package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunExclusiveFlag(t *testing.T) {
	f := runCmd.Flags().Lookup("exclusive")
	require.NotNil(t, f)
	assert.Equal(t, "true", f.DefValue)
	assert.Contains(t, f.Usage, "fail when another run holds the lock")
	assert.Contains(t, f.Usage, "overlap policy")
	assert.NotContains(t, f.Usage, "skip")
}
