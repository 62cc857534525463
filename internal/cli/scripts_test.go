package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScriptsCommand(t *testing.T) {
	stdout, _, err := execute(t, "scripts")
	require.NoError(t, err)

	for _, want := range []string{
		"nvidia-benchmark",
		"Product launch",
		"Visitor",
		"Nvidia",
		"listing",
		"follow_advertisement",
		"95.2%",
		"4.8%",
	} {
		assert.Contains(t, stdout, want)
	}
}
