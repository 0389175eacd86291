package commands

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocGuide_PipedOutputIsRaw(t *testing.T) {
	var buf bytes.Buffer
	cmd := &DocCmd{}

	require.NoError(t, cmd.printGuide(&buf, hooksGuide))
	assert.Equal(t, hooksGuide, buf.String())
}
