package terminal

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClearPreviousLines(t *testing.T) {
	var buf bytes.Buffer
	ClearPreviousLines(&buf, 0)
	assert.Equal(t, 2, strings.Count(buf.String(), "\x1b[2K"))
	assert.Equal(t, 1, strings.Count(buf.String(), "\x1b[1A"))

	buf.Reset()
	ClearPreviousLines(&buf, Width()+1)
	assert.Equal(t, 3, strings.Count(buf.String(), "\x1b[2K"))
	assert.Equal(t, 2, strings.Count(buf.String(), "\x1b[1A"))
}
