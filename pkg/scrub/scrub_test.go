package scrub

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeader_CleanPassthrough(t *testing.T) {
	ua := "Mozilla/5.0 (X11; Linux x86_64)"
	assert.Equal(t, ua, Header(ua))
}

func TestHeader_ControlBytes(t *testing.T) {
	out := Header("cur\x00l/8\x01.0")
	assert.NotContains(t, out, "\x00")
	assert.Equal(t, "cur.l/8..0", out)
}

func TestHeader_ANSIEscape(t *testing.T) {
	out := Header("evil\x1b[31mred\x1b[0magent")
	assert.NotContains(t, out, "\x1b")
	assert.Contains(t, out, "\\e")
	assert.Contains(t, out, "red")
}

func TestHeader_Truncation(t *testing.T) {
	out := Header(strings.Repeat("a", 1000))
	assert.Len(t, out, 256)
	assert.True(t, strings.HasSuffix(out, "..."))
}

func TestPath_NewlinesFlattened(t *testing.T) {
	out := Path("/a\nb\tc")
	assert.Equal(t, "/a b c", out)
}

func TestHeader_Empty(t *testing.T) {
	assert.Equal(t, "", Header(""))
}
