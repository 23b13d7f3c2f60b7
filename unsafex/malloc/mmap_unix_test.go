//go:build linux || darwin || freebsd

package malloc

import (
	"errors"
	"math"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestMmapSource(t *testing.T) {
	var s Source = MmapSource{}
	b, err := s.Alloc(64 * 1024)
	require.NoError(t, err)
	assert.Equal(t, 64*1024, len(b))

	// anonymous mappings are zero filled and writable
	assert.Equal(t, byte(0), b[len(b)-1])
	b[0], b[len(b)-1] = 1, 2
	s.Free(b)

	_, err = s.Alloc(0)
	assert.Error(t, err)
	assert.NotPanics(t, func() { s.Free(nil) })
}

func TestMmapSourceFreeForeign(t *testing.T) {
	assert.Panics(t, func() { MmapSource{}.Free(make([]byte, 4096)) })
}

func TestMmapSourceErrno(t *testing.T) {
	if strconv.IntSize < 64 {
		t.Skip("needs a 64-bit address space")
	}
	_, err := MmapSource{}.Alloc(math.MaxInt &^ 4095)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOutOfMemory)

	var errno unix.Errno
	assert.True(t, errors.As(err, &errno), "errno lost in %v", err)
}
