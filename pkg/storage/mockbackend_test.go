package storage

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewFormatRejectsTooSmallSizes(t *testing.T) {
	_, err := NewFormat(2, 2)
	require.Error(t, err)
}

// mockKey builds a key of exactly f.KeySize bytes matching the
// `K<offset>s<pad>` shape MakeValue expects.
func mockKey(f Format, offset int) string {
	s := fmt.Sprintf("K%0*ds", f.OffsetLen, offset)
	return s + strings.Repeat("0", int(f.KeySize)-len(s))
}

func forceReady(b *MockBackend) {
	b.mu.Lock()
	for i := range b.pending {
		b.pending[i].ready = b.pending[i].ready.Add(-time.Hour)
	}
	b.mu.Unlock()
}

func TestFormatMakeValueRoundTrip(t *testing.T) {
	f, err := NewFormat(16, 20)
	require.NoError(t, err)

	key := mockKey(f, 5)
	val, err := f.MakeValue(key)
	require.NoError(t, err)
	require.Len(t, val, int(f.ValSize))
	require.Equal(t, byte('V'), val[0])
	require.Equal(t, byte('L'), val[len(val)-1])
}

func TestFormatMakeValueRejectsWrongLength(t *testing.T) {
	f, err := NewFormat(16, 20)
	require.NoError(t, err)
	_, err = f.MakeValue("short")
	require.Error(t, err)
}

func TestMockBackendGetAsyncFormatMode(t *testing.T) {
	b := NewMockBackend()
	key := mockKey(b.Format(), 0)

	var gotVal, gotErr string
	b.GetAsync(key, func(v string) { gotVal = v }, func(e string) { gotErr = e })
	require.False(t, b.Poll()) // not ready yet

	forceReady(b)
	require.True(t, b.Poll())
	require.Empty(t, gotErr)
	require.Len(t, gotVal, int(b.Format().ValSize))
}

func TestMockBackendImageMode(t *testing.T) {
	b := NewMockBackend()
	r := strings.NewReader("key,val_size\nfoo,42\n")
	require.NoError(t, b.LoadImage(r))

	b.PutAsync("foo", strings.Repeat("x", 99), func() {}, func(string) {})
	forceReady(b)
	require.True(t, b.Poll())

	var gotVal string
	b.GetAsync("foo", func(v string) { gotVal = v }, func(string) {})
	forceReady(b)
	require.True(t, b.Poll())
	require.Len(t, gotVal, 99) // PutAsync updated the image to the new size
}

func TestMockBackendImageMissReportsError(t *testing.T) {
	b := NewMockBackend()
	require.NoError(t, b.LoadImage(strings.NewReader("key,val_size\n")))

	var gotErr string
	b.GetAsync("absent", func(string) {}, func(e string) { gotErr = e })
	forceReady(b)
	require.True(t, b.Poll())
	require.NotEmpty(t, gotErr)
}
