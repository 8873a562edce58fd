package sink

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteAtWritesAtOffset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dest.bin")
	s, err := Open(path, 10)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.WriteAt(5, []byte("hello")))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, []byte{0, 0, 0, 0, 0, 'h', 'e', 'l', 'l', 'o'}, got)
}

func TestWriteAtIsConcurrencySafe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dest.bin")
	size := int64(400)
	s, err := Open(path, size)
	require.NoError(t, err)
	defer s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			chunk := make([]byte, 100)
			for j := range chunk {
				chunk[j] = byte(i + 1)
			}
			require.NoError(t, s.WriteAt(int64(i*100), chunk))
		}()
	}
	wg.Wait()

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, got, int(size))
	for i := 0; i < 4; i++ {
		for j := 0; j < 100; j++ {
			require.Equal(t, byte(i+1), got[i*100+j])
		}
	}
}

func TestOpenPreallocatesSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dest.bin")
	s, err := Open(path, 1024)
	require.NoError(t, err)
	defer s.Close()

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, int64(1024), info.Size())
}
