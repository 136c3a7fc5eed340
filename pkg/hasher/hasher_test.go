package hasher

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	err := os.WriteFile(path, []byte(content), 0o644)
	require.NoError(t, err)
	return path
}

func expectedHash(content string) string {
	h := sha256.Sum256([]byte(content))
	return hex.EncodeToString(h[:])
}

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		option      Option
		wantWorkers int
	}{
		{name: "default workers"},
		{name: "custom workers", option: WithWorkers(4), wantWorkers: 4},
		{name: "zero workers uses default", option: WithWorkers(0)},
		{name: "negative workers uses default", option: WithWorkers(-1)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var h *Hasher
			if tc.option == nil {
				h = New()
			} else {
				h = New(tc.option)
			}

			if tc.wantWorkers > 0 {
				assert.Equal(t, tc.wantWorkers, h.Workers())
				return
			}

			assert.Positive(t, h.Workers())
		})
	}
}

func TestHasher_ComputeHash(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{"empty file", ""},
		{"small file", "hello world"},
		{"exactly one chunk", string(make([]byte, ChunkSize))},
		{"several chunks", string(bytes.Repeat([]byte("xyz"), ChunkSize))},
		{"binary content", "\x00\x01\x02\x03\xff\xfe\xfd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := createTestFile(t, t.TempDir(), "test.txt", tt.content)

			h := New()
			hash, err := h.ComputeHash(path)

			require.NoError(t, err)
			assert.Equal(t, expectedHash(tt.content), hash)
			assert.Len(t, hash, 64)
		})
	}
}

func TestHasher_ComputeHash_Deterministic(t *testing.T) {
	t.Parallel()

	path := createTestFile(t, t.TempDir(), "same.bin", string(bytes.Repeat([]byte{7, 1, 3}, 50_000)))

	h := New()
	first, err := h.ComputeHash(path)
	require.NoError(t, err)
	second, err := h.ComputeHash(path)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestHasher_ComputeReader(t *testing.T) {
	t.Parallel()

	h := New()
	hash, err := h.ComputeReader(bytes.NewReader([]byte("A")))
	require.NoError(t, err)
	assert.Equal(t, expectedHash("A"), hash)
}

func TestHasher_ComputeHash_ErrorScenarios(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	tests := []struct {
		name string
		path string
	}{
		{name: "non-existent file", path: "/nonexistent/path/file.txt"},
		{name: "directory read error", path: tmpDir},
	}

	h := New()
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := h.ComputeHash(tc.path)
			assert.Error(t, err)
		})
	}
}

func TestHasher_HashFiles(t *testing.T) {
	t.Parallel()

	t.Run("multiple files", func(t *testing.T) {
		t.Parallel()
		tmpDir := t.TempDir()

		paths := make([]string, 0, 3)
		expectedHashes := make(map[string]string)
		for i := range 3 {
			content := fmt.Sprintf("content %d", i)
			path := createTestFile(t, tmpDir, fmt.Sprintf("file%d.txt", i), content)
			paths = append(paths, path)
			expectedHashes[path] = expectedHash(content)
		}

		h := New(WithWorkers(2))
		gotHashes := make(map[string]string)
		for result := range h.HashFiles(context.Background(), paths) {
			require.NoError(t, result.Error)
			gotHashes[result.Path] = result.Hash
		}

		assert.Equal(t, expectedHashes, gotHashes)
	})

	t.Run("empty input", func(t *testing.T) {
		t.Parallel()
		h := New()

		count := 0
		for range h.HashFiles(context.Background(), nil) {
			count++
		}
		assert.Equal(t, 0, count)
	})

	t.Run("handles errors", func(t *testing.T) {
		t.Parallel()
		tmpDir := t.TempDir()
		goodPath := createTestFile(t, tmpDir, "good.txt", "content")
		badPath := filepath.Join(tmpDir, "nonexistent.txt")

		h := New()
		var goodResult, badResult HashResult
		for result := range h.HashFiles(context.Background(), []string{goodPath, badPath}) {
			if result.Path == goodPath {
				goodResult = result
			} else {
				badResult = result
			}
		}

		require.NoError(t, goodResult.Error)
		assert.Equal(t, expectedHash("content"), goodResult.Hash)
		assert.Equal(t, int64(len("content")), goodResult.Size)

		require.Error(t, badResult.Error)
		assert.Empty(t, badResult.Hash)
	})

	t.Run("cancelled context closes channel", func(t *testing.T) {
		t.Parallel()
		tmpDir := t.TempDir()
		path := createTestFile(t, tmpDir, "a.txt", "a")

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		h := New(WithWorkers(1))
		count := 0
		for range h.HashFiles(ctx, []string{path, path, path}) {
			count++
		}
		assert.LessOrEqual(t, count, 3)
	})
}

func TestHasher_HashFiles_Parallel_Correctness(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	numFiles := 100

	paths := make([]string, 0, numFiles)
	expectedHashes := make(map[string]string)
	for i := range numFiles {
		content := string(rune('a'+i%26)) + string(make([]byte, i))
		path := createTestFile(t, tmpDir, fmt.Sprintf("file_%03d.txt", i), content)
		paths = append(paths, path)
		expectedHashes[path] = expectedHash(content)
	}

	h := New(WithWorkers(8))
	gotHashes := make(map[string]string)
	for result := range h.HashFiles(context.Background(), paths) {
		require.NoError(t, result.Error, "file: %s", result.Path)
		gotHashes[result.Path] = result.Hash
	}

	assert.Equal(t, expectedHashes, gotHashes)
}
