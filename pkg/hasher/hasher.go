// Package hasher computes content identities: SHA256 digests folded over
// fixed-size chunks of a file's bytes.
package hasher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"runtime"

	"gitlab.com/tozd/go/errors"
	"golang.org/x/sync/errgroup"
)

// ChunkSize is the read size used while folding a file into its digest.
// It affects throughput only, never the resulting identity.
const ChunkSize = 64 * 1024

// HashResult contains the result of hashing a single file.
type HashResult struct {
	Path  string
	Hash  string
	Size  int64
	Error error
}

// Hasher computes SHA256 content identities.
type Hasher struct {
	workers int
}

// Option configures a Hasher.
type Option func(*Hasher)

// WithWorkers sets the number of files HashFiles reads at once.
// Default is runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(h *Hasher) {
		if n > 0 {
			h.workers = n
		}
	}
}

// New creates a new Hasher with the given options.
func New(opts ...Option) *Hasher {
	h := &Hasher{
		workers: runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ComputeHash computes the content identity of the file at path.
// The read loop runs to completion or failure; it is never interrupted.
func (h *Hasher) ComputeHash(path string) (string, error) {
	hash, _, err := h.sum(path)
	return hash, err
}

// ComputeReader computes the content identity of everything read from r.
func (h *Hasher) ComputeReader(r io.Reader) (string, error) {
	hash, _, err := fold(r)
	return hash, err
}

func (h *Hasher) sum(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, errors.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	hash, n, err := fold(f)
	if err != nil {
		return "", n, errors.Errorf("read %s: %w", path, err)
	}
	return hash, n, nil
}

func fold(r io.Reader) (string, int64, error) {
	digest := sha256.New()
	buf := make([]byte, ChunkSize)

	var total int64
	for {
		n, err := r.Read(buf)
		if n > 0 {
			digest.Write(buf[:n])
			total += int64(n)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", total, err
		}
	}

	return hex.EncodeToString(digest.Sum(nil)), total, nil
}

// HashFiles computes hashes for multiple files concurrently, at most
// Workers() at a time. The returned channel receives one HashResult per
// path and is closed when all files have been processed or ctx is done.
func (h *Hasher) HashFiles(ctx context.Context, paths []string) <-chan HashResult {
	results := make(chan HashResult, h.workers)

	go func() {
		defer close(results)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(h.workers)

		for _, path := range paths {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				hash, size, err := h.sum(path)
				select {
				case results <- HashResult{Path: path, Hash: hash, Size: size, Error: err}:
				case <-gctx.Done():
				}
				return nil
			})
		}

		_ = g.Wait()
	}()

	return results
}

// Workers returns the number of worker goroutines configured.
func (h *Hasher) Workers() int {
	return h.workers
}
