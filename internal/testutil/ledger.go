package testutil

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"fsledger/pkg/job"
	"fsledger/pkg/store"
)

// OpenStore opens a fresh ledger in a temporary directory, closed on cleanup.
func OpenStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// CancelAfter returns a sink recording into rec that calls cancel once n
// events of type typ have been seen. The job observes the cancellation at
// its next loop iteration, so exactly n units complete.
func CancelAfter(rec *job.Recorder, cancel context.CancelFunc, typ job.EventType, n int) job.Sink {
	var (
		mu   sync.Mutex
		seen int
	)
	return job.SinkFunc(func(e job.Event) {
		rec.Emit(e)
		if e.Type != typ {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		seen++
		if seen == n {
			cancel()
		}
	})
}
