package usecase

import (
	"context"

	"fsledger/pkg/manifest"
	"fsledger/pkg/store"
)

// Export builds a content manifest of the ledger. Like Status, it only reads.
func (s *Service) Export(ctx context.Context) (*manifest.Manifest, error) {
	st, err := s.open(store.OpenExisting)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	return manifest.Build(ctx, st)
}
