package usecase

import (
	"context"

	"fsledger/pkg/store"
)

// StatusReport summarizes the ledger.
type StatusReport struct {
	DB            string              `yaml:"db"`
	LastOperation string              `yaml:"last_operation,omitempty"`
	Identities    store.IdentityStats `yaml:"identities"`
	Grouping      store.GroupingStats `yaml:"grouping"`
	Checkpoints   []store.Checkpoint  `yaml:"checkpoints"`
}

// Status reads the checkpoint of every job kind and the record statistics.
// It does not take the job lock: the ledger is only read.
func (s *Service) Status(ctx context.Context) (StatusReport, error) {
	st, err := s.open(store.OpenExisting)
	if err != nil {
		return StatusReport{}, err
	}
	defer st.Close()

	report := StatusReport{DB: st.Path()}

	if report.LastOperation, err = st.LastOperation(ctx); err != nil {
		return StatusReport{}, err
	}
	if report.Identities, err = st.IdentityStats(ctx); err != nil {
		return StatusReport{}, err
	}
	if report.Grouping, err = st.GroupingStats(ctx); err != nil {
		return StatusReport{}, err
	}
	if report.Checkpoints, err = st.Checkpoints(ctx); err != nil {
		return StatusReport{}, err
	}
	return report, nil
}
