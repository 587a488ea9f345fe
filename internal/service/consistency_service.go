package service

import (
	"context"
	"fmt"
	"sort"

	"fieldsync/internal/repository"
)

// ConsistencyReport compares local and server revisions by server id.
type ConsistencyReport struct {
	Matching        int
	RevMismatch     []string
	MissingLocally  []string
	MissingRemotely []string
}

func (r *ConsistencyReport) Consistent() bool {
	return len(r.RevMismatch) == 0 && len(r.MissingLocally) == 0 && len(r.MissingRemotely) == 0
}

// ConsistencyService reports divergence between device and server. It never
// changes records.
type ConsistencyService struct {
	records repository.RecordRepository
	remote  RemoteClient
}

func NewConsistencyService(records repository.RecordRepository, remote RemoteClient) *ConsistencyService {
	return &ConsistencyService{records: records, remote: remote}
}

func (s *ConsistencyService) Check(ctx context.Context) (*ConsistencyReport, error) {
	local, err := s.records.IDsAndRevs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list local revisions: %w", err)
	}
	remote, err := s.remote.IDsAndRevs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list server revisions: %w", err)
	}

	report := &ConsistencyReport{}
	for id, rev := range local {
		serverRev, ok := remote[id]
		switch {
		case !ok:
			report.MissingRemotely = append(report.MissingRemotely, id)
		case serverRev != rev:
			report.RevMismatch = append(report.RevMismatch, id)
		default:
			report.Matching++
		}
	}
	for id := range remote {
		if _, ok := local[id]; !ok {
			report.MissingLocally = append(report.MissingLocally, id)
		}
	}

	sort.Strings(report.RevMismatch)
	sort.Strings(report.MissingLocally)
	sort.Strings(report.MissingRemotely)
	return report, nil
}
