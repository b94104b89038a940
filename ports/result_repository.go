package ports

import (
	"context"

	"gopade/domain/core"
	"gopade/domain/run"
)

// ResultRepository persists run reports.
type ResultRepository interface {
	SaveReport(ctx context.Context, report *run.Report) error
	GetReport(ctx context.Context, runID core.RunID) (*run.Report, error)
	ListRuns(ctx context.Context, limit, offset int) ([]run.Manifest, error)
}
