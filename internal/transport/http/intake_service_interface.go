package http

import (
	"context"
	"io"

	"bfintake/internal/operations"
	"bfintake/pkg/contracts/domain"
)

// IntakeService defines the pipeline operations the intake handler needs.
// *operations.Pipeline satisfies it.
type IntakeService interface {
	UploadBatch(ctx context.Context, uploads []operations.UploadFile) domain.BatchResult[domain.UploadResult]
	Parse(ctx context.Context, names []string) (domain.BatchResult[domain.ParseResult], error)
	Export(ctx context.Context, names []string, format string, includeMetadata bool) (domain.BatchResult[domain.ExportResult], error)
	Open(ctx context.Context, stage domain.Stage, key string) (io.ReadCloser, domain.RawFile, error)
	List(ctx context.Context, stage domain.Stage) ([]domain.RawFile, error)
	Delete(ctx context.Context, stage domain.Stage, key string) error
	Clear(ctx context.Context, stage domain.Stage) (domain.ClearResult, error)
	Status(ctx context.Context) (domain.SystemStatus, error)
}

var _ IntakeService = (*operations.Pipeline)(nil)
