package operations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"bfintake/internal/archive"
	"bfintake/internal/dataprocessing"
	apierrors "bfintake/internal/errors"
	"bfintake/internal/exporter"
	"bfintake/internal/files"
	"bfintake/internal/infrastructure"
	"bfintake/pkg/contracts/domain"
	"bfintake/pkg/contracts/events"
)

// Operation names used for spans, metrics and hub events.
const (
	OperationUpload = "upload"
	OperationParse  = "parse"
	OperationExport = "export"
)

// Pipeline sequences unwrap, decode, reconstruct and serialize over the
// file cache. It holds no per-request state; every call builds its own
// reconstructor.
type Pipeline struct {
	cache      *files.Manager
	unwrapper  *archive.Unwrapper
	decoder    *dataprocessing.Decoder
	serializer *exporter.Serializer
	hub        WebSocketHub
	tracer     *pipelineTracer
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time

	otelTracer trace.Tracer
	metrics    *infrastructure.PipelineMetrics
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithHub sets the progress hub.
func WithHub(hub WebSocketHub) Option {
	return func(p *Pipeline) {
		if hub != nil {
			p.hub = hub
		}
	}
}

// WithTelemetry sets the tracer and metric instruments.
func WithTelemetry(tracer trace.Tracer, metrics *infrastructure.PipelineMetrics) Option {
	return func(p *Pipeline) {
		p.otelTracer = tracer
		p.metrics = metrics
	}
}

// WithConfig overrides the execution settings.
func WithConfig(cfg Config) Option {
	return func(p *Pipeline) {
		p.cfg = cfg.withDefaults()
	}
}

// NewPipeline creates a Pipeline over cache.
func NewPipeline(cache *files.Manager, logger *slog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		cache:  cache,
		hub:    noopHub{},
		cfg:    NewConfig(),
		logger: infrastructure.WithComponent(logger, "pipeline"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.tracer = newPipelineTracer(p.otelTracer, p.metrics)
	p.unwrapper = archive.NewUnwrapper(logger, archive.WithMaxMemberBytes(p.cfg.MaxMemberBytes))
	p.decoder = dataprocessing.NewDecoder(logger)
	p.serializer = exporter.NewSerializer(logger)
	return p
}

// Cache exposes the underlying file cache.
func (p *Pipeline) Cache() *files.Manager { return p.cache }

// UploadFile is one file of an upload batch. Open is called once.
type UploadFile struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// SanitizeName strips any client supplied directory from name.
func SanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	base := path.Base(name)
	if base == "/" || base == "." {
		return ""
	}
	return base
}

// Upload stores r in the uploaded stage, replacing a same-name entry.
func (p *Pipeline) Upload(ctx context.Context, name string, r io.Reader) (domain.UploadResult, error) {
	name = SanitizeName(name)
	res := domain.UploadResult{Filename: name}
	f, err := p.cache.Put(ctx, domain.StageUploaded, name, r)
	if err != nil {
		res.Error = err.Error()
		return res, err
	}
	p.metrics.RecordIngest(ctx, f.SizeBytes)
	res.Accepted = true
	res.Size = f.SizeBytes
	return res, nil
}

// UploadBatch stores every file, reporting per-file outcomes.
func (p *Pipeline) UploadBatch(ctx context.Context, uploads []UploadFile) domain.BatchResult[domain.UploadResult] {
	names := make([]string, len(uploads))
	for i, u := range uploads {
		names[i] = SanitizeName(u.Name)
	}
	return runBatch(ctx, p, OperationUpload, names, func(ctx context.Context, i int) (domain.UploadResult, bool) {
		u := uploads[i]
		rc, err := u.Open()
		if err != nil {
			return domain.UploadResult{Filename: names[i], Error: err.Error()}, false
		}
		defer rc.Close()
		res, err := p.Upload(ctx, u.Name, rc)
		return res, err == nil
	})
}

// Parse runs each named uploaded file through the parse state machine.
// An empty names list parses every uploaded file. Partial failure is
// reported per file; the error is only set when the file list itself cannot
// be resolved.
func (p *Pipeline) Parse(ctx context.Context, names []string) (domain.BatchResult[domain.ParseResult], error) {
	names, err := p.resolve(ctx, domain.StageUploaded, names)
	if err != nil {
		return domain.BatchResult[domain.ParseResult]{}, err
	}
	return runBatch(ctx, p, OperationParse, names, func(ctx context.Context, i int) (domain.ParseResult, bool) {
		res := p.parseFile(ctx, names[i])
		return res, res.Status == domain.StatusSuccess
	}), nil
}

// Export serializes each named parsed file. An empty names list exports
// every parsed file. An unsupported format fails every file individually.
func (p *Pipeline) Export(ctx context.Context, names []string, format string, includeMetadata bool) (domain.BatchResult[domain.ExportResult], error) {
	names, err := p.resolve(ctx, domain.StageParsed, names)
	if err != nil {
		return domain.BatchResult[domain.ExportResult]{}, err
	}
	return runBatch(ctx, p, OperationExport, names, func(ctx context.Context, i int) (domain.ExportResult, bool) {
		res := p.exportFile(ctx, names[i], format, includeMetadata)
		return res, res.Status == domain.StatusSuccess
	}), nil
}

// Fetch returns a cached artifact from any stage.
func (p *Pipeline) Fetch(ctx context.Context, stage domain.Stage, key string) ([]byte, domain.RawFile, error) {
	return p.cache.Get(ctx, stage, key)
}

// Open streams a cached artifact. The caller closes the reader.
func (p *Pipeline) Open(ctx context.Context, stage domain.Stage, key string) (io.ReadCloser, domain.RawFile, error) {
	return p.cache.Open(ctx, stage, key)
}

// List returns a stage's entries, newest first.
func (p *Pipeline) List(ctx context.Context, stage domain.Stage) ([]domain.RawFile, error) {
	return p.cache.List(ctx, stage)
}

// Delete removes one cached entry.
func (p *Pipeline) Delete(ctx context.Context, stage domain.Stage, key string) error {
	return p.cache.Delete(ctx, stage, key)
}

// Clear empties one stage.
func (p *Pipeline) Clear(ctx context.Context, stage domain.Stage) (domain.ClearResult, error) {
	res, err := p.cache.Clear(ctx, stage)
	if err != nil {
		return res, err
	}
	p.hub.BroadcastUpdate(EventCacheCleared, string(stage), events.StatusCompleted, map[string]interface{}{
		"stage":         string(stage),
		"removed_count": res.RemovedCount,
		"removed_bytes": res.RemovedBytes,
	})
	return res, nil
}

// Status reports service health with cache sizes computed now.
func (p *Pipeline) Status(ctx context.Context) (domain.SystemStatus, error) {
	cs, err := p.cache.Status(ctx)
	if err != nil {
		return domain.SystemStatus{}, err
	}
	return domain.SystemStatus{
		APIStatus:      "online",
		AppHealth:      "normal",
		StorageBackend: p.cache.Backend(),
		CacheStatus:    cs,
	}, nil
}

// resolve expands an empty list to every key of stage and drops duplicates.
func (p *Pipeline) resolve(ctx context.Context, stage domain.Stage, names []string) ([]string, error) {
	if len(names) == 0 {
		entries, err := p.cache.List(ctx, stage)
		if err != nil {
			return nil, fmt.Errorf("list %s files: %w", stage, err)
		}
		names = make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Filename
		}
		return names, nil
	}
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out, nil
}

// runBatch runs fn for every name on a bounded worker group. Results keep
// the order of names regardless of completion order.
func runBatch[T any](ctx context.Context, p *Pipeline, operation string, names []string, fn func(ctx context.Context, i int) (T, bool)) domain.BatchResult[T] {
	batchID := uuid.New().String()
	started := time.Now()
	ctx, span := p.tracer.traceBatch(ctx, operation, batchID, len(names))
	ctx = infrastructure.EnsureTraceID(ctx)

	tracker := NewProgressTracker(operation, len(names))
	p.hub.BroadcastUpdate(EventBatchStarted, operation, events.StatusRunning, map[string]interface{}{
		"batch_id": batchID,
		"total":    len(names),
	})
	p.logger.InfoContext(ctx, "Batch started",
		slog.String("batch_id", batchID),
		slog.String("operation", operation),
		slog.Int("files", len(names)))

	results := make([]T, len(names))
	ok := make([]bool, len(names))

	var g errgroup.Group
	g.SetLimit(p.cfg.Workers)
	for i := range names {
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(ctx, p.cfg.FileTimeout)
			defer cancel()

			results[i], ok[i] = fn(fctx, i)

			event, status := EventFileCompleted, events.StatusCompleted
			if !ok[i] {
				event, status = EventFileFailed, events.StatusFailed
			}
			tracker.Increment(!ok[i], names[i])
			meta := tracker.Snapshot()
			meta["batch_id"] = batchID
			meta["filename"] = names[i]
			p.hub.BroadcastUpdate(event, operation, status, meta)
			return nil
		})
	}
	_ = g.Wait()

	out := domain.BatchResult[T]{BatchID: batchID, Total: len(names), Results: results}
	for _, success := range ok {
		if success {
			out.Successful++
		} else {
			out.Failed++
		}
	}

	p.tracer.finishBatch(span, out.Successful, out.Failed, started)
	p.hub.BroadcastUpdate(EventBatchCompleted, operation, events.StatusCompleted, map[string]interface{}{
		"batch_id":   batchID,
		"total":      out.Total,
		"successful": out.Successful,
		"failed":     out.Failed,
	})
	p.logger.InfoContext(ctx, "Batch completed",
		slog.String("batch_id", batchID),
		slog.String("operation", operation),
		slog.Int("successful", out.Successful),
		slog.Int("failed", out.Failed),
		slog.Duration("duration", time.Since(started)))
	return out
}

func (p *Pipeline) parseFile(ctx context.Context, name string) domain.ParseResult {
	ctx, span := p.tracer.traceFile(ctx, OperationParse, name)
	run := newFileRun(name)

	doc, err := p.parse(ctx, run)
	if err != nil {
		run.Fail(err)
	}

	res := domain.ParseResult{
		Filename:  name,
		Status:    domain.StatusFailed,
		Timestamp: p.now().UTC(),
	}
	if run.State == FileStateDone {
		res.Status = domain.StatusSuccess
		res.RecordsParsed = doc.Stats.Records
		res.MarketsParsed = doc.Stats.Markets
		res.SkippedRecords = doc.Stats.Skipped
		res.OrphanedUpdates = doc.Stats.Orphaned
		res.Members = len(doc.Members)
		res.OutputKey = name
	} else {
		res.Error = run.Err.Error()
	}

	p.tracer.finishFile(ctx, span, OperationParse, run.State, run.Err, run.Duration(), res.RecordsParsed, res.SkippedRecords)
	if run.Err != nil {
		p.logger.WarnContext(ctx, "Parse failed",
			slog.String("filename", name),
			slog.Any("states", run.History),
			slog.String("error", run.Err.Error()))
	} else {
		p.logger.InfoContext(ctx, "Parsed file",
			slog.String("filename", name),
			slog.Int("records", res.RecordsParsed),
			slog.Int("markets", res.MarketsParsed),
			slog.Int("skipped", res.SkippedRecords))
	}
	return res
}

// parse holds the parsed-stage lease from the uploaded read through the
// parsed write, so concurrent parses of one file serialize.
func (p *Pipeline) parse(ctx context.Context, run *FileRun) (domain.ParsedDocument, error) {
	var doc domain.ParsedDocument

	lease, err := p.cache.Acquire(ctx, domain.StageParsed, run.Name)
	if err != nil {
		return doc, err
	}
	defer lease.Release()

	rc, _, err := p.cache.Open(ctx, domain.StageUploaded, run.Name)
	if err != nil {
		return doc, err
	}
	defer rc.Close()

	rec := dataprocessing.NewReconstructor(p.logger)
	members := []string{}
	for m, err := range p.unwrapper.Unwrap(ctx, run.Name, rc) {
		if err != nil {
			return doc, err
		}
		if run.State == FileStateReceived {
			if err := run.Advance(FileStateUnwrapped); err != nil {
				return doc, err
			}
		}
		members = append(members, m.Name)
		if err := rec.Fold(ctx, p.decoder.Decode(ctx, m.Name, m.Reader)); err != nil {
			return doc, fmt.Errorf("member %s: %w", m.Name, err)
		}
	}
	if run.State == FileStateReceived {
		if err := run.Advance(FileStateUnwrapped); err != nil {
			return doc, err
		}
	}
	if err := run.Advance(FileStateDecoded); err != nil {
		return doc, err
	}

	doc = domain.ParsedDocument{
		Source:   run.Name,
		ParsedAt: p.now().UTC(),
		Members:  members,
		Stats:    rec.Stats(),
		Markets:  rec.Markets(),
	}
	if doc.Markets == nil {
		doc.Markets = []domain.MarketState{}
	}
	if err := run.Advance(FileStateReconstructed); err != nil {
		return doc, err
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return doc, fmt.Errorf("encode parsed document: %w", err)
	}
	if _, err := lease.Put(ctx, bytes.NewReader(data)); err != nil {
		return doc, err
	}
	if err := run.Advance(FileStateCached); err != nil {
		return doc, err
	}
	return doc, run.Advance(FileStateDone)
}

func (p *Pipeline) exportFile(ctx context.Context, name, format string, includeMetadata bool) domain.ExportResult {
	ctx, span := p.tracer.traceFile(ctx, OperationExport, name)
	started := time.Now()

	res := domain.ExportResult{
		Filename: name,
		Status:   domain.StatusFailed,
		Format:   strings.ToLower(strings.TrimSpace(format)),
	}
	var records int
	f, err := p.export(ctx, name, format, includeMetadata, &records)
	res.Timestamp = p.now().UTC()

	state := FileStateDone
	if err != nil {
		state = FileStateFailed
		res.Error = err.Error()
		p.logger.WarnContext(ctx, "Export failed",
			slog.String("filename", name),
			slog.String("format", res.Format),
			slog.String("error", err.Error()))
	} else {
		res.Status = domain.StatusSuccess
		res.OutputKey = f.Filename
		res.SizeBytes = f.SizeBytes
	}
	p.tracer.finishFile(ctx, span, OperationExport, state, err, time.Since(started), records, 0)
	return res
}

func (p *Pipeline) export(ctx context.Context, name, format string, includeMetadata bool, records *int) (domain.RawFile, error) {
	fmtx, err := exporter.ParseFormat(format)
	if err != nil {
		return domain.RawFile{}, err
	}

	data, _, err := p.cache.Get(ctx, domain.StageParsed, name)
	if err != nil {
		return domain.RawFile{}, err
	}
	var doc domain.ParsedDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return domain.RawFile{}, apierrors.NewStorageError(
			fmt.Sprintf("parsed file %q is unreadable", name), err)
	}
	*records = doc.Stats.Records

	out, err := p.serializer.Serialize(fmtx, doc.Markets, exporter.Options{
		IncludeMetadata: includeMetadata,
		SourceFile:      doc.Source,
		Stats:           doc.Stats,
	})
	if err != nil {
		return domain.RawFile{}, err
	}
	return p.cache.Put(ctx, domain.StageExported, ExportKey(name, fmtx), bytes.NewReader(out))
}

// ExportKey is the exported-stage key for a parsed file.
func ExportKey(name string, format exporter.Format) string {
	return name + "." + format.Extension()
}
