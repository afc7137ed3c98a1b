package domain

import (
	"fmt"
	"time"
)

// Stage is one of the three cache namespaces a file moves through.
type Stage string

const (
	StageUploaded Stage = "uploaded"
	StageParsed   Stage = "parsed"
	StageExported Stage = "exported"
)

// Stages lists every stage in pipeline order.
var Stages = []Stage{StageUploaded, StageParsed, StageExported}

// ParseStage validates a stage name.
func ParseStage(s string) (Stage, error) {
	switch Stage(s) {
	case StageUploaded, StageParsed, StageExported:
		return Stage(s), nil
	}
	return "", fmt.Errorf("unknown stage %q", s)
}

// Result status values reported per file.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// RawFile describes one cached entry. Content is owned by the cache.
type RawFile struct {
	Filename  string    `json:"filename"`
	Stage     Stage     `json:"stage"`
	SizeBytes int64     `json:"size_bytes"`
	SizeMB    float64   `json:"size_mb"`
	CreatedAt time.Time `json:"uploaded_at"`
	Checksum  string    `json:"checksum,omitempty"`
}

// UploadResult is the outcome of storing one uploaded file.
type UploadResult struct {
	Filename string `json:"filename"`
	Accepted bool   `json:"accepted"`
	Size     int64  `json:"size"`
	Error    string `json:"error,omitempty"`
}

// ParseResult is the per-file outcome of a parse call.
type ParseResult struct {
	Filename        string    `json:"filename"`
	Status          string    `json:"status"`
	RecordsParsed   int       `json:"records_parsed"`
	MarketsParsed   int       `json:"markets_parsed"`
	SkippedRecords  int       `json:"skipped_records"`
	OrphanedUpdates int       `json:"orphaned_updates"`
	Members         int       `json:"members"`
	OutputKey       string    `json:"output_key,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
	Error           string    `json:"error,omitempty"`
}

// ExportResult is the per-file outcome of an export call.
type ExportResult struct {
	Filename  string    `json:"filename"`
	Status    string    `json:"status"`
	OutputKey string    `json:"output_key,omitempty"`
	Format    string    `json:"format"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
	Error     string    `json:"error,omitempty"`
}

// BatchResult aggregates per-file outcomes of one batch call.
type BatchResult[T any] struct {
	BatchID    string `json:"batch_id,omitempty"`
	Total      int    `json:"total"`
	Successful int    `json:"successful"`
	Failed     int    `json:"failed"`
	Results    []T    `json:"results"`
}

// ClearResult reports what a stage clear removed.
type ClearResult struct {
	Stage        Stage `json:"stage"`
	RemovedCount int   `json:"removed_count"`
	RemovedBytes int64 `json:"removed_bytes"`
}

// StageStatus is the derived size of one stage.
type StageStatus struct {
	Count          int     `json:"count"`
	TotalSizeBytes int64   `json:"total_size_bytes"`
	SizeMB         float64 `json:"size_mb"`
}

// CacheStatus is computed on demand from current entries.
type CacheStatus map[Stage]StageStatus

// BytesToMB converts a byte count to megabytes rounded to two places.
func BytesToMB(n int64) float64 {
	return float64(int64(float64(n)/(1024*1024)*100+0.5)) / 100
}

// SystemStatus is the service health summary with derived cache sizes.
type SystemStatus struct {
	APIStatus      string      `json:"api_status"`
	AppHealth      string      `json:"app_health"`
	StorageBackend string      `json:"storage_backend"`
	CacheStatus    CacheStatus `json:"cache_status"`
}
