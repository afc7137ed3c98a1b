// Package operations runs batches of cached files through the intake
// pipeline.
//
// A Pipeline owns no data. Every byte lives in a files.Manager; a parse call
// reads the uploaded stage, folds the records into market state and writes
// the parsed stage, and an export call turns parsed documents into json, csv
// or parquet blobs in the exported stage.
//
// Per file, a parse moves through
//
//	received -> unwrapped -> decoded -> reconstructed -> cached -> done
//
// and may fall to failed from any non-terminal state. A failure stays with
// its file: the batch result always carries every file's outcome plus
// aggregate counts, and Parse and Export only return an error when the file
// list itself cannot be resolved.
//
// Files within one batch run in parallel up to Config.Workers, each bounded
// by Config.FileTimeout. Two parses of the same file serialize on the parsed
// stage lease, so the later write fully follows the earlier one.
//
// Example usage:
//
//	cache := files.NewManager(files.NewMemoryStore(), logger)
//	p := operations.NewPipeline(cache, logger, operations.WithHub(hub))
//
//	_, _ = p.Upload(ctx, "a.ndjson.bz2", r)
//	parsed, _ := p.Parse(ctx, nil)
//	exported, _ := p.Export(ctx, nil, "csv", false)
//
// Progress is pushed to the WebSocketHub as batch_started, file_completed,
// file_failed and batch_completed events carrying a ProgressTracker
// snapshot.
package operations
