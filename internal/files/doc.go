// Package files is the file cache for the intake pipeline.
//
// Entries live in three stages, uploaded, parsed and exported, each keyed by
// file name. A Store holds the bytes; four are provided:
//
//   - MemoryStore: process memory, for tests and one-shot CLI runs
//   - DiskStore: <data_dir>/<stage>/<name>, written via temp file and rename
//   - SQLiteStore: one table of blobs in a local database
//   - GCSStore: objects named <stage>/<name> in a Cloud Storage bucket
//
// Manager sits in front of a Store and enforces a single writer per
// (stage, name). Callers that read an entry, compute, and write a result take
// a Lease for the whole sequence:
//
//	lease, err := manager.Acquire(ctx, domain.StageParsed, name)
//	if err != nil {
//	    return err
//	}
//	defer lease.Release()
//	// ... build output ...
//	_, err = lease.Put(ctx, bytes.NewReader(out))
//
// Missing entries produce errors matching apierrors.ErrNotFound.
package files
