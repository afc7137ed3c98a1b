package files

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	apierrors "bfintake/internal/errors"
	"bfintake/pkg/contracts/domain"
)

// SQLiteStore keeps entries as blobs in a single SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens or creates the database at path with WAL enabled.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, apierrors.NewStorageError("failed to create database directory", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apierrors.NewStorageError("failed to open sqlite", err)
	}
	// One connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, apierrors.NewStorageError(fmt.Sprintf("failed to set pragma %s", pragma), err)
		}
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS cache_files (
			stage      TEXT    NOT NULL,
			key        TEXT    NOT NULL,
			data       BLOB    NOT NULL,
			size       INTEGER NOT NULL,
			checksum   TEXT    NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (stage, key)
		);
	`)
	if err != nil {
		db.Close()
		return nil, apierrors.NewStorageError("failed to create cache_files table", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Put(ctx context.Context, stage domain.Stage, key string, r io.Reader) (Object, error) {
	if err := ValidateKey(key); err != nil {
		return Object{}, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return Object{}, apierrors.NewStorageError("failed to read content", err)
	}
	obj := Object{Key: key, Size: int64(len(data)), CreatedAt: s.now().UTC(), Checksum: Checksum(data)}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cache_files (stage, key, data, size, checksum, created_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(stage, key) DO UPDATE SET
		   data=excluded.data, size=excluded.size, checksum=excluded.checksum, created_at=excluded.created_at`,
		string(stage), key, data, obj.Size, obj.Checksum, obj.CreatedAt.UnixNano(),
	)
	if err != nil {
		return Object{}, apierrors.NewStorageError("failed to insert file", err)
	}
	return obj, nil
}

func (s *SQLiteStore) Open(ctx context.Context, stage domain.Stage, key string) (io.ReadCloser, Object, error) {
	var (
		data    []byte
		obj     = Object{Key: key}
		created int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT data, size, checksum, created_at FROM cache_files WHERE stage = ? AND key = ?",
		string(stage), key,
	).Scan(&data, &obj.Size, &obj.Checksum, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, Object{}, notFound(stage, key)
	}
	if err != nil {
		return nil, Object{}, apierrors.NewStorageError("failed to read file", err)
	}
	obj.CreatedAt = time.Unix(0, created).UTC()
	return io.NopCloser(bytes.NewReader(data)), obj, nil
}

func (s *SQLiteStore) List(ctx context.Context, stage domain.Stage) ([]Object, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key, size, checksum, created_at FROM cache_files WHERE stage = ?", string(stage))
	if err != nil {
		return nil, apierrors.NewStorageError("failed to list files", err)
	}
	defer rows.Close()

	var out []Object
	for rows.Next() {
		var (
			obj     Object
			created int64
		)
		if err := rows.Scan(&obj.Key, &obj.Size, &obj.Checksum, &created); err != nil {
			return nil, apierrors.NewStorageError("failed to scan file row", err)
		}
		obj.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, apierrors.NewStorageError("failed to list files", err)
	}
	return out, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, stage domain.Stage, key string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM cache_files WHERE stage = ? AND key = ?", string(stage), key)
	if err != nil {
		return apierrors.NewStorageError("failed to delete file", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apierrors.NewStorageError("failed to delete file", err)
	}
	if n == 0 {
		return notFound(stage, key)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
