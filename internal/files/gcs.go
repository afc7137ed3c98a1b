package files

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	storage "google.golang.org/api/storage/v1"

	apierrors "bfintake/internal/errors"
	"bfintake/pkg/contracts/domain"
)

// checksumMetadataKey holds the blake2b digest in object metadata.
const checksumMetadataKey = "blake2b"

// GCSConfig configures a GCSStore.
type GCSConfig struct {
	Bucket          string
	Endpoint        string
	CredentialsFile string
}

// GCSStore keeps entries as objects named <stage>/<key> in one bucket.
type GCSStore struct {
	svc    *storage.Service
	bucket string
}

// NewGCSStore connects to Cloud Storage. A custom endpoint without
// credentials is treated as an emulator and skips authentication.
func NewGCSStore(ctx context.Context, cfg GCSConfig, extra ...option.ClientOption) (*GCSStore, error) {
	if cfg.Bucket == "" {
		return nil, apierrors.NewConfigError("gcs bucket is required", nil)
	}

	opts := []option.ClientOption{option.WithScopes(storage.DevstorageReadWriteScope)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	switch {
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	case cfg.Endpoint != "":
		opts = append(opts, option.WithoutAuthentication())
	}
	opts = append(opts, extra...)

	svc, err := storage.NewService(ctx, opts...)
	if err != nil {
		return nil, apierrors.NewStorageError("failed to create storage service", err)
	}
	return &GCSStore{svc: svc, bucket: cfg.Bucket}, nil
}

func objectName(stage domain.Stage, key string) string {
	return string(stage) + "/" + key
}

func (s *GCSStore) Put(ctx context.Context, stage domain.Stage, key string, r io.Reader) (Object, error) {
	if err := ValidateKey(key); err != nil {
		return Object{}, err
	}
	name := objectName(stage, key)
	dr := newDigestReader(r)

	if _, err := s.svc.Objects.Insert(s.bucket, &storage.Object{Name: name}).
		Media(dr).Context(ctx).Do(); err != nil {
		return Object{}, apierrors.NewStorageError("failed to upload object", err)
	}

	sum := dr.Sum()
	obj, err := s.svc.Objects.Patch(s.bucket, name, &storage.Object{
		Metadata: map[string]string{checksumMetadataKey: sum},
	}).Context(ctx).Do()
	if err != nil {
		return Object{}, apierrors.NewStorageError("failed to tag object checksum", err)
	}
	return toObject(key, obj), nil
}

// openAttempts bounds how often Open re-stats an object that was replaced
// between the metadata read and the pinned download.
const openAttempts = 3

// Open pins the download to the generation it stat'ed, so the body always
// matches the returned size and checksum.
func (s *GCSStore) Open(ctx context.Context, stage domain.Stage, key string) (io.ReadCloser, Object, error) {
	if err := ValidateKey(key); err != nil {
		return nil, Object{}, err
	}
	name := objectName(stage, key)

	var lastErr error
	for attempt := 0; attempt < openAttempts; attempt++ {
		meta, err := s.svc.Objects.Get(s.bucket, name).Context(ctx).Do()
		if err != nil {
			return nil, Object{}, s.mapErr(err, stage, key, "failed to stat object")
		}
		resp, err := s.svc.Objects.Get(s.bucket, name).Generation(meta.Generation).Context(ctx).Download()
		if err == nil {
			return resp.Body, toObject(key, meta), nil
		}
		if !isGenerationGone(err) {
			return nil, Object{}, s.mapErr(err, stage, key, "failed to download object")
		}
		lastErr = err
	}
	return nil, Object{}, apierrors.NewStorageError("object kept changing during download", lastErr).
		WithContext("stage", string(stage)).
		WithContext("filename", key)
}

// isGenerationGone reports a pinned generation that was overwritten or
// deleted after the stat.
func isGenerationGone(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	return gerr.Code == http.StatusNotFound || gerr.Code == http.StatusPreconditionFailed
}

func (s *GCSStore) List(ctx context.Context, stage domain.Stage) ([]Object, error) {
	prefix := string(stage) + "/"
	var out []Object
	err := s.svc.Objects.List(s.bucket).Prefix(prefix).Pages(ctx, func(page *storage.Objects) error {
		for _, o := range page.Items {
			key := strings.TrimPrefix(o.Name, prefix)
			if key == "" || strings.Contains(key, "/") {
				continue
			}
			out = append(out, toObject(key, o))
		}
		return nil
	})
	if err != nil {
		return nil, apierrors.NewStorageError("failed to list objects", err)
	}
	return out, nil
}

func (s *GCSStore) Delete(ctx context.Context, stage domain.Stage, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := s.svc.Objects.Delete(s.bucket, objectName(stage, key)).Context(ctx).Do(); err != nil {
		return s.mapErr(err, stage, key, "failed to delete object")
	}
	return nil
}

func (s *GCSStore) Close() error { return nil }

func (s *GCSStore) mapErr(err error, stage domain.Stage, key, msg string) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
		return notFound(stage, key)
	}
	return apierrors.NewStorageError(msg, err)
}

func toObject(key string, o *storage.Object) Object {
	obj := Object{Key: key, Size: int64(o.Size)}
	if o.Metadata != nil {
		obj.Checksum = o.Metadata[checksumMetadataKey]
	}
	if t, err := time.Parse(time.RFC3339, o.Updated); err == nil {
		obj.CreatedAt = t.UTC()
	} else if t, err := time.Parse(time.RFC3339, o.TimeCreated); err == nil {
		obj.CreatedAt = t.UTC()
	}
	return obj
}
