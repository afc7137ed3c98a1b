package files

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"

	apierrors "bfintake/internal/errors"
	"bfintake/pkg/contracts/domain"
)

// StoreContractSuite runs the same behavioral checks against every Store.
type StoreContractSuite struct {
	suite.Suite
	newStore func(t *testing.T) Store
	store    Store
	ctx      context.Context
}

func (s *StoreContractSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.newStore(s.T())
}

func (s *StoreContractSuite) TearDownTest() {
	s.NoError(s.store.Close())
}

func (s *StoreContractSuite) put(stage domain.Stage, key, content string) Object {
	obj, err := s.store.Put(s.ctx, stage, key, strings.NewReader(content))
	s.Require().NoError(err)
	return obj
}

func (s *StoreContractSuite) read(stage domain.Stage, key string) string {
	rc, _, err := s.store.Open(s.ctx, stage, key)
	s.Require().NoError(err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	s.Require().NoError(err)
	return string(data)
}

func (s *StoreContractSuite) TestPutOpen() {
	obj := s.put(domain.StageUploaded, "a.ndjson.bz2", "payload")
	s.Equal("a.ndjson.bz2", obj.Key)
	s.Equal(int64(7), obj.Size)
	s.Equal(Checksum([]byte("payload")), obj.Checksum)
	s.False(obj.CreatedAt.IsZero())

	s.Equal("payload", s.read(domain.StageUploaded, "a.ndjson.bz2"))
}

func (s *StoreContractSuite) TestOpenReportsChecksum() {
	s.put(domain.StageExported, "m.json", "old")
	s.put(domain.StageExported, "m.json", "new content")

	rc, obj, err := s.store.Open(s.ctx, domain.StageExported, "m.json")
	s.Require().NoError(err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	s.Require().NoError(err)

	s.Equal("new content", string(data))
	s.Equal(int64(len(data)), obj.Size)
	s.Equal(Checksum(data), obj.Checksum)
}

func (s *StoreContractSuite) TestPutOverwrites() {
	s.put(domain.StageParsed, "x", "first")
	s.put(domain.StageParsed, "x", "second value")

	s.Equal("second value", s.read(domain.StageParsed, "x"))
	objs, err := s.store.List(s.ctx, domain.StageParsed)
	s.Require().NoError(err)
	s.Require().Len(objs, 1)
	s.Equal(int64(12), objs[0].Size)
}

func (s *StoreContractSuite) TestStagesAreIsolated() {
	s.put(domain.StageUploaded, "same", "u")
	s.put(domain.StageParsed, "same", "pp")

	s.Equal("u", s.read(domain.StageUploaded, "same"))
	s.Equal("pp", s.read(domain.StageParsed, "same"))

	exported, err := s.store.List(s.ctx, domain.StageExported)
	s.Require().NoError(err)
	s.Empty(exported)
}

func (s *StoreContractSuite) TestNotFound() {
	_, _, err := s.store.Open(s.ctx, domain.StageUploaded, "missing")
	s.ErrorIs(err, apierrors.ErrNotFound)

	err = s.store.Delete(s.ctx, domain.StageUploaded, "missing")
	s.ErrorIs(err, apierrors.ErrNotFound)
}

func (s *StoreContractSuite) TestDelete() {
	s.put(domain.StageExported, "a.csv", "id")
	s.Require().NoError(s.store.Delete(s.ctx, domain.StageExported, "a.csv"))

	_, _, err := s.store.Open(s.ctx, domain.StageExported, "a.csv")
	s.ErrorIs(err, apierrors.ErrNotFound)
}

func (s *StoreContractSuite) TestRejectsPathKeys() {
	for _, key := range []string{"../escape", "a/b", `a\b`, "", "..", ".tmp-123"} {
		_, err := s.store.Put(s.ctx, domain.StageUploaded, key, strings.NewReader("x"))
		s.ErrorIs(err, apierrors.ErrValidation, key)
	}
}

func TestMemoryStore(t *testing.T) {
	suite.Run(t, &StoreContractSuite{newStore: func(*testing.T) Store { return NewMemoryStore() }})
}

func TestDiskStore(t *testing.T) {
	suite.Run(t, &StoreContractSuite{newStore: func(t *testing.T) Store {
		s, err := NewDiskStore(t.TempDir(), nil)
		if err != nil {
			t.Fatalf("disk store: %v", err)
		}
		return s
	}})
}

func TestSQLiteStore(t *testing.T) {
	suite.Run(t, &StoreContractSuite{newStore: func(t *testing.T) Store {
		s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"))
		if err != nil {
			t.Fatalf("sqlite store: %v", err)
		}
		return s
	}})
}
