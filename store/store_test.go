package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"
)

func openTemp(t *testing.T) (*BoltStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return s, path
}

func TestSaveAndFiles(t *testing.T) {
	s, path := openTemp(t)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	ctx := context.Background()

	files := []File{
		{Name: "b.pdf", MIME: "application/pdf", Data: []byte("%PDF-b")},
		{Name: "a.pdf", Data: []byte("%PDF-a")},
	}
	if err := s.Save(ctx, files); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	recs, err := s.Files(ctx)
	if err != nil {
		t.Fatalf("files: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].Name != "b.pdf" || string(recs[0].Data) != "%PDF-b" || recs[0].MIME != "application/pdf" {
		t.Fatalf("unexpected first record: %+v", recs[0])
	}
	if recs[0].ID >= recs[1].ID {
		t.Fatalf("ids must increase in save order: %d, %d", recs[0].ID, recs[1].ID)
	}
	if !recs[1].SavedAt.Equal(fixed) {
		t.Fatalf("saved at = %v", recs[1].SavedAt)
	}
}

func TestSaveReplaces(t *testing.T) {
	s, _ := openTemp(t)
	defer s.Close()
	ctx := context.Background()
	_ = s.Save(ctx, []File{{Name: "old.pdf", Data: []byte("1")}, {Name: "old2.pdf", Data: []byte("2")}})
	if err := s.Save(ctx, []File{{Name: "new.pdf", Data: []byte("3")}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	recs, _ := s.Files(ctx)
	if len(recs) != 1 || recs[0].Name != "new.pdf" {
		t.Fatalf("save should replace earlier records: %+v", recs)
	}
}

func TestDigestMismatchIsSkipped(t *testing.T) {
	s, _ := openTemp(t)
	defer s.Close()
	ctx := context.Background()
	if err := s.Save(ctx, []File{{Name: "good.pdf", Data: []byte("good")}, {Name: "bad.pdf", Data: []byte("bad")}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(blobBucket).Put(itob(2), []byte("tampered"))
	})
	if err != nil {
		t.Fatalf("tamper: %v", err)
	}
	recs, err := s.Files(ctx)
	if err != nil {
		t.Fatalf("files: %v", err)
	}
	if len(recs) != 1 || recs[0].Name != "good.pdf" {
		t.Fatalf("tampered record should be skipped: %+v", recs)
	}
}

func TestClear(t *testing.T) {
	s, _ := openTemp(t)
	defer s.Close()
	ctx := context.Background()
	_ = s.Save(ctx, []File{{Name: "a.pdf", Data: []byte("a")}})
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	recs, err := s.Files(ctx)
	if err != nil || len(recs) != 0 {
		t.Fatalf("expected no records after clear, got %d err=%v", len(recs), err)
	}
}

func TestFilesOnFreshDatabase(t *testing.T) {
	s, _ := openTemp(t)
	defer s.Close()
	recs, err := s.Files(context.Background())
	if err != nil || recs != nil {
		t.Fatalf("fresh database should be empty, got %v err=%v", recs, err)
	}
}
