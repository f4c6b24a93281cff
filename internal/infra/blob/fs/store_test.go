package fs

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"baboard/internal/blob/core"
)

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if s.Driver() != core.DriverFilesystem {
		t.Fatalf("unexpected driver %s", s.Driver())
	}
	info, err := s.Put(ctx, "historical/ff-1/h-1.json", strings.NewReader("payload"), core.PutOptions{ContentType: "application/json", Metadata: map[string]string{"entry": "e-1"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 7 || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := s.Put(ctx, "historical/ff-1/h-1.json", strings.NewReader("again"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	got, rc, err := s.Get(ctx, "historical/ff-1/h-1.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "payload" || got.Metadata["entry"] != "e-1" || got.ContentType != "application/json" {
		t.Fatalf("unexpected get result %+v %q", got, body)
	}
	head, err := s.Head(ctx, "historical/ff-1/h-1.json")
	if err != nil || head.ETag != info.ETag {
		t.Fatalf("unexpected head %+v (%v)", head, err)
	}
	if _, err := s.Put(ctx, "exports/x.csv", strings.NewReader("a,b"), core.PutOptions{}); err != nil {
		t.Fatalf("put export: %v", err)
	}
	list, err := s.List(ctx, "historical/")
	if err != nil || len(list) != 1 || list[0].Key != "historical/ff-1/h-1.json" {
		t.Fatalf("unexpected listing %v (%v)", list, err)
	}
	ok, err := s.Delete(ctx, "historical/ff-1/h-1.json")
	if err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if ok, _ := s.Delete(ctx, "historical/ff-1/h-1.json"); ok {
		t.Fatalf("expected missing key on second delete")
	}
	if _, err := s.Head(ctx, "historical/ff-1/h-1.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, _, err := s.Get(ctx, "historical/ff-1/h-1.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from Get, got %v", err)
	}
}

func TestStoreRejectsUnsafeKeys(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for _, key := range []string{"", "  ", "/abs", "../escape", "a/../../b", "x.meta"} {
		if _, err := s.Put(context.Background(), key, strings.NewReader("x"), core.PutOptions{}); err == nil {
			t.Fatalf("expected key %q to be rejected", key)
		}
	}
}

func TestNewCreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "archive")
	s, err := New(root)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if s.Root() != root {
		t.Fatalf("unexpected root %s", s.Root())
	}
	if st, err := os.Stat(root); err != nil || !st.IsDir() {
		t.Fatalf("expected root directory, got %v", err)
	}
}

func TestGetCorruptMetadata(t *testing.T) {
	root := t.TempDir()
	s, err := New(root)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := s.Put(context.Background(), "k.json", strings.NewReader("{}"), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "k.json.meta"), []byte("not json"), 0o644); err != nil {
		t.Fatalf("corrupt meta: %v", err)
	}
	if _, _, err := s.Get(context.Background(), "k.json"); err == nil {
		t.Fatalf("expected metadata decode error")
	}
	if _, err := s.List(context.Background(), ""); err == nil {
		t.Fatalf("expected list to surface metadata error")
	}
}
