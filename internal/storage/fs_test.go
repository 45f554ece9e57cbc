package storage

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFSStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFSStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	key, err := s.Put("courses/c1/source.txt", strings.NewReader("Q1. hi"))
	if err != nil || key != "courses/c1/source.txt" {
		t.Fatalf("key=%q err=%v", key, err)
	}
	rc, err := s.Get(key)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := io.ReadAll(rc)
	rc.Close()
	if string(b) != "Q1. hi" {
		t.Fatalf("content = %q", b)
	}
	if err := s.Delete(key); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(key); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if _, err := s.Get(key); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("get after delete: %v", err)
	}
}

func TestFSStoreStaysInsideBase(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewFSStore(filepath.Join(dir, "blobs"))
	key, err := s.Put("../../escape.txt", strings.NewReader("x"))
	if err != nil {
		t.Fatal(err)
	}
	if key != "escape.txt" {
		t.Fatalf("key = %q", key)
	}
	if _, err := os.Stat(filepath.Join(dir, "blobs", "escape.txt")); err != nil {
		t.Fatalf("blob not under base: %v", err)
	}
	if _, err := s.Put("", strings.NewReader("x")); !errors.Is(err, ErrBadKey) {
		t.Fatalf("empty key: %v", err)
	}
}

func TestCourseSourceKey(t *testing.T) {
	cases := map[string]string{
		"bank.txt":             "courses/c1/bank.txt",
		"../../etc/passwd":     "courses/c1/passwd",
		`C:\Users\me\bank.txt`: "courses/c1/bank.txt",
		"":                     "courses/c1/source.txt",
		"dir/":                 "courses/c1/dir",
	}
	for in, want := range cases {
		if got := CourseSourceKey("c1", in); got != want {
			t.Errorf("CourseSourceKey(%q) = %q, want %q", in, got, want)
		}
	}
}
