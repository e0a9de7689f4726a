package cpiofmt

import (
	"bytes"
	"testing"

	"github.com/pkgtree/pkgdiff/internal/fileinfo"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	if err := w.AddDirectory("usr/bin", 0o755, 0, 0); err != nil {
		t.Fatalf("AddDirectory: %v", err)
	}
	if err := w.AddFile("usr/bin/hello", []byte("hello world"), 0o644, 1000, 1000); err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if err := w.AddSymlink("usr/bin/hi", "hello", 0o777, 0, 0); err != nil {
		t.Fatalf("AddSymlink: %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	r := New(bytes.NewReader(buf.Bytes()))
	var got []fileinfo.FileInfo
	for {
		fi, err := r.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if fi == nil {
			break
		}
		got = append(got, *fi)
	}

	if len(got) != 3 {
		t.Fatalf("got %d entries, want 3: %+v", len(got), got)
	}

	dir, file, link := got[0], got[1], got[2]

	if !dir.IsDir || dir.Path != "usr/bin" {
		t.Errorf("dir entry wrong: %+v", dir)
	}
	if dir.Mode&fileinfo.SIFMT != fileinfo.SIFDIR {
		t.Errorf("dir mode missing SIFDIR: %o", dir.Mode)
	}

	if file.Path != "usr/bin/hello" || file.Size != int64(len("hello world")) {
		t.Errorf("file entry wrong: %+v", file)
	}
	if file.UID != 1000 || file.GID != 1000 {
		t.Errorf("file uid/gid wrong: %+v", file)
	}
	if file.Mode&fileinfo.SIFMT != fileinfo.SIFREG {
		t.Errorf("file mode missing SIFREG: %o", file.Mode)
	}

	if !link.IsSymlink || link.SymlinkTarget != "hello" {
		t.Errorf("symlink entry wrong: %+v", link)
	}
	if link.Size != 0 {
		t.Errorf("symlink size must be 0, got %d", link.Size)
	}
}

func TestTrailerTerminatesStream(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.AddFile("a", []byte("x"), 0o644, 0, 0); err != nil {
		t.Fatal(err)
	}
	if err := w.Finish(); err != nil {
		t.Fatal(err)
	}

	r := New(bytes.NewReader(buf.Bytes()))
	if _, err := r.Next(); err != nil {
		t.Fatalf("first Next: %v", err)
	}
	fi, err := r.Next()
	if err != nil {
		t.Fatalf("second Next: %v", err)
	}
	if fi != nil {
		t.Fatalf("expected clean EOF after trailer, got %+v", fi)
	}
}

func TestInodesAutoIncrement(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, name := range []string{"a", "b", "c"} {
		if err := w.AddFile(name, nil, 0o644, 0, 0); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Finish(); err != nil {
		t.Fatal(err)
	}
	// 3 files (ino 1-3) plus the TRAILER!!! sentinel written by Finish
	// (ino 4) leaves the counter at 5.
	if w.ino != 5 {
		t.Errorf("ino counter = %d, want 5", w.ino)
	}
}
