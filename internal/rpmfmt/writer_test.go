package rpmfmt

import (
	"bytes"
	"testing"

	"github.com/pkgtree/pkgdiff/internal/fileinfo"
)

// Grounded on spec §8's round-trip property: writing an RPM with a file list
// then reading it back yields an equivalent FileInfo stream.
func TestWriterReaderRoundTrip(t *testing.T) {
	w := NewWriter("example", "1.0.0")
	w.Summary = "an example package"
	w.AddDirectory("usr/bin", 0o755, 0, 0, "root", "root")
	w.AddFile("usr/bin/hello", []byte("hello world"), 0o644, 0, 0, "root", "root")
	w.AddSymlink("usr/bin/hi", "hello", 0o777, 0, 0, "root", "root")

	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	_, hdr, r, err := Open(buf.Bytes())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if got := hdr.String(TagName); got != "example" {
		t.Errorf("TagName = %q, want %q", got, "example")
	}

	entries, err := fileinfo.Collect(r)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3: %+v", len(entries), entries)
	}

	byPath := map[string]fileinfo.FileInfo{}
	for _, e := range entries {
		byPath[e.Path] = e
	}

	dir, ok := byPath["usr/bin"]
	if !ok || !dir.IsDir {
		t.Errorf("usr/bin not read back as a directory: %+v", dir)
	}
	file, ok := byPath["usr/bin/hello"]
	if !ok || file.Size != int64(len("hello world")) {
		t.Errorf("usr/bin/hello not read back correctly: %+v", file)
	}
	link, ok := byPath["usr/bin/hi"]
	if !ok || !link.IsSymlink || link.SymlinkTarget != "hello" {
		t.Errorf("usr/bin/hi not read back as a symlink to hello: %+v", link)
	}
}

// The io.Pipe-backed streaming reader (List) must produce the same entries
// as the whole-file reader (Open) for the same bytes (spec §5).
func TestWriterListStreamingMatchesOpen(t *testing.T) {
	w := NewWriter("example", "1.0.0")
	w.AddFile("a.txt", []byte("one"), 0o644, 0, 0, "root", "root")
	w.AddFile("b.txt", []byte("two"), 0o644, 0, 0, "root", "root")

	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	_, _, r, err := List(buf.Bytes())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	entries, err := fileinfo.Collect(r)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2: %+v", len(entries), entries)
	}
}

func TestWriterUnsupportedCompression(t *testing.T) {
	w := NewWriter("example", "1.0.0")
	w.Compression = "bzip2"
	w.AddFile("a.txt", []byte("x"), 0o644, 0, 0, "root", "root")

	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err == nil {
		t.Fatal("expected error writing bzip2-compressed payload, got nil")
	}
}
