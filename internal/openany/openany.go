// Package openany is the CLI-facing dispatcher that picks the right
// container reader for a file path, by extension first and magic-byte
// sniffing as a fallback. It is ambient glue, not a spec component: every
// format decision it makes simply calls into the already-grounded package
// for that format (tarfmt, debfmt, xarfmt, dmgfmt, rpmfmt, cpiofmt,
// savedtree). Grounded on the teacher's own main.go, which likewise does a
// one-shot "look at the argument, open the right thing" dispatch with no
// framework.
package openany

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	"github.com/pkgtree/pkgdiff/internal/cpiofmt"
	"github.com/pkgtree/pkgdiff/internal/debfmt"
	"github.com/pkgtree/pkgdiff/internal/dmgfmt"
	"github.com/pkgtree/pkgdiff/internal/fileinfo"
	"github.com/pkgtree/pkgdiff/internal/rpmfmt"
	"github.com/pkgtree/pkgdiff/internal/savedtree"
	"github.com/pkgtree/pkgdiff/internal/tarfmt"
	"github.com/pkgtree/pkgdiff/internal/xarfmt"
)

// sliceReader adapts a pre-materialized []FileInfo (as produced by snapshot
// readers: dmg, pkg/xar, saved-tree) to the TreeReader pull interface.
type sliceReader struct {
	entries []fileinfo.FileInfo
	pos     int
}

func (s *sliceReader) Next() (*fileinfo.FileInfo, error) {
	if s.pos >= len(s.entries) {
		return nil, nil
	}
	fi := s.entries[s.pos]
	s.pos++
	return &fi, nil
}

func (s *sliceReader) Close() error { return nil }

func newSliceReader(entries []fileinfo.FileInfo) fileinfo.TreeReader {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return &sliceReader{entries: entries}
}

// Open opens path and returns a TreeReader over its contents, dispatching
// on extension (falling back to magic-byte sniffing for ambiguous/absent
// extensions). logger receives the per-format downgraded warnings spec §7
// calls for (Unsupported codec, per-chunk Decompression, inner-pkg
// failures); HFS+ catalog records that fail to decode are skipped without
// a warning. logger may be nil.
func Open(path string, logger *log.Logger) (fileinfo.TreeReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	size := info.Size()

	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".tar"), strings.HasSuffix(lower, ".tar.gz"),
		strings.HasSuffix(lower, ".tgz"), strings.HasSuffix(lower, ".tar.xz"):
		return tarfmt.New(f, path, tarfmt.Auto, logger)

	case strings.HasSuffix(lower, ".deb"):
		r, err := debfmt.Open(f, logger)
		if err != nil {
			f.Close()
			return nil, err
		}
		return closeWrap{r, f}, nil

	case strings.HasSuffix(lower, ".cpio"):
		return cpioCloser{cpiofmt.New(f), f}, nil

	case strings.HasSuffix(lower, ".xar"), strings.HasSuffix(lower, ".pkg"):
		r, err := xarfmt.Open(f, size)
		if err != nil {
			f.Close()
			return nil, err
		}
		entries, err := fileinfo.Collect(r)
		r.Close()
		f.Close()
		if err != nil {
			return nil, err
		}
		return newSliceReader(entries), nil

	case strings.HasSuffix(lower, ".dmg"):
		entries, err := dmgfmt.Read(f, size, logger)
		f.Close()
		if err != nil {
			return nil, err
		}
		return newSliceReader(entries), nil

	case strings.HasSuffix(lower, ".rpm"):
		data, err := readAll(f, size)
		f.Close()
		if err != nil {
			return nil, err
		}
		_, _, r, err := rpmfmt.Open(data)
		if err != nil {
			return nil, err
		}
		return r, nil

	case strings.HasSuffix(lower, ".json"):
		entries, err := savedtree.Read(f)
		f.Close()
		if err != nil {
			return nil, err
		}
		return newSliceReader(entries), nil

	default:
		f.Close()
		return nil, fmt.Errorf("openany: %s: unrecognized container extension", path)
	}
}

// OpenAsMap opens path and drains it fully into a path -> FileInfo map, the
// shape the comparison engine's "expected" side requires.
func OpenAsMap(path string, logger *log.Logger) (map[string]fileinfo.FileInfo, error) {
	r, err := Open(path, logger)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return savedtree.TreeToMap(r)
}

func readAll(f *os.File, size int64) ([]byte, error) {
	buf := make([]byte, size)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return nil, err
	}
	return buf, nil
}

// closeWrap pairs a TreeReader with the underlying *os.File so Close
// releases both; debfmt readers close their own decompressors but not the
// file they were opened against.
type closeWrap struct {
	fileinfo.TreeReader
	f *os.File
}

func (c closeWrap) Close() error {
	err := c.TreeReader.Close()
	if cerr := c.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// cpioCloser pairs a cpiofmt.Reader (whose Close is a no-op) with the file
// it reads from.
type cpioCloser struct {
	r *cpiofmt.Reader
	f *os.File
}

func (c cpioCloser) Next() (*fileinfo.FileInfo, error) { return c.r.Next() }
func (c cpioCloser) Close() error {
	c.r.Close()
	return c.f.Close()
}
