// Package savedtree reads and writes the saved-tree JSON snapshot format
// (spec §6): a flat top-level array of FileInfo entries, mode stored as an
// octal string with no "0o"/"0" prefix convention beyond plain digits, and
// uid/gid/size/is_dir/is_symlink/target all optional with spec-defined
// defaults. Encoding is handled with the standard library's encoding/json,
// the teacher corpus's own choice wherever it touches JSON (nothing in the
// pack reaches for a third-party JSON library for a format this small).
package savedtree

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/pkgtree/pkgdiff/internal/fileinfo"
)

// wireEntry mirrors the exact JSON shape in spec §6. Fields use pointers /
// omitempty so that "absent" and "zero" stay distinguishable where the spec
// requires it (uid/gid default to 0 when absent either way, but is_dir,
// is_symlink, and size are presence-significant).
type wireEntry struct {
	Path      string `json:"path"`
	Mode      string `json:"mode"`
	UID       *int   `json:"uid,omitempty"`
	GID       *int   `json:"gid,omitempty"`
	IsDir     bool   `json:"is_dir,omitempty"`
	IsSymlink bool   `json:"is_symlink,omitempty"`
	Target    string `json:"target,omitempty"`
	Size      *int64 `json:"size,omitempty"`
}

// Write serializes entries as the saved-tree JSON array to w.
func Write(w io.Writer, entries []fileinfo.FileInfo) error {
	out := make([]wireEntry, len(entries))
	for i, fi := range entries {
		we := wireEntry{
			Path: fi.Path,
			Mode: strconv.FormatUint(uint64(fi.Mode), 8),
		}
		if fi.UID != 0 {
			uid := int(fi.UID)
			we.UID = &uid
		}
		if fi.GID != 0 {
			gid := int(fi.GID)
			we.GID = &gid
		}
		switch {
		case fi.IsDir:
			we.IsDir = true
		case fi.IsSymlink:
			we.IsSymlink = true
			we.Target = fi.SymlinkTarget
		default:
			size := fi.Size
			we.Size = &size
		}
		out[i] = we
	}
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}

// Read parses a saved-tree JSON array into FileInfo entries, in file order.
func Read(r io.Reader) ([]fileinfo.FileInfo, error) {
	var wire []wireEntry
	if err := json.NewDecoder(r).Decode(&wire); err != nil {
		return nil, fmt.Errorf("savedtree: decode: %w", err)
	}
	out := make([]fileinfo.FileInfo, len(wire))
	for i, we := range wire {
		mode, err := strconv.ParseUint(we.Mode, 8, 32)
		if err != nil {
			return nil, fmt.Errorf("savedtree: entry %q: bad mode %q: %w", we.Path, we.Mode, err)
		}
		fi := fileinfo.FileInfo{
			Path:      we.Path,
			Mode:      uint32(mode),
			IsDir:     we.IsDir,
			IsSymlink: we.IsSymlink,
		}
		if we.UID != nil {
			fi.UID = uint32(*we.UID)
		}
		if we.GID != nil {
			fi.GID = uint32(*we.GID)
		}
		if we.IsSymlink {
			fi.SymlinkTarget = we.Target
		}
		if we.Size != nil {
			fi.Size = *we.Size
		}
		out[i] = fi
	}
	return out, nil
}

// LoadAsMap loads a saved-tree JSON document into a path -> FileInfo map,
// the shape the comparison engine's "expected" side requires (spec §4.16).
func LoadAsMap(r io.Reader) (map[string]fileinfo.FileInfo, error) {
	entries, err := Read(r)
	if err != nil {
		return nil, err
	}
	m := make(map[string]fileinfo.FileInfo, len(entries))
	for _, fi := range entries {
		m[fi.Path] = fi
	}
	return m, nil
}

// TreeToMap drains a TreeReader into a path -> FileInfo map, the same shape
// LoadAsMap produces, for building the "expected" side directly from a live
// container reader instead of a saved JSON snapshot.
func TreeToMap(r fileinfo.TreeReader) (map[string]fileinfo.FileInfo, error) {
	entries, err := fileinfo.Collect(r)
	if err != nil {
		return nil, err
	}
	m := make(map[string]fileinfo.FileInfo, len(entries))
	for _, fi := range entries {
		m[fi.Path] = fi
	}
	return m, nil
}
