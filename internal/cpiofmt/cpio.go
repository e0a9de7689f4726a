// Package cpiofmt implements the SVR4 "newc" cpio format in both directions
// (spec §4.6), the payload format shared by RPM and Debian/XAR-nested
// archives. The header layout (110-byte ASCII-hex fields, magic "070701",
// 4-byte padding after name and after content, TRAILER!!! sentinel) is
// reproduced directly from spec §4.6/§6 and cross-checked against
// _examples/original_source's cpio_writer.py, the Python reference this
// spec was distilled from.
package cpiofmt

import (
	"fmt"
	"io"
	"strconv"

	"github.com/pkgtree/pkgdiff/internal/containererr"
	"github.com/pkgtree/pkgdiff/internal/fileinfo"
)

const (
	magic       = "070701"
	headerSize  = 110
	trailerName = "TRAILER!!!"
)

// Reader parses an SVR4 newc cpio stream.
type Reader struct {
	r    io.Reader
	pos  int64
	done bool

	// lastContent holds the raw content bytes of the most recently yielded
	// entry (empty for a directory, the target for a symlink), for callers
	// that need the payload alongside the FileInfo.
	lastContent []byte
}

// New returns a cpio reader pulling from r.
func New(r io.Reader) *Reader {
	return &Reader{r: r}
}

type rawHeader struct {
	ino, mode, uid, gid, nlink, mtime, filesize                  uint32
	devmajor, devminor, rdevmajor, rdevminor, namesize, checksum uint32
}

func (cr *Reader) readFull(n int) ([]byte, error) {
	buf := make([]byte, n)
	k, err := io.ReadFull(cr.r, buf)
	cr.pos += int64(k)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func parseHexField(b []byte) (uint32, error) {
	v, err := strconv.ParseUint(string(b), 16, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

func (cr *Reader) readHeader() (*rawHeader, string, error) {
	buf, err := cr.readFull(headerSize)
	if err != nil {
		if err == io.EOF {
			return nil, "", io.EOF
		}
		return nil, "", containererr.Wrap(containererr.Truncated, "cpio header", err)
	}
	if string(buf[:6]) != magic {
		return nil, "", containererr.New(containererr.BadMagic, "cpio header magic")
	}
	fields := make([]uint32, 13)
	for i := 0; i < 13; i++ {
		f, err := parseHexField(buf[6+8*i : 6+8*i+8])
		if err != nil {
			return nil, "", containererr.Wrap(containererr.Decoding, "cpio header field", err)
		}
		fields[i] = f
	}
	h := &rawHeader{
		ino: fields[0], mode: fields[1], uid: fields[2], gid: fields[3],
		nlink: fields[4], mtime: fields[5], filesize: fields[6],
		devmajor: fields[7], devminor: fields[8], rdevmajor: fields[9],
		rdevminor: fields[10], namesize: fields[11], checksum: fields[12],
	}

	nameBuf, err := cr.readFull(int(h.namesize))
	if err != nil {
		return nil, "", containererr.Wrap(containererr.Truncated, "cpio name", err)
	}
	name := string(trimNUL(nameBuf))

	if pad := padTo4(cr.pos); pad > 0 {
		if _, err := cr.readFull(pad); err != nil {
			return nil, "", containererr.Wrap(containererr.Truncated, "cpio name padding", err)
		}
	}

	return h, name, nil
}

func trimNUL(b []byte) []byte {
	for i, c := range b {
		if c == 0 {
			return b[:i]
		}
	}
	return b
}

func padTo4(pos int64) int {
	return int((4 - pos%4) % 4)
}

// Next implements fileinfo.TreeReader.
func (cr *Reader) Next() (*fileinfo.FileInfo, error) {
	if cr.done {
		return nil, nil
	}
	h, name, err := cr.readHeader()
	if err == io.EOF {
		cr.done = true
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if name == trailerName {
		cr.done = true
		// Drain any content the trailer declares (normally zero).
		if h.filesize > 0 {
			if _, err := cr.readFull(int(h.filesize)); err != nil {
				return nil, containererr.Wrap(containererr.Truncated, "cpio trailer content", err)
			}
			if pad := padTo4(cr.pos); pad > 0 {
				cr.readFull(pad)
			}
		}
		return nil, nil
	}

	content, err := cr.readFull(int(h.filesize))
	if err != nil {
		return nil, containererr.Wrap(containererr.Truncated, "cpio content", err)
	}
	if pad := padTo4(cr.pos); pad > 0 {
		if _, err := cr.readFull(pad); err != nil {
			return nil, containererr.Wrap(containererr.Truncated, "cpio content padding", err)
		}
	}

	fi := &fileinfo.FileInfo{
		Path: name,
		Mode: h.mode,
		UID:  h.uid,
		GID:  h.gid,
	}
	switch h.mode & fileinfo.SIFMT {
	case fileinfo.SIFDIR:
		fi.IsDir = true
	case fileinfo.SIFLNK:
		fi.IsSymlink = true
		fi.SymlinkTarget = string(content)
	default:
		fi.Size = int64(h.filesize)
	}
	cr.lastContent = content
	return fi, nil
}

// Content returns the raw bytes most recently read for a regular file entry.
func (cr *Reader) Content() []byte { return cr.lastContent }

// Close is a no-op; the caller owns the underlying reader's lifetime.
func (cr *Reader) Close() error { return nil }

var _ fileinfo.TreeReader = (*Reader)(nil)

// --- Writer ---

// Writer emits an SVR4 newc cpio stream, auto-incrementing inode numbers
// from 1 and writing the TRAILER!!! sentinel on Finish (spec §4.6).
type Writer struct {
	w    io.Writer
	pos  int64
	ino  uint32
	done bool
}

// NewWriter returns a cpio writer over w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, ino: 1}
}

func (cw *Writer) write(b []byte) error {
	n, err := cw.w.Write(b)
	cw.pos += int64(n)
	return err
}

func (cw *Writer) writeHeader(name string, mode, uid, gid, nlink, mtime, filesize uint32) error {
	namesize := uint32(len(name) + 1) // NUL-terminated
	hdr := magic +
		fmt.Sprintf("%08X%08X%08X%08X%08X%08X%08X%08X%08X%08X%08X%08X%08X",
			cw.ino, mode, uid, gid, nlink, mtime, filesize,
			0, 0, 0, 0, namesize, 0)
	if err := cw.write([]byte(hdr)); err != nil {
		return err
	}
	if err := cw.write(append([]byte(name), 0)); err != nil {
		return err
	}
	if pad := padTo4(cw.pos); pad > 0 {
		if err := cw.write(make([]byte, pad)); err != nil {
			return err
		}
	}
	cw.ino++
	return nil
}

func (cw *Writer) writeContent(content []byte) error {
	if err := cw.write(content); err != nil {
		return err
	}
	if pad := padTo4(cw.pos); pad > 0 {
		return cw.write(make([]byte, pad))
	}
	return nil
}

// AddFile writes a regular file entry. If mode lacks file-type bits, SIFREG
// is OR'd in.
func (cw *Writer) AddFile(path string, content []byte, mode, uid, gid uint32) error {
	if mode&fileinfo.SIFMT == 0 {
		mode |= fileinfo.SIFREG
	}
	if err := cw.writeHeader(path, mode, uid, gid, 1, 0, uint32(len(content))); err != nil {
		return err
	}
	return cw.writeContent(content)
}

// AddDirectory writes a directory entry (nlink defaults to 2).
func (cw *Writer) AddDirectory(path string, mode, uid, gid uint32) error {
	if mode&fileinfo.SIFMT == 0 {
		mode |= fileinfo.SIFDIR
	}
	return cw.writeHeader(path, mode, uid, gid, 2, 0, 0)
}

// AddSymlink writes a symlink entry; the target is stored as file content.
func (cw *Writer) AddSymlink(path, target string, mode, uid, gid uint32) error {
	if mode&fileinfo.SIFMT == 0 {
		mode |= fileinfo.SIFLNK
	}
	tb := []byte(target)
	if err := cw.writeHeader(path, mode, uid, gid, 1, 0, uint32(len(tb))); err != nil {
		return err
	}
	return cw.writeContent(tb)
}

// Finish writes the TRAILER!!! sentinel, ending the archive.
func (cw *Writer) Finish() error {
	if cw.done {
		return nil
	}
	cw.done = true
	return cw.writeHeader(trailerName, 0, 0, 0, 1, 0, 0)
}
