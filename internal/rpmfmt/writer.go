package rpmfmt

import (
	"bytes"
	"compress/gzip"
	"crypto/md5"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/pkgtree/pkgdiff/internal/containererr"
	"github.com/pkgtree/pkgdiff/internal/cpiofmt"
	xzw "github.com/ulikunitz/xz"
)

// FileEntry is one file, directory, or symlink to be packaged, matching
// spec §4.14's `{path, content, mode, uid, gid, user, group, kind, target?}`.
type FileEntry struct {
	Path      string
	Content   []byte
	Mode      uint32
	UID, GID  uint32
	User      string
	Group     string
	IsDir     bool
	IsSymlink bool
	Target    string
}

// Writer accumulates package metadata and a file list, then serializes a
// complete RPM v3 file via WriteTo. Grounded directly on
// _examples/original_source/contrib/tools/lib/rpm_writer.py's RpmWriter
// class (build order, tag list, dirname/basename factoring, size/MD5
// bookkeeping), adapted to Go's io.WriterTo rather than a write_to_path
// method, matching that same file's write_to_stream counterpart.
type Writer struct {
	Name        string
	Version     string
	Release     string
	Arch        string
	OS          string
	Summary     string
	Description string
	License     string
	Group       string
	Compression string // "gzip", "xz", or "none"; "bzip2" is rejected by WriteTo as unsupported

	// OptFlags and Platform are optional metadata (RPMTAG_OPTFLAGS,
	// RPMTAG_PLATFORM); the reference writer declares these tags but never
	// populates them by default, so they are emitted here only if set.
	OptFlags string
	Platform string

	files []FileEntry
}

// NewWriter returns a Writer with the given package identity. Release
// defaults to "1", Arch to "noarch", OS to "linux", Compression to "gzip",
// and License/Group to placeholders, mirroring rpm_writer.py's defaults.
func NewWriter(name, version string) *Writer {
	return &Writer{
		Name:        name,
		Version:     version,
		Release:     "1",
		Arch:        "noarch",
		OS:          "linux",
		License:     "Unknown",
		Group:       "Unspecified",
		Compression: "gzip",
	}
}

// AddFile adds a regular file. If mode lacks file-type bits, S_IFREG is
// OR'd in.
func (w *Writer) AddFile(p string, content []byte, mode, uid, gid uint32, user, group string) {
	if mode&0o170000 == 0 {
		mode |= 0o100000
	}
	w.files = append(w.files, FileEntry{Path: p, Content: content, Mode: mode, UID: uid, GID: gid, User: user, Group: group})
}

// AddDirectory adds a directory entry.
func (w *Writer) AddDirectory(p string, mode, uid, gid uint32, user, group string) {
	if mode&0o170000 == 0 {
		mode |= 0o040000
	}
	w.files = append(w.files, FileEntry{Path: p, Mode: mode, UID: uid, GID: gid, User: user, Group: group, IsDir: true})
}

// AddSymlink adds a symlink entry.
func (w *Writer) AddSymlink(p, target string, mode, uid, gid uint32, user, group string) {
	if mode&0o170000 == 0 {
		mode |= 0o120000
	}
	w.files = append(w.files, FileEntry{Path: p, Mode: mode, UID: uid, GID: gid, User: user, Group: group, IsSymlink: true, Target: target})
}

// WriteTo serializes the complete RPM file to w, in the teacher corpus's
// io.WriterTo idiom (mirroring rpm_writer.py's write_to_stream).
func (w *Writer) WriteTo(dst io.Writer) (int64, error) {
	payloadPlain := w.buildCpioPayload()
	payload, err := w.compressPayload(payloadPlain)
	if err != nil {
		return 0, err
	}

	header := w.buildMainHeader()
	sig := w.buildSignature(header, payload)
	lead := w.buildLead()

	n, err := io.Copy(dst, bytes.NewReader(concat(lead, sig, header, payload)))
	return n, err
}

// WriteFile writes the complete RPM file to a new file at path, the
// path-based counterpart to WriteTo (rpm_writer.py's write(path) alongside
// write_to_stream(stream)).
func (w *Writer) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	_, werr := w.WriteTo(f)
	cerr := f.Close()
	if werr != nil {
		return werr
	}
	return cerr
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func (w *Writer) buildCpioPayload() []byte {
	var buf bytes.Buffer
	cw := cpiofmt.NewWriter(&buf)
	for _, f := range w.files {
		p := strings.TrimPrefix(f.Path, "/")
		switch {
		case f.IsSymlink:
			cw.AddSymlink(p, f.Target, f.Mode, f.UID, f.GID)
		case f.IsDir:
			cw.AddDirectory(p, f.Mode, f.UID, f.GID)
		default:
			cw.AddFile(p, f.Content, f.Mode, f.UID, f.GID)
		}
	}
	cw.Finish()
	return buf.Bytes()
}

func (w *Writer) compressPayload(data []byte) ([]byte, error) {
	switch w.compressionOrDefault() {
	case "none":
		return data, nil
	case "gzip":
		var buf bytes.Buffer
		gw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
		if err != nil {
			return nil, containererr.Wrap(containererr.Decompression, "gzip", err)
		}
		if _, err := gw.Write(data); err != nil {
			return nil, containererr.Wrap(containererr.Decompression, "gzip", err)
		}
		if err := gw.Close(); err != nil {
			return nil, containererr.Wrap(containererr.Decompression, "gzip", err)
		}
		return buf.Bytes(), nil
	case "xz":
		var buf bytes.Buffer
		xw, err := xzw.NewWriter(&buf)
		if err != nil {
			return nil, containererr.Wrap(containererr.Decompression, "xz", err)
		}
		if _, err := xw.Write(data); err != nil {
			return nil, containererr.Wrap(containererr.Decompression, "xz", err)
		}
		if err := xw.Close(); err != nil {
			return nil, containererr.Wrap(containererr.Decompression, "xz", err)
		}
		return buf.Bytes(), nil
	default:
		// bzip2 has no encoder in the standard library, and none of the
		// corpus's dependencies provide one either; writing a bzip2-payload
		// RPM is therefore unsupported (DESIGN.md notes the gap).
		return nil, containererr.New(containererr.Unsupported, fmt.Sprintf("rpmfmt: compression %q", w.Compression))
	}
}

func (w *Writer) compressionOrDefault() string {
	if w.Compression == "" {
		return "gzip"
	}
	return w.Compression
}

func (w *Writer) payloadCompressorTag() string {
	if w.Compression == "" {
		return "gzip"
	}
	return w.Compression
}

func (w *Writer) buildMainHeader() []byte {
	hb := &HeaderBuilder{}
	hb.AddString(TagName, w.Name)
	hb.AddString(TagVersion, w.Version)
	hb.AddString(TagRelease, w.Release)
	summary := w.Summary
	if summary == "" {
		summary = w.Name
	}
	description := w.Description
	if description == "" {
		description = summary
	}
	hb.AddI18NString(TagSummary, summary)
	hb.AddI18NString(TagDescription, description)
	hb.AddInt32(TagBuildTime, []uint32{uint32(time.Now().Unix())})
	hb.AddString(TagBuildHost, "localhost")
	hb.AddString(TagLicense, w.License)
	hb.AddI18NString(TagGroup, w.Group)
	hb.AddString(TagOS, w.OS)
	hb.AddString(TagArch, w.Arch)
	hb.AddString(TagSourceRPM, fmt.Sprintf("%s-%s-%s.src.rpm", w.Name, w.Version, w.Release))
	hb.AddString(TagRPMVersion, "4.0")
	hb.AddString(TagPayloadFormat, "cpio")
	hb.AddString(TagPayloadCompressor, w.payloadCompressorTag())
	hb.AddString(TagPayloadFlags, "9")
	if w.OptFlags != "" {
		hb.AddString(TagOptFlags, w.OptFlags)
	}
	if w.Platform != "" {
		hb.AddString(TagPlatform, w.Platform)
	}

	if len(w.files) > 0 {
		w.addFileTags(hb)
	}

	return hb.Build()
}

func (w *Writer) addFileTags(hb *HeaderBuilder) {
	dirIndex := map[string]uint32{}
	var dirList []string
	var basenames []string
	var dirIndexes, sizes, mtimes, flags, devices, inodes, verifyflags []uint32
	var modes, rdevs []uint16
	var md5s, linktos, users, groups, langs []string

	now := uint32(time.Now().Unix())
	totalSize := uint32(0)

	for i, f := range w.files {
		p := strings.TrimPrefix(f.Path, "/")
		dir := path.Dir(p)
		var dirname string
		if dir == "." || dir == "" {
			dirname = "/"
		} else {
			dirname = "/" + dir + "/"
		}
		idx, ok := dirIndex[dirname]
		if !ok {
			idx = uint32(len(dirList))
			dirIndex[dirname] = idx
			dirList = append(dirList, dirname)
		}

		basenames = append(basenames, path.Base(p))
		dirIndexes = append(dirIndexes, idx)
		sizes = append(sizes, uint32(len(f.Content)))
		modes = append(modes, uint16(f.Mode))
		rdevs = append(rdevs, 0)
		mtimes = append(mtimes, now)

		switch {
		case f.IsSymlink:
			md5s = append(md5s, "")
			linktos = append(linktos, f.Target)
		case f.IsDir:
			md5s = append(md5s, "")
			linktos = append(linktos, "")
		default:
			sum := md5.Sum(f.Content)
			md5s = append(md5s, fmt.Sprintf("%x", sum))
			linktos = append(linktos, "")
			totalSize += uint32(len(f.Content))
		}

		flags = append(flags, 0)
		users = append(users, orDefault(f.User, "root"))
		groups = append(groups, orDefault(f.Group, "root"))
		devices = append(devices, 1)
		inodes = append(inodes, uint32(i+1))
		langs = append(langs, "")
		verifyflags = append(verifyflags, 0xFFFFFFFF)
	}

	hb.AddStringArray(TagDirNames, dirList)
	hb.AddStringArray(TagBasenames, basenames)
	hb.AddInt32(TagDirIndexes, dirIndexes)
	hb.AddInt32(TagFileSizes, sizes)
	hb.AddInt16(TagFileModes, modes)
	hb.AddInt16(TagFileRdevs, rdevs)
	hb.AddInt32(TagFileMtimes, mtimes)
	hb.AddStringArray(TagFileMD5s, md5s)
	hb.AddStringArray(TagFileLinkTos, linktos)
	hb.AddInt32(TagFileFlags, flags)
	hb.AddStringArray(TagFileUserName, users)
	hb.AddStringArray(TagFileGroupName, groups)
	hb.AddInt32(TagFileDevices, devices)
	hb.AddInt32(TagFileInodes, inodes)
	hb.AddStringArray(TagFileLangs, langs)
	hb.AddInt32(TagFileVerifyFlags, verifyflags)
	hb.AddInt32(TagSize, []uint32{totalSize})
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func (w *Writer) buildSignature(header, payload []byte) []byte {
	combined := concat(header, payload)
	sum := md5.Sum(combined)

	sb := &HeaderBuilder{}
	sb.AddInt32(SigTagSize, []uint32{uint32(len(combined))})
	sb.AddBin(SigTagMD5, sum[:])
	// PAYLOADSIZE is reported as the compressed size here, diverging from
	// the canonical uncompressed-size meaning; preserved for compatibility
	// with existing written files (spec §9 Open Questions).
	sb.AddInt32(SigTagPayloadSize, []uint32{uint32(len(payload))})

	sigBytes := sb.Build()
	if rem := len(sigBytes) % 8; rem != 0 {
		sigBytes = append(sigBytes, make([]byte, 8-rem)...)
	}
	return sigBytes
}

func (w *Writer) buildLead() []byte {
	lead := make([]byte, 0, leadSize)
	lead = append(lead, leadMagic[:]...)
	lead = append(lead, 3, 0) // major=3, minor=0
	lead = append(lead, 0, 0) // type=binary
	archNum := uint16(0)
	switch w.Arch {
	case "x86_64", "i386", "i686":
		archNum = 1
	}
	lead = append(lead, byte(archNum>>8), byte(archNum))

	nvr := fmt.Sprintf("%s-%s-%s", w.Name, w.Version, w.Release)
	nameBytes := []byte(nvr)
	if len(nameBytes) > 65 {
		nameBytes = nameBytes[:65]
	}
	padded := make([]byte, 66)
	copy(padded, nameBytes)
	lead = append(lead, padded...)

	lead = append(lead, 0, 1) // os=1 (Linux)
	lead = append(lead, 0, 5) // signature_type=5

	lead = append(lead, make([]byte, 16)...) // reserved
	return lead
}
