package rpmfmt

import (
	"bytes"
	"io"
	"time"

	"github.com/pkgtree/pkgdiff/internal/binreader"
	"github.com/pkgtree/pkgdiff/internal/compressfmt"
	"github.com/pkgtree/pkgdiff/internal/containererr"
	"github.com/pkgtree/pkgdiff/internal/cpiofmt"
	"github.com/pkgtree/pkgdiff/internal/fileinfo"
)

var leadMagic = [4]byte{0xED, 0xAB, 0xEE, 0xDB}

const leadSize = 96

// Lead is the fixed 96-byte RPM prefix (spec §4.13 step 1).
type Lead struct {
	Major, Minor   uint8
	Type           uint16
	Arch           uint16
	Name           string
	OS             uint16
	SignatureType  uint16
}

// Open parses an entire RPM file already read into memory: Lead ->
// signature header -> main header -> compressed cpio payload (spec §4.13).
// It returns the parsed main header and a TreeReader over the decompressed
// payload entries. RPM packages are read in full rather than through an
// io.ReaderAt, unlike the disk-image-scale formats (xar, udif): the header
// codec itself (ParseHeader) must see the whole tag/type/offset/count index
// before it knows where the index ends, so there is no random-access win to
// be had here.
func Open(data []byte) (*Lead, *Header, fileinfo.TreeReader, error) {
	lead, err := parseLead(data)
	if err != nil {
		return nil, nil, nil, err
	}

	pos := leadSize
	sigHdr, sigConsumed, err := ParseHeader(data[pos:])
	if err != nil {
		return nil, nil, nil, containererr.Wrap(containererr.Truncated, "rpm signature header", err)
	}
	pos += sigConsumed
	if rem := pos % 8; rem != 0 {
		pos += 8 - rem
	}
	_ = sigHdr

	mainHdr, hdrConsumed, err := ParseHeader(data[pos:])
	if err != nil {
		return nil, nil, nil, containererr.Wrap(containererr.Truncated, "rpm main header", err)
	}
	pos += hdrConsumed

	if pos > len(data) {
		return nil, nil, nil, containererr.New(containererr.Truncated, "rpm payload")
	}
	compressed := data[pos:]

	codec := payloadCodec(mainHdr.String(TagPayloadCompressor))
	plain, err := compressfmt.DecompressAll(codec, bytes.NewReader(compressed))
	if err != nil {
		return nil, nil, nil, err
	}

	return lead, mainHdr, cpiofmt.New(bytes.NewReader(plain)), nil
}

func payloadCodec(name string) compressfmt.Codec {
	switch name {
	case "xz":
		return compressfmt.Xz
	case "bzip2":
		return compressfmt.Bzip2
	case "none", "":
		return compressfmt.None
	default: // "gzip" and anything unrecognized
		return compressfmt.Gzip
	}
}

// List is the streaming counterpart to Open (spec §5): a producer
// goroutine runs the payload decompressor and writes the plaintext cpio
// stream into an io.Pipe; the returned TreeReader is the consumer, reading
// cpio entries off the PipeReader in the caller's own goroutine. This is
// the single concurrency point in the whole module — every other reader is
// synchronous. Close on the returned reader closes the pipe and waits
// (briefly; the wait is advisory, not fatal, per spec §5) for the producer
// to finish.
func List(data []byte) (*Lead, *Header, fileinfo.TreeReader, error) {
	lead, err := parseLead(data)
	if err != nil {
		return nil, nil, nil, err
	}

	pos := leadSize
	_, sigConsumed, err := ParseHeader(data[pos:])
	if err != nil {
		return nil, nil, nil, containererr.Wrap(containererr.Truncated, "rpm signature header", err)
	}
	pos += sigConsumed
	if rem := pos % 8; rem != 0 {
		pos += 8 - rem
	}

	mainHdr, hdrConsumed, err := ParseHeader(data[pos:])
	if err != nil {
		return nil, nil, nil, containererr.Wrap(containererr.Truncated, "rpm main header", err)
	}
	pos += hdrConsumed

	if pos > len(data) {
		return nil, nil, nil, containererr.New(containererr.Truncated, "rpm payload")
	}
	compressed := data[pos:]
	codec := payloadCodec(mainHdr.String(TagPayloadCompressor))

	pr, pw := io.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		dr, err := compressfmt.NewReader(codec, bytes.NewReader(compressed))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(pw, dr); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.Close()
	}()

	return lead, mainHdr, &pipeTreeReader{TreeReader: cpiofmt.New(pr), pr: pr, done: done}, nil
}

// pipeTreeReader wraps a cpiofmt.Reader consuming the producer side of an
// io.Pipe, so Close can unblock a still-writing producer and wait
// (advisorily) for it to exit.
type pipeTreeReader struct {
	fileinfo.TreeReader
	pr   *io.PipeReader
	done chan struct{}
}

func (p *pipeTreeReader) Close() error {
	p.pr.CloseWithError(io.ErrClosedPipe)
	select {
	case <-p.done:
	case <-time.After(2 * time.Second):
		// advisory join timeout (spec §5): the producer may still be
		// unwinding, but the consumer does not block on it indefinitely.
	}
	return p.TreeReader.Close()
}

func parseLead(data []byte) (lead *Lead, err error) {
	defer func() {
		if p := recover(); p != nil {
			if te, ok := p.(*binreader.ErrTruncated); ok {
				err = containererr.Wrap(containererr.Truncated, "rpm lead", te)
				return
			}
			panic(p)
		}
	}()

	if len(data) < leadSize {
		return nil, containererr.New(containererr.Truncated, "rpm lead")
	}
	br := binreader.New(data[:leadSize])
	magic := br.Bytes(4)
	if magic[0] != leadMagic[0] || magic[1] != leadMagic[1] || magic[2] != leadMagic[2] || magic[3] != leadMagic[3] {
		return nil, containererr.New(containererr.BadMagic, "rpm lead magic")
	}
	l := &Lead{
		Major: br.U8(),
		Minor: br.U8(),
		Type:  br.U16(),
		Arch:  br.U16(),
	}
	l.Name = br.FixedASCII(66)
	l.OS = br.U16()
	l.SignatureType = br.U16()
	br.Skip(16) // reserved
	return l, nil
}
