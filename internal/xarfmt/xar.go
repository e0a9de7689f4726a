// Package xarfmt parses the XAR container format used by macOS .pkg
// installers (spec §4.8): a 28-byte big-endian header, a zlib-compressed TOC
// XML document describing a payload heap, and that heap's Payload member fed
// to cpiofmt as an SVR4 newc cpio stream.
package xarfmt

import (
	"bytes"
	"encoding/xml"
	"io"
	"strings"

	"github.com/pkgtree/pkgdiff/internal/binreader"
	"github.com/pkgtree/pkgdiff/internal/compressfmt"
	"github.com/pkgtree/pkgdiff/internal/containererr"
	"github.com/pkgtree/pkgdiff/internal/cpiofmt"
	"github.com/pkgtree/pkgdiff/internal/fileinfo"
)

const headerMagic = "xar!"

type tocXML struct {
	XMLName xml.Name `xml:"xar"`
	TOC     struct {
		Files []tocFile `xml:"file"`
	} `xml:"toc"`
}

type tocFile struct {
	Name string   `xml:"name"`
	Data *tocData `xml:"data"`
	// XAR files can nest a <file> for directories; findPayload searches
	// these nested entries as well as the top level for the Payload entry.
	Files []tocFile `xml:"file"`
}

type tocData struct {
	Offset   int64        `xml:"offset"`
	Length   int64        `xml:"length"`
	Size     int64        `xml:"size"`
	Encoding tocDataEncod `xml:"encoding"`
}

type tocDataEncod struct {
	Style string `xml:"style,attr"`
}

// Open parses the XAR header and TOC read from ra (total archive length
// size) and returns a TreeReader over the embedded Payload member's cpio
// contents.
func Open(ra io.ReaderAt, size int64) (fileinfo.TreeReader, error) {
	hdrBuf := make([]byte, 28)
	if _, err := ra.ReadAt(hdrBuf, 0); err != nil {
		return nil, containererr.Wrap(containererr.Truncated, "xar header", err)
	}
	br := binreader.New(hdrBuf)
	if br.FixedASCII(4) != headerMagic {
		return nil, containererr.New(containererr.BadMagic, "xar header magic")
	}
	headerSize := br.U16()
	br.Skip(2) // version
	tocCompressedLen := int64(br.U64())
	tocUncompressedLen := int64(br.U64())

	tocCompressed := make([]byte, tocCompressedLen)
	if _, err := ra.ReadAt(tocCompressed, int64(headerSize)); err != nil {
		return nil, containererr.Wrap(containererr.Truncated, "xar toc", err)
	}
	tocBytes, err := compressfmt.DecompressAll(compressfmt.Zlib, bytes.NewReader(tocCompressed))
	if err != nil {
		return nil, err
	}
	_ = tocUncompressedLen // available for validation; not required to match exactly

	var toc tocXML
	if err := xml.Unmarshal(tocBytes, &toc); err != nil {
		return nil, containererr.Wrap(containererr.Decoding, "xar toc xml", err)
	}

	payload := findPayload(toc.TOC.Files)
	if payload == nil || payload.Data == nil {
		return nil, containererr.New(containererr.MissingField, "xar toc: no Payload entry")
	}

	heapStart := int64(headerSize) + tocCompressedLen
	raw := make([]byte, payload.Data.Length)
	if _, err := ra.ReadAt(raw, heapStart+payload.Data.Offset); err != nil {
		return nil, containererr.Wrap(containererr.Truncated, "xar payload heap", err)
	}

	decoded, err := decodePayload(raw, payload.Data.Encoding.Style)
	if err != nil {
		return nil, err
	}

	return cpiofmt.New(bytes.NewReader(decoded)), nil
}

func findPayload(files []tocFile) *tocFile {
	for i := range files {
		if files[i].Name == "Payload" {
			return &files[i]
		}
		if found := findPayload(files[i].Files); found != nil {
			return found
		}
	}
	return nil
}

// decodePayload applies the decoding policy of spec §4.8: gzip and bzip2
// encodings are decompressed; octet-stream and unrecognized styles pass
// through raw.
func decodePayload(raw []byte, style string) ([]byte, error) {
	switch {
	case strings.Contains(style, "x-gzip"):
		return compressfmt.DecompressAll(compressfmt.Gzip, bytes.NewReader(raw))
	case strings.Contains(style, "x-bzip2"):
		return compressfmt.DecompressAll(compressfmt.Bzip2, bytes.NewReader(raw))
	default: // "application/octet-stream" or anything unrecognized: raw
		return raw, nil
	}
}
