// Package udif parses the UDIF ("koly") format behind macOS .dmg disk
// images (spec §4.9): a trailing trailer block pointing at an XML plist of
// "blkx" partition descriptors, each resolving to a "mish" block map whose
// chunk descriptors are individually decompressed into a flat raw image
// buffer.
package udif

import (
	"bytes"
	"compress/bzip2"
	"io"
	"log"
	"strings"

	"github.com/pkgtree/pkgdiff/internal/binreader"
	"github.com/pkgtree/pkgdiff/internal/compressfmt"
	"github.com/pkgtree/pkgdiff/internal/containererr"
	"github.com/ulikunitz/xz/lzma"
)

const (
	kolyMagic    = 0x6B6F6C79
	mishMagic    = 0x6D697368
	trailerSize  = 512
	sectorSize   = 512
	chunkDescLen = 40
)

// Chunk types, spec §4.9 step 4.
const (
	chunkZero       = 0x00000000
	chunkRaw        = 0x00000001
	chunkIgnore     = 0x00000002
	chunkComment    = 0x7FFFFFFE
	chunkTerminator = 0xFFFFFFFF
	chunkZlib       = 0x80000005
	chunkBzip2      = 0x80000006
	chunkLZFSE      = 0x80000007
	chunkLZMA       = 0x80000008
	chunkADC        = 0x80000004
)

// blkxChunk mirrors spec §3's BlkxChunk model.
type blkxChunk struct {
	Type             uint32
	SectorNumber     uint64
	SectorCount      uint64
	CompressedOffset uint64
	CompressedLength uint64
}

// ReadImage decodes ra (total length size) into a flat raw HFS+ partition
// image, selecting the Apple_HFS/Apple_HFSX blkx entry (or, failing that,
// the entry with the largest sector count).
func ReadImage(ra io.ReaderAt, size int64, logger *log.Logger) ([]byte, error) {
	trailer := make([]byte, trailerSize)
	if _, err := ra.ReadAt(trailer, size-trailerSize); err != nil {
		return nil, containererr.Wrap(containererr.Truncated, "udif koly trailer", err)
	}
	tb := binreader.New(trailer)
	if tb.U32() != kolyMagic {
		return nil, containererr.New(containererr.BadMagic, "udif koly magic")
	}
	xmlOffset := int64(tb.AtU64(216))
	xmlLength := int64(tb.AtU64(224))

	plistBytes := make([]byte, xmlLength)
	if _, err := ra.ReadAt(plistBytes, xmlOffset); err != nil {
		return nil, containererr.Wrap(containererr.Truncated, "udif plist", err)
	}
	root, err := parsePlist(plistBytes)
	if err != nil {
		return nil, err
	}

	blkxVal, ok := dictGet(root, "resource-fork", "blkx")
	if !ok {
		return nil, containererr.New(containererr.MissingField, "udif: resource-fork.blkx")
	}
	entries, ok := blkxVal.([]Value)
	if !ok {
		return nil, containererr.New(containererr.MissingField, "udif: blkx is not an array")
	}

	_, mishData, err := selectHFSEntry(entries)
	if err != nil {
		return nil, err
	}

	chunks, dataOffset, maxSector, err := parseMish(mishData)
	if err != nil {
		return nil, err
	}

	image := make([]byte, maxSector*sectorSize)
	for _, c := range chunks {
		if err := applyChunk(ra, dataOffset, image, c, logger); err != nil {
			if logger != nil {
				logger.Printf("udif: skipping chunk type %#x: %v", c.Type, err)
			}
			continue
		}
	}
	return image, nil
}

// selectHFSEntry picks the blkx array entry matching Apple_HFS/Apple_HFSX by
// Name, falling back to the entry with the largest mish sector_count.
func selectHFSEntry(entries []Value) (map[string]Value, []byte, error) {
	var best map[string]Value
	var bestData []byte
	var bestSectors uint64

	for _, ev := range entries {
		m, ok := ev.(map[string]Value)
		if !ok {
			continue
		}
		name, _ := m["Name"].(string)
		data, ok := m["Data"].([]byte)
		if !ok || len(data) < 24 {
			continue
		}
		if strings.Contains(name, "Apple_HFS") {
			return m, data, nil
		}
		sectorCount := binreader.New(data).AtU64(16)
		if best == nil || sectorCount > bestSectors {
			best, bestData, bestSectors = m, data, sectorCount
		}
	}
	if best == nil {
		return nil, nil, containererr.New(containererr.MissingField, "udif: no usable blkx entry")
	}
	return best, bestData, nil
}

func parseMish(data []byte) ([]blkxChunk, int64, uint64, error) {
	if len(data) < 204 {
		return nil, 0, 0, containererr.New(containererr.Truncated, "udif mish block")
	}
	br := binreader.New(data)
	if br.U32() != mishMagic {
		return nil, 0, 0, containererr.New(containererr.BadMagic, "udif mish magic")
	}
	br.Skip(4) // version
	firstSector := br.AtU64(8)
	sectorCount := br.AtU64(16)
	dataOffset := int64(br.AtU64(24))
	numChunks := br.AtU32(200)

	var chunks []blkxChunk
	var maxSector uint64 = firstSector + sectorCount
	off := 204
	for i := uint32(0); i < numChunks; i++ {
		if off+chunkDescLen > len(data) {
			return nil, 0, 0, containererr.New(containererr.Truncated, "udif mish chunk descriptor")
		}
		cb := binreader.New(data[off : off+chunkDescLen])
		c := blkxChunk{
			Type: cb.U32(),
		}
		cb.Skip(4) // comment/reserved
		c.SectorNumber = cb.U64()
		c.SectorCount = cb.U64()
		c.CompressedOffset = cb.U64()
		c.CompressedLength = cb.U64()
		chunks = append(chunks, c)
		if end := c.SectorNumber + c.SectorCount; end > maxSector {
			maxSector = end
		}
		off += chunkDescLen
	}
	return chunks, dataOffset, maxSector, nil
}

// applyChunk decompresses one chunk (whose compressed bytes sit at
// heapBase+CompressedOffset within the source, heapBase being the mish
// block's data_offset) and copies it into the
// image buffer at SectorNumber*512.
func applyChunk(ra io.ReaderAt, heapBase int64, image []byte, c blkxChunk, logger *log.Logger) error {
	switch c.Type {
	case chunkZero, chunkIgnore, chunkComment, chunkTerminator:
		return nil
	case chunkADC:
		return containererr.New(containererr.Unsupported, "udif ADC chunk")
	case chunkLZFSE:
		return containererr.New(containererr.Unsupported, "udif LZFSE chunk (external codec required)")
	}

	raw := make([]byte, c.CompressedLength)
	if _, err := ra.ReadAt(raw, heapBase+int64(c.CompressedOffset)); err != nil {
		return containererr.Wrap(containererr.Truncated, "udif chunk payload", err)
	}

	var plain []byte
	var err error
	switch c.Type {
	case chunkRaw:
		plain = raw
	case chunkZlib:
		plain, err = compressfmt.DecompressAll(compressfmt.Zlib, bytes.NewReader(raw))
	case chunkBzip2:
		out, rerr := io.ReadAll(bzip2.NewReader(bytes.NewReader(raw)))
		plain, err = out, rerr
	case chunkLZMA:
		plain, err = decodeLZMAChunk(raw)
	default:
		return containererr.New(containererr.Unsupported, "udif unknown chunk type")
	}
	if err != nil {
		return containererr.Wrap(containererr.Decompression, "udif chunk", err)
	}

	dst := int64(c.SectorNumber) * sectorSize
	if dst+int64(len(plain)) > int64(len(image)) {
		plain = plain[:int64(len(image))-dst]
	}
	copy(image[dst:], plain)
	return nil
}

// decodeLZMAChunk decodes a UDIF "lzma" chunk, whose raw bytes are a
// headerless LZMA1 stream prefixed by the standard 5-byte properties+dict
// size fields but no trailing uncompressed-size field. We synthesize the
// classic .lzma 13-byte header (props[1] + dictsize[4] + size[8]=unknown)
// that github.com/ulikunitz/xz/lzma's Reader expects, reusing the chunk's
// own properties/dictsize bytes and an "unknown size" marker.
func decodeLZMAChunk(raw []byte) ([]byte, error) {
	if len(raw) < 5 {
		return nil, containererr.New(containererr.Truncated, "udif lzma chunk header")
	}
	header := make([]byte, 13)
	copy(header[0:5], raw[0:5])
	for i := 5; i < 13; i++ {
		header[i] = 0xFF // unknown uncompressed size marker
	}
	full := append(header, raw[5:]...)
	r, err := lzma.NewReader(bytes.NewReader(full))
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}
