// Package hfsplus walks an HFS+ catalog B-tree (spec §4.10): volume header
// -> catalog fork extents -> B-tree leaf enumeration -> CatalogEntry models,
// from which paths and file contents are reconstructed. The B-tree leaf-chain
// walk (forward-link traversal, record offsets growing backward from the
// node tail, a visited-node set guarding corrupt loops) generalizes the
// classic-HFS traversal in the teacher's internal/hfs/btree.go to HFS+'s
// wider CNIDs, extents, and UTF-16BE catalog names.
package hfsplus

import (
	"github.com/pkgtree/pkgdiff/internal/binreader"
	"github.com/pkgtree/pkgdiff/internal/containererr"
	"github.com/pkgtree/pkgdiff/internal/fileinfo"
)

const (
	rootFolderCNID  = 2
	rootParentCNID  = 1
	volumeHeaderOff = 1024
)

const (
	recordFolder       = 0x0001
	recordFile         = 0x0002
	recordFolderThread = 0x0003
	recordFileThread   = 0x0004
)

// Extent is a (start_block, block_count) span within a fork.
type Extent struct {
	StartBlock uint32
	BlockCount uint32
}

// CatalogEntry is the internal model spec §3 describes: owned exclusively
// by Reader, borrowed by BuildPath and ReadFile.
type CatalogEntry struct {
	CNID       uint32
	ParentCNID uint32
	Name       string
	IsDir      bool
	UID, GID   uint32
	Mode       uint32
	LogicalSize uint64
	Extents    [8]Extent
}

// Reader holds a parsed HFS+ catalog: the whole volume image, its block
// size, and every enumerated catalog entry keyed by CNID.
type Reader struct {
	image     []byte
	blockSize uint32
	entries   map[uint32]*CatalogEntry
	order     []uint32 // CNIDs in catalog B-tree emission order
}

// Open parses the HFS+ volume header and catalog B-tree out of a raw
// partition image (as produced by, e.g., package udif).
func Open(image []byte) (r *Reader, err error) {
	defer func() {
		if p := recover(); p != nil {
			if te, ok := p.(*binreader.ErrTruncated); ok {
				err = containererr.Wrap(containererr.Truncated, "hfs+ volume header", te)
				return
			}
			panic(p)
		}
	}()

	if len(image) < volumeHeaderOff+512 {
		return nil, containererr.New(containererr.Truncated, "hfs+ volume header")
	}
	vh := binreader.New(image[volumeHeaderOff:])
	sig := vh.FixedASCII(2)
	if sig != "H+" && sig != "HX" {
		return nil, containererr.New(containererr.BadMagic, "hfs+ volume header signature")
	}
	blockSize := vh.AtU32(40)

	logicalSize := vh.AtU64(272)
	extents := readExtents(vh, 272+16)

	catalogBytes, err := concatExtents(image, extents, blockSize, logicalSize)
	if err != nil {
		return nil, err
	}

	r = &Reader{image: image, blockSize: blockSize, entries: map[uint32]*CatalogEntry{}}
	if err := r.walkCatalog(catalogBytes); err != nil {
		return nil, err
	}
	return r, nil
}

func readExtents(br *binreader.R, absOff int) [8]Extent {
	var exts [8]Extent
	for i := 0; i < 8; i++ {
		off := absOff + i*8
		exts[i] = Extent{
			StartBlock: br.AtU32(off),
			BlockCount: br.AtU32(off + 4),
		}
	}
	return exts
}

func concatExtents(image []byte, extents [8]Extent, blockSize uint32, logicalSize uint64) ([]byte, error) {
	var out []byte
	for _, e := range extents {
		if e.BlockCount == 0 {
			continue
		}
		start := int64(e.StartBlock) * int64(blockSize)
		length := int64(e.BlockCount) * int64(blockSize)
		if start < 0 || start+length > int64(len(image)) {
			return nil, containererr.New(containererr.Truncated, "hfs+ catalog fork extent")
		}
		out = append(out, image[start:start+length]...)
	}
	if uint64(len(out)) < logicalSize {
		return nil, containererr.New(containererr.Truncated, "hfs+ catalog fork logical size")
	}
	return out[:logicalSize], nil
}

// walkCatalog traverses the B-tree leaf chain and populates r.entries.
func (r *Reader) walkCatalog(catalog []byte) (err error) {
	defer func() {
		if p := recover(); p != nil {
			if te, ok := p.(*binreader.ErrTruncated); ok {
				err = containererr.Wrap(containererr.Truncated, "hfs+ catalog b-tree", te)
				return
			}
			panic(p)
		}
	}()

	if len(catalog) < 512 {
		return containererr.New(containererr.Truncated, "hfs+ catalog b-tree header node")
	}
	header := binreader.New(catalog)
	firstLeaf := header.AtU32(24)
	nodeSize := int(header.AtU16(32))
	if nodeSize <= 0 {
		return containererr.New(containererr.BadMagic, "hfs+ catalog b-tree node size")
	}

	seen := map[uint32]bool{}
	idx := firstLeaf
	for {
		if idx == 0 || seen[idx] {
			break
		}
		seen[idx] = true

		nodeStart := int(idx) * nodeSize
		if nodeStart+nodeSize > len(catalog) {
			return containererr.New(containererr.Truncated, "hfs+ catalog b-tree leaf node")
		}
		node := catalog[nodeStart : nodeStart+nodeSize]

		kind := int8(node[8])
		numRecords := int(binreader.New(node).AtU16(10))
		nextIdx := binreader.New(node).AtU32(0)

		if kind == -1 { // leaf node
			r.parseLeafRecords(node, numRecords, nodeSize)
		}

		idx = nextIdx
	}
	return nil
}

func (r *Reader) parseLeafRecords(node []byte, numRecords, nodeSize int) {
	nb := binreader.New(node)
	for i := 0; i < numRecords; i++ {
		start := int(nb.AtU16(nodeSize - 2*(i+1)))
		end := int(nb.AtU16(nodeSize - 2*(i+2)))
		if start < 14 || start > end || end > nodeSize {
			continue // corrupt record: skip (containererr.Decoding policy skips the record only)
		}
		r.parseRecord(node[start:end])
	}
}

func (r *Reader) parseRecord(rec []byte) {
	if len(rec) < 8 {
		return
	}
	kb := binreader.New(rec)
	keyLength := int(kb.U16())
	if 2+keyLength > len(rec) {
		return
	}
	parentCNID := kb.AtU32(2)
	nameLength := int(kb.AtU16(6))
	nameBytes := 2 * nameLength
	if 8+nameBytes > len(rec) {
		return
	}
	name, err := binreader.New(rec[8 : 8+nameBytes]).UTF16BE(nameBytes)
	if err != nil {
		return // Decoding error: skip this record only
	}

	dataOff := 2 + keyLength
	if dataOff%2 != 0 {
		dataOff++
	}
	if dataOff+2 > len(rec) {
		return
	}
	data := rec[dataOff:]
	db := binreader.New(data)
	recordType := db.U16()

	switch recordType {
	case recordFolder:
		if len(data) < 48 {
			return
		}
		db := binreader.New(data)
		folderCNID := db.AtU32(8)
		uid := db.AtU32(32)
		gid := db.AtU32(36)
		mode := db.AtU16(42)
		r.entries[folderCNID] = &CatalogEntry{
			CNID: folderCNID, ParentCNID: parentCNID, Name: name,
			IsDir: true, UID: uid, GID: gid, Mode: uint32(mode),
		}
		r.order = append(r.order, folderCNID)
	case recordFile:
		if len(data) < 168 {
			return
		}
		db := binreader.New(data)
		fileCNID := db.AtU32(8)
		uid := db.AtU32(32)
		gid := db.AtU32(36)
		mode := db.AtU16(42)
		logicalSize := db.AtU64(88)
		extents := readExtents(db, 104)
		r.entries[fileCNID] = &CatalogEntry{
			CNID: fileCNID, ParentCNID: parentCNID, Name: name,
			IsDir: false, UID: uid, GID: gid, Mode: uint32(mode),
			LogicalSize: logicalSize, Extents: extents,
		}
		r.order = append(r.order, fileCNID)
	case recordFolderThread, recordFileThread:
		// Back-reference shortcuts; omitted per spec §9, paths are
		// reconstructed by walking parent_cnid instead.
	}
}

// BuildPath walks parent_cnid backward from cnid, collecting names until
// ROOT_FOLDER_CNID or ROOT_PARENT_CNID, joining with "/".
func (r *Reader) BuildPath(cnid uint32) (string, error) {
	var parts []string
	seen := map[uint32]bool{}
	cur := cnid
	for {
		if cur == rootFolderCNID || cur == rootParentCNID {
			break
		}
		if seen[cur] {
			return "", containererr.New(containererr.Decoding, "hfs+ parent_cnid cycle")
		}
		seen[cur] = true
		e, ok := r.entries[cur]
		if !ok {
			return "", containererr.New(containererr.MissingField, "hfs+ missing catalog entry in path chain")
		}
		parts = append([]string{e.Name}, parts...)
		cur = e.ParentCNID
	}
	return joinPath(parts), nil
}

func joinPath(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "/"
		}
		out += p
	}
	return out
}

// ReadFile concatenates an entry's data-fork extents and truncates to its
// logical size.
func (r *Reader) ReadFile(e *CatalogEntry) ([]byte, error) {
	var out []byte
	for _, ext := range e.Extents {
		if ext.BlockCount == 0 {
			continue
		}
		start := int64(ext.StartBlock) * int64(r.blockSize)
		length := int64(ext.BlockCount) * int64(r.blockSize)
		if start < 0 || start+length > int64(len(r.image)) {
			return nil, containererr.New(containererr.Truncated, "hfs+ file data fork extent")
		}
		out = append(out, r.image[start:start+length]...)
	}
	if uint64(len(out)) < e.LogicalSize {
		return nil, containererr.New(containererr.Truncated, "hfs+ file logical size")
	}
	return out[:e.LogicalSize], nil
}

// Entries returns every enumerated catalog entry in B-tree emission order,
// excluding the root folder itself (CNID 2, per spec §4.10).
func (r *Reader) Entries() []*CatalogEntry {
	out := make([]*CatalogEntry, 0, len(r.order))
	for _, cnid := range r.order {
		if cnid == rootFolderCNID {
			continue
		}
		out = append(out, r.entries[cnid])
	}
	return out
}

// ModeOrDefault applies spec §4.10's mode defaulting: entries with
// file_mode == 0 get S_IFDIR|0o755 or S_IFREG|0o644.
func ModeOrDefault(e *CatalogEntry) uint32 {
	if e.Mode != 0 {
		if e.IsDir {
			return e.Mode | fileinfo.SIFDIR
		}
		return e.Mode | fileinfo.SIFREG
	}
	if e.IsDir {
		return fileinfo.DefaultDirMode
	}
	return fileinfo.DefaultRegMode
}
