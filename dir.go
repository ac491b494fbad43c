package fatfs

import (
	"encoding/binary"
	"log/slog"
	"time"
)

// DirEntry is the in-memory form of one 32-byte on-disk directory record.
type DirEntry struct {
	Name    [11]byte // Normalized 8.3 name padded with spaces.
	Attr    Attr
	Time    uint16 // Packed modification time.
	Date    uint16 // Packed modification date.
	Cluster uint32 // Starting cluster; clRoot/0 for empty files.
	Size    uint32 // File size in bytes, consumed by the file I/O layer.
}

func decodeDirEntry(slot []byte) DirEntry {
	var de DirEntry
	copy(de.Name[:], slot[dirNameOff:dirNameOff+11])
	de.Attr = Attr(slot[dirAttrOff])
	de.Time = binary.LittleEndian.Uint16(slot[dirModTimeOff:])
	de.Date = binary.LittleEndian.Uint16(slot[dirModDateOff:])
	de.Cluster = uint32(binary.LittleEndian.Uint16(slot[dirClusterOff:]))
	de.Size = binary.LittleEndian.Uint32(slot[dirSizeOff:])
	return de
}

func (de *DirEntry) encode(slot []byte) {
	for i := dirAttrOff + 1; i < dirModTimeOff; i++ {
		slot[i] = 0
	}
	copy(slot[dirNameOff:], de.Name[:])
	slot[dirAttrOff] = byte(de.Attr)
	binary.LittleEndian.PutUint16(slot[dirModTimeOff:], de.Time)
	binary.LittleEndian.PutUint16(slot[dirModDateOff:], de.Date)
	binary.LittleEndian.PutUint16(slot[dirClusterOff:], uint16(de.Cluster))
	binary.LittleEndian.PutUint32(slot[dirSizeOff:], de.Size)
}

// ModTime returns the record's modification timestamp.
func (de *DirEntry) ModTime() time.Time {
	return datetime{time: de.Time, date: de.Date}.Time()
}

// SetModTime sets the record's packed modification timestamp.
func (de *DirEntry) SetModTime(t time.Time) {
	dt := newDatetime(t)
	de.Time = dt.time
	de.Date = dt.date
}

// noSector marks a node with no backing directory slot: the synthesized
// "." and ".." records of the root directory. Such nodes cannot be
// rewritten to disk.
const noSector = ^lba(0)

// Node couples a copy of one directory record with the on-disk address of
// the slot it was read from, so the record can be rewritten later. The
// address goes stale if another actor rewrites the directory; nothing
// guards against that here.
type Node struct {
	Ent    DirEntry
	sector lba
	offset uint16
}

// HasSlot reports whether the node is backed by an on-disk directory slot.
// Synthesized root "." and ".." records are not.
func (np *Node) HasSlot() bool { return np.sector != noSector }

// dirWalker yields the successive sectors of one directory. The two
// directory layouts, the fixed root region and a growable cluster chain,
// walk uniformly through it; callers never branch on the root sentinel
// themselves.
type dirWalker struct {
	fsys *FS
	root bool

	sec lba // Root: next sector to yield, up to database.

	clust uint32 // Chain: cluster being yielded.
	tail  uint32 // Chain: last real cluster seen, expansion point.
	nsec  uint16 // Chain: sectors already yielded from clust.
}

func (fsys *FS) dir_walker(cl uint32) dirWalker {
	if cl == clRoot {
		return dirWalker{fsys: fsys, root: true, sec: fsys.rootbase}
	}
	return dirWalker{fsys: fsys, clust: cl, tail: cl}
}

// next returns the next directory sector, with ok=false once the region or
// chain is exhausted.
func (w *dirWalker) next() (sec lba, ok bool, fr fileResult) {
	if w.root {
		if w.sec >= w.fsys.database {
			return 0, false, frOK
		}
		sec = w.sec
		w.sec++
		return sec, true, frOK
	}
	for {
		if w.fsys.is_eof(w.clust) {
			return 0, false, frOK
		}
		if w.nsec < w.fsys.secPerClus {
			base := w.fsys.clst2sect(w.clust)
			if base == 0 {
				return 0, false, frIntErr
			}
			w.tail = w.clust
			sec = base + lba(w.nsec)
			w.nsec++
			return sec, true, frOK
		}
		next, fr := w.fsys.next_cluster(w.clust)
		if fr != frOK {
			return 0, false, fr
		}
		w.clust = next
		w.nsec = 0
	}
}

// scanStatus is the outcome of scanning a single directory sector. The
// "keep going" case is a status, not an error: it must never leak out of
// the traversal loop that produced it.
type scanStatus uint8

const (
	scanFound    scanStatus = iota
	scanContinue            // Not in this sector, try the next one.
	scanEndOfDir            // Hit the end-of-directory sentinel; stop.
)

// read_dirent and write_dirent move one directory sector between the
// device and dirbuf.

func (fsys *FS) read_dirent(sec lba) fileResult {
	return fsys.read_sector(fsys.dirbuf[:], sec)
}

func (fsys *FS) write_dirent(sec lba) fileResult {
	return fsys.write_sector(fsys.dirbuf[:], sec)
}

// lookup_dirent scans one directory sector for a normalized name. Volume
// label records never match; deleted records are skipped but scanning
// continues past them.
func (fsys *FS) lookup_dirent(sec lba, name [11]byte, np *Node) (scanStatus, fileResult) {
	fr := fsys.read_dirent(sec)
	if fr != frOK {
		return scanContinue, fr
	}
	dirPerSec := int(fsys.ssize / sizeDirEntry)
	for i := 0; i < dirPerSec; i++ {
		slot := fsys.dirbuf[i*sizeDirEntry : (i+1)*sizeDirEntry]
		switch slot[dirNameOff] {
		case markEndOfDir:
			return scanEndOfDir, frOK
		case markDeleted:
			continue
		}
		de := decodeDirEntry(slot)
		if de.Attr.IsVolumeLabel() || !compareName(de.Name, name) {
			continue
		}
		np.Ent = de
		np.sector = sec
		np.offset = uint16(i * sizeDirEntry)
		fsys.debug("lookup_dirent:found", slog.Uint64("sector", uint64(sec)), slog.Int("slot", i))
		return scanFound, frOK
	}
	return scanContinue, frOK
}

// lookup_node finds the record for name in the directory dvp and fills np
// with a copy of it plus its slot address.
func (fsys *FS) lookup_node(dvp *Node, name string, np *Node) fileResult {
	fatname, fr := normalizeName(name)
	if fr != frOK {
		return fr
	}
	w := fsys.dir_walker(dvp.Ent.Cluster)
	for {
		sec, ok, fr := w.next()
		if fr != frOK {
			return fr
		}
		if !ok {
			return frNoFile
		}
		st, fr := fsys.lookup_dirent(sec, fatname, np)
		if fr != frOK {
			return fr
		}
		switch st {
		case scanFound:
			return frOK
		case scanEndOfDir:
			return frNoFile
		}
	}
}

// get_dirent scans one directory sector for the record whose running index
// of valid (non-deleted, non-volume-label) records equals target.
func (fsys *FS) get_dirent(sec lba, target int, index *int, np *Node) (scanStatus, fileResult) {
	fr := fsys.read_dirent(sec)
	if fr != frOK {
		return scanContinue, fr
	}
	dirPerSec := int(fsys.ssize / sizeDirEntry)
	for i := 0; i < dirPerSec; i++ {
		slot := fsys.dirbuf[i*sizeDirEntry : (i+1)*sizeDirEntry]
		if slot[dirNameOff] == markEndOfDir {
			return scanEndOfDir, frOK
		}
		if slot[dirNameOff] == markDeleted {
			continue
		}
		de := decodeDirEntry(slot)
		if de.Attr.IsVolumeLabel() {
			continue
		}
		if *index == target {
			np.Ent = de
			np.sector = sec
			np.offset = uint16(i * sizeDirEntry)
			return scanFound, frOK
		}
		(*index)++
	}
	return scanContinue, frOK
}

// get_node returns the index-th valid record of the directory dvp. The
// root directory synthesizes "." at index 0 and ".." at index 1; both
// carry the root's own cluster and no backing slot, and real root records
// start at index 2. Non-root directories store their dot records on disk
// like any other record, so indices start at 0.
func (fsys *FS) get_node(dvp *Node, index int, np *Node) fileResult {
	cl := dvp.Ent.Cluster
	target := index
	if cl == clRoot {
		if index == 0 || index == 1 {
			np.Ent = DirEntry{Attr: AttrSubdir, Cluster: cl}
			for i := range np.Ent.Name {
				np.Ent.Name[i] = ' '
			}
			np.Ent.Name[0] = '.'
			if index == 1 {
				np.Ent.Name[1] = '.'
			}
			// These records do not exist on disk.
			np.sector = noSector
			np.offset = 0
			return frOK
		}
		target = index - 2
	}

	cur := 0
	w := fsys.dir_walker(cl)
	for {
		sec, ok, fr := w.next()
		if fr != frOK {
			return fr
		}
		if !ok {
			return frNoFile
		}
		st, fr := fsys.get_dirent(sec, target, &cur, np)
		if fr != frOK {
			return fr
		}
		switch st {
		case scanFound:
			return frOK
		case scanEndOfDir:
			return frNoFile
		}
	}
}

// add_dirent scans one directory sector for the first deleted or empty
// slot and, on success, writes the record there and stores the sector back.
func (fsys *FS) add_dirent(sec lba, np *Node) (scanStatus, fileResult) {
	fr := fsys.read_dirent(sec)
	if fr != frOK {
		return scanContinue, fr
	}
	dirPerSec := int(fsys.ssize / sizeDirEntry)
	for i := 0; i < dirPerSec; i++ {
		slot := fsys.dirbuf[i*sizeDirEntry : (i+1)*sizeDirEntry]
		first := slot[dirNameOff]
		if first != markEndOfDir && first != markDeleted {
			continue
		}
		np.Ent.encode(slot)
		np.sector = sec
		np.offset = uint16(i * sizeDirEntry)
		fr = fsys.write_dirent(sec)
		if fr != frOK {
			return scanContinue, fr
		}
		fsys.debug("add_dirent", slog.Uint64("sector", uint64(sec)), slog.Int("slot", i))
		return scanFound, frOK
	}
	return scanContinue, frOK
}

// add_node inserts np's record into the first free slot of the directory
// dvp, growing a subdirectory by one zero-filled cluster when its chain is
// full. The fixed root region cannot grow: a full root reports not-found.
func (fsys *FS) add_node(dvp *Node, np *Node) fileResult {
	cl := dvp.Ent.Cluster
	w := fsys.dir_walker(cl)
	for {
		sec, ok, fr := w.next()
		if fr != frOK {
			return fr
		}
		if !ok {
			break
		}
		st, fr := fsys.add_dirent(sec, np)
		if fr != frOK {
			return fr
		}
		if st == scanFound {
			return frOK
		}
	}

	if cl == clRoot {
		return frNoFile
	}

	// No slot left: link one more cluster onto the directory.
	newcl, fr := fsys.expand_dir(w.tail)
	if fr != frOK {
		return fr
	}

	// Mark every slot of the new cluster empty before the retry so a
	// scan can never walk into stale data.
	for i := range fsys.dirbuf[:fsys.ssize] {
		fsys.dirbuf[i] = 0
	}
	sec := fsys.clst2sect(newcl)
	for i := uint16(0); i < fsys.secPerClus; i++ {
		fr = fsys.write_dirent(sec + lba(i))
		if fr != frOK {
			return fr
		}
	}

	// Retry against the first sector of the new cluster; it is all
	// empty slots now, so this succeeds.
	st, fr := fsys.add_dirent(sec, np)
	if fr != frOK {
		return fr
	}
	if st != scanFound {
		return frIntErr
	}
	return frOK
}

// put_node rewrites the directory record behind np at its recorded slot.
// Directory sectors all live at or above the root region; anything below
// (a zero-value node would address the boot sector) is rejected.
func (fsys *FS) put_node(np *Node) fileResult {
	if np.sector == noSector || np.sector < fsys.rootbase {
		return frInvalidParameter
	}
	fr := fsys.read_dirent(np.sector)
	if fr != frOK {
		return fr
	}
	np.Ent.encode(fsys.dirbuf[np.offset : np.offset+sizeDirEntry])
	return fsys.write_dirent(np.sector)
}
