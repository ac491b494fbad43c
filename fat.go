package fatfs

import (
	"encoding/binary"
	"log/slog"
)

// FAT entry codec and cluster allocator.
//
// The codec moves raw FAT sectors between the device and fatbuf; the
// allocator owns all bit-level interpretation of entries. A FAT16 entry is
// a little-endian 16-bit word at byte offset cl*2. A FAT12 entry occupies
// 12 bits at byte offset cl*3/2: two entries share three bytes, the even
// cluster in the low 12 bits of the pair, the odd cluster in the high 12.
// When the 12-bit entry's first byte is the last byte of a sector, its
// second byte lives in the following sector, so the codec reads and writes
// both sectors with the second one buffered right after the first.

// fat_entry_pos returns the FAT sector holding the entry for cl, the byte
// offset of the entry within that sector, and whether the entry straddles
// into the next sector (FAT12 only).
func (fsys *FS) fat_entry_pos(cl uint32) (sec lba, offset uint32, border bool) {
	var bo uint32
	if fsys.fstype == fstypeFAT16 {
		bo = cl * 2
	} else {
		bo = cl * 3 / 2
		border = fsys.modSS(bo) == uint32(fsys.ssize)-1
	}
	return fsys.fatbase + lba(fsys.divSS(bo)), fsys.modSS(bo), border
}

// read_fat_entry loads the FAT sector(s) covering cl into fatbuf.
func (fsys *FS) read_fat_entry(cl uint32) fileResult {
	sec, _, border := fsys.fat_entry_pos(cl)
	ss := uint32(fsys.ssize)

	fr := fsys.read_sector(fsys.fatbuf[:ss], sec)
	if fr != frOK {
		return fr
	}
	if !border {
		return frOK
	}
	// Border entry: the second half sits in the next sector.
	return fsys.read_sector(fsys.fatbuf[ss:2*ss], sec+1)
}

// write_fat_entry stores the FAT sector(s) covering cl from fatbuf. When
// the volume carries a second FAT the write is mirrored to it; a mirror
// failure is ignored, the copy is redundancy only.
func (fsys *FS) write_fat_entry(cl uint32) fileResult {
	sec, _, border := fsys.fat_entry_pos(cl)
	ss := uint32(fsys.ssize)

	fr := fsys.write_sector(fsys.fatbuf[:ss], sec)
	if fr != frOK {
		return fr
	}
	if fsys.nFATs == 2 {
		if mfr := fsys.write_sector(fsys.fatbuf[:ss], sec+lba(fsys.fsize)); mfr != frOK {
			fsys.warn("fat mirror write failed", slog.Uint64("sector", uint64(sec)))
		}
	}
	if !border {
		return frOK
	}
	fr = fsys.write_sector(fsys.fatbuf[ss:2*ss], sec+1)
	if fr != frOK {
		return fr
	}
	if fsys.nFATs == 2 {
		if mfr := fsys.write_sector(fsys.fatbuf[ss:2*ss], sec+1+lba(fsys.fsize)); mfr != frOK {
			fsys.warn("fat mirror write failed", slog.Uint64("sector", uint64(sec+1)))
		}
	}
	return frOK
}

// next_cluster returns the cluster number stored in the FAT entry for cl:
// the successor in the chain, which may be free, a data cluster or an
// end-of-chain value.
func (fsys *FS) next_cluster(cl uint32) (uint32, fileResult) {
	fr := fsys.read_fat_entry(cl)
	if fr != frOK {
		return 0, fr
	}
	_, offset, _ := fsys.fat_entry_pos(cl)
	val := binary.LittleEndian.Uint16(fsys.fatbuf[offset:])
	if fsys.fstype == fstypeFAT12 {
		if cl&1 != 0 {
			val >>= 4
		} else {
			val &= 0xFFF
		}
	}
	return uint32(val), frOK
}

// set_cluster stores next (masked to the FAT width) in the FAT entry for
// cl. For FAT12 the neighboring entry's nibble shares a byte with ours and
// is preserved, which is why the entry is read back first.
func (fsys *FS) set_cluster(cl, next uint32) fileResult {
	fr := fsys.read_fat_entry(cl)
	if fr != frOK {
		return fr
	}
	_, offset, _ := fsys.fat_entry_pos(cl)

	val := uint16(next & fsys.fatMask)
	if fsys.fstype == fstypeFAT12 {
		tmp := binary.LittleEndian.Uint16(fsys.fatbuf[offset:])
		if cl&1 != 0 {
			val = val<<4 | tmp&0xF
		} else {
			val |= tmp & 0xF000
		}
	}
	binary.LittleEndian.PutUint16(fsys.fatbuf[offset:], val)

	return fsys.write_fat_entry(cl)
}

// alloc_cluster finds a free cluster with a circular scan starting right
// after scanStart, or after the persisted cursor when scanStart is zero.
// The found cluster is not claimed: it stays free until the caller links
// it into a chain, so the scan-then-link sequence must be serialized
// externally.
func (fsys *FS) alloc_cluster(scanStart uint32) (uint32, fileResult) {
	if scanStart == 0 {
		scanStart = fsys.freeScan
	}
	cl := scanStart + 1
	if cl < clFirst || cl >= fsys.lastClust {
		cl = clFirst
	}
	// Probe every valid cluster once, wrapping past the end.
	for n := clFirst; n < fsys.lastClust; n++ {
		next, fr := fsys.next_cluster(cl)
		if fr != frOK {
			return 0, fr
		}
		if next == clFree {
			fsys.debug("alloc_cluster", slog.Uint64("cluster", uint64(cl)))
			fsys.freeScan = cl
			return cl, frOK
		}
		cl++
		if cl >= fsys.lastClust {
			cl = clFirst
		}
	}
	return 0, frNoSpace
}

// free_clusters walks the chain from start, releasing every cluster
// including the terminal one. The end-of-chain marker is a property of the
// previous link, so the walk reads each successor before clearing it and
// stops once an end-of-chain value has been cleared.
func (fsys *FS) free_clusters(start uint32) fileResult {
	cl := start
	if cl < clFirst {
		return frInvalidParameter
	}
	for !fsys.is_eof(cl) {
		next, fr := fsys.next_cluster(cl)
		if fr != frOK {
			return fr
		}
		fr = fsys.set_cluster(cl, clFree)
		if fr != frOK {
			return fr
		}
		cl = next
	}
	return frOK
}

// seek_cluster follows offset/clusterSize links from start and returns the
// cluster covering that byte offset. A chain that ends early is a disk
// consistency problem, reported as an I/O-class error.
func (fsys *FS) seek_cluster(start, offset uint32) (uint32, fileResult) {
	if start > fsys.lastClust {
		return 0, frDiskErr
	}
	cl := start
	target := offset / fsys.csize
	for i := uint32(0); i < target; i++ {
		next, fr := fsys.next_cluster(cl)
		if fr != frOK {
			return 0, fr
		}
		if fsys.is_eof(next) {
			return 0, frDiskErr
		}
		cl = next
	}
	return cl, frOK
}

// expand_file grows the chain starting at *cl to cover size bytes,
// allocating the first cluster when the file was empty. Once one cluster
// has been allocated every following step allocates too: a chain that
// needed lengthening is assumed too short for its entire remaining length
// and already-linked successors past the growth point are not re-checked.
// The last cluster touched gets the end-of-chain marker. There is no
// rollback: a failure partway leaves the clusters linked so far allocated.
func (fsys *FS) expand_file(cl *uint32, size uint32) fileResult {
	clLen := (size + fsys.csize - 1) / fsys.csize

	alloc := false
	if *cl == clFree {
		first, fr := fsys.alloc_cluster(0)
		if fr != frOK {
			return fr
		}
		*cl = first
		alloc = true
	}
	current := *cl

	for i := uint32(1); i < clLen; i++ {
		next, fr := fsys.next_cluster(current)
		if fr != frOK {
			return fr
		}
		if alloc || next == clFree || fsys.is_eof(next) {
			// Scan from the current cluster for locality.
			next, fr = fsys.alloc_cluster(current)
			if fr != frOK {
				return fr
			}
			alloc = true
		}
		if alloc {
			fr = fsys.set_cluster(current, next)
			if fr != frOK {
				return fr
			}
		}
		current = next
	}
	if alloc {
		fr := fsys.set_cluster(current, fsys.fatEOF)
		if fr != frOK {
			return fr
		}
	}
	fsys.debug("expand_file",
		slog.Uint64("start", uint64(*cl)), slog.Uint64("size", uint64(size)))
	return frOK
}

// expand_dir appends one freshly allocated cluster to the directory chain
// containing cl and returns it. The new tail carries the end-of-chain
// marker. The root directory has no chain and must never be passed here;
// the directory store enforces that.
func (fsys *FS) expand_dir(cl uint32) (uint32, fileResult) {
	// Find the last cluster of the chain.
	for {
		next, fr := fsys.next_cluster(cl)
		if fr != frOK {
			return 0, fr
		}
		if fsys.is_eof(next) {
			break
		}
		cl = next
	}

	newcl, fr := fsys.alloc_cluster(cl)
	if fr != frOK {
		return 0, fr
	}
	fr = fsys.set_cluster(cl, newcl)
	if fr != frOK {
		return 0, fr
	}
	fr = fsys.set_cluster(newcl, fsys.fatEOF)
	if fr != frOK {
		return 0, fr
	}
	fsys.debug("expand_dir",
		slog.Uint64("dir", uint64(cl)), slog.Uint64("new", uint64(newcl)))
	return newcl, frOK
}
