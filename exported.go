package fatfs

import (
	"errors"
	"log/slog"
	"time"
)

// Mode represents the access mode a volume is mounted with.
type Mode uint8

const (
	ModeRead  Mode = 1 << iota
	ModeWrite
	ModeRW Mode = ModeRead | ModeWrite
)

var errInvalidMode = errors.New("fatfs: invalid mount mode")

// Mount attaches the FS to a block device and parses the volume geometry.
// blockSize is the device block size in bytes; only 512 is supported. The
// volume may start at sector 0 or inside the first FAT partition of an
// MBR-partitioned device. Mounting invalidates any previous mount state.
//
// The FS performs no internal locking: the caller must serialize every
// operation on a mount, including the gap between a lookup/scan and the
// write depending on it.
func (fsys *FS) Mount(bd BlockDevice, blockSize int, mode Mode) error {
	if mode == 0 || mode&^ModeRW != 0 {
		return errInvalidMode
	}
	fr := fsys.mount_volume(bd, uint16(blockSize), mode)
	if fr != frOK {
		return fr
	}
	return nil
}

// SetLogger directs the FS's diagnostic logging to log. A nil logger
// silences it. Call before Mount for mount diagnostics.
func (fsys *FS) SetLogger(log *slog.Logger) { fsys.log = log }

// Type returns "FAT12" or "FAT16" after a successful mount.
func (fsys *FS) Type() string { return fsys.fstype.String() }

// SectorSize returns the sector size in bytes.
func (fsys *FS) SectorSize() int { return int(fsys.ssize) }

// ClusterSize returns the cluster size in bytes.
func (fsys *FS) ClusterSize() int { return int(fsys.csize) }

// LastCluster returns one past the highest valid data cluster number.
func (fsys *FS) LastCluster() uint32 { return fsys.lastClust }

// RootEntryCount returns the capacity of the fixed root directory region
// in records. The root directory cannot grow beyond it.
func (fsys *FS) RootEntryCount() int { return int(fsys.nrootdir) }

// EndOfChain reports whether a cluster value read from the FAT terminates
// a chain. End of chain is a range of values, not one literal.
func (fsys *FS) EndOfChain(cl uint32) bool { return fsys.is_eof(cl) }

// RootDir returns a node handle for the root directory. The handle has no
// backing directory slot and cannot be passed to PutNode.
func (fsys *FS) RootDir() Node {
	np := Node{sector: noSector}
	for i := range np.Ent.Name {
		np.Ent.Name[i] = ' '
	}
	np.Ent.Attr = AttrSubdir
	np.Ent.Cluster = clRoot
	return np
}

// NextCluster reads the FAT entry for cl and returns the stored successor
// value: a free marker, a data cluster or an end-of-chain value.
func (fsys *FS) NextCluster(cl uint32) (uint32, error) {
	next, fr := fsys.next_cluster(cl)
	if fr != frOK {
		return 0, fr
	}
	return next, nil
}

// SetCluster stores next as the successor of cl, masked to the FAT width.
// The neighboring FAT12 entry sharing a byte with cl is preserved.
func (fsys *FS) SetCluster(cl, next uint32) error {
	if fr := fsys.set_cluster(cl, next); fr != frOK {
		return fr
	}
	return nil
}

// AllocCluster returns a free cluster found by a circular scan beginning
// after scanStart, or after the mount's allocation cursor when scanStart
// is zero. The cluster is not claimed: it stays free until the caller
// links it into a chain, and the scan-then-link sequence must be
// externally serialized against other writers.
func (fsys *FS) AllocCluster(scanStart uint32) (uint32, error) {
	cl, fr := fsys.alloc_cluster(scanStart)
	if fr != frOK {
		return 0, fr
	}
	return cl, nil
}

// FreeClusters releases the whole chain starting at start, including the
// terminal cluster.
func (fsys *FS) FreeClusters(start uint32) error {
	if fr := fsys.free_clusters(start); fr != frOK {
		return fr
	}
	return nil
}

// SeekCluster returns the cluster covering the given byte offset of the
// chain starting at start. A chain shorter than the offset is a disk
// consistency problem and reports an I/O error.
func (fsys *FS) SeekCluster(start, offset uint32) (uint32, error) {
	cl, fr := fsys.seek_cluster(start, offset)
	if fr != frOK {
		return 0, fr
	}
	return cl, nil
}

// ExpandFile grows the chain starting at cl until it covers size bytes and
// returns the chain's first cluster, allocating it when cl is zero (an
// empty file). On failure partway the clusters linked so far remain
// allocated; there is no rollback.
func (fsys *FS) ExpandFile(cl, size uint32) (uint32, error) {
	if fr := fsys.expand_file(&cl, size); fr != frOK {
		return cl, fr
	}
	return cl, nil
}

// ExpandDir appends one freshly allocated cluster to the directory chain
// containing cl and returns the new tail cluster. The root directory has
// no chain and must not be passed here.
func (fsys *FS) ExpandDir(cl uint32) (uint32, error) {
	newcl, fr := fsys.expand_dir(cl)
	if fr != frOK {
		return 0, fr
	}
	return newcl, nil
}

// LookupNode finds the record named name in the directory dir and returns
// a node holding a copy of the record and the address of its slot. A name
// that is absent, or a scan that hits the end-of-directory sentinel,
// reports IsNotExist.
func (fsys *FS) LookupNode(dir *Node, name string) (Node, error) {
	var np Node
	if fr := fsys.lookup_node(dir, name, &np); fr != frOK {
		return Node{}, fr
	}
	return np, nil
}

// GetNode returns the index-th valid record of the directory dir, skipping
// deleted and volume-label records. For the root directory, indices 0 and
// 1 are synthesized "." and ".." records without a backing slot and real
// records start at index 2.
func (fsys *FS) GetNode(dir *Node, index int) (Node, error) {
	var np Node
	if fr := fsys.get_node(dir, index, &np); fr != frOK {
		return Node{}, fr
	}
	return np, nil
}

// AddNode writes np's record into the first free slot of the directory
// dir and records the slot address in np. A full subdirectory is grown by
// one zero-filled cluster; a full root directory cannot grow and reports
// IsNotExist.
func (fsys *FS) AddNode(dir, np *Node) error {
	if fr := fsys.add_node(dir, np); fr != frOK {
		return fr
	}
	return nil
}

// PutNode rewrites np's record at the slot it was read from. Nodes without
// a backing slot (the synthesized root dot records) cannot be persisted.
func (fsys *FS) PutNode(np *Node) error {
	if fr := fsys.put_node(np); fr != frOK {
		return fr
	}
	return nil
}

// NewNode builds a node for a new directory record, normalizing name into
// its on-disk 8.3 form. The node has no backing slot until AddNode places
// it.
func NewNode(name string, attr Attr, cluster, size uint32, mod time.Time) (Node, error) {
	fatname, fr := normalizeName(name)
	if fr != frOK {
		return Node{}, fr
	}
	np := Node{sector: noSector}
	np.Ent = DirEntry{
		Name:    fatname,
		Attr:    attr,
		Cluster: cluster,
		Size:    size,
	}
	np.Ent.SetModTime(mod)
	return np, nil
}

// NameString returns the record's name in "BASE.EXT" display form.
func (de *DirEntry) NameString() string {
	base := clipname(de.Name[:8])
	ext := clipname(de.Name[8:11])
	if len(ext) == 0 {
		return string(base)
	}
	return string(base) + "." + string(ext)
}
