// Package fatfs implements the allocation and directory-management core of
// a FAT12/FAT16 driver: the File Allocation Table codec and cluster
// allocator, and the fixed-record directory store layered on top of it.
// Path resolution, file content buffering and caching belong to the layer
// above; this package talks straight to a block device.
package fatfs

import (
	"context"
	"errors"
	"log/slog"
	"math/bits"

	"github.com/mschlumpp/lib-fatfs/internal/mbr"
)

// BlockDevice is the synchronous sector I/O collaborator. Reads and writes
// transfer whole blocks only; a partial transfer must be reported as an
// error by the implementation.
type BlockDevice interface {
	ReadBlocks(dst []byte, startBlock int64) error
	WriteBlocks(data []byte, startBlock int64) error
	EraseSectors(startBlock, numBlocks int64) error
	// Mode returns 0 for no connection/prohibited access, 1 for read-only, 3 for read-write.
	Mode() uint8
}

// sector index type.
type lba uint32

// sectorSize512 is the only supported sector size. FAT12/16 media is
// specified around 512-byte sectors and the scratch buffers are sized to it.
const sectorSize512 = 512

type fstype byte

const (
	fstypeUnknown fstype = iota
	fstypeFAT12
	fstypeFAT16
)

func (ft fstype) String() string {
	switch ft {
	case fstypeFAT12:
		return "FAT12"
	case fstypeFAT16:
		return "FAT16"
	}
	return "unknown"
}

// Cluster number space. Clusters 0 and 1 are never allocated; directory
// records use cluster 0 both for "no data" and to address the root
// directory, which lives in its own fixed sector range outside the
// cluster-chain region.
const (
	clFree  uint32 = 0
	clRoot  uint32 = 0
	clFirst uint32 = 2
)

// FAT type boundaries by data-cluster count, from the FAT specification.
const (
	clustMaxFAT12 = 4085
	clustMaxFAT16 = 65525
)

// FS holds the per-mount volume geometry, the allocation cursor and the
// scratch sector buffers shared by all FAT and directory operations on the
// mount. The geometry is immutable after Mount. The cursor and buffers are
// not protected by any lock: the caller must serialize every multi-step
// FAT or directory sequence on a mount (single-writer assumption).
type FS struct {
	fstype fstype
	nFATs  uint8
	mode   Mode

	blk        blkIdxer
	ssize      uint16 // Sector size in bytes.
	secPerClus uint16
	csize      uint32 // Cluster size in bytes.
	nrootdir   uint16 // Number of root directory records.

	volbase  lba    // Volume base sector on the device.
	fatbase  lba    // First sector of the first FAT.
	fsize    uint16 // Sectors per FAT.
	rootbase lba    // First sector of the fixed root directory region.
	database lba    // First sector of the cluster-chain data region.

	lastClust uint32 // One past the last valid data cluster (cluster count + 2).
	fatEOF    uint32 // End-of-chain threshold; any value >= this terminates a chain.
	fatMask   uint32 // 0xFFF or 0xFFFF, applied to stored cluster values.

	freeScan uint32 // Last cluster examined by allocation. Shared mutable state.

	device BlockDevice
	log    *slog.Logger

	// Scratch buffers, overwritten by every call that touches them.
	// fatbuf holds up to two sectors so a FAT12 entry straddling a
	// sector boundary stays contiguous; dirbuf holds one directory sector.
	fatbuf [2 * sectorSize512]byte
	dirbuf [sectorSize512]byte
}

// mount_volume attaches the FS to a block device and parses the volume
// geometry. Invalidates any previous mount.
func (fsys *FS) mount_volume(bd BlockDevice, ssize uint16, mode Mode) fileResult {
	fsys.fstype = fstypeUnknown
	devMode := bd.Mode()
	if devMode == 0 {
		return frNotReady
	} else if uint8(mode)&devMode != uint8(mode) {
		return frDenied
	}
	if ssize != sectorSize512 {
		return frInvalidParameter
	}
	blk, err := makeBlockIndexer(int(ssize))
	if err != nil {
		return frInvalidParameter
	}
	fsys.blk = blk
	fsys.ssize = ssize
	fsys.device = bd
	fsys.mode = mode

	base, fr := fsys.find_volume()
	if fr != frOK {
		return fr
	}
	fsys.volbase = base
	return fsys.init_fat()
}

// find_volume locates the FAT boot sector: either the device starts with
// one (superfloppy layout) or sector 0 is an MBR whose partition table
// points at a FAT partition. The boot sector is left in dirbuf.
func (fsys *FS) find_volume() (lba, fileResult) {
	fr := fsys.read_sector(fsys.dirbuf[:], 0)
	if fr != frOK {
		return 0, fr
	}
	if looksLikeFATBoot(fsys.dirbuf[:]) {
		return 0, frOK
	}
	bsect, err := mbr.ToBootSector(fsys.dirbuf[:])
	if err != nil || bsect.BootSignature() != mbr.BootSignature {
		return 0, frNoFilesystem
	}
	for i := 0; i < mbr.NumPartitions; i++ {
		pte := bsect.Partition(i)
		if !pte.IsFAT() || pte.StartLBA() == 0 {
			continue
		}
		start := lba(pte.StartLBA())
		fr = fsys.read_sector(fsys.dirbuf[:], start)
		if fr != frOK {
			return 0, fr
		}
		if looksLikeFATBoot(fsys.dirbuf[:]) {
			fsys.debug("find_volume:partition",
				slog.Int("index", i), slog.Uint64("start", uint64(start)))
			return start, frOK
		}
	}
	return 0, frNoFilesystem
}

// looksLikeFATBoot reports whether a sector carries the boot signature and
// an x86 jump instruction, the minimal marks of a FAT VBR.
func looksLikeFATBoot(sec []byte) bool {
	bpb := biosParamBlock{data: sec}
	if bpb.BootSignature() != bootSignature {
		return false
	}
	b := sec[bsJmpBoot]
	return b == 0xEB || b == 0xE9 || b == 0xE8
}

// init_fat parses the BPB sitting in dirbuf and derives the mount geometry.
func (fsys *FS) init_fat() fileResult {
	bpb := biosParamBlock{data: fsys.dirbuf[:]}
	ss := fsys.ssize
	if bpb.SectorSize() != ss {
		return frNoFilesystem
	}

	fatsize := bpb.SectorsPerFAT()
	if fatsize == 0 {
		// A zero 16-bit FAT size means FAT32.
		return frUnsupported
	}
	fsys.fsize = fatsize

	fsys.nFATs = bpb.NumberOfFATs()
	if fsys.nFATs != 1 && fsys.nFATs != 2 {
		return frNoFilesystem
	}

	fsys.secPerClus = bpb.SectorsPerCluster()
	if fsys.secPerClus == 0 || fsys.secPerClus&(fsys.secPerClus-1) != 0 {
		// Zero or not power of two.
		return frNoFilesystem
	}
	fsys.csize = uint32(fsys.secPerClus) * uint32(ss)

	fsys.nrootdir = bpb.RootDirEntries()
	if fsys.nrootdir == 0 || fsys.nrootdir%(ss/sizeDirEntry) != 0 {
		// Missing or not sector aligned.
		return frNoFilesystem
	}

	totalSectors := bpb.TotalSectors()
	totalReserved := bpb.ReservedSectors()
	if totalReserved == 0 {
		return frNoFilesystem
	}

	// Reserved region + FATs + fixed root directory region.
	rootSectors := uint32(fsys.nrootdir) / (uint32(ss) / sizeDirEntry)
	sysect := uint32(totalReserved) + uint32(fsys.nFATs)*uint32(fatsize) + rootSectors
	if totalSectors < sysect {
		return frNoFilesystem
	}
	totalClusters := (totalSectors - sysect) / uint32(fsys.secPerClus)
	if totalClusters == 0 {
		return frNoFilesystem
	}

	switch {
	case totalClusters >= clustMaxFAT16:
		return frUnsupported // FAT32-sized volume.
	case totalClusters >= clustMaxFAT12:
		fsys.fstype = fstypeFAT16
		fsys.fatMask = 0xFFFF
		fsys.fatEOF = 0xFFF8
	default:
		fsys.fstype = fstypeFAT12
		fsys.fatMask = 0xFFF
		fsys.fatEOF = 0xFF8
	}

	fsys.lastClust = totalClusters + 2
	var sizebFAT uint32
	if fsys.fstype == fstypeFAT12 {
		sizebFAT = fsys.lastClust*3/2 + fsys.lastClust&1
	} else {
		sizebFAT = fsys.lastClust * 2
	}
	if uint32(fatsize) < (sizebFAT+uint32(ss)-1)/uint32(ss) {
		fsys.fstype = fstypeUnknown
		return frNoFilesystem // FAT region too small for the cluster count.
	}

	fsys.fatbase = fsys.volbase + lba(totalReserved)
	fsys.rootbase = fsys.fatbase + lba(fsys.nFATs)*lba(fatsize)
	fsys.database = fsys.rootbase + lba(rootSectors)
	// The scan probes the cluster after the cursor first, so a fresh
	// mount starts handing out clusters from clFirst.
	fsys.freeScan = clFirst - 1

	fsys.info("mount",
		slog.String("fstype", fsys.fstype.String()),
		slog.Uint64("clusters", uint64(totalClusters)),
		slog.Uint64("fatbase", uint64(fsys.fatbase)),
		slog.Uint64("rootbase", uint64(fsys.rootbase)),
		slog.Uint64("database", uint64(fsys.database)))
	return frOK
}

// is_eof reports whether a stored cluster value terminates a chain. End of
// chain is a range of values, not a single literal.
func (fsys *FS) is_eof(cl uint32) bool {
	return cl >= fsys.fatEOF
}

// clst2sect returns the first sector of a cluster, or 0 if the cluster
// number does not address a valid data cluster.
func (fsys *FS) clst2sect(clst uint32) lba {
	clst -= 2
	if clst >= fsys.lastClust-2 {
		return 0
	}
	return fsys.database + lba(fsys.secPerClus)*lba(clst)
}

// read_sector and write_sector are the sole paths to the device. Device
// failures are reported as frDiskErr and logged with the underlying error;
// nothing below this layer retries.

func (fsys *FS) read_sector(buf []byte, sec lba) fileResult {
	if err := fsys.device.ReadBlocks(buf[:fsys.blk.size()], int64(sec)); err != nil {
		fsys.logerror("read_sector", slog.Uint64("sector", uint64(sec)), slog.Any("err", err))
		return frDiskErr
	}
	return frOK
}

func (fsys *FS) write_sector(buf []byte, sec lba) fileResult {
	if fsys.mode&ModeWrite == 0 {
		return frWriteProtected
	}
	if err := fsys.device.WriteBlocks(buf[:fsys.blk.size()], int64(sec)); err != nil {
		fsys.logerror("write_sector", slog.Uint64("sector", uint64(sec)), slog.Any("err", err))
		return frDiskErr
	}
	return frOK
}

// Sector size divide and modulus.

func (fsys *FS) divSS(n uint32) uint32 { return uint32(fsys.blk.idx(int64(n))) }
func (fsys *FS) modSS(n uint32) uint32 { return uint32(fsys.blk.off(int64(n))) }

func (fsys *FS) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if fsys.log == nil {
		return
	}
	fsys.log.LogAttrs(context.Background(), level, msg, attrs...)
}

func (fsys *FS) debug(msg string, attrs ...slog.Attr) {
	fsys.logattrs(slog.LevelDebug, msg, attrs...)
}
func (fsys *FS) info(msg string, attrs ...slog.Attr) {
	fsys.logattrs(slog.LevelInfo, msg, attrs...)
}
func (fsys *FS) warn(msg string, attrs ...slog.Attr) {
	fsys.logattrs(slog.LevelWarn, msg, attrs...)
}
func (fsys *FS) logerror(msg string, attrs ...slog.Attr) {
	fsys.logattrs(slog.LevelError, msg, attrs...)
}

// blkIdxer is a helper for calculating block indexes and offsets.
type blkIdxer struct {
	blockshift int64
	blockmask  int64
}

func makeBlockIndexer(blockSize int) (blkIdxer, error) {
	if blockSize <= 0 {
		return blkIdxer{}, errors.New("blockSize must be positive and non-zero")
	}
	tz := bits.TrailingZeros(uint(blockSize))
	if blockSize>>tz != 1 {
		return blkIdxer{}, errors.New("blockSize must be a power of 2")
	}
	blk := blkIdxer{
		blockshift: int64(tz),
		blockmask:  (1 << tz) - 1,
	}
	return blk, nil
}

// size returns the size of a block in bytes.
func (blk *blkIdxer) size() int64 {
	return 1 << blk.blockshift
}

// off gets the offset of the byte at byteIdx from the start of its block.
//
//go:inline
func (blk *blkIdxer) off(byteIdx int64) int64 {
	return byteIdx & blk.blockmask
}

// idx gets the block index that contains the byte at byteIdx.
//
//go:inline
func (blk *blkIdxer) idx(byteIdx int64) int64 {
	return byteIdx >> blk.blockshift
}
