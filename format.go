package fatfs

import (
	"errors"
	"hash/fnv"
	"time"
)

// Format selects the FAT flavor a volume is formatted with.
type Format uint8

const (
	// FormatAuto picks FAT12 or FAT16 from the resulting cluster count.
	FormatAuto Format = iota
	FormatFAT12
	FormatFAT16
)

// FormatConfig tunes Formatter.Format. The zero value picks reasonable
// defaults for the volume size.
type FormatConfig struct {
	Label string
	// ClusterSize is the size of a cluster in blocks. Must be a power of
	// two; 0 selects a default from the volume size.
	ClusterSize int
	// RootDirEntries is the capacity of the fixed root directory region.
	// Must fill whole sectors; 0 means 512 entries.
	RootDirEntries int
	// NumberOfFATs is 1 or 2. 0 defaults to 2.
	NumberOfFATs uint8
	// Format selects the FAT flavor; FormatAuto derives it.
	Format Format
}

// Formatter writes blank FAT12/16 volumes: BPB, empty FATs and an empty
// root directory region.
type Formatter struct {
	window [sectorSize512]byte
	bd     BlockDevice
}

var (
	errFormatArgs     = errors.New("fatfs: invalid Format argument")
	errVolumeTooSmall = errors.New("fatfs: volume too small for format")
	errClusterCount   = errors.New("fatfs: cluster count out of range for requested FAT type")
)

// Format writes a blank FAT volume covering fsSizeInBlocks blocks of the
// device, starting at block 0 (superfloppy layout, no partition table).
func (f *Formatter) Format(bd BlockDevice, blocksize, fsSizeInBlocks int, cfg FormatConfig) error {
	if bd == nil || blocksize != sectorSize512 || fsSizeInBlocks < 64 {
		return errFormatArgs
	}
	if Mode(bd.Mode())&ModeWrite == 0 {
		return frWriteProtected
	}
	spc := cfg.ClusterSize
	if spc == 0 {
		// One-sector clusters keep small volumes FAT12; bigger media
		// gets the classic 2 KiB cluster.
		if fsSizeInBlocks < 1<<15 {
			spc = 1
		} else {
			spc = 4
		}
	}
	if spc&(spc-1) != 0 || spc > 128 {
		return errFormatArgs
	}
	nroot := cfg.RootDirEntries
	if nroot == 0 {
		nroot = 512
	}
	if nroot%(sectorSize512/sizeDirEntry) != 0 {
		return errFormatArgs
	}
	nfats := cfg.NumberOfFATs
	if nfats == 0 {
		nfats = 2
	}
	if nfats > 2 {
		return errFormatArgs
	}
	f.bd = bd

	const reserved = 1
	rootSecs := nroot * sizeDirEntry / sectorSize512
	total := fsSizeInBlocks

	// The FAT size depends on the cluster count, which depends on the FAT
	// size. Iterate to the fixed point; a couple of rounds settle it.
	fstype := cfg.Format
	fatsz := 1
	clusters := 0
	for i := 0; i < 16; i++ {
		sysect := reserved + int(nfats)*fatsz + rootSecs
		if total <= sysect+spc {
			return errVolumeTooSmall
		}
		clusters = (total - sysect) / spc
		if fstype == FormatAuto {
			if clusters >= clustMaxFAT12 {
				fstype = FormatFAT16
			} else {
				fstype = FormatFAT12
			}
		}
		var fatBytes int
		nent := clusters + 2
		if fstype == FormatFAT12 {
			fatBytes = nent*3/2 + nent&1
		} else {
			fatBytes = nent * 2
		}
		next := (fatBytes + sectorSize512 - 1) / sectorSize512
		if next == fatsz {
			break
		}
		fatsz = next
	}
	switch fstype {
	case FormatFAT12:
		if clusters >= clustMaxFAT12 {
			return errClusterCount
		}
	case FormatFAT16:
		if clusters < clustMaxFAT12 || clusters >= clustMaxFAT16 {
			return errClusterCount
		}
	}

	// System region: boot sector, FATs, root directory. Written as
	// explicit zero sectors; EraseSectors alone has no zeroing contract.
	sysect := reserved + int(nfats)*fatsz + rootSecs
	clear(f.window[:])
	for sec := 0; sec < sysect; sec++ {
		if err := bd.WriteBlocks(f.window[:], int64(sec)); err != nil {
			return err
		}
	}

	// Boot sector.
	bpb := biosParamBlock{data: f.window[:]}
	bpb.SetJumpInstruction([3]byte{0xEB, 0x3C, 0x90})
	bpb.SetOEMName("LIBFATFS")
	bpb.SetSectorSize(sectorSize512)
	bpb.SetSectorsPerCluster(uint16(spc))
	bpb.SetReservedSectors(reserved)
	bpb.SetNumberOfFATs(nfats)
	bpb.SetRootDirEntries(uint16(nroot))
	bpb.SetTotalSectors(uint32(total))
	bpb.SetMedia(mediaFixedDisk)
	bpb.SetSectorsPerFAT(uint16(fatsz))
	bpb.SetVolumeOffset(0)
	bpb.SetVolumeSerialNumber(volumeSerial(cfg.Label, total))
	bpb.SetVolumeLabel(cfg.Label)
	if fstype == FormatFAT12 {
		bpb.SetFilesystemType("FAT12")
	} else {
		bpb.SetFilesystemType("FAT16")
	}
	bpb.SetBootSignature()
	if err := bd.WriteBlocks(f.window[:], 0); err != nil {
		return err
	}

	// First FAT sector of each copy: entry 0 holds the media descriptor
	// extended with set bits, entry 1 the end-of-chain fill.
	clear(f.window[:])
	if fstype == FormatFAT12 {
		f.window[0] = mediaFixedDisk
		f.window[1] = 0xFF
		f.window[2] = 0xFF
	} else {
		f.window[0] = mediaFixedDisk
		f.window[1] = 0xFF
		f.window[2] = 0xFF
		f.window[3] = 0xFF
	}
	for i := 0; i < int(nfats); i++ {
		sec := reserved + i*fatsz
		if err := bd.WriteBlocks(f.window[:], int64(sec)); err != nil {
			return err
		}
	}

	if cfg.Label != "" {
		return f.writeLabelRecord(cfg.Label, reserved+int(nfats)*fatsz)
	}
	return nil
}

// writeLabelRecord places the volume label as the first root directory
// record, the way mkfs tools do.
func (f *Formatter) writeLabelRecord(label string, rootSector int) error {
	clear(f.window[:])
	de := DirEntry{Attr: AttrVolume}
	n := copy(de.Name[:], label)
	for i := n; i < len(de.Name); i++ {
		de.Name[i] = ' '
	}
	de.SetModTime(time.Now().UTC())
	de.encode(f.window[:sizeDirEntry])
	return f.bd.WriteBlocks(f.window[:], int64(rootSector))
}

func volumeSerial(label string, totalSectors int) uint32 {
	h := fnv.New32a()
	h.Write([]byte(label))
	var sz [4]byte
	sz[0] = byte(totalSectors)
	sz[1] = byte(totalSectors >> 8)
	sz[2] = byte(totalSectors >> 16)
	sz[3] = byte(totalSectors >> 24)
	h.Write(sz[:])
	return h.Sum32()
}
