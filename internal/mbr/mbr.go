// Package mbr reads and writes the Master Boot Record partition table,
// enough of it to locate a FAT12/16 partition on a partitioned device and
// to build one in tests.
package mbr

import (
	"encoding/binary"
	"errors"
)

const (
	bootstrapLen     = 440
	uniqueDiskIDOff  = bootstrapLen
	uniqueDiskIDLen  = 4
	reservedLen      = 2
	pteOffset        = bootstrapLen + uniqueDiskIDLen + reservedLen
	pteLen           = 16
	bootSignatureOff = 510

	// BootSignature is the magic marking a valid boot sector.
	BootSignature = 0xAA55
	// NumPartitions is the number of primary partition table slots.
	NumPartitions = 4
)

// ToBootSector interprets a sector as an MBR boot sector, keeping a
// reference to the byte slice. The slice must be at least 512 bytes long.
func ToBootSector(sector []byte) (BootSector, error) {
	if len(sector) < 512 {
		return BootSector{}, errors.New("boot sector too short")
	}
	return BootSector{data: sector[:512:512]}, nil
}

// BootSector is a Master Boot Record: bootstrap code, four partition table
// entries and the boot signature.
type BootSector struct {
	data []byte
}

// BootSignature returns the signature word at offset 510.
func (bs *BootSector) BootSignature() uint16 {
	return binary.LittleEndian.Uint16(bs.data[bootSignatureOff:])
}

// SetBootSignature stamps the 0xAA55 signature.
func (bs *BootSector) SetBootSignature() {
	binary.LittleEndian.PutUint16(bs.data[bootSignatureOff:], BootSignature)
}

func (bs *BootSector) UniqueDiskID() uint32 {
	return binary.LittleEndian.Uint32(bs.data[uniqueDiskIDOff : uniqueDiskIDOff+uniqueDiskIDLen])
}

// Partition returns the idx'th partition table entry. idx must be in
// [0, NumPartitions).
func (bs *BootSector) Partition(idx int) PartitionTableEntry {
	if idx < 0 || idx >= NumPartitions {
		panic("invalid partition table index")
	}
	var pte PartitionTableEntry
	copy(pte.data[:], bs.data[pteOffset+idx*pteLen:])
	return pte
}

// SetPartition stores a partition table entry into the idx'th slot.
func (bs *BootSector) SetPartition(idx int, pte PartitionTableEntry) {
	if idx < 0 || idx >= NumPartitions {
		panic("invalid partition table index")
	}
	copy(bs.data[pteOffset+idx*pteLen:pteOffset+(idx+1)*pteLen], pte.data[:])
}

// PartitionTableEntry is one of the four primary partition slots. See
// https://en.wikipedia.org/wiki/Master_boot_record#PTE for the layout.
type PartitionTableEntry struct {
	data [pteLen]byte
}

// MakePTE builds a partition table entry addressing sectors
// [startLBA, startLBA+numLBA). The CHS fields are left zero; nothing
// modern reads them.
func MakePTE(typ PartitionType, startLBA, numLBA uint32) PartitionTableEntry {
	var pte PartitionTableEntry
	pte.data[4] = byte(typ)
	binary.LittleEndian.PutUint32(pte.data[8:12], startLBA)
	binary.LittleEndian.PutUint32(pte.data[12:16], numLBA)
	return pte
}

// Type returns the partition type byte.
func (pte *PartitionTableEntry) Type() PartitionType {
	return PartitionType(pte.data[4])
}

// IsFAT reports whether the type byte names a FAT12 or FAT16 partition.
func (pte *PartitionTableEntry) IsFAT() bool {
	switch pte.Type() {
	case PartitionTypeFAT12, PartitionTypeFAT16Small, PartitionTypeFAT16, PartitionTypeFAT16LBA:
		return true
	}
	return false
}

// StartLBA returns the first sector of the partition.
func (pte *PartitionTableEntry) StartLBA() uint32 {
	return binary.LittleEndian.Uint32(pte.data[8:12])
}

// NumberOfLBA returns the sector count of the partition.
func (pte *PartitionTableEntry) NumberOfLBA() uint32 {
	return binary.LittleEndian.Uint32(pte.data[12:16])
}

// PartitionType is the partition type byte of a partition table entry.
type PartitionType byte

const (
	PartitionTypeUnused     PartitionType = 0x00
	PartitionTypeFAT12      PartitionType = 0x01
	PartitionTypeFAT16Small PartitionType = 0x04 // FAT16 under 32 MiB.
	PartitionTypeFAT16      PartitionType = 0x06
	PartitionTypeFAT16LBA   PartitionType = 0x0E
)
