package fatfs

import (
	"encoding/binary"
	"strconv"
	"time"
)

// Boot sector / BIOS parameter block byte offsets for FAT12 and FAT16
// volumes. FAT32-only fields are deliberately absent.
const (
	bsJmpBoot      = 0  // x86 jump instruction, 3 bytes.
	bsOEMName      = 3  // OEM name, 8 bytes.
	bpbBytsPerSec  = 11 // Sector size in bytes, 2 bytes.
	bpbSecPerClus  = 13 // Sectors per cluster, 1 byte.
	bpbRsvdSecCnt  = 14 // Reserved sectors before the first FAT, 2 bytes.
	bpbNumFATs     = 16 // Number of FAT copies, 1 byte.
	bpbRootEntCnt  = 17 // Root directory entry count, 2 bytes.
	bpbTotSec16    = 19 // Total sectors if < 0x10000, else 0, 2 bytes.
	bpbMedia       = 21 // Media descriptor, 1 byte.
	bpbFATSz16     = 22 // Sectors per FAT, 2 bytes.
	bpbHiddSec     = 28 // Sectors preceding the volume, 4 bytes.
	bpbTotSec32    = 32 // Total sectors if >= 0x10000, 4 bytes.
	bsDrvNum       = 36 // BIOS drive number, 1 byte.
	bsBootSig      = 38 // Extended boot signature (0x29), 1 byte.
	bsVolID        = 39 // Volume serial number, 4 bytes.
	bsVolLab       = 43 // Volume label, 11 bytes.
	bsFilSysType   = 54 // Filesystem type string, 8 bytes.
	bs55AA         = 510
	bootSignature  = 0xAA55
	mediaFixedDisk = 0xF8
)

// biosParamBlock wraps one boot sector and exposes the BPB fields used by
// FAT12/16 volumes. It keeps a reference to the underlying byte slice.
type biosParamBlock struct {
	data []byte
}

// SectorSize returns the size of a sector in bytes.
func (bs *biosParamBlock) SectorSize() uint16 {
	return binary.LittleEndian.Uint16(bs.data[bpbBytsPerSec:])
}

// SetSectorSize sets the size of a sector in bytes.
func (bs *biosParamBlock) SetSectorSize(size uint16) {
	binary.LittleEndian.PutUint16(bs.data[bpbBytsPerSec:], size)
}

// SectorsPerCluster returns the number of sectors per cluster.
// Should be a power of 2 and not larger than 128.
func (bs *biosParamBlock) SectorsPerCluster() uint16 {
	return uint16(bs.data[bpbSecPerClus])
}

// SetSectorsPerCluster sets the number of sectors per cluster. Should be power of 2.
func (bs *biosParamBlock) SetSectorsPerCluster(spclus uint16) {
	bs.data[bpbSecPerClus] = byte(spclus)
}

// ReservedSectors returns the number of reserved sectors at the beginning
// of the volume, including the boot sector itself. Should be at least 1.
func (bs *biosParamBlock) ReservedSectors() uint16 {
	return binary.LittleEndian.Uint16(bs.data[bpbRsvdSecCnt:])
}

// SetReservedSectors sets the number of reserved sectors at the beginning of the volume.
func (bs *biosParamBlock) SetReservedSectors(rsvd uint16) {
	binary.LittleEndian.PutUint16(bs.data[bpbRsvdSecCnt:], rsvd)
}

// NumberOfFATs returns the number of File Allocation Tables. Should be 1 or 2.
func (bs *biosParamBlock) NumberOfFATs() uint8 {
	return bs.data[bpbNumFATs]
}

// SetNumberOfFATs sets the number of FATs.
func (bs *biosParamBlock) SetNumberOfFATs(nfats uint8) {
	bs.data[bpbNumFATs] = nfats
}

// RootDirEntries returns the number of 32-byte entries in the fixed root
// directory region. Should be divisible by SectorSize/32.
func (bs *biosParamBlock) RootDirEntries() uint16 {
	return binary.LittleEndian.Uint16(bs.data[bpbRootEntCnt:])
}

// SetRootDirEntries sets the number of entries in the fixed root directory region.
func (bs *biosParamBlock) SetRootDirEntries(entries uint16) {
	binary.LittleEndian.PutUint16(bs.data[bpbRootEntCnt:], entries)
}

// TotalSectors returns the total number of sectors in the volume that
// can be used by the filesystem.
func (bs *biosParamBlock) TotalSectors() uint32 {
	totsec := uint32(binary.LittleEndian.Uint16(bs.data[bpbTotSec16:]))
	if totsec == 0 {
		totsec = binary.LittleEndian.Uint32(bs.data[bpbTotSec32:])
	}
	return totsec
}

// SetTotalSectors sets the total number of sectors in the volume that can
// be used by the filesystem. The 16-bit field is used when the count fits,
// which is what FAT12/16 formatters are expected to do.
func (bs *biosParamBlock) SetTotalSectors(totsec uint32) {
	if totsec < 0x10000 {
		binary.LittleEndian.PutUint16(bs.data[bpbTotSec16:], uint16(totsec))
		binary.LittleEndian.PutUint32(bs.data[bpbTotSec32:], 0)
		return
	}
	binary.LittleEndian.PutUint16(bs.data[bpbTotSec16:], 0)
	binary.LittleEndian.PutUint32(bs.data[bpbTotSec32:], totsec)
}

// SectorsPerFAT returns the number of sectors per File Allocation Table.
func (bs *biosParamBlock) SectorsPerFAT() uint16 {
	return binary.LittleEndian.Uint16(bs.data[bpbFATSz16:])
}

// SetSectorsPerFAT sets the number of sectors per File Allocation Table.
func (bs *biosParamBlock) SetSectorsPerFAT(fatsz uint16) {
	binary.LittleEndian.PutUint16(bs.data[bpbFATSz16:], fatsz)
}

// Media returns the media descriptor byte, 0xF8 for fixed disks.
func (bs *biosParamBlock) Media() byte {
	return bs.data[bpbMedia]
}

// SetMedia sets the media descriptor byte.
func (bs *biosParamBlock) SetMedia(media byte) {
	bs.data[bpbMedia] = media
}

// VolumeOffset returns the number of sectors preceding this volume on the device.
func (bs *biosParamBlock) VolumeOffset() uint32 {
	return binary.LittleEndian.Uint32(bs.data[bpbHiddSec:])
}

// SetVolumeOffset sets the number of sectors preceding this volume on the device.
func (bs *biosParamBlock) SetVolumeOffset(off uint32) {
	binary.LittleEndian.PutUint32(bs.data[bpbHiddSec:], off)
}

// VolumeSerialNumber returns the volume serial number.
func (bs *biosParamBlock) VolumeSerialNumber() uint32 {
	return binary.LittleEndian.Uint32(bs.data[bsVolID:])
}

func (bs *biosParamBlock) SetVolumeSerialNumber(serial uint32) {
	bs.data[bsBootSig] = 0x29 // Serial, label and type fields are present.
	binary.LittleEndian.PutUint32(bs.data[bsVolID:], serial)
}

// VolumeLabel returns the volume label string.
func (bs *biosParamBlock) VolumeLabel() [11]byte {
	var label [11]byte
	copy(label[:], bs.data[bsVolLab:])
	return label
}

func (bs *biosParamBlock) SetVolumeLabel(label string) {
	n := copy(bs.data[bsVolLab:bsVolLab+11], label)
	for i := n; i < 11; i++ {
		bs.data[bsVolLab+i] = ' '
	}
}

// FilesystemType returns the filesystem type string, "FAT12   " or "FAT16   ".
// Informational only; the FAT type is determined by the cluster count.
func (bs *biosParamBlock) FilesystemType() [8]byte {
	var label [8]byte
	copy(label[:], bs.data[bsFilSysType:])
	return label
}

func (bs *biosParamBlock) SetFilesystemType(fstype string) {
	n := copy(bs.data[bsFilSysType:bsFilSysType+8], fstype)
	for i := n; i < 8; i++ {
		bs.data[bsFilSysType+i] = ' '
	}
}

// OEMName returns the Original Equipment Manufacturer name at the start of the bootsector.
func (bs *biosParamBlock) OEMName() [8]byte {
	var oemname [8]byte
	copy(oemname[:], bs.data[bsOEMName:])
	return oemname
}

// SetOEMName sets the Original Equipment Manufacturer name at the start of the bootsector.
// Will clip off any characters beyond the 8th.
func (bs *biosParamBlock) SetOEMName(name string) {
	n := copy(bs.data[bsOEMName:bsOEMName+8], name)
	for i := n; i < 8; i++ {
		bs.data[bsOEMName+i] = ' '
	}
}

// JumpInstruction returns the x86 jump instruction at the beginning of the boot sector.
func (bs *biosParamBlock) JumpInstruction() [3]byte {
	var jmpboot [3]byte
	copy(jmpboot[:], bs.data[0:])
	return jmpboot
}

func (bs *biosParamBlock) SetJumpInstruction(jmpboot [3]byte) {
	copy(bs.data[0:3], jmpboot[:])
}

// BootSignature returns the boot signature at offset 510 which should be 0xAA55.
func (bs *biosParamBlock) BootSignature() uint16 {
	return binary.LittleEndian.Uint16(bs.data[bs55AA:])
}

func (bs *biosParamBlock) SetBootSignature() {
	binary.LittleEndian.PutUint16(bs.data[bs55AA:], bootSignature)
}

func (bs *biosParamBlock) String() string {
	return string(bs.Appendf(nil, '\n'))
}

func (bs *biosParamBlock) Appendf(dst []byte, separator byte) []byte {
	appendData := func(name string, data []byte, sep byte) {
		dst = labelAppend(dst, name, data, sep)
	}
	appendInt := func(name string, data uint32, sep byte) {
		dst = labelAppendUint32(name, dst, data, sep)
	}
	oem := bs.OEMName()
	appendData("OEM", clipname(oem[:]), separator)
	fstype := bs.FilesystemType()
	appendData("FSType", clipname(fstype[:]), separator)
	volLabel := bs.VolumeLabel()
	appendData("VolumeLabel", clipname(volLabel[:]), separator)
	appendInt("VolumeSerialNumber", bs.VolumeSerialNumber(), separator)
	appendInt("VolumeOffset", bs.VolumeOffset(), separator)
	appendInt("SectorSize", uint32(bs.SectorSize()), separator)
	appendInt("SectorsPerCluster", uint32(bs.SectorsPerCluster()), separator)
	appendInt("ReservedSectors", uint32(bs.ReservedSectors()), separator)
	appendInt("NumberOfFATs", uint32(bs.NumberOfFATs()), separator)
	appendInt("RootDirEntries", uint32(bs.RootDirEntries()), separator)
	appendInt("TotalSectors", bs.TotalSectors(), separator)
	appendInt("SectorsPerFAT", uint32(bs.SectorsPerFAT()), separator)
	appendInt("Media", uint32(bs.Media()), separator)
	return dst
}

func labelAppend(dst []byte, label string, data []byte, sep byte) []byte {
	if len(data) == 0 {
		return dst
	}
	dst = append(dst, label...)
	dst = append(dst, ':')
	dst = append(dst, data...)
	dst = append(dst, sep)
	return dst
}

func labelAppendUint(label string, dst []byte, data uint64, sep byte) []byte {
	dst = append(dst, label...)
	dst = append(dst, ':')
	dst = strconv.AppendUint(dst, data, 10)
	dst = append(dst, sep)
	return dst
}

func labelAppendUint32(label string, dst []byte, data uint32, sep byte) []byte {
	return labelAppendUint(label, dst, uint64(data), sep)
}

// clipname trims trailing padding spaces from a fixed-size name field.
func clipname(name []byte) []byte {
	end := len(name)
	for end > 0 && name[end-1] == ' ' {
		end--
	}
	return name[:end]
}

// Directory record layout. Every record is 32 bytes.
const (
	sizeDirEntry = 32

	dirNameOff    = 0  // 8.3 name, 11 bytes.
	dirAttrOff    = 11 // Attribute bitmask, 1 byte.
	dirModTimeOff = 22 // Modification time, 2 bytes.
	dirModDateOff = 24 // Modification date, 2 bytes.
	dirClusterOff = 26 // Starting cluster, 2 bytes.
	dirSizeOff    = 28 // File size in bytes, 4 bytes.

	// First name byte sentinels.
	markEndOfDir = 0x00 // No record here nor in any later slot.
	markDeleted  = 0xE5 // Record deleted, slot reusable.
)

// Attr is the directory record attribute bitmask.
type Attr uint8

const (
	AttrReadonly Attr = 1 << 0
	AttrHidden   Attr = 1 << 1
	AttrSystem   Attr = 1 << 2
	AttrVolume   Attr = 1 << 3
	AttrSubdir   Attr = 1 << 4
	AttrArchive  Attr = 1 << 5
)

// IsVolumeLabel indicates an optional volume label record, normally only
// residing in a volume's root directory. Skipped during name lookups.
func (attr Attr) IsVolumeLabel() bool { return attr&AttrVolume != 0 }

// IsSubdir indicates that the cluster chain associated with this record is
// interpreted as a subdirectory instead of as a file.
func (attr Attr) IsSubdir() bool { return attr&AttrSubdir != 0 }

// datetime is the packed FAT modification timestamp.
type datetime struct {
	time uint16
	date uint16
}

func newDatetime(t time.Time) datetime {
	hour, min, sec := t.Clock()
	return datetime{
		time: uint16(hour<<11 | min<<5 | sec/2),
		date: uint16(t.Year()-1980)<<9 | uint16(t.Month())<<5 | uint16(t.Day()),
	}
}

func (dt datetime) Time() time.Time {
	// https://www.win.tue.nl/~aeb/linux/fs/fat/fat-1.html
	hour := int(dt.time >> 11)
	min := int((dt.time >> 5) & 0x3f)
	sec := 2 * int(dt.time&0x1f)
	yearSince1980 := int(dt.date >> 9)
	month := time.Month((dt.date >> 5) & 0xf)
	day := int(dt.date & 0x1f)
	return time.Date(1980+yearSince1980, month, day, hour, min, sec, 0, time.UTC)
}
