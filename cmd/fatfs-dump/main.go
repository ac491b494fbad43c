// Command fatfs-dump inspects FAT12/16 volume images: geometry, directory
// listings and cluster chains. It can also create a blank formatted image.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/mschlumpp/lib-fatfs"
	"github.com/mschlumpp/lib-fatfs/internal/mbr"
)

func main() {
	var (
		imgPath = pflag.StringP("image", "i", "", "volume image file")
		dirPath = pflag.StringP("dir", "d", "/", "directory to list, slash separated")
		chain   = pflag.Uint32P("chain", "c", 0, "dump the cluster chain starting at this cluster")
		verbose = pflag.BoolP("verbose", "v", false, "enable debug logging")

		mkfs   = pflag.Bool("mkfs", false, "format the image instead of inspecting it")
		sizeMB = pflag.Int("size-mb", 8, "image size in MiB when formatting")
		label  = pflag.String("label", "", "volume label when formatting")
		fatsel = pflag.String("fat", "auto", "FAT flavor when formatting: 12, 16 or auto")
	)
	pflag.Parse()

	if *imgPath == "" {
		fmt.Fprintln(os.Stderr, "fatfs-dump: --image is required")
		pflag.Usage()
		os.Exit(2)
	}
	if err := run(*imgPath, *dirPath, *chain, *verbose, *mkfs, *sizeMB, *label, *fatsel); err != nil {
		fmt.Fprintln(os.Stderr, "fatfs-dump:", err)
		os.Exit(1)
	}
}

func run(imgPath, dirPath string, chain uint32, verbose, mkfs bool, sizeMB int, label, fatsel string) error {
	if mkfs {
		return formatImage(imgPath, sizeMB, label, fatsel)
	}

	f, err := os.Open(imgPath)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := printPartitions(f); err != nil {
		return err
	}
	dev := &fileDevice{f: f}

	var fsys fatfs.FS
	if verbose {
		fsys.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}
	if err := fsys.Mount(dev, 512, fatfs.ModeRead); err != nil {
		return err
	}

	fmt.Printf("type=%s sector=%d cluster=%d rootentries=%d lastcluster=%d\n",
		fsys.Type(), fsys.SectorSize(), fsys.ClusterSize(),
		fsys.RootEntryCount(), fsys.LastCluster())

	if chain != 0 {
		return dumpChain(&fsys, chain)
	}
	return listDir(&fsys, dirPath)
}

func formatImage(imgPath string, sizeMB int, label, fatsel string) error {
	cfg := fatfs.FormatConfig{Label: label}
	switch fatsel {
	case "12":
		cfg.Format = fatfs.FormatFAT12
	case "16":
		cfg.Format = fatfs.FormatFAT16
	case "auto":
	default:
		return fmt.Errorf("unknown --fat value %q", fatsel)
	}

	f, err := os.OpenFile(imgPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	blocks := sizeMB * 1024 * 1024 / 512
	if err := f.Truncate(int64(blocks) * 512); err != nil {
		return err
	}

	var fmtr fatfs.Formatter
	dev := &fileDevice{f: f, writable: true}
	if err := fmtr.Format(dev, 512, blocks, cfg); err != nil {
		return err
	}
	fmt.Printf("formatted %s: %d MiB\n", imgPath, sizeMB)
	return nil
}

// printPartitions prints the MBR partition table when the image carries
// one instead of starting directly with a FAT boot sector.
func printPartitions(f *os.File) error {
	var sector [512]byte
	if _, err := f.ReadAt(sector[:], 0); err != nil {
		return err
	}
	if b := sector[0]; b == 0xEB || b == 0xE9 || b == 0xE8 {
		return nil // Superfloppy layout, no partition table.
	}
	bsect, err := mbr.ToBootSector(sector[:])
	if err != nil || bsect.BootSignature() != mbr.BootSignature {
		return nil
	}
	fmt.Printf("disk id=%#08x\n", bsect.UniqueDiskID())
	for i := 0; i < mbr.NumPartitions; i++ {
		pte := bsect.Partition(i)
		if pte.Type() == mbr.PartitionTypeUnused {
			continue
		}
		fat := ""
		if pte.IsFAT() {
			fat = " (FAT)"
		}
		fmt.Printf("partition %d: type=%#02x start=%d sectors=%d%s\n",
			i, byte(pte.Type()), pte.StartLBA(), pte.NumberOfLBA(), fat)
	}
	return nil
}

// listDir resolves a slash-separated path from the root and lists the
// records of the final directory.
func listDir(fsys *fatfs.FS, dirPath string) error {
	dir := fsys.RootDir()
	for _, elem := range strings.Split(dirPath, "/") {
		if elem == "" || elem == "." {
			continue
		}
		np, err := fsys.LookupNode(&dir, elem)
		if err != nil {
			return fmt.Errorf("lookup %q: %w", elem, err)
		}
		if !np.Ent.Attr.IsSubdir() {
			return fmt.Errorf("%q is not a directory", elem)
		}
		dir = np
	}

	for i := 0; ; i++ {
		np, err := fsys.GetNode(&dir, i)
		if fatfs.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return err
		}
		kind := "file"
		if np.Ent.Attr.IsSubdir() {
			kind = "dir "
		}
		fmt.Printf("%s %10d cl=%-5d %s %s\n",
			kind, np.Ent.Size, np.Ent.Cluster,
			np.Ent.ModTime().Format("2006-01-02 15:04"), np.Ent.NameString())
	}
}

func dumpChain(fsys *fatfs.FS, start uint32) error {
	cl := start
	for n := 0; ; n++ {
		if n > 0 {
			fmt.Print(" -> ")
		}
		fmt.Print(cl)
		next, err := fsys.NextCluster(cl)
		if err != nil {
			fmt.Println()
			return err
		}
		if fsys.EndOfChain(next) {
			fmt.Println(" -> EOC")
			return nil
		}
		if next < 2 {
			fmt.Println(" -> FREE")
			return errors.New("chain runs into an unallocated cluster")
		}
		cl = next
	}
}

// fileDevice adapts a flat image file to the block device interface.
type fileDevice struct {
	f        *os.File
	writable bool
}

func (d *fileDevice) ReadBlocks(dst []byte, startBlock int64) error {
	_, err := d.f.ReadAt(dst, startBlock*512)
	return err
}

func (d *fileDevice) WriteBlocks(data []byte, startBlock int64) error {
	_, err := d.f.WriteAt(data, startBlock*512)
	return err
}

func (d *fileDevice) EraseSectors(startBlock, numBlocks int64) error {
	zero := make([]byte, 512)
	for i := int64(0); i < numBlocks; i++ {
		if _, err := d.f.WriteAt(zero, (startBlock+i)*512); err != nil {
			return err
		}
	}
	return nil
}

func (d *fileDevice) Mode() uint8 {
	if d.writable {
		return 3
	}
	return 1
}
