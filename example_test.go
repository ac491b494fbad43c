package fatfs_test

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mschlumpp/lib-fatfs"
)

// ramDisk is a minimal in-memory block device.
type ramDisk struct {
	buf []byte
}

func (d *ramDisk) ReadBlocks(dst []byte, startBlock int64) error {
	off := startBlock * 512
	if off < 0 || off+int64(len(dst)) > int64(len(d.buf)) {
		return errors.New("out of range")
	}
	copy(dst, d.buf[off:])
	return nil
}

func (d *ramDisk) WriteBlocks(data []byte, startBlock int64) error {
	off := startBlock * 512
	if off < 0 || off+int64(len(data)) > int64(len(d.buf)) {
		return errors.New("out of range")
	}
	copy(d.buf[off:], data)
	return nil
}

func (d *ramDisk) EraseSectors(startBlock, numBlocks int64) error {
	start := startBlock * 512
	end := start + numBlocks*512
	if start < 0 || end > int64(len(d.buf)) {
		return errors.New("out of range")
	}
	clear(d.buf[start:end])
	return nil
}

func (d *ramDisk) Mode() uint8 { return 3 }

func Example() {
	const blocks = 2048
	dev := &ramDisk{buf: make([]byte, blocks*512)}

	var fmtr fatfs.Formatter
	if err := fmtr.Format(dev, 512, blocks, fatfs.FormatConfig{Label: "EXAMPLE"}); err != nil {
		log.Fatal(err)
	}
	var fsys fatfs.FS
	if err := fsys.Mount(dev, 512, fatfs.ModeRW); err != nil {
		log.Fatal(err)
	}
	fmt.Println(fsys.Type())

	// Give a new file a three-cluster chain, then record it in the root
	// directory.
	size := 3 * uint32(fsys.ClusterSize())
	first, err := fsys.ExpandFile(0, size)
	if err != nil {
		log.Fatal(err)
	}
	mod := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	np, err := fatfs.NewNode("hello.txt", fatfs.AttrArchive, first, size, mod)
	if err != nil {
		log.Fatal(err)
	}
	root := fsys.RootDir()
	if err := fsys.AddNode(&root, &np); err != nil {
		log.Fatal(err)
	}

	got, err := fsys.LookupNode(&root, "HELLO.TXT")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%s size=%d\n", got.Ent.NameString(), got.Ent.Size)
	for cl := got.Ent.Cluster; ; {
		fmt.Println("cluster", cl)
		next, err := fsys.NextCluster(cl)
		if err != nil {
			log.Fatal(err)
		}
		if fsys.EndOfChain(next) {
			break
		}
		cl = next
	}
	// Output:
	// FAT12
	// HELLO.TXT size=1536
	// cluster 2
	// cluster 3
	// cluster 4
}
