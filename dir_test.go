package fatfs

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var testMod = time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)

func mustAdd(t *testing.T, fsys *FS, dir *Node, name string, attr Attr) Node {
	t.Helper()
	np, err := NewNode(name, attr, 0, 0, testMod)
	if err != nil {
		t.Fatalf("NewNode(%q): %v", name, err)
	}
	if err := fsys.AddNode(dir, &np); err != nil {
		t.Fatalf("AddNode(%q): %v", name, err)
	}
	return np
}

// mkSubdir allocates a single zero-filled cluster and returns a directory
// node addressing it.
func mkSubdir(t *testing.T, fsys *FS, name string) Node {
	t.Helper()
	cl, err := fsys.AllocCluster(0)
	if err != nil {
		t.Fatalf("AllocCluster: %v", err)
	}
	mustSet(t, fsys, cl, fsys.fatEOF)
	zeroCluster(t, fsys, cl)
	np, err := NewNode(name, AttrSubdir, cl, 0, testMod)
	if err != nil {
		t.Fatalf("NewNode(%q): %v", name, err)
	}
	return np
}

func zeroCluster(t *testing.T, fsys *FS, cl uint32) {
	t.Helper()
	var buf [sectorSize512]byte
	sec := fsys.clst2sect(cl)
	if sec == 0 {
		t.Fatalf("cluster %d has no backing sector", cl)
	}
	for i := uint16(0); i < fsys.secPerClus; i++ {
		if fr := fsys.write_sector(buf[:], sec+lba(i)); fr != frOK {
			t.Fatalf("zeroing cluster %d: %v", cl, fr)
		}
	}
}

func TestAddNodeLookup(t *testing.T) {
	fsys := newFAT12(t)
	root := fsys.RootDir()

	np, err := NewNode("hello.txt", AttrArchive, 0, 1234, testMod)
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}
	if err := fsys.AddNode(&root, &np); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if !np.HasSlot() {
		t.Fatal("added node has no slot address")
	}

	// Lookup is case-insensitive through name normalization.
	got, err := fsys.LookupNode(&root, "HELLO.TXT")
	if err != nil {
		t.Fatalf("LookupNode: %v", err)
	}
	if diff := cmp.Diff(np.Ent, got.Ent); diff != "" {
		t.Errorf("record mismatch (-added +found):\n%s", diff)
	}
	if got.Ent.NameString() != "HELLO.TXT" {
		t.Errorf("NameString() = %q, want HELLO.TXT", got.Ent.NameString())
	}
	if !got.Ent.ModTime().Equal(testMod) {
		t.Errorf("ModTime() = %v, want %v", got.Ent.ModTime(), testMod)
	}

	if _, err := fsys.LookupNode(&root, "MISSING.TXT"); !IsNotExist(err) {
		t.Errorf("lookup of absent name: %v, want not-exist", err)
	}
}

func TestRootEnumerationSynthesizesDots(t *testing.T) {
	fsys := newFAT12(t)
	root := fsys.RootDir()
	mustAdd(t, fsys, &root, "A.TXT", AttrArchive)
	mustAdd(t, fsys, &root, "B.TXT", AttrArchive)

	dot, err := fsys.GetNode(&root, 0)
	if err != nil {
		t.Fatalf("GetNode(0): %v", err)
	}
	if dot.Ent.NameString() != "." || !dot.Ent.Attr.IsSubdir() || dot.Ent.Cluster != clRoot {
		t.Errorf("index 0 = %q attr %#x cluster %d, want synthesized dot record",
			dot.Ent.NameString(), dot.Ent.Attr, dot.Ent.Cluster)
	}
	if dot.HasSlot() {
		t.Error("synthesized dot record claims a backing slot")
	}
	dotdot, err := fsys.GetNode(&root, 1)
	if err != nil {
		t.Fatalf("GetNode(1): %v", err)
	}
	if dotdot.Ent.NameString() != ".." {
		t.Errorf("index 1 = %q, want ..", dotdot.Ent.NameString())
	}

	for i, want := range []string{"A.TXT", "B.TXT"} {
		np, err := fsys.GetNode(&root, 2+i)
		if err != nil {
			t.Fatalf("GetNode(%d): %v", 2+i, err)
		}
		if np.Ent.NameString() != want {
			t.Errorf("index %d = %q, want %q", 2+i, np.Ent.NameString(), want)
		}
	}
	if _, err := fsys.GetNode(&root, 4); !IsNotExist(err) {
		t.Errorf("GetNode past last record: %v, want not-exist", err)
	}
}

func TestVolumeLabelSkipped(t *testing.T) {
	fsys, _ := newTestFS(t, blocksFAT12, FormatConfig{ClusterSize: 1, Label: "MYDISK"})
	root := fsys.RootDir()

	if _, err := fsys.LookupNode(&root, "MYDISK"); !IsNotExist(err) {
		t.Errorf("lookup found the volume label record: %v", err)
	}
	// The label record does not count for enumeration either.
	if _, err := fsys.GetNode(&root, 2); !IsNotExist(err) {
		t.Errorf("GetNode(2) on label-only root: %v, want not-exist", err)
	}
	mustAdd(t, fsys, &root, "DATA.BIN", AttrArchive)
	np, err := fsys.GetNode(&root, 2)
	if err != nil {
		t.Fatalf("GetNode(2): %v", err)
	}
	if np.Ent.NameString() != "DATA.BIN" {
		t.Errorf("first enumerated record is %q, want DATA.BIN", np.Ent.NameString())
	}
}

func TestAddNodeReusesDeletedSlot(t *testing.T) {
	fsys := newFAT12(t)
	root := fsys.RootDir()
	a := mustAdd(t, fsys, &root, "A.TXT", AttrArchive)
	mustAdd(t, fsys, &root, "B.TXT", AttrArchive)
	aSector, aOffset := a.sector, a.offset

	// Delete A by rewriting its record with the deleted mark.
	a.Ent.Name[0] = markDeleted
	if err := fsys.PutNode(&a); err != nil {
		t.Fatalf("PutNode: %v", err)
	}
	if _, err := fsys.LookupNode(&root, "A.TXT"); !IsNotExist(err) {
		t.Fatalf("deleted record still found: %v", err)
	}
	// Scans continue past deleted slots.
	if _, err := fsys.LookupNode(&root, "B.TXT"); err != nil {
		t.Fatalf("record after deleted slot not found: %v", err)
	}

	c := mustAdd(t, fsys, &root, "C.TXT", AttrArchive)
	if c.sector != aSector || c.offset != aOffset {
		t.Errorf("new record at sector %d offset %d, want reused slot %d/%d",
			c.sector, c.offset, aSector, aOffset)
	}
}

func TestRootDirectoryCannotGrow(t *testing.T) {
	fsys, _ := newTestFS(t, 128, FormatConfig{ClusterSize: 1, RootDirEntries: 16})
	root := fsys.RootDir()
	for i := 0; i < 16; i++ {
		mustAdd(t, fsys, &root, fmt.Sprintf("F%d", i), AttrArchive)
	}
	np, err := NewNode("OVER", AttrArchive, 0, 0, testMod)
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}
	if err := fsys.AddNode(&root, &np); !IsNotExist(err) {
		t.Fatalf("add to full root: %v, want not-exist", err)
	}
	// The earlier records survived.
	if _, err := fsys.LookupNode(&root, "F15"); err != nil {
		t.Errorf("lookup after failed add: %v", err)
	}
}

func TestSubdirectoryGrowsWhenFull(t *testing.T) {
	fsys := newFAT12(t)
	sub := mkSubdir(t, fsys, "SUB")
	slotsPerCluster := int(fsys.secPerClus) * int(fsys.ssize) / sizeDirEntry

	for i := 0; i < slotsPerCluster; i++ {
		mustAdd(t, fsys, &sub, fmt.Sprintf("F%d", i), AttrArchive)
	}
	if got := len(chainOf(t, fsys, sub.Ent.Cluster)); got != 1 {
		t.Fatalf("directory chain has %d clusters before overflow, want 1", got)
	}

	over := mustAdd(t, fsys, &sub, "OVER.TXT", AttrArchive)

	chain := chainOf(t, fsys, sub.Ent.Cluster)
	if len(chain) != 2 {
		t.Fatalf("directory chain %v after overflow, want 2 clusters", chain)
	}
	if want := fsys.clst2sect(chain[1]); over.sector != want {
		t.Errorf("overflow record at sector %d, want first sector %d of the new cluster",
			over.sector, want)
	}
	if _, err := fsys.LookupNode(&sub, "OVER.TXT"); err != nil {
		t.Fatalf("overflow record not found: %v", err)
	}

	// The appended cluster was zero-filled: enumeration sees exactly the
	// records written, then stops at the end marker.
	for i := 0; i <= slotsPerCluster; i++ {
		if _, err := fsys.GetNode(&sub, i); err != nil {
			t.Fatalf("GetNode(%d): %v", i, err)
		}
	}
	if _, err := fsys.GetNode(&sub, slotsPerCluster+1); !IsNotExist(err) {
		t.Errorf("GetNode past last record: %v, want not-exist", err)
	}
}

// countingBlocks counts the reads passed through to the wrapped device.
type countingBlocks struct {
	dev   *BytesBlocks
	reads int
}

func (c *countingBlocks) ReadBlocks(dst []byte, startBlock int64) error {
	c.reads++
	return c.dev.ReadBlocks(dst, startBlock)
}
func (c *countingBlocks) WriteBlocks(data []byte, startBlock int64) error {
	return c.dev.WriteBlocks(data, startBlock)
}
func (c *countingBlocks) EraseSectors(startBlock, numBlocks int64) error {
	return c.dev.EraseSectors(startBlock, numBlocks)
}
func (c *countingBlocks) Mode() uint8 { return c.dev.Mode() }

func TestScanStopsAtEndOfDirMarker(t *testing.T) {
	dev := DefaultByteBlocks(blocksFAT12)
	var fmtr Formatter
	if err := fmtr.Format(dev, 512, blocksFAT12, FormatConfig{ClusterSize: 1}); err != nil {
		t.Fatalf("format: %v", err)
	}
	cdev := &countingBlocks{dev: dev}
	var fsys FS
	if err := fsys.Mount(cdev, 512, ModeRW); err != nil {
		t.Fatalf("mount: %v", err)
	}
	root := fsys.RootDir()
	mustAdd(t, &fsys, &root, "A.TXT", AttrArchive)

	// Hand-plant a well-formed record two slots past the end marker. The
	// marker means "nothing here nor later", so no scan may surface it.
	ghost, err := NewNode("GHOST.TXT", AttrArchive, 7, 99, testMod)
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}
	off := int(fsys.rootbase)*int(fsys.ssize) + 3*sizeDirEntry
	ghost.Ent.encode(dev.buf[off : off+sizeDirEntry])

	cdev.reads = 0
	if _, err := fsys.LookupNode(&root, "GHOST.TXT"); !IsNotExist(err) {
		t.Fatalf("lookup surfaced a record past the end marker: %v", err)
	}
	if cdev.reads != 1 {
		t.Errorf("lookup read %d sectors, want 1: the scan must stop at the end marker", cdev.reads)
	}

	// Enumeration stops there too: index 2 is A.TXT and nothing follows.
	np, err := fsys.GetNode(&root, 2)
	if err != nil {
		t.Fatalf("GetNode(2): %v", err)
	}
	if np.Ent.NameString() != "A.TXT" {
		t.Fatalf("GetNode(2) = %q, want A.TXT", np.Ent.NameString())
	}
	cdev.reads = 0
	if np, err := fsys.GetNode(&root, 3); !IsNotExist(err) {
		t.Fatalf("enumeration surfaced %q past the end marker (err %v)", np.Ent.NameString(), err)
	}
	if cdev.reads != 1 {
		t.Errorf("enumeration read %d sectors, want 1", cdev.reads)
	}
}

func TestPutNodeRejectsSectorsBelowRootRegion(t *testing.T) {
	fsys, dev := newTestFS(t, blocksFAT12, FormatConfig{ClusterSize: 1})

	// A zero-value node addresses sector 0. Rewriting it would clobber
	// the boot sector.
	var np Node
	copy(np.Ent.Name[:], "EVIL    BIN")
	if err := fsys.PutNode(&np); err == nil {
		t.Fatal("PutNode on a zero-value node succeeded")
	}
	bpb := biosParamBlock{data: dev.buf[:512]}
	if bpb.BootSignature() != bootSignature {
		t.Fatal("boot sector clobbered by rejected PutNode")
	}

	np.sector = fsys.fatbase // FAT region is off limits too.
	if err := fsys.PutNode(&np); err == nil {
		t.Fatal("PutNode into the FAT region succeeded")
	}
}

func TestPutNodeRewritesRecord(t *testing.T) {
	fsys := newFAT12(t)
	root := fsys.RootDir()
	np := mustAdd(t, fsys, &root, "GROW.DAT", AttrArchive)

	np.Ent.Cluster = 42
	np.Ent.Size = 9000
	np.Ent.SetModTime(testMod.Add(48 * time.Hour))
	if err := fsys.PutNode(&np); err != nil {
		t.Fatalf("PutNode: %v", err)
	}

	got, err := fsys.LookupNode(&root, "GROW.DAT")
	if err != nil {
		t.Fatalf("LookupNode: %v", err)
	}
	if diff := cmp.Diff(np.Ent, got.Ent); diff != "" {
		t.Errorf("record mismatch after rewrite (-put +found):\n%s", diff)
	}
}

func TestPutNodeRejectsSynthesizedRecords(t *testing.T) {
	fsys := newFAT12(t)
	root := fsys.RootDir()
	dot, err := fsys.GetNode(&root, 0)
	if err != nil {
		t.Fatalf("GetNode(0): %v", err)
	}
	if err := fsys.PutNode(&dot); err == nil {
		t.Fatal("PutNode on a synthesized dot record succeeded")
	}
	rootCopy := fsys.RootDir()
	if err := fsys.PutNode(&rootCopy); err == nil {
		t.Fatal("PutNode on the root handle succeeded")
	}
}
