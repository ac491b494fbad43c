package fatfs

import (
	"fmt"
	"testing"
)

// This fuzzer works like a small virtual machine: each 64-bit word is one
// operation against a freshly formatted FAT12 volume, and the fuzzer
// checks the allocator and directory invariants after every step.
func FuzzVolumeOps(f *testing.F) {
	// 64-bit operation definition, starting with least significant bits:
	//
	//  - OP:  First 4 bits select the operation.
	//  - WHO: Next 4 bits select the target chain/record, modulo how many exist.
	//  - ARG: Bits 8.. are an operation-specific argument (size, offset).
	const (
		opNewFile uint64 = iota
		opGrowFile
		opFreeFile
		opSeekFile
		opAddRecord
		opEnumerate
		numOps

		whoOff = 4
		argOff = 8
	)
	f.Add(opNewFile|(3000<<argOff), opGrowFile|(9000<<argOff), opSeekFile|(1024<<argOff),
		opAddRecord, opAddRecord, opFreeFile, opNewFile|(512<<argOff), opEnumerate)
	f.Add(opNewFile|(1<<argOff), opFreeFile, opFreeFile, opNewFile|(100000<<argOff),
		opEnumerate, opAddRecord, opSeekFile, opGrowFile)

	f.Fuzz(func(t *testing.T, fsop0, fsop1, fsop2, fsop3, fsop4, fsop5, fsop6, fsop7 uint64) {
		fsys, _ := newTestFS(t, blocksFAT12, FormatConfig{ClusterSize: 1})
		csize := uint32(fsys.ClusterSize())
		root := fsys.RootDir()

		var chains []uint32 // first clusters of live chains
		nrecords := 2       // synthesized dot records
		nadded := 0

		pick := func(who uint8) int {
			if len(chains) == 0 {
				return -1
			}
			return int(who) % len(chains)
		}
		chainLen := func(first uint32) uint32 {
			var n uint32
			cl := first
			for {
				n++
				next := mustNext(t, fsys, cl)
				if fsys.EndOfChain(next) {
					return n
				}
				if next < clFirst || next >= fsys.lastClust {
					t.Fatalf("chain from %d hits invalid link %d -> %#x", first, cl, next)
				}
				if n > fsys.lastClust {
					t.Fatalf("chain from %d does not terminate", first)
				}
				cl = next
			}
		}

		fsops := [...]uint64{fsop0, fsop1, fsop2, fsop3, fsop4, fsop5, fsop6, fsop7}
		for _, fsop := range fsops {
			op := fsop & 0xf
			who := uint8(fsop>>whoOff) & 0xf
			arg := uint32(fsop >> argOff)
			switch op % numOps {
			case opNewFile:
				size := arg%(64*csize) + 1
				first, err := fsys.ExpandFile(0, size)
				if IsNoSpace(err) {
					break
				}
				if err != nil {
					t.Fatalf("ExpandFile(0, %d): %v", size, err)
				}
				want := (size + csize - 1) / csize
				if got := chainLen(first); got != want {
					t.Fatalf("new file of %d bytes has %d clusters, want %d", size, got, want)
				}
				chains = append(chains, first)

			case opGrowFile:
				i := pick(who)
				if i < 0 {
					break
				}
				first := chains[i]
				before := chainLen(first)
				size := arg % (64 * csize)
				got, err := fsys.ExpandFile(first, size)
				if IsNoSpace(err) {
					break
				}
				if err != nil {
					t.Fatalf("ExpandFile(%d, %d): %v", first, size, err)
				}
				if got != first {
					t.Fatalf("growing moved the first cluster from %d to %d", first, got)
				}
				want := (size + csize - 1) / csize
				if want < before {
					want = before // Growth only; a shorter size is a no-op.
				}
				if got := chainLen(first); got != want {
					t.Fatalf("grown file has %d clusters, want %d", got, want)
				}

			case opFreeFile:
				i := pick(who)
				if i < 0 {
					break
				}
				first := chains[i]
				if err := fsys.FreeClusters(first); err != nil {
					t.Fatalf("FreeClusters(%d): %v", first, err)
				}
				if got := mustNext(t, fsys, first); got != clFree {
					t.Fatalf("freed chain head %d still carries %#x", first, got)
				}
				chains = append(chains[:i], chains[i+1:]...)

			case opSeekFile:
				i := pick(who)
				if i < 0 {
					break
				}
				first := chains[i]
				n := chainLen(first)
				offset := arg % (n * csize)
				cl, err := fsys.SeekCluster(first, offset)
				if err != nil {
					t.Fatalf("SeekCluster(%d, %d) within a %d-cluster chain: %v", first, offset, n, err)
				}
				if cl < clFirst || cl >= fsys.lastClust {
					t.Fatalf("SeekCluster returned invalid cluster %d", cl)
				}
				if _, err := fsys.SeekCluster(first, n*csize); err == nil {
					t.Fatalf("SeekCluster past the %d-cluster chain at %d succeeded", n, first)
				}

			case opAddRecord:
				name := fmt.Sprintf("F%d.BIN", nadded)
				np, err := NewNode(name, AttrArchive, 0, 0, testMod)
				if err != nil {
					t.Fatalf("NewNode(%q): %v", name, err)
				}
				err = fsys.AddNode(&root, &np)
				if IsNotExist(err) {
					break // Root region full.
				}
				if err != nil {
					t.Fatalf("AddNode(%q): %v", name, err)
				}
				nadded++
				nrecords++
				if _, err := fsys.LookupNode(&root, name); err != nil {
					t.Fatalf("added record %q not found: %v", name, err)
				}

			case opEnumerate:
				n := 0
				for ; ; n++ {
					_, err := fsys.GetNode(&root, n)
					if IsNotExist(err) {
						break
					}
					if err != nil {
						t.Fatalf("GetNode(%d): %v", n, err)
					}
					if n > fsys.RootEntryCount()+2 {
						t.Fatal("enumeration does not terminate")
					}
				}
				if n != nrecords {
					t.Fatalf("enumerated %d records, want %d", n, nrecords)
				}
			}
		}
	})
}
