package fs

import (
	"archive/tar"
	"bytes"
	"io"
	"strings"
	"testing"

	"rvos/kernel"
	"rvos/kernel/kfmt"
)

// memDisk is a BlockDevice backed by a byte slice.
type memDisk struct {
	data   []byte
	reads  int
	writes int
}

func newMemDisk() *memDisk {
	return &memDisk{data: make([]byte, DiskMaxSize)}
}

func (d *memDisk) Capacity() uint64 {
	return uint64(len(d.data))
}

func (d *memDisk) ReadWriteDisk(buf []byte, sector uint64, isWrite bool) {
	off := int(sector) * SectorSize
	if isWrite {
		d.writes++
		copy(d.data[off:off+SectorSize], buf)
		return
	}

	d.reads++
	copy(buf, d.data[off:off+SectorSize])
}

// tarImage builds an archive with archive/tar and pads it to DiskMaxSize.
func tarImage(t *testing.T, files map[string]string, order ...string) []byte {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, name := range order {
		err := tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0644,
			Size:     int64(len(files[name])),
			Typeflag: tar.TypeReg,
			Format:   tar.FormatUSTAR,
		})
		if err != nil {
			t.Fatal(err)
		}

		if _, err = io.WriteString(tw, files[name]); err != nil {
			t.Fatal(err)
		}
	}

	if err := tw.Flush(); err != nil {
		t.Fatal(err)
	}

	img := make([]byte, DiskMaxSize)
	copy(img, buf.Bytes())
	return img
}

func muteOutput(t *testing.T) *bytes.Buffer {
	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)
	t.Cleanup(func() { kfmt.SetOutputSink(nil) })
	return &buf
}

func TestOctal(t *testing.T) {
	specs := []struct {
		input string
		exp   uint32
	}{
		{"00000000023\x00", 19},
		{"0000644", 0644},
		{"17", 15},
		{"12 34", 10},
		{"   12", 0},
		{"", 0},
		{"19", 1},
	}

	for specIndex, spec := range specs {
		if got := parseOctal([]byte(spec.input)); got != spec.exp {
			t.Errorf("[spec %d] expected parseOctal(%q) to be %d; got %d", specIndex, spec.input, spec.exp, got)
		}
	}

	field := make([]byte, 12)
	formatOctal(field, 19)
	if exp := "00000000023\x00"; string(field) != exp {
		t.Errorf("expected formatOctal to produce %q; got %q", exp, field)
	}

	field = make([]byte, 7)
	formatOctal(field, 04567)
	if exp := "004567\x00"; string(field) != exp {
		t.Errorf("expected formatOctal to produce %q; got %q", exp, field)
	}
}

func TestHeaderLayout(t *testing.T) {
	var hdr tarHeader
	hdr.Checksum = [8]byte{'1', '2', '3', '4', '5', '6', 0, ' '}
	hdr.Type = typeRegular
	hdr.Magic = ustarMagic

	b := make([]byte, headerSize)
	hdr.encode(b)

	if got := string(b[checksumOffset : checksumOffset+8]); got != "123456\x00 " {
		t.Errorf("expected checksum field at offset %d; got %q", checksumOffset, got)
	}

	if b[156] != typeRegular {
		t.Errorf("expected type flag at offset 156; got %q", b[156])
	}

	if got := string(b[257:263]); got != "ustar\x00" {
		t.Errorf("expected magic at offset 257; got %q", got)
	}
}

func TestInitParsesArchive(t *testing.T) {
	buf := muteOutput(t)

	disk := newMemDisk()
	copy(disk.data, tarImage(t, map[string]string{
		"hello.txt":   "Can you see me? Ah, there you are! You've unlocked the achievement \"Virtio Newbie!\"\n",
		"meow.txt":    "meow\n",
		"nothing.txt": "",
	}, "hello.txt", "meow.txt", "nothing.txt"))

	s := New(disk)
	s.Init()

	if exp := DiskMaxSize / SectorSize; disk.reads != exp {
		t.Fatalf("expected Init to read %d sectors; got %d", exp, disk.reads)
	}

	specs := []struct {
		name string
		data string
	}{
		{"hello.txt", "Can you see me? Ah, there you are! You've unlocked the achievement \"Virtio Newbie!\"\n"},
		{"meow.txt", "meow\n"},
		{"nothing.txt", ""},
	}

	for specIndex, spec := range specs {
		f := s.Files()[specIndex]
		if !f.InUse || f.Name != spec.name {
			t.Errorf("[spec %d] expected slot to hold %q; got %q (in use: %t)", specIndex, spec.name, f.Name, f.InUse)
			continue
		}

		if got := string(f.Data[:f.Size]); got != spec.data {
			t.Errorf("[spec %d] expected data %q; got %q", specIndex, spec.data, got)
		}
	}

	if !strings.Contains(buf.String(), "file: meow.txt, size=5 offset=1024\n") {
		t.Errorf("expected a log line for meow.txt; got:\n%s", buf.String())
	}
}

func TestInitSkipsNonRegularFiles(t *testing.T) {
	muteOutput(t)

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	tw.WriteHeader(&tar.Header{Name: "dir/", Mode: 0755, Typeflag: tar.TypeDir, Format: tar.FormatUSTAR})
	tw.WriteHeader(&tar.Header{Name: "a.txt", Mode: 0644, Size: 3, Typeflag: tar.TypeReg, Format: tar.FormatUSTAR})
	io.WriteString(tw, "abc")
	tw.Flush()

	disk := newMemDisk()
	copy(disk.data, buf.Bytes())

	s := New(disk)
	s.Init()

	if f := s.Files()[0]; !f.InUse || f.Name != "a.txt" || f.Size != 3 {
		t.Fatalf("expected a.txt in the first slot; got %+v", f.Name)
	}

	if s.Lookup("dir/") != nil {
		t.Fatal("expected directories to be skipped")
	}
}

func TestInitEmptyDisk(t *testing.T) {
	s := New(newMemDisk())
	s.Init()

	for i, f := range s.Files() {
		if f.InUse {
			t.Errorf("expected slot %d to be empty", i)
		}
	}
}

func TestInitBadMagic(t *testing.T) {
	defer func() {
		panicFn = kfmt.Panic
	}()

	var gotErr *kernel.Error
	panicFn = func(e interface{}) { gotErr = e.(*kernel.Error) }

	disk := newMemDisk()
	copy(disk.data, "not-a-tar-file")

	New(disk).Init()

	if gotErr != errBadMagic {
		t.Fatalf("expected errBadMagic; got %v", gotErr)
	}
}

func TestInitDiskTooSmall(t *testing.T) {
	defer func() {
		panicFn = kfmt.Panic
	}()

	var gotErr *kernel.Error
	panicFn = func(e interface{}) { gotErr = e.(*kernel.Error) }

	disk := &memDisk{data: make([]byte, DiskMaxSize-SectorSize)}
	New(disk).Init()

	if gotErr != errDiskTooSmall {
		t.Fatalf("expected errDiskTooSmall; got %v", gotErr)
	}

	if disk.reads != 0 {
		t.Fatalf("expected no sector reads; got %d", disk.reads)
	}
}

func TestWriteEmptyName(t *testing.T) {
	muteOutput(t)

	disk := newMemDisk()
	s := New(disk)
	s.Init()

	if _, err := s.Write("", []byte("lost")); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound; got %v", err)
	}

	if disk.writes != 0 {
		t.Fatalf("expected no sector writes; got %d", disk.writes)
	}

	if _, err := s.Write("b.txt", []byte("hello")); err != nil {
		t.Fatal(err)
	}

	reloaded := New(disk)
	reloaded.Init()

	f := reloaded.Lookup("b.txt")
	if f == nil {
		t.Fatal("expected b.txt to survive a reload")
	}

	if got := string(f.Data[:f.Size]); got != "hello" {
		t.Fatalf("expected b.txt to contain %q; got %q", "hello", got)
	}

	for i, f := range reloaded.Files() {
		if f.InUse && f.Name == "" {
			t.Errorf("expected slot %d to have a name", i)
		}
	}
}

func TestWriteThenRead(t *testing.T) {
	muteOutput(t)

	specs := []struct {
		name    string
		data    string
		expSize int
	}{
		{"a.txt", "hello from a.txt!!\n", 19},
		{"b.txt", "", 0},
		{"a.txt", "overwritten", 11},
		{"c.txt", strings.Repeat("x", FileDataMax+10), FileDataMax},
	}

	disk := newMemDisk()
	s := New(disk)
	s.Init()

	for specIndex, spec := range specs {
		n, err := s.Write(spec.name, []byte(spec.data))
		if err != nil {
			t.Errorf("[spec %d] unexpected error: %v", specIndex, err)
			continue
		}

		if n != spec.expSize {
			t.Errorf("[spec %d] expected Write to store %d bytes; got %d", specIndex, spec.expSize, n)
		}

		buf := make([]byte, 2*FileDataMax)
		n, err = s.Read(spec.name, buf)
		if err != nil {
			t.Errorf("[spec %d] unexpected error: %v", specIndex, err)
			continue
		}

		if exp := spec.data[:spec.expSize]; string(buf[:n]) != exp {
			t.Errorf("[spec %d] expected to read back %q; got %q", specIndex, exp, buf[:n])
		}
	}

	// every write rewrites the whole archive
	if exp := len(specs) * DiskMaxSize / SectorSize; disk.writes != exp {
		t.Errorf("expected %d sector writes; got %d", exp, disk.writes)
	}

	if _, err := s.Write("d.txt", []byte("no room")); err != ErrNoSpace {
		t.Errorf("expected ErrNoSpace once the table is full; got %v", err)
	}
}

func TestReadShortBuffer(t *testing.T) {
	muteOutput(t)

	s := New(newMemDisk())
	s.Write("a.txt", []byte("0123456789"))

	buf := make([]byte, 4)
	if n, err := s.Read("a.txt", buf); err != nil || n != 4 || string(buf) != "0123" {
		t.Fatalf("expected to read 4 bytes %q; got %d %q (%v)", "0123", n, buf[:n], err)
	}

	if _, err := s.Read("missing.txt", buf); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound; got %v", err)
	}
}

func TestFlushScenario(t *testing.T) {
	buf := muteOutput(t)

	disk := newMemDisk()
	s := New(disk)
	s.Init()

	data := []byte("nineteen bytes long")
	if n, err := s.Write("a.txt", data); err != nil || n != 19 {
		t.Fatalf("expected to write 19 bytes; got %d (%v)", n, err)
	}

	got := make([]byte, 64)
	n, _ := s.Read("a.txt", got)
	if n != 19 || !bytes.Equal(got[:n], data) {
		t.Fatalf("expected to read back %q; got %q", data, got[:n])
	}

	hdr := disk.data[:headerSize]
	if name := string(hdr[:6]); name != "a.txt\x00" {
		t.Errorf("expected header name %q; got %q", "a.txt", name)
	}

	if hdr[156] != '0' {
		t.Errorf("expected type flag '0'; got %q", hdr[156])
	}

	if size := string(hdr[124:136]); size != "00000000023\x00" {
		t.Errorf("expected size field %q; got %q", "00000000023\x00", size)
	}

	var exp uint32
	for i, b := range hdr {
		if i >= 148 && i < 156 {
			b = ' '
		}
		exp += uint32(b)
	}

	if got := parseOctal(hdr[148:156]); got != exp {
		t.Errorf("expected checksum %o; got %o", exp, got)
	}

	if field := string(hdr[148+6 : 156]); field != "\x00 " {
		t.Errorf("expected checksum to end with NUL and space; got %q", field)
	}

	if !bytes.Equal(disk.data[headerSize:headerSize+19], data) {
		t.Errorf("expected file data to follow the header")
	}

	if !strings.Contains(buf.String(), "wrote 4608 bytes to disk\n") {
		t.Errorf("expected flush to be logged; got:\n%s", buf.String())
	}
}

func TestFlushReloadIdentity(t *testing.T) {
	muteOutput(t)

	disk := newMemDisk()
	s := New(disk)
	s.Init()

	s.Write("hello.txt", []byte("hello, world\n"))
	s.Write("empty.txt", nil)
	s.Write("big.bin", bytes.Repeat([]byte{0xa5}, FileDataMax))

	reloaded := New(disk)
	reloaded.Init()

	for i := range s.files {
		want, got := s.files[i], reloaded.files[i]
		if want.InUse != got.InUse || want.Name != got.Name || want.Size != got.Size || want.Data != got.Data {
			t.Errorf("[slot %d] expected reloaded file %q (%d bytes); got %q (%d bytes)", i, want.Name, want.Size, got.Name, got.Size)
		}
	}

	// Checksums written by Flush are reproduced by an independent parse.
	for off := 0; off < DiskMaxSize; {
		hdr := decodeHeader(disk.data[off:])
		if hdr.Name[0] == 0 {
			break
		}

		if exp, got := checksum(disk.data[off:]), parseOctal(hdr.Checksum[:]); exp != got {
			t.Errorf("[offset %d] expected checksum %o; got %o", off, exp, got)
		}

		off += headerSize + int(parseOctal(hdr.Size[:])+SectorSize-1)/SectorSize*SectorSize
	}
}

func TestFlushIsReadableByArchiveTar(t *testing.T) {
	muteOutput(t)

	disk := newMemDisk()
	s := New(disk)
	s.Write("a.txt", []byte("first"))
	s.Write("b.txt", []byte("second file"))

	tr := tar.NewReader(bytes.NewReader(disk.data))
	exp := map[string]string{"a.txt": "first", "b.txt": "second file"}

	var count int
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}

		data, err := io.ReadAll(tr)
		if err != nil {
			t.Fatal(err)
		}

		if hdr.Typeflag != tar.TypeReg || hdr.Mode != 0644 {
			t.Errorf("expected %s to be a regular file with mode 0644; got type %q mode %o", hdr.Name, hdr.Typeflag, hdr.Mode)
		}

		if string(data) != exp[hdr.Name] {
			t.Errorf("expected %s to contain %q; got %q", hdr.Name, exp[hdr.Name], data)
		}
		count++
	}

	if count != len(exp) {
		t.Fatalf("expected archive/tar to find %d files; got %d", len(exp), count)
	}
}
