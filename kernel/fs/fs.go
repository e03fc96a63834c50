// Package fs implements a small file store kept in a ustar archive on the
// block device. The archive is loaded into memory at boot and rewritten
// wholesale on every write.
package fs

import (
	"rvos/kernel"
	"rvos/kernel/kfmt"
	"rvos/kernel/mm"
)

const (
	// FilesMax is the capacity of the file table.
	FilesMax = 3

	// FileDataMax is the maximum size of a file.
	FileDataMax = 1024

	// NameMax is the maximum length of a file name.
	NameMax = 100

	// SectorSize is the size of a disk sector.
	SectorSize = 512

	// DiskMaxSize is the size of the archive region on disk. It holds a
	// header and a full data area for every file slot.
	DiskMaxSize = FilesMax * (headerSize + FileDataMax)
)

var (
	// panicFn is mocked by tests.
	panicFn = kfmt.Panic

	// ErrNotFound is returned when a file does not exist.
	ErrNotFound = &kernel.Error{Module: "fs", Message: "file not found"}

	// ErrNoSpace is returned when a new file does not fit in the table.
	ErrNoSpace = &kernel.Error{Module: "fs", Message: "no free file slots"}

	errBadMagic     = &kernel.Error{Module: "fs", Message: "invalid tar header"}
	errDiskTooSmall = &kernel.Error{Module: "fs", Message: "disk is smaller than the archive region"}
)

// BlockDevice transfers single sectors between buf and the disk.
type BlockDevice interface {
	ReadWriteDisk(buf []byte, sector uint64, isWrite bool)

	// Capacity returns the size of the disk in bytes.
	Capacity() uint64
}

// File is an entry in the file table.
type File struct {
	InUse bool
	Name  string
	Data  [FileDataMax]byte
	Size  int
}

// Store is the in-memory file table and the archive image that backs it.
type Store struct {
	dev   BlockDevice
	files [FilesMax]File
	disk  [DiskMaxSize]byte
}

// New returns an empty store backed by dev. Call Init to load the archive.
func New(dev BlockDevice) *Store {
	return &Store{dev: dev}
}

// Init reads the archive from disk and registers every regular file it
// contains. Parsing stops at the first header with an empty name or after
// FilesMax headers. A header without the ustar magic or a disk that cannot
// hold DiskMaxSize bytes is fatal.
func (s *Store) Init() {
	if s.dev.Capacity() < DiskMaxSize {
		panicFn(errDiskTooSmall)
		return
	}

	for sector := 0; sector < DiskMaxSize/SectorSize; sector++ {
		s.dev.ReadWriteDisk(s.disk[sector*SectorSize:(sector+1)*SectorSize], uint64(sector), false)
	}

	s.files = [FilesMax]File{}

	off := 0
	for i := 0; i < FilesMax && off+headerSize <= DiskMaxSize; i++ {
		hdr := decodeHeader(s.disk[off:])
		if hdr.Name[0] == 0 {
			break
		}

		if !hdr.hasUstarMagic() {
			panicFn(errBadMagic)
			return
		}

		size := int(parseOctal(hdr.Size[:]))
		if hdr.Type == typeRegular {
			s.register(hdr.name(), s.disk[off+headerSize:], size, off)
		}

		off += int(mm.AlignUp(uint32(headerSize+size), SectorSize))
	}
}

// register adds a file to the next free slot.
func (s *Store) register(name string, data []byte, size, off int) {
	if size > FileDataMax {
		size = FileDataMax
	}

	if size > len(data) {
		size = len(data)
	}

	f := s.freeSlot()
	if f == nil {
		return
	}

	f.InUse = true
	f.Name = name
	f.Size = copy(f.Data[:], data[:size])
	kfmt.Printf("file: %s, size=%d offset=%d\n", f.Name, f.Size, off)
}

func (s *Store) freeSlot() *File {
	for i := range s.files {
		if !s.files[i].InUse {
			return &s.files[i]
		}
	}
	return nil
}

// Flush rebuilds the archive from the file table and writes every sector back
// to disk.
func (s *Store) Flush() {
	s.disk = [DiskMaxSize]byte{}

	off := 0
	for i := range s.files {
		f := &s.files[i]
		if !f.InUse {
			continue
		}

		var hdr tarHeader
		copy(hdr.Name[:], f.Name)
		copy(hdr.Mode[:], regularMode)
		hdr.Magic = ustarMagic
		hdr.Version = ustarVersion
		hdr.Type = typeRegular
		formatOctal(hdr.Size[:], uint32(f.Size))
		hdr.encode(s.disk[off:])

		formatOctal(hdr.Checksum[:7], checksum(s.disk[off:]))
		hdr.Checksum[7] = ' '
		hdr.encode(s.disk[off:])

		copy(s.disk[off+headerSize:], f.Data[:f.Size])
		off += int(mm.AlignUp(uint32(headerSize+f.Size), SectorSize))
	}

	for sector := 0; sector < DiskMaxSize/SectorSize; sector++ {
		s.dev.ReadWriteDisk(s.disk[sector*SectorSize:(sector+1)*SectorSize], uint64(sector), true)
	}

	kfmt.Printf("wrote %d bytes to disk\n", DiskMaxSize)
}

// Lookup returns the file with the given name or nil if it does not exist.
func (s *Store) Lookup(name string) *File {
	for i := range s.files {
		if s.files[i].InUse && s.files[i].Name == name {
			return &s.files[i]
		}
	}
	return nil
}

// Read copies the contents of the named file into buf and returns the number
// of bytes copied, which is the smaller of len(buf) and the file size.
func (s *Store) Read(name string, buf []byte) (int, *kernel.Error) {
	f := s.Lookup(name)
	if f == nil {
		return 0, ErrNotFound
	}

	return copy(buf, f.Data[:f.Size]), nil
}

// Write replaces the contents of the named file with data and flushes the
// archive to disk. Data beyond FileDataMax bytes is dropped. A missing file
// is created in the first free slot. An empty name never matches a file.
// Write returns the number of bytes stored.
func (s *Store) Write(name string, data []byte) (int, *kernel.Error) {
	if name == "" {
		return 0, ErrNotFound
	}

	f := s.Lookup(name)
	if f == nil {
		if f = s.freeSlot(); f == nil {
			return 0, ErrNoSpace
		}

		if len(name) > NameMax {
			name = name[:NameMax]
		}

		f.InUse = true
		f.Name = name
	}

	if len(data) > FileDataMax {
		data = data[:FileDataMax]
	}

	f.Size = copy(f.Data[:], data)
	s.Flush()
	return f.Size, nil
}

// Files returns the file table.
func (s *Store) Files() []File {
	return s.files[:]
}
