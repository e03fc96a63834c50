package fs

import (
	"bytes"
	"encoding/binary"
)

// headerSize is the size of a ustar header record.
const headerSize = 512

// tarHeader mirrors the on-disk layout of a ustar header. All numeric fields
// hold ASCII octal digits.
type tarHeader struct {
	Name     [100]byte
	Mode     [8]byte
	UID      [8]byte
	GID      [8]byte
	Size     [12]byte
	Mtime    [12]byte
	Checksum [8]byte
	Type     byte
	LinkName [100]byte
	Magic    [6]byte
	Version  [2]byte
	Uname    [32]byte
	Gname    [32]byte
	DevMajor [8]byte
	DevMinor [8]byte
	Prefix   [155]byte
	Padding  [12]byte
}

const (
	// typeRegular is the type flag of a regular file.
	typeRegular = '0'

	// checksumOffset is the position of the checksum field in a header.
	checksumOffset = 148
)

var (
	ustarMagic   = [6]byte{'u', 's', 't', 'a', 'r', 0}
	ustarVersion = [2]byte{'0', '0'}
	regularMode  = "000644"
)

// decodeHeader parses the header record at the start of b.
func decodeHeader(b []byte) *tarHeader {
	var hdr tarHeader
	// tarHeader is all byte arrays so decoding a full record cannot fail.
	binary.Read(bytes.NewReader(b[:headerSize]), binary.LittleEndian, &hdr)
	return &hdr
}

// encode writes the header record to the start of b.
func (hdr *tarHeader) encode(b []byte) {
	var buf bytes.Buffer
	// Writes to a bytes.Buffer of a fixed-size struct never fail.
	binary.Write(&buf, binary.LittleEndian, hdr)
	copy(b[:headerSize], buf.Bytes())
}

// hasUstarMagic returns true if the header carries the "ustar" magic.
func (hdr *tarHeader) hasUstarMagic() bool {
	return bytes.Equal(hdr.Magic[:5], ustarMagic[:5])
}

// name returns the NUL-terminated file name.
func (hdr *tarHeader) name() string {
	if end := bytes.IndexByte(hdr.Name[:], 0); end != -1 {
		return string(hdr.Name[:end])
	}
	return string(hdr.Name[:])
}

// checksum returns the sum of all bytes of the encoded header b where the
// checksum field counts as eight spaces.
func checksum(b []byte) uint32 {
	var sum uint32
	for i := 0; i < headerSize; i++ {
		if i >= checksumOffset && i < checksumOffset+8 {
			sum += ' '
			continue
		}
		sum += uint32(b[i])
	}
	return sum
}

// parseOctal decodes the ASCII octal digits at the start of field, stopping at
// the first byte that is not an octal digit.
func parseOctal(field []byte) uint32 {
	var value uint32
	for _, ch := range field {
		if ch < '0' || ch > '7' {
			break
		}
		value = value*8 + uint32(ch-'0')
	}
	return value
}

// formatOctal writes value as len(field)-1 zero-padded octal digits followed
// by a NUL.
func formatOctal(field []byte, value uint32) {
	last := len(field) - 1
	field[last] = 0
	for i := last - 1; i >= 0; i-- {
		field[i] = '0' + byte(value&7)
		value >>= 3
	}
}
