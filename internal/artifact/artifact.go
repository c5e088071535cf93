// Package artifact reads and writes the maintenance-tool binary: a base
// executable image with an appended metadata blob and a fixed footer.
//
// Layout:
//
//	[base executable bytes] [metadata blob] [footer]
//
// The metadata blob is a little-endian sequence of typed sections:
//
//	[section count: u32] { [tag: u32] [length: u64] [bytes...] }...
//
// The footer is fixed-size:
//
//	magic_cookie u64 | metadata_offset u64 | metadata_length u64 |
//	marker u64 | crc32 u32
//
// Unknown section tags are preserved byte-for-byte on rewrite.
package artifact

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
)

// MagicCookie marks a donyu maintenance-tool binary.
const MagicCookie uint64 = 0xd0290a1c99d668f8

// Marker selects the run mode baked into the binary.
type Marker uint64

const (
	MarkerInstaller Marker = iota + 1
	MarkerUninstaller
	MarkerUpdater
	MarkerPackageManager
)

// Section tags.
const (
	TagJournal         uint32 = 1
	TagPackageRegistry uint32 = 2
	TagResources       uint32 = 3
	TagSettings        uint32 = 4
)

// FooterSize is the fixed byte length of the footer.
const FooterSize = 8 + 8 + 8 + 8 + 4

// Section is one typed chunk of the metadata blob.
type Section struct {
	Tag  uint32
	Data []byte
}

// Metadata is the decoded blob plus the marker.
type Metadata struct {
	Marker   Marker
	Sections []Section
}

// Section returns the first section with the given tag, or nil.
func (m *Metadata) Section(tag uint32) *Section {
	for i := range m.Sections {
		if m.Sections[i].Tag == tag {
			return &m.Sections[i]
		}
	}
	return nil
}

// SetSection replaces the first section with the tag, or appends one.
func (m *Metadata) SetSection(tag uint32, data []byte) {
	if s := m.Section(tag); s != nil {
		s.Data = data
		return
	}
	m.Sections = append(m.Sections, Section{Tag: tag, Data: data})
}

// encodeBlob serializes the sections.
func encodeBlob(sections []Section) []byte {
	var buf bytes.Buffer
	var scratch [8]byte

	binary.LittleEndian.PutUint32(scratch[:4], uint32(len(sections)))
	buf.Write(scratch[:4])
	for _, s := range sections {
		binary.LittleEndian.PutUint32(scratch[:4], s.Tag)
		buf.Write(scratch[:4])
		binary.LittleEndian.PutUint64(scratch[:8], uint64(len(s.Data)))
		buf.Write(scratch[:8])
		buf.Write(s.Data)
	}
	return buf.Bytes()
}

// decodeBlob parses the section sequence.
func decodeBlob(blob []byte) ([]Section, error) {
	r := bytes.NewReader(blob)
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("truncated section count: %w", err)
	}
	sections := make([]Section, 0, count)
	for i := uint32(0); i < count; i++ {
		var tag uint32
		var length uint64
		if err := binary.Read(r, binary.LittleEndian, &tag); err != nil {
			return nil, fmt.Errorf("truncated section tag: %w", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
			return nil, fmt.Errorf("truncated section length: %w", err)
		}
		if length > uint64(r.Len()) {
			return nil, fmt.Errorf("section %d length %d exceeds blob", tag, length)
		}
		data := make([]byte, length)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, err
		}
		sections = append(sections, Section{Tag: tag, Data: data})
	}
	return sections, nil
}

// footer is the fixed trailer.
type footer struct {
	Cookie     uint64
	MetaOffset uint64
	MetaLength uint64
	Marker     uint64
	CRC32      uint32
}

func (f *footer) encode() []byte {
	buf := make([]byte, 0, FooterSize)
	buf = binary.LittleEndian.AppendUint64(buf, f.Cookie)
	buf = binary.LittleEndian.AppendUint64(buf, f.MetaOffset)
	buf = binary.LittleEndian.AppendUint64(buf, f.MetaLength)
	buf = binary.LittleEndian.AppendUint64(buf, f.Marker)
	buf = binary.LittleEndian.AppendUint32(buf, f.CRC32)
	return buf
}

func decodeFooter(raw []byte) (*footer, error) {
	if len(raw) != FooterSize {
		return nil, fmt.Errorf("footer must be %d bytes, got %d", FooterSize, len(raw))
	}
	return &footer{
		Cookie:     binary.LittleEndian.Uint64(raw[0:8]),
		MetaOffset: binary.LittleEndian.Uint64(raw[8:16]),
		MetaLength: binary.LittleEndian.Uint64(raw[16:24]),
		Marker:     binary.LittleEndian.Uint64(raw[24:32]),
		CRC32:      binary.LittleEndian.Uint32(raw[32:36]),
	}, nil
}

func checksum(blob []byte) uint32 {
	return crc32.ChecksumIEEE(blob)
}
