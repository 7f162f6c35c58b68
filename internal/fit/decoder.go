// Package fit decodes the binary recorder format produced by wearable
// activity trackers. Decoding is a pure function over a byte slice: no
// I/O, no package-level mutable state.
package fit

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrCorruptHeader means the file header failed validation (bad
	// size, bad tag, or checksum mismatch). The declared payload length
	// cannot be trusted, so nothing is decoded.
	ErrCorruptHeader = errors.New("fit: corrupt header")

	// ErrChecksum means the payload was complete but its trailing
	// checksum did not match.
	ErrChecksum = errors.New("fit: file checksum mismatch")

	// ErrMalformed means the record stream contradicted itself (for
	// example a data message referencing a never-defined local type)
	// even though all declared bytes were present.
	ErrMalformed = errors.New("fit: malformed record stream")
)

const (
	headerSizeLegacy = 12
	headerSizeCRC    = 14
	fileTag          = ".FIT"

	hdrBitCompressed = 0x80
	hdrBitDefinition = 0x40
	hdrBitDevFields  = 0x20
	hdrMaskLocal     = 0x0F
)

// Header is the validated fixed header of a recorder file.
type Header struct {
	Size            byte
	ProtocolVersion byte
	ProfileVersion  uint16
	DataSize        uint32
}

// Record is one decoded data message: its global message number and its
// fields in wire order. Order across records is exactly the encoding
// order; later records may depend on state set by earlier ones.
type Record struct {
	MesgNum uint16
	Name    string // profile name, "" for unknown message types
	Fields  []Field
}

// Field returns the field with the given number.
func (r *Record) Field(num byte) (Field, bool) {
	for _, f := range r.Fields {
		if f.Num == num {
			return f, true
		}
	}
	return Field{}, false
}

// File is the result of decoding one recorder file. When Truncated is
// set, Records holds every record that was fully contained in the
// available bytes; the caller decides whether a partial file is usable.
type File struct {
	Header    Header
	Records   []Record
	Truncated bool
}

// fieldDef is one field slot of a definition message.
type fieldDef struct {
	num  byte
	size byte
	base baseType
}

// definition is the layout bound to a local message type by a definition
// message. devSize is the total size of developer fields, which are
// skipped but must be accounted for when sizing data messages.
type definition struct {
	mesgNum uint16
	order   binary.ByteOrder
	fields  []fieldDef
	devSize int
}

func (d *definition) dataSize() int {
	n := d.devSize
	for _, f := range d.fields {
		n += int(f.size)
	}
	return n
}

// DecodeHeader validates and returns the file header without decoding the
// payload. It fails with ErrCorruptHeader before trusting DataSize.
func DecodeHeader(data []byte) (Header, error) {
	if len(data) < headerSizeLegacy {
		return Header{}, fmt.Errorf("%w: %d bytes is too short for a header", ErrCorruptHeader, len(data))
	}

	size := data[0]
	if size != headerSizeLegacy && size != headerSizeCRC {
		return Header{}, fmt.Errorf("%w: unsupported header size %d", ErrCorruptHeader, size)
	}
	if len(data) < int(size) {
		return Header{}, fmt.Errorf("%w: file shorter than its header", ErrCorruptHeader)
	}
	if string(data[8:12]) != fileTag {
		return Header{}, fmt.Errorf("%w: missing %q tag", ErrCorruptHeader, fileTag)
	}

	if size == headerSizeCRC {
		stored := binary.LittleEndian.Uint16(data[12:14])
		// A zero header checksum means the writer did not compute one.
		if stored != 0 && Checksum(0, data[:12]) != stored {
			return Header{}, fmt.Errorf("%w: header checksum mismatch", ErrCorruptHeader)
		}
	}

	return Header{
		Size:            size,
		ProtocolVersion: data[1],
		ProfileVersion:  binary.LittleEndian.Uint16(data[2:4]),
		DataSize:        binary.LittleEndian.Uint32(data[4:8]),
	}, nil
}

// Decode decodes a complete recorder file from data.
//
// Truncated input (declared payload longer than the available bytes) is
// not an error: the records decoded so far are returned with the
// Truncated flag set. Unknown message types are decoded positionally from
// their definitions and carried through with an empty Name so callers can
// skip them without losing the known records around them.
func Decode(data []byte) (*File, error) {
	hdr, err := DecodeHeader(data)
	if err != nil {
		return nil, err
	}

	body := data[hdr.Size:]
	truncated := false
	if uint64(len(body)) < uint64(hdr.DataSize) {
		truncated = true
	} else {
		body = body[:hdr.DataSize]
	}

	file := &File{Header: hdr, Truncated: truncated}

	// The trailing checksum covers header plus payload. It only exists,
	// and is only trustworthy, when the payload is complete.
	if !truncated {
		rest := data[int(hdr.Size)+int(hdr.DataSize):]
		if len(rest) >= 2 {
			stored := binary.LittleEndian.Uint16(rest[:2])
			if stored != 0 && Checksum(0, data[:int(hdr.Size)+int(hdr.DataSize)]) != stored {
				return nil, ErrChecksum
			}
		}
	}

	defs := make(map[byte]*definition)
	var lastTimestamp uint64
	pos := 0

	for pos < len(body) {
		recHdr := body[pos]
		pos++

		if recHdr&hdrBitCompressed != 0 {
			// Compressed timestamp header: local type in bits 5-6, a
			// 5-bit rolling offset against the last seen timestamp.
			local := (recHdr >> 5) & 0x03
			offset := uint64(recHdr & 0x1F)
			def, ok := defs[local]
			if !ok {
				return file, fmt.Errorf("%w: data message for undefined local type %d", ErrMalformed, local)
			}
			n, rec, ok := decodeData(body[pos:], def)
			if !ok {
				file.Truncated = true
				return file, nil
			}
			pos += n

			if lastTimestamp != 0 {
				ts := (lastTimestamp &^ 0x1F) | offset
				if ts < lastTimestamp {
					ts += 0x20
				}
				lastTimestamp = ts
				rec.Fields = append(rec.Fields, syntheticTimestamp(def.mesgNum, ts))
			}
			file.Records = append(file.Records, rec)
			continue
		}

		local := recHdr & hdrMaskLocal

		if recHdr&hdrBitDefinition != 0 {
			n, def, err := decodeDefinition(body[pos:], recHdr&hdrBitDevFields != 0)
			if err != nil {
				if errors.Is(err, errShortBuffer) {
					file.Truncated = true
					return file, nil
				}
				return file, err
			}
			pos += n
			defs[local] = def
			continue
		}

		def, ok := defs[local]
		if !ok {
			return file, fmt.Errorf("%w: data message for undefined local type %d", ErrMalformed, local)
		}
		n, rec, ok := decodeData(body[pos:], def)
		if !ok {
			file.Truncated = true
			return file, nil
		}
		pos += n
		if ts, ok := rec.Field(253); ok {
			if v, ok := ts.Uint(); ok {
				lastTimestamp = v
			}
		}
		file.Records = append(file.Records, rec)
	}

	if truncated {
		file.Truncated = true
	}
	return file, nil
}

var errShortBuffer = errors.New("fit: short buffer")

// decodeDefinition parses a definition message body (everything after the
// record header byte) and returns the bytes consumed.
func decodeDefinition(buf []byte, devFields bool) (int, *definition, error) {
	if len(buf) < 5 {
		return 0, nil, errShortBuffer
	}

	var order binary.ByteOrder = binary.LittleEndian
	switch buf[1] {
	case 0:
	case 1:
		order = binary.BigEndian
	default:
		return 0, nil, fmt.Errorf("%w: bad architecture byte %#x", ErrMalformed, buf[1])
	}

	def := &definition{
		mesgNum: order.Uint16(buf[2:4]),
		order:   order,
	}

	numFields := int(buf[4])
	pos := 5
	if len(buf) < pos+numFields*3 {
		return 0, nil, errShortBuffer
	}
	for i := 0; i < numFields; i++ {
		fd := fieldDef{num: buf[pos], size: buf[pos+1], base: baseType(buf[pos+2])}
		if fd.base.size() == 0 {
			return 0, nil, fmt.Errorf("%w: unknown base type %#x", ErrMalformed, buf[pos+2])
		}
		if fd.size == 0 {
			return 0, nil, fmt.Errorf("%w: zero-size field", ErrMalformed)
		}
		def.fields = append(def.fields, fd)
		pos += 3
	}

	if devFields {
		// Developer fields are opaque here: record their total size so
		// data messages skip them, without decoding rules for them.
		if len(buf) < pos+1 {
			return 0, nil, errShortBuffer
		}
		numDev := int(buf[pos])
		pos++
		if len(buf) < pos+numDev*3 {
			return 0, nil, errShortBuffer
		}
		for i := 0; i < numDev; i++ {
			def.devSize += int(buf[pos+1])
			pos += 3
		}
	}

	return pos, def, nil
}

// decodeData parses one data message against its definition. Returns
// ok=false when the buffer does not hold a complete message, which the
// caller treats as truncation.
func decodeData(buf []byte, def *definition) (int, Record, bool) {
	total := def.dataSize()
	if len(buf) < total {
		return 0, Record{}, false
	}

	rec := Record{
		MesgNum: def.mesgNum,
		Name:    MessageName(def.mesgNum),
		Fields:  make([]Field, 0, len(def.fields)),
	}

	pos := 0
	for _, fd := range def.fields {
		raw := buf[pos : pos+int(fd.size)]
		pos += int(fd.size)

		f := Field{Num: fd.num, base: fd.base}
		if rule, ok := lookupRule(def.mesgNum, fd.num); ok {
			f.Name = rule.name
			f.scale = rule.scale
			f.offset = rule.offset
		}

		switch {
		case fd.base == baseString:
			f.decodeString(raw)
		case int(fd.size) == fd.base.size():
			f.decodeScalar(raw, def.order, fd.base)
		case int(fd.size) > fd.base.size():
			// Array field: keep the first element. None of the fields
			// the normalizer consumes are arrays.
			f.decodeScalar(raw[:fd.base.size()], def.order, fd.base)
		default:
			// Declared shorter than its base type; carry it as invalid.
			f.valid = false
		}

		rec.Fields = append(rec.Fields, f)
	}

	return total, rec, true
}

func (f *Field) decodeString(raw []byte) {
	end := 0
	for end < len(raw) && raw[end] != 0 {
		end++
	}
	if end == 0 {
		f.valid = false
		return
	}
	f.valid = true
	f.str = string(raw[:end])
}

// syntheticTimestamp materializes the rolling timestamp of a compressed
// header as an ordinary timestamp field.
func syntheticTimestamp(mesgNum uint16, ts uint64) Field {
	f := Field{Num: 253, base: baseUint32, valid: true, u: ts}
	if rule, ok := lookupRule(mesgNum, 253); ok {
		f.Name = rule.name
		f.scale = rule.scale
		f.offset = rule.offset
	}
	return f
}
