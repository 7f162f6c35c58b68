package testutil

import (
	"bytes"
	"encoding/binary"
	"time"

	"trk-go/internal/fit"
)

// FieldSpec mirrors one field slot of a definition message.
type FieldSpec struct {
	Num  byte
	Size byte
	Base byte
}

// RecorderFile hand-encodes recorder files for tests: valid files,
// truncated files, corrupt headers, unknown message types. Encoding by
// hand keeps fixtures independent of the decoder under test.
type RecorderFile struct {
	body bytes.Buffer
}

func NewRecorderFile() *RecorderFile {
	return &RecorderFile{}
}

// Definition appends a definition message binding mesgNum to the local
// message type. Little-endian architecture.
func (r *RecorderFile) Definition(local byte, mesgNum uint16, specs ...FieldSpec) *RecorderFile {
	r.body.WriteByte(0x40 | (local & 0x0F))
	r.body.WriteByte(0) // reserved
	r.body.WriteByte(0) // little-endian
	var num [2]byte
	binary.LittleEndian.PutUint16(num[:], mesgNum)
	r.body.Write(num[:])
	r.body.WriteByte(byte(len(specs)))
	for _, s := range specs {
		r.body.Write([]byte{s.Num, s.Size, s.Base})
	}
	return r
}

// Data appends a data message for the local type with a raw payload.
func (r *RecorderFile) Data(local byte, payload ...byte) *RecorderFile {
	r.body.WriteByte(local & 0x0F)
	r.body.Write(payload)
	return r
}

// CompressedData appends a compressed-timestamp data message.
func (r *RecorderFile) CompressedData(local byte, offset byte, payload ...byte) *RecorderFile {
	r.body.WriteByte(0x80 | ((local & 0x03) << 5) | (offset & 0x1F))
	r.body.Write(payload)
	return r
}

// Bytes renders the complete file: 14-byte header with checksum, body,
// trailing file checksum.
func (r *RecorderFile) Bytes() []byte {
	hdr := r.header(uint32(r.body.Len()))
	out := append(hdr, r.body.Bytes()...)
	crc := fit.Checksum(0, out)
	var tail [2]byte
	binary.LittleEndian.PutUint16(tail[:], crc)
	return append(out, tail[:]...)
}

// TruncatedBytes renders the file with the header declaring the full body
// length but the last drop bytes (and the trailing checksum) missing.
func (r *RecorderFile) TruncatedBytes(drop int) []byte {
	hdr := r.header(uint32(r.body.Len()))
	body := r.body.Bytes()
	if drop > len(body) {
		drop = len(body)
	}
	return append(hdr, body[:len(body)-drop]...)
}

// BadHeaderBytes renders the file with a deliberately wrong header
// checksum.
func (r *RecorderFile) BadHeaderBytes() []byte {
	out := r.Bytes()
	out[12] ^= 0xFF
	return out
}

func (r *RecorderFile) header(dataSize uint32) []byte {
	hdr := make([]byte, 14)
	hdr[0] = 14
	hdr[1] = 0x20 // protocol version
	binary.LittleEndian.PutUint16(hdr[2:4], 21)
	binary.LittleEndian.PutUint32(hdr[4:8], dataSize)
	copy(hdr[8:12], ".FIT")
	binary.LittleEndian.PutUint16(hdr[12:14], fit.Checksum(0, hdr[:12]))
	return hdr
}

// Little-endian value encoders for data payloads.

func U8(v uint8) []byte { return []byte{v} }

func U16(v uint16) []byte {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return b[:]
}

func U32(v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b[:]
}

func S32(v int32) []byte { return U32(uint32(v)) }

// Cat concatenates payload fragments into one data payload.
func Cat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// RecorderTS converts a wall-clock time to the recorder's 32-bit epoch.
func RecorderTS(t time.Time) uint32 {
	return uint32(t.Unix() - 631065600)
}

// ActivityFile builds a typical single-session ride: one file_id, the
// given number of per-second records, then a session summary covering
// them. This is the canonical fixture for the import pipeline tests.
func ActivityFile(start time.Time, samples int) []byte {
	r := NewRecorderFile()

	r.Definition(0, 0, // file_id
		FieldSpec{Num: 0, Size: 1, Base: 0x00},
		FieldSpec{Num: 4, Size: 4, Base: 0x86},
	)
	r.Data(0, Cat(U8(4), U32(RecorderTS(start)))...)

	r.Definition(1, 20, // record
		FieldSpec{Num: 253, Size: 4, Base: 0x86},
		FieldSpec{Num: 3, Size: 1, Base: 0x02},
		FieldSpec{Num: 5, Size: 4, Base: 0x86},
		FieldSpec{Num: 6, Size: 2, Base: 0x84},
	)
	for i := 0; i < samples; i++ {
		ts := RecorderTS(start.Add(time.Duration(i) * time.Second))
		hr := uint8(120 + i%20)
		distCM := uint32(i) * 800 // 8 m/s
		speedMMS := uint16(8000)
		r.Data(1, Cat(U32(ts), U8(hr), U32(distCM), U16(speedMMS))...)
	}

	r.Definition(2, 18, // session
		FieldSpec{Num: 2, Size: 4, Base: 0x86},
		FieldSpec{Num: 5, Size: 1, Base: 0x00},
		FieldSpec{Num: 7, Size: 4, Base: 0x86},
		FieldSpec{Num: 9, Size: 4, Base: 0x86},
		FieldSpec{Num: 16, Size: 1, Base: 0x02},
	)
	elapsedMS := uint32(samples) * 1000
	distCM := uint32(samples) * 800
	r.Data(2, Cat(U32(RecorderTS(start)), U8(2), U32(elapsedMS), U32(distCM), U8(130))...)

	return r.Bytes()
}
