package fit_test

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trk-go/internal/fit"
	"trk-go/internal/testutil"
)

func TestDecodeHeader(t *testing.T) {
	t.Run("accepts valid header", func(t *testing.T) {
		data := testutil.NewRecorderFile().Bytes()
		hdr, err := fit.DecodeHeader(data)
		require.NoError(t, err)
		assert.Equal(t, byte(14), hdr.Size)
		assert.Equal(t, uint32(0), hdr.DataSize)
	})

	t.Run("rejects short input", func(t *testing.T) {
		_, err := fit.DecodeHeader([]byte{14, 0x20})
		assert.ErrorIs(t, err, fit.ErrCorruptHeader)
	})

	t.Run("rejects missing tag", func(t *testing.T) {
		data := testutil.NewRecorderFile().Bytes()
		copy(data[8:12], "JUNK")
		_, err := fit.DecodeHeader(data)
		assert.ErrorIs(t, err, fit.ErrCorruptHeader)
	})

	t.Run("rejects checksum mismatch before trusting data size", func(t *testing.T) {
		data := testutil.NewRecorderFile().BadHeaderBytes()
		_, err := fit.DecodeHeader(data)
		assert.ErrorIs(t, err, fit.ErrCorruptHeader)
	})

	t.Run("accepts legacy 12-byte header", func(t *testing.T) {
		hdr := make([]byte, 12)
		hdr[0] = 12
		hdr[1] = 0x10
		binary.LittleEndian.PutUint32(hdr[4:8], 0)
		copy(hdr[8:12], ".FIT")
		parsed, err := fit.DecodeHeader(hdr)
		require.NoError(t, err)
		assert.Equal(t, byte(12), parsed.Size)
	})
}

func TestDecode_OrderPreserved(t *testing.T) {
	start := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	r := testutil.NewRecorderFile()
	r.Definition(0, 20,
		testutil.FieldSpec{Num: 253, Size: 4, Base: 0x86},
		testutil.FieldSpec{Num: 3, Size: 1, Base: 0x02},
	)
	for i := 0; i < 5; i++ {
		ts := testutil.RecorderTS(start.Add(time.Duration(i) * time.Second))
		r.Data(0, testutil.Cat(testutil.U32(ts), testutil.U8(byte(100+i)))...)
	}

	file, err := fit.Decode(r.Bytes())
	require.NoError(t, err)
	require.Len(t, file.Records, 5)
	assert.False(t, file.Truncated)

	for i, rec := range file.Records {
		assert.Equal(t, fit.MesgRecord, rec.MesgNum)
		hr, ok := rec.Field(3)
		require.True(t, ok)
		v, ok := hr.Uint()
		require.True(t, ok)
		assert.Equal(t, uint64(100+i), v)
	}
}

func TestDecode_UnknownMessageType(t *testing.T) {
	// An unrecognized global message number between two known records
	// must not change how the known records decode.
	r := testutil.NewRecorderFile()
	r.Definition(0, 20, testutil.FieldSpec{Num: 3, Size: 1, Base: 0x02})
	r.Data(0, testutil.U8(101)...)
	r.Definition(1, 9999, testutil.FieldSpec{Num: 0, Size: 4, Base: 0x86})
	r.Data(1, testutil.U32(42)...)
	r.Data(0, testutil.U8(102)...)

	file, err := fit.Decode(r.Bytes())
	require.NoError(t, err)
	require.Len(t, file.Records, 3)

	assert.Equal(t, "record", file.Records[0].Name)
	assert.Equal(t, "", file.Records[1].Name, "unknown type carries no profile name")
	assert.Equal(t, "record", file.Records[2].Name)

	for _, i := range []int{0, 2} {
		hr, ok := file.Records[i].Field(3)
		require.True(t, ok)
		assert.True(t, hr.Valid())
	}
}

func TestDecode_Truncated(t *testing.T) {
	start := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	data := testutil.ActivityFile(start, 10)

	// Drop enough bytes to lose the session message and part of a record.
	short := data[:len(data)-40]

	file, err := fit.Decode(short)
	require.NoError(t, err, "truncation is a flagged partial success, not a failure")
	assert.True(t, file.Truncated)
	assert.NotEmpty(t, file.Records, "records before the cut survive")

	full, err := fit.Decode(data)
	require.NoError(t, err)
	assert.Greater(t, len(full.Records), len(file.Records))

	// Every surviving record matches its counterpart in the full decode.
	for i, rec := range file.Records {
		assert.Equal(t, full.Records[i].MesgNum, rec.MesgNum)
		assert.Equal(t, len(full.Records[i].Fields), len(rec.Fields))
	}
}

func TestDecode_FileChecksumMismatch(t *testing.T) {
	data := testutil.ActivityFile(time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC), 3)
	data[len(data)-1] ^= 0xFF

	_, err := fit.Decode(data)
	assert.ErrorIs(t, err, fit.ErrChecksum)
}

func TestDecode_UndefinedLocalType(t *testing.T) {
	r := testutil.NewRecorderFile()
	r.Data(7, testutil.U8(1)...)

	_, err := fit.Decode(r.Bytes())
	assert.ErrorIs(t, err, fit.ErrMalformed)
}

func TestDecode_ScaledAndInvalidValues(t *testing.T) {
	r := testutil.NewRecorderFile()
	r.Definition(0, 20,
		testutil.FieldSpec{Num: 2, Size: 2, Base: 0x84}, // altitude, scale 5 offset 500
		testutil.FieldSpec{Num: 6, Size: 2, Base: 0x84}, // speed, scale 1000
		testutil.FieldSpec{Num: 3, Size: 1, Base: 0x02}, // heart_rate
		testutil.FieldSpec{Num: 0, Size: 4, Base: 0x85}, // position_lat, semicircles
	)
	// altitude raw 3100 -> 3100/5-500 = 120 m; speed raw 2500 -> 2.5 m/s;
	// heart rate 0xFF is the invalid sentinel; latitude 2^29 -> 45 degrees.
	r.Data(0, testutil.Cat(
		testutil.U16(3100),
		testutil.U16(2500),
		testutil.U8(0xFF),
		testutil.S32(1<<29),
	)...)

	file, err := fit.Decode(r.Bytes())
	require.NoError(t, err)
	require.Len(t, file.Records, 1)
	rec := file.Records[0]

	alt, _ := rec.Field(2)
	v, ok := alt.Scaled()
	require.True(t, ok)
	assert.Equal(t, 120.0, v)

	speed, _ := rec.Field(6)
	v, ok = speed.Scaled()
	require.True(t, ok)
	assert.Equal(t, 2.5, v)

	hr, _ := rec.Field(3)
	assert.False(t, hr.Valid(), "invalid sentinel must read as absent, not zero")
	_, ok = hr.Uint()
	assert.False(t, ok)

	lat, _ := rec.Field(0)
	deg, ok := lat.Degrees()
	require.True(t, ok)
	assert.Equal(t, 45.0, deg)
}

func TestDecode_CompressedTimestamp(t *testing.T) {
	start := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	base := testutil.RecorderTS(start)

	r := testutil.NewRecorderFile()
	r.Definition(0, 20,
		testutil.FieldSpec{Num: 253, Size: 4, Base: 0x86},
		testutil.FieldSpec{Num: 3, Size: 1, Base: 0x02},
	)
	r.Data(0, testutil.Cat(testutil.U32(base), testutil.U8(100))...)

	r.Definition(1, 20, testutil.FieldSpec{Num: 3, Size: 1, Base: 0x02})
	r.CompressedData(1, byte((base+2)&0x1F), testutil.U8(101)...)

	file, err := fit.Decode(r.Bytes())
	require.NoError(t, err)
	require.Len(t, file.Records, 2)

	ts, ok := file.Records[1].Field(253)
	require.True(t, ok, "compressed header materializes a timestamp field")
	got, ok := ts.Time()
	require.True(t, ok)
	assert.Equal(t, start.Add(2*time.Second), got)
}

func TestChecksum_AppendedCRCZeroes(t *testing.T) {
	data := []byte("recorder payload bytes")
	crc := fit.Checksum(0, data)
	var tail [2]byte
	binary.LittleEndian.PutUint16(tail[:], crc)
	assert.Equal(t, uint16(0), fit.Checksum(0, append(data, tail[:]...)))
}
