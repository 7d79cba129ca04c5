package codec

import (
	"bytes"
	"math"
	"math/rand"
	"reflect"
	"testing"
	"testing/quick"

	"github.com/moulars/moulars/internal/wireerr"
)

func TestPrimitivesRoundTrip(t *testing.T) {
	w := NewWriter(64)
	w.WriteUint8(0xAB)
	w.WriteUint16(0x1234)
	w.WriteUint32(0xDEADBEEF)
	w.WriteInt32(-12345)
	w.WriteUint64(0x0102030405060708)
	w.WriteFloat(3.5)
	w.WriteDouble(-2.25)
	u := [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	w.WriteUUID(u)

	r := NewReader(w.Bytes())

	if b, err := r.ReadUint8(); err != nil || b != 0xAB {
		t.Fatalf("ReadUint8 = %v, %v", b, err)
	}
	if v, err := r.ReadUint16(); err != nil || v != 0x1234 {
		t.Fatalf("ReadUint16 = %v, %v", v, err)
	}
	if v, err := r.ReadUint32(); err != nil || v != 0xDEADBEEF {
		t.Fatalf("ReadUint32 = %v, %v", v, err)
	}
	if v, err := r.ReadInt32(); err != nil || v != -12345 {
		t.Fatalf("ReadInt32 = %v, %v", v, err)
	}
	if v, err := r.ReadUint64(); err != nil || v != 0x0102030405060708 {
		t.Fatalf("ReadUint64 = %v, %v", v, err)
	}
	if v, err := r.ReadFloat(); err != nil || v != 3.5 {
		t.Fatalf("ReadFloat = %v, %v", v, err)
	}
	if v, err := r.ReadDouble(); err != nil || v != -2.25 {
		t.Fatalf("ReadDouble = %v, %v", v, err)
	}
	if got, err := r.ReadUUID(); err != nil || got != u {
		t.Fatalf("ReadUUID = %v, %v", got, err)
	}
	if r.Remaining() != 0 {
		t.Fatalf("Remaining = %d, want 0", r.Remaining())
	}
}

// TestSafeStringRoundTrip is the §8 property test: any byte-representable
// ASCII string up to 32767 bytes must survive WriteSafeString/ReadSafeString.
func TestSafeStringRoundTrip(t *testing.T) {
	f := func(s string) bool {
		if len(s) > 32767 {
			s = s[:32767]
		}
		clean := make([]byte, len(s))
		for i := 0; i < len(s); i++ {
			clean[i] = s[i] &^ 0x80 // keep within a single byte's ASCII-safe range
		}
		want := string(clean)

		w := NewWriter(len(want) + 4)
		w.WriteSafeString(want)
		r := NewReader(w.Bytes())
		got, err := r.ReadSafeString()
		if err != nil {
			t.Logf("unexpected error: %v", err)
			return false
		}
		return got == want
	}
	cfg := &quick.Config{
		// Generate strings of up to 4096 bytes.
		Values: func(args []reflect.Value, rnd *rand.Rand) {
			b := make([]byte, rnd.Intn(4097))
			rnd.Read(b)
			args[0] = reflect.ValueOf(string(b))
		},
	}
	if err := quick.Check(f, cfg); err != nil {
		t.Fatal(err)
	}
}

func TestSafeStringOverrunIsProtocolError(t *testing.T) {
	// Claim a length far larger than the buffer actually holds.
	w := NewWriter(4)
	w.WriteUint16(uint16(60000) | 0x8000)
	r := NewReader(w.Bytes())
	_, err := r.ReadSafeString()
	if err == nil {
		t.Fatal("expected an error for truncated safe string")
	}
	if wireerr.KindOf(err) != wireerr.KindProtocol {
		t.Fatalf("KindOf = %v, want Protocol", wireerr.KindOf(err))
	}
}

func TestString16NullTerminatedRoundTrip(t *testing.T) {
	w := NewWriter(32)
	w.WriteString16("héllo wörld", true)
	r := NewReader(w.Bytes())
	got, err := r.ReadString16(true, 0)
	if err != nil {
		t.Fatalf("ReadString16: %v", err)
	}
	if got != "héllo wörld" {
		t.Fatalf("got %q", got)
	}
}

func TestString16SurrogatePairRoundTrip(t *testing.T) {
	const s = "\U0001F600" // outside the BMP, needs a surrogate pair
	w := NewWriter(8)
	w.WriteString16(s, true)
	r := NewReader(w.Bytes())
	got, err := r.ReadString16(true, 0)
	if err != nil {
		t.Fatalf("ReadString16: %v", err)
	}
	if got != s {
		t.Fatalf("got %q, want %q", got, s)
	}
}

func TestBlobRoundTripAndLimit(t *testing.T) {
	payload := bytes.Repeat([]byte{0x42}, 128)
	w := NewWriter(len(payload) + 8)
	w.WriteBlob(payload)
	r := NewReader(w.Bytes())
	r.SetLimits(64, 64)
	if _, err := r.ReadBlob(); err == nil {
		t.Fatal("expected blob over the configured limit to fail")
	}

	r2 := NewReader(w.Bytes())
	got, err := r2.ReadBlob()
	if err != nil {
		t.Fatalf("ReadBlob: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("blob mismatch")
	}
}

func TestReadPastEndIsProtocolError(t *testing.T) {
	r := NewReader([]byte{0x01})
	_, err := r.ReadUint32()
	if err == nil {
		t.Fatal("expected error reading past end")
	}
	if wireerr.KindOf(err) != wireerr.KindProtocol {
		t.Fatalf("KindOf = %v, want Protocol", wireerr.KindOf(err))
	}
}

func TestWriterPoolResetsBuffer(t *testing.T) {
	w := Get()
	w.WriteUint32(1)
	w.Put()

	w2 := Get()
	defer w2.Put()
	if w2.Len() != 0 {
		t.Fatalf("pooled writer not reset, Len = %d", w2.Len())
	}
}

func TestFloatBitPatterns(t *testing.T) {
	w := NewWriter(8)
	w.WriteFloat(float32(math.NaN()))
	r := NewReader(w.Bytes())
	v, err := r.ReadFloat()
	if err != nil {
		t.Fatalf("ReadFloat: %v", err)
	}
	if !math.IsNaN(float64(v)) {
		t.Fatalf("expected NaN, got %v", v)
	}
}
