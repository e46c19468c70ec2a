package mqtt5

import (
	"bytes"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ackWireFixtures pairs each acknowledgement-shaped packet type with
// the PropertyContext decodeAck needs to validate its properties, so
// the round-trip table below can drive all four at once.
func ackWireFixtures() map[PacketType]struct {
	flags   byte
	propCtx PropertyContext
	ack     ackPacket
} {
	return map[PacketType]struct {
		flags   byte
		propCtx PropertyContext
		ack     ackPacket
	}{
		PacketPUBACK:  {0x00, PropCtxPUBACK, ackPacket{PacketID: 1, ReasonCode: ReasonSuccess}},
		PacketPUBREC:  {0x00, PropCtxPUBREC, ackPacket{PacketID: 100, ReasonCode: ReasonNoMatchingSubscribers}},
		PacketPUBCOMP: {0x00, PropCtxPUBCOMP, ackPacket{PacketID: 65535, ReasonCode: ReasonSuccess}},
		PacketPUBREL:  {pubrelFixedFlags, PropCtxPUBREL, ackPacket{PacketID: 12345, ReasonCode: ReasonPacketIDNotFound}},
	}
}

func TestAckPacketEncodeDecode(t *testing.T) {
	for pt, fixture := range ackWireFixtures() {
		t.Run(pt.String(), func(t *testing.T) {
			var buf bytes.Buffer
			n, err := encodeAck(&buf, pt, fixture.flags, &fixture.ack)
			require.NoError(t, err)
			assert.Greater(t, n, 0)

			var header FixedHeader
			_, err = header.Decode(&buf)
			require.NoError(t, err)
			assert.Equal(t, pt, header.PacketType)
			assert.Equal(t, fixture.flags, header.Flags)

			var decoded ackPacket
			_, err = decodeAck(&buf, header, &decoded, fixture.propCtx)
			require.NoError(t, err)

			assert.Equal(t, fixture.ack.PacketID, decoded.PacketID)
			assert.Equal(t, fixture.ack.ReasonCode, decoded.ReasonCode)
		})
	}
}

func TestAckPacketWithProperties(t *testing.T) {
	ack := ackPacket{PacketID: 42, ReasonCode: ReasonSuccess}
	ack.Props.Set(PropReasonString, "test reason")
	ack.Props.Add(PropUserProperty, StringPair{Key: "key", Value: "value"})

	var buf bytes.Buffer
	n, err := encodeAck(&buf, PacketPUBACK, 0x00, &ack)
	require.NoError(t, err)
	assert.Greater(t, n, 0)

	var header FixedHeader
	_, err = header.Decode(&buf)
	require.NoError(t, err)

	var decoded ackPacket
	_, err = decodeAck(&buf, header, &decoded, PropCtxPUBACK)
	require.NoError(t, err)

	assert.Equal(t, ack.PacketID, decoded.PacketID)
	assert.Equal(t, ack.ReasonCode, decoded.ReasonCode)
	assert.Equal(t, "test reason", decoded.Props.GetString(PropReasonString))
	ups := decoded.Props.GetAllStringPairs(PropUserProperty)
	require.Len(t, ups, 1)
	assert.Equal(t, "key", ups[0].Key)
	assert.Equal(t, "value", ups[0].Value)
}

// TestAckPacketDecodeShortForms covers the three lengths of PUBACK payload the wire
// format allows to shrink to: packet-ID-only (QoS-success shortcut),
// packet ID plus reason code, and packet ID plus reason code plus an
// explicit empty properties byte.
func TestAckPacketDecodeShortForms(t *testing.T) {
	cases := map[string]struct {
		data       []byte
		wantReason ReasonCode
	}{
		"packet ID only, reason implied success": {[]byte{0x00, 0x01}, ReasonSuccess},
		"packet ID and explicit reason code":      {[]byte{0x00, 0x01, 0x10}, ReasonNoMatchingSubscribers},
		"packet ID, reason, and empty properties":  {[]byte{0x00, 0x01, 0x00, 0x00}, ReasonSuccess},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			header := FixedHeader{PacketType: PacketPUBACK, RemainingLength: uint32(len(tc.data))}
			var ack ackPacket
			n, err := decodeAck(bytes.NewReader(tc.data), header, &ack, PropCtxPUBACK)
			require.NoError(t, err)
			assert.Equal(t, len(tc.data), n)
			assert.Equal(t, uint16(1), ack.PacketID)
			assert.Equal(t, tc.wantReason, ack.ReasonCode)
		})
	}
}

func TestAckPacketDecodeTruncated(t *testing.T) {
	header := FixedHeader{PacketType: PacketPUBACK, RemainingLength: 2}

	for name, data := range map[string][]byte{
		"empty reader":         {},
		"one byte of packet ID": {0x00},
	} {
		t.Run(name, func(t *testing.T) {
			var ack ackPacket
			_, err := decodeAck(bytes.NewReader(data), header, &ack, PropCtxPUBACK)
			assert.Error(t, err)
		})
	}
}

func BenchmarkAckPacketCodec(b *testing.B) {
	plain := ackPacket{PacketID: 1, ReasonCode: ReasonSuccess}
	withProps := ackPacket{PacketID: 1, ReasonCode: ReasonSuccess}
	withProps.Props.Set(PropReasonString, "OK")

	b.Run("encode_plain", func(b *testing.B) {
		var buf bytes.Buffer
		buf.Grow(16)
		b.ReportAllocs()
		for b.Loop() {
			buf.Reset()
			_, _ = encodeAck(&buf, PacketPUBACK, 0x00, &plain)
		}
	})

	b.Run("encode_with_properties", func(b *testing.B) {
		var buf bytes.Buffer
		buf.Grow(32)
		b.ReportAllocs()
		for b.Loop() {
			buf.Reset()
			_, _ = encodeAck(&buf, PacketPUBACK, 0x00, &withProps)
		}
	})

	b.Run("decode", func(b *testing.B) {
		var buf bytes.Buffer
		_, _ = encodeAck(&buf, PacketPUBACK, 0x00, &plain)
		data := buf.Bytes()
		b.ReportAllocs()
		for b.Loop() {
			r := bytes.NewReader(data)
			var header FixedHeader
			_, _ = header.Decode(r)
			var p ackPacket
			_, _ = decodeAck(r, header, &p, PropCtxPUBACK)
		}
	})
}

func FuzzAckPacketDecode(f *testing.F) {
	ack := ackPacket{PacketID: 1, ReasonCode: ReasonSuccess}
	var buf bytes.Buffer
	_, _ = encodeAck(&buf, PacketPUBACK, 0x00, &ack)
	f.Add(buf.Bytes())

	f.Add([]byte{0x40, 0x02, 0x00, 0x01})
	f.Add([]byte{0x40, 0x03, 0x00, 0x01, 0x00})
	f.Add([]byte{0x40, 0x04, 0x00, 0x01, 0x00, 0x00})

	for range 10 {
		data := make([]byte, rand.IntN(32)+1)
		for i := range data {
			data[i] = byte(rand.IntN(256))
		}
		f.Add(data)
	}

	f.Fuzz(func(_ *testing.T, data []byte) {
		r := bytes.NewReader(data)
		var header FixedHeader
		n, err := header.Decode(r)
		if err != nil {
			return
		}

		remaining := data[n:]
		if len(remaining) < int(header.RemainingLength) {
			return
		}

		var ack ackPacket
		_, _ = decodeAck(bytes.NewReader(remaining), header, &ack, PropCtxPUBACK)
	})
}
