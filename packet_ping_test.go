//nolint:dupl // Similar test structure for PINGREQ and PINGRESP
package mqtt5

import (
	"bytes"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPingPacketsType(t *testing.T) {
	assert.Equal(t, PacketPINGREQ, (&PingreqPacket{}).Type())
	assert.Equal(t, PacketPINGRESP, (&PingrespPacket{}).Type())
}

func TestPingPacketsEncodeDecode(t *testing.T) {
	t.Run("PINGREQ", func(t *testing.T) {
		packet := PingreqPacket{}

		var buf bytes.Buffer
		n, err := packet.Encode(&buf)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		var header FixedHeader
		_, err = header.Decode(&buf)
		require.NoError(t, err)
		assert.Equal(t, PacketPINGREQ, header.PacketType)
		assert.Equal(t, byte(0x00), header.Flags)
		assert.Equal(t, uint32(0), header.RemainingLength)

		var decoded PingreqPacket
		_, err = decoded.Decode(&buf, header)
		require.NoError(t, err)
	})

	t.Run("PINGRESP", func(t *testing.T) {
		packet := PingrespPacket{}

		var buf bytes.Buffer
		n, err := packet.Encode(&buf)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		var header FixedHeader
		_, err = header.Decode(&buf)
		require.NoError(t, err)
		assert.Equal(t, PacketPINGRESP, header.PacketType)
		assert.Equal(t, byte(0x00), header.Flags)
		assert.Equal(t, uint32(0), header.RemainingLength)

		var decoded PingrespPacket
		_, err = decoded.Decode(&buf, header)
		require.NoError(t, err)
	})
}

func TestPingreqPacketDecodeRejections(t *testing.T) {
	cases := map[string]struct {
		header  FixedHeader
		wantErr error
	}{
		"wrong packet type": {FixedHeader{PacketType: PacketPUBLISH, Flags: 0x00}, ErrInvalidPacketType},
		"nonzero flags":     {FixedHeader{PacketType: PacketPINGREQ, Flags: 0x01}, ErrInvalidPacketFlags},
		"nonzero length":    {FixedHeader{PacketType: PacketPINGREQ, Flags: 0x00, RemainingLength: 1}, ErrProtocolViolation},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			var p PingreqPacket
			_, err := p.Decode(bytes.NewReader(nil), tc.header)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestPingrespPacketDecodeRejections(t *testing.T) {
	cases := map[string]struct {
		header  FixedHeader
		wantErr error
	}{
		"wrong packet type": {FixedHeader{PacketType: PacketPUBLISH, Flags: 0x00}, ErrInvalidPacketType},
		"nonzero flags":     {FixedHeader{PacketType: PacketPINGRESP, Flags: 0x01}, ErrInvalidPacketFlags},
		"nonzero length":    {FixedHeader{PacketType: PacketPINGRESP, Flags: 0x00, RemainingLength: 1}, ErrProtocolViolation},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			var p PingrespPacket
			_, err := p.Decode(bytes.NewReader(nil), tc.header)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestPingPacketsValidation(t *testing.T) {
	assert.NoError(t, (&PingreqPacket{}).Validate())
	assert.NoError(t, (&PingrespPacket{}).Validate())
}

func BenchmarkPingPacketsEncode(b *testing.B) {
	b.Run("PINGREQ", func(b *testing.B) {
		packet := PingreqPacket{}
		var buf bytes.Buffer
		buf.Grow(4)
		b.ReportAllocs()
		for b.Loop() {
			buf.Reset()
			_, _ = packet.Encode(&buf)
		}
	})

	b.Run("PINGRESP", func(b *testing.B) {
		packet := PingrespPacket{}
		var buf bytes.Buffer
		buf.Grow(4)
		b.ReportAllocs()
		for b.Loop() {
			buf.Reset()
			_, _ = packet.Encode(&buf)
		}
	})
}

func FuzzPingreqPacketDecode(f *testing.F) {
	packet := PingreqPacket{}
	var buf bytes.Buffer
	_, _ = packet.Encode(&buf)
	f.Add(buf.Bytes())
	f.Add([]byte{0xC0, 0x00})

	for range 10 {
		data := make([]byte, rand.IntN(8)+1)
		for i := range data {
			data[i] = byte(rand.IntN(256))
		}
		f.Add(data)
	}

	f.Fuzz(func(_ *testing.T, data []byte) {
		r := bytes.NewReader(data)
		var header FixedHeader
		_, err := header.Decode(r)
		if err != nil || header.PacketType != PacketPINGREQ {
			return
		}

		var p PingreqPacket
		_, _ = p.Decode(r, header)
	})
}

func FuzzPingrespPacketDecode(f *testing.F) {
	packet := PingrespPacket{}
	var buf bytes.Buffer
	_, _ = packet.Encode(&buf)
	f.Add(buf.Bytes())
	f.Add([]byte{0xD0, 0x00})

	for range 10 {
		data := make([]byte, rand.IntN(8)+1)
		for i := range data {
			data[i] = byte(rand.IntN(256))
		}
		f.Add(data)
	}

	f.Fuzz(func(_ *testing.T, data []byte) {
		r := bytes.NewReader(data)
		var header FixedHeader
		_, err := header.Decode(r)
		if err != nil || header.PacketType != PacketPINGRESP {
			return
		}

		var p PingrespPacket
		_, _ = p.Decode(r, header)
	})
}
