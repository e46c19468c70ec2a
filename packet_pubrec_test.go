//nolint:dupl // Similar test structure for similar packet types
package mqtt5

import (
	"bytes"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPubrecPacketType(t *testing.T) {
	p := &PubrecPacket{}
	assert.Equal(t, PacketPUBREC, p.Type())
}

func TestPubrecPacketAccessors(t *testing.T) {
	p := &PubrecPacket{}

	p.Props.Set(PropReasonString, "test reason")
	require.NotNil(t, p.Properties())
	assert.Equal(t, "test reason", p.Properties().GetString(PropReasonString))

	p.SetPacketID(54321)
	assert.Equal(t, uint16(54321), p.GetPacketID())
}

func TestPubrecPacketEncodeDecode(t *testing.T) {
	cases := map[string]PubrecPacket{
		"success":         {PacketID: 1, ReasonCode: ReasonSuccess},
		"quota exceeded": {PacketID: 100, ReasonCode: ReasonQuotaExceeded},
	}

	for name, packet := range cases {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			n, err := packet.Encode(&buf)
			require.NoError(t, err)
			assert.Greater(t, n, 0)

			var header FixedHeader
			_, err = header.Decode(&buf)
			require.NoError(t, err)
			assert.Equal(t, PacketPUBREC, header.PacketType)

			var decoded PubrecPacket
			_, err = decoded.Decode(&buf, header)
			require.NoError(t, err)

			assert.Equal(t, packet.PacketID, decoded.PacketID)
			assert.Equal(t, packet.ReasonCode, decoded.ReasonCode)
		})
	}
}

func TestPubrecPacketValidation(t *testing.T) {
	cases := map[string]struct {
		packet  PubrecPacket
		wantErr error
	}{
		"valid":               {PubrecPacket{PacketID: 1, ReasonCode: ReasonSuccess}, nil},
		"invalid reason code": {PubrecPacket{PacketID: 1, ReasonCode: ReasonGrantedQoS1}, ErrInvalidReasonCode},
		"zero packet ID":      {PubrecPacket{PacketID: 0, ReasonCode: ReasonSuccess}, ErrInvalidPacketID},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := tc.packet.Validate()
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPubrecPacketDecodeErrors(t *testing.T) {
	t.Run("invalid packet type", func(t *testing.T) {
		header := FixedHeader{PacketType: PacketPUBLISH, RemainingLength: 2}
		var p PubrecPacket
		_, err := p.Decode(bytes.NewReader([]byte{0x00, 0x01}), header)
		assert.ErrorIs(t, err, ErrInvalidPacketType)
	})

	t.Run("truncated packet", func(t *testing.T) {
		header := FixedHeader{PacketType: PacketPUBREC, RemainingLength: 2}
		var p PubrecPacket
		_, err := p.Decode(bytes.NewReader([]byte{}), header)
		assert.Error(t, err)
	})
}

func BenchmarkPubrecPacketEncode(b *testing.B) {
	packet := PubrecPacket{PacketID: 1, ReasonCode: ReasonSuccess}
	var buf bytes.Buffer
	buf.Grow(16)
	b.ReportAllocs()

	for b.Loop() {
		buf.Reset()
		_, _ = packet.Encode(&buf)
	}
}

func FuzzPubrecPacketDecode(f *testing.F) {
	packet := PubrecPacket{PacketID: 1, ReasonCode: ReasonSuccess}
	var buf bytes.Buffer
	_, _ = packet.Encode(&buf)
	f.Add(buf.Bytes())
	f.Add([]byte{0x50, 0x02, 0x00, 0x01})

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
		if err != nil || header.PacketType != PacketPUBREC {
			return
		}

		remaining := data[n:]
		if len(remaining) < int(header.RemainingLength) {
			return
		}

		var p PubrecPacket
		_, _ = p.Decode(bytes.NewReader(remaining), header)
	})
}
