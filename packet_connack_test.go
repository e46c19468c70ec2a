package mqtt5

import (
	"bytes"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnackPacketType(t *testing.T) {
	p := &ConnackPacket{}
	assert.Equal(t, PacketCONNACK, p.Type())
}

func TestConnackPacketProperties(t *testing.T) {
	p := &ConnackPacket{}
	p.Props.Set(PropSessionExpiryInterval, uint32(3600))
	assert.Equal(t, uint32(3600), p.Properties().GetUint32(PropSessionExpiryInterval))
}

func TestConnackPacketEncodeDecode(t *testing.T) {
	cases := map[string]ConnackPacket{
		"success no session":        {SessionPresent: false, ReasonCode: ReasonSuccess},
		"success with session":      {SessionPresent: true, ReasonCode: ReasonSuccess},
		"not authorized":            {SessionPresent: false, ReasonCode: ReasonNotAuthorized},
		"bad username or password": {SessionPresent: false, ReasonCode: ReasonBadUserNameOrPassword},
		"server busy":               {SessionPresent: false, ReasonCode: ReasonServerBusy},
		"malformed packet":          {SessionPresent: false, ReasonCode: ReasonMalformedPacket},
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
			assert.Equal(t, PacketCONNACK, header.PacketType)
			assert.Equal(t, byte(0x00), header.Flags)

			var decoded ConnackPacket
			n3, err := decoded.Decode(&buf, header)
			require.NoError(t, err)
			assert.Equal(t, int(header.RemainingLength), n3)

			assert.Equal(t, packet.SessionPresent, decoded.SessionPresent)
			assert.Equal(t, packet.ReasonCode, decoded.ReasonCode)
		})
	}
}

func TestConnackPacketWithProperties(t *testing.T) {
	packet := ConnackPacket{SessionPresent: false, ReasonCode: ReasonSuccess}
	packet.Props.Set(PropSessionExpiryInterval, uint32(3600))
	packet.Props.Set(PropReceiveMaximum, uint16(100))
	packet.Props.Set(PropMaximumQoS, byte(1))
	packet.Props.Set(PropRetainAvailable, byte(1))
	packet.Props.Set(PropMaximumPacketSize, uint32(1048576))
	packet.Props.Set(PropAssignedClientIdentifier, "assigned-id")
	packet.Props.Set(PropTopicAliasMaximum, uint16(10))
	packet.Props.Set(PropReasonString, "Connection accepted")
	packet.Props.Add(PropUserProperty, StringPair{Key: "key", Value: "value"})
	packet.Props.Set(PropWildcardSubAvailable, byte(1))
	packet.Props.Set(PropSubscriptionIDAvailable, byte(1))
	packet.Props.Set(PropSharedSubAvailable, byte(1))
	packet.Props.Set(PropServerKeepAlive, uint16(120))
	packet.Props.Set(PropResponseInformation, "/response/topic")
	packet.Props.Set(PropServerReference, "server.example.com")
	packet.Props.Set(PropAuthenticationMethod, "PLAIN")
	packet.Props.Set(PropAuthenticationData, []byte{0x01, 0x02, 0x03})

	var buf bytes.Buffer
	_, err := packet.Encode(&buf)
	require.NoError(t, err)

	var header FixedHeader
	_, err = header.Decode(&buf)
	require.NoError(t, err)

	var decoded ConnackPacket
	_, err = decoded.Decode(&buf, header)
	require.NoError(t, err)

	assert.Equal(t, uint32(3600), decoded.Props.GetUint32(PropSessionExpiryInterval))
	assert.Equal(t, uint16(100), decoded.Props.GetUint16(PropReceiveMaximum))
	assert.Equal(t, byte(1), decoded.Props.GetByte(PropMaximumQoS))
	assert.Equal(t, byte(1), decoded.Props.GetByte(PropRetainAvailable))
	assert.Equal(t, uint32(1048576), decoded.Props.GetUint32(PropMaximumPacketSize))
	assert.Equal(t, "assigned-id", decoded.Props.GetString(PropAssignedClientIdentifier))
	assert.Equal(t, uint16(10), decoded.Props.GetUint16(PropTopicAliasMaximum))
	assert.Equal(t, "Connection accepted", decoded.Props.GetString(PropReasonString))
	assert.Equal(t, byte(1), decoded.Props.GetByte(PropWildcardSubAvailable))
	assert.Equal(t, byte(1), decoded.Props.GetByte(PropSubscriptionIDAvailable))
	assert.Equal(t, byte(1), decoded.Props.GetByte(PropSharedSubAvailable))
	assert.Equal(t, uint16(120), decoded.Props.GetUint16(PropServerKeepAlive))
	assert.Equal(t, "/response/topic", decoded.Props.GetString(PropResponseInformation))
	assert.Equal(t, "server.example.com", decoded.Props.GetString(PropServerReference))
	assert.Equal(t, "PLAIN", decoded.Props.GetString(PropAuthenticationMethod))
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, decoded.Props.GetBinary(PropAuthenticationData))

	ups := decoded.Props.GetAllStringPairs(PropUserProperty)
	assert.Len(t, ups, 1)
	assert.Equal(t, "key", ups[0].Key)
	assert.Equal(t, "value", ups[0].Value)
}

func TestConnackPacketValidation(t *testing.T) {
	cases := map[string]struct {
		packet  ConnackPacket
		wantErr error
	}{
		"valid success":                  {ConnackPacket{SessionPresent: false, ReasonCode: ReasonSuccess}, nil},
		"valid success with session":     {ConnackPacket{SessionPresent: true, ReasonCode: ReasonSuccess}, nil},
		"valid error code":               {ConnackPacket{SessionPresent: false, ReasonCode: ReasonNotAuthorized}, nil},
		"session present with error code": {ConnackPacket{SessionPresent: true, ReasonCode: ReasonNotAuthorized}, ErrInvalidConnackFlags},
		"invalid reason code for CONNACK": {ConnackPacket{SessionPresent: false, ReasonCode: ReasonGrantedQoS1}, ErrInvalidReasonCode},
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

func TestConnackPacketDecodeErrors(t *testing.T) {
	t.Run("invalid flags", func(t *testing.T) {
		data := []byte{0x20, 0x03, 0x02, 0x00, 0x00}

		r := bytes.NewReader(data)
		var header FixedHeader
		_, err := header.Decode(r)
		require.NoError(t, err)

		var p ConnackPacket
		_, err = p.Decode(r, header)
		assert.ErrorIs(t, err, ErrInvalidConnackFlags)
	})

	t.Run("wrong packet type", func(t *testing.T) {
		header := FixedHeader{PacketType: PacketCONNECT, RemainingLength: 3}

		var p ConnackPacket
		_, err := p.Decode(bytes.NewReader([]byte{0x00, 0x00, 0x00}), header)
		assert.ErrorIs(t, err, ErrInvalidPacketType)
	})
}

func TestConnackPacketMinimalEncodingSize(t *testing.T) {
	packet := ConnackPacket{SessionPresent: false, ReasonCode: ReasonSuccess}

	var buf bytes.Buffer
	n, err := packet.Encode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func connackBenchmarkFixtures() map[string]ConnackPacket {
	withProps := ConnackPacket{SessionPresent: true, ReasonCode: ReasonSuccess}
	withProps.Props.Set(PropSessionExpiryInterval, uint32(3600))
	withProps.Props.Set(PropReceiveMaximum, uint16(100))
	withProps.Props.Set(PropMaximumQoS, byte(1))
	withProps.Props.Set(PropAssignedClientIdentifier, "client-id-123")

	return map[string]ConnackPacket{
		"minimal":         {SessionPresent: false, ReasonCode: ReasonSuccess},
		"with_properties": withProps,
	}
}

func BenchmarkConnackPacketCodec(b *testing.B) {
	for name, packet := range connackBenchmarkFixtures() {
		b.Run("encode_"+name, func(b *testing.B) {
			var buf bytes.Buffer
			buf.Grow(128)
			b.ReportAllocs()
			for b.Loop() {
				buf.Reset()
				_, _ = packet.Encode(&buf)
			}
		})

		b.Run("decode_"+name, func(b *testing.B) {
			var buf bytes.Buffer
			_, _ = packet.Encode(&buf)
			data := buf.Bytes()
			b.ReportAllocs()
			for b.Loop() {
				r := bytes.NewReader(data)
				var header FixedHeader
				_, _ = header.Decode(r)
				var p ConnackPacket
				_, _ = p.Decode(r, header)
			}
		})
	}
}

func FuzzConnackPacketDecode(f *testing.F) {
	for _, packet := range []ConnackPacket{
		{SessionPresent: false, ReasonCode: ReasonSuccess},
		{SessionPresent: true, ReasonCode: ReasonSuccess},
		{SessionPresent: false, ReasonCode: ReasonNotAuthorized},
	} {
		var buf bytes.Buffer
		_, _ = packet.Encode(&buf)
		f.Add(buf.Bytes())
	}

	propPacket := ConnackPacket{SessionPresent: false, ReasonCode: ReasonSuccess}
	propPacket.Props.Set(PropSessionExpiryInterval, uint32(3600))
	var propBuf bytes.Buffer
	_, _ = propPacket.Encode(&propBuf)
	f.Add(propBuf.Bytes())

	f.Add([]byte{0x20, 0x02, 0x00, 0x00})
	f.Add([]byte{0x20, 0x03, 0x00, 0x00, 0x00})
	f.Add([]byte{0x20, 0x00})
	f.Add([]byte{0x20, 0xFF, 0xFF, 0xFF, 0x7F})

	for range 10 {
		data := make([]byte, rand.IntN(64)+1)
		for i := range data {
			data[i] = byte(rand.IntN(256))
		}
		f.Add(data)
	}

	f.Fuzz(func(_ *testing.T, data []byte) {
		r := bytes.NewReader(data)
		var header FixedHeader
		n, err := header.Decode(r)
		if err != nil || header.PacketType != PacketCONNACK {
			return
		}

		remaining := data[n:]
		if len(remaining) < int(header.RemainingLength) {
			return
		}

		var p ConnackPacket
		_, _ = p.Decode(bytes.NewReader(remaining), header)
	})
}
