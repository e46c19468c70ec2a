package mqtt5

import "io"

// encodeEmptyPacket and decodeEmptyPacket handle the zero-length body shared by
// PINGREQ and PINGRESP (MQTT v5.0 sections 3.12–3.13): no variable
// header, no payload, flags fixed at zero.
func encodeEmptyPacket(w io.Writer, t PacketType) (int, error) {
	header := FixedHeader{PacketType: t, Flags: 0x00, RemainingLength: 0}
	return header.Encode(w)
}

func decodeEmptyPacket(t PacketType, header FixedHeader) (int, error) {
	if header.PacketType != t {
		return 0, ErrInvalidPacketType
	}
	if header.Flags != 0x00 {
		return 0, ErrInvalidPacketFlags
	}
	if header.RemainingLength != 0 {
		return 0, ErrProtocolViolation
	}
	return 0, nil
}

// PingreqPacket is the client-to-server keepalive heartbeat (MQTT v5.0
// section 3.12): no content, a DISCONNECT-worthy protocol error if it
// arrives with a nonzero remaining length.
type PingreqPacket struct{}

func (p *PingreqPacket) Type() PacketType { return PacketPINGREQ }

func (p *PingreqPacket) Encode(w io.Writer) (int, error) {
	return encodeEmptyPacket(w, PacketPINGREQ)
}

func (p *PingreqPacket) Decode(_ io.Reader, header FixedHeader) (int, error) {
	return decodeEmptyPacket(PacketPINGREQ, header)
}

func (p *PingreqPacket) Validate() error {
	return nil
}

// PingrespPacket is the server's reply to PINGREQ (MQTT v5.0 section
// 3.13), equally content-free.
type PingrespPacket struct{}

func (p *PingrespPacket) Type() PacketType { return PacketPINGRESP }

func (p *PingrespPacket) Encode(w io.Writer) (int, error) {
	return encodeEmptyPacket(w, PacketPINGRESP)
}

func (p *PingrespPacket) Decode(_ io.Reader, header FixedHeader) (int, error) {
	return decodeEmptyPacket(PacketPINGRESP, header)
}

func (p *PingrespPacket) Validate() error {
	return nil
}
