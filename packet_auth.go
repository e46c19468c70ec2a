package mqtt5

import "io"

// AuthPacket carries an extended (enhanced) authentication exchange,
// such as a SCRAM challenge/response round-trip (MQTT v5.0 section
// 3.15). Its body shape is identical to DISCONNECT's, so it shares
// that packet's encode/decode helpers.
type AuthPacket struct {
	ReasonCode ReasonCode
	Props      Properties
}

func (p *AuthPacket) Type() PacketType { return PacketAUTH }

func (p *AuthPacket) Properties() *Properties { return &p.Props }

func (p *AuthPacket) Encode(w io.Writer) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	if err := p.Props.ValidateFor(PropCtxAUTH); err != nil {
		return 0, err
	}
	return encodeReasonWithProps(w, PacketAUTH, p.ReasonCode, &p.Props)
}

func (p *AuthPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if header.PacketType != PacketAUTH {
		return 0, ErrInvalidPacketType
	}
	if header.Flags != 0x00 {
		return 0, ErrInvalidPacketFlags
	}
	return decodeReasonWithProps(r, header, &p.ReasonCode, &p.Props, PropCtxAUTH)
}

func (p *AuthPacket) Validate() error {
	if !p.ReasonCode.ValidForAUTH() {
		return ErrInvalidReasonCode
	}
	return nil
}
