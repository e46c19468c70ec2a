package mqtt5

import (
	"bytes"
	"io"
)

// encodeReasonWithProps writes the reason-code-plus-properties body
// shared by DISCONNECT and AUTH (MQTT v5.0 sections 3.14–3.15): both
// omit everything past the fixed header when the reason is Success and
// no properties are set.
func encodeReasonWithProps(w io.Writer, t PacketType, reasonCode ReasonCode, props *Properties) (int, error) {
	var body bytes.Buffer

	if reasonCode != ReasonSuccess || props.Len() > 0 {
		if err := body.WriteByte(byte(reasonCode)); err != nil {
			return 0, err
		}
		if props.Len() > 0 {
			if _, err := props.Encode(&body); err != nil {
				return 0, err
			}
		}
	}

	header := FixedHeader{PacketType: t, Flags: 0x00, RemainingLength: uint32(body.Len())}
	total, err := header.Encode(w)
	if err != nil {
		return total, err
	}

	n, err := w.Write(body.Bytes())
	return total + n, err
}

// decodeReasonWithProps reads a DISCONNECT/AUTH body, validating any
// properties against propCtx.
func decodeReasonWithProps(r io.Reader, header FixedHeader, reasonCode *ReasonCode, props *Properties, propCtx PropertyContext) (int, error) {
	if header.RemainingLength == 0 {
		*reasonCode = ReasonSuccess
		return 0, nil
	}

	var read int
	var reasonBuf [1]byte
	n, err := io.ReadFull(r, reasonBuf[:])
	read += n
	if err != nil {
		return read, err
	}
	*reasonCode = ReasonCode(reasonBuf[0])

	if header.RemainingLength <= 1 {
		return read, nil
	}

	n, err = props.Decode(r)
	read += n
	if err != nil {
		return read, err
	}
	if err := props.ValidateFor(propCtx); err != nil {
		return read, err
	}

	return read, nil
}

// DisconnectPacket closes a Network Connection cleanly, optionally
// carrying a reason and Server Reference (MQTT v5.0 section 3.14).
type DisconnectPacket struct {
	ReasonCode ReasonCode
	Props      Properties
}

func (p *DisconnectPacket) Type() PacketType { return PacketDISCONNECT }

func (p *DisconnectPacket) Properties() *Properties { return &p.Props }

func (p *DisconnectPacket) Encode(w io.Writer) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	if err := p.Props.ValidateFor(PropCtxDISCONNECT); err != nil {
		return 0, err
	}
	return encodeReasonWithProps(w, PacketDISCONNECT, p.ReasonCode, &p.Props)
}

func (p *DisconnectPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if header.PacketType != PacketDISCONNECT {
		return 0, ErrInvalidPacketType
	}
	if header.Flags != 0x00 {
		return 0, ErrInvalidPacketFlags
	}
	return decodeReasonWithProps(r, header, &p.ReasonCode, &p.Props, PropCtxDISCONNECT)
}

func (p *DisconnectPacket) Validate() error {
	if !p.ReasonCode.ValidForDISCONNECT() {
		return ErrInvalidReasonCode
	}
	return nil
}
