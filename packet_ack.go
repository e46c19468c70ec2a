package mqtt5

import (
	"bytes"
	"encoding/binary"
	"io"
)

// ackPacket is the shared shape of PUBACK, PUBREC, PUBREL, and PUBCOMP:
// a packet ID, a reason code, and optional properties. Each of those
// four packet types wraps one of these rather than re-implementing the
// same variable-length layout.
type ackPacket struct {
	PacketID   uint16
	ReasonCode ReasonCode
	Props      Properties
}

// hasReasonPayload reports whether ack needs a Reason Code byte at all:
// MQTT v5.0 lets an ack with Success and no properties omit everything
// past the packet ID to save two bytes on the common case.
func (ack *ackPacket) hasReasonPayload() bool {
	return ack.ReasonCode != ReasonSuccess || ack.Props.Len() > 0
}

// encodeAck writes an ack packet of the given type/flags to w.
func encodeAck(w io.Writer, packetType PacketType, flags byte, ack *ackPacket) (int, error) {
	var body bytes.Buffer

	var idBuf [2]byte
	binary.BigEndian.PutUint16(idBuf[:], ack.PacketID)
	if _, err := body.Write(idBuf[:]); err != nil {
		return 0, err
	}

	if ack.hasReasonPayload() {
		if err := body.WriteByte(byte(ack.ReasonCode)); err != nil {
			return 2, err
		}
		if ack.Props.Len() > 0 {
			if _, err := ack.Props.Encode(&body); err != nil {
				return 3, err
			}
		}
	}

	header := FixedHeader{
		PacketType:      packetType,
		Flags:           flags,
		RemainingLength: uint32(body.Len()),
	}

	total, err := header.Encode(w)
	if err != nil {
		return total, err
	}

	n, err := w.Write(body.Bytes())
	return total + n, err
}

// decodeAck reads an ack packet's body (the fixed header is already
// decoded by the caller) and validates any properties against propCtx.
func decodeAck(r io.Reader, header FixedHeader, ack *ackPacket, propCtx PropertyContext) (int, error) {
	var read int

	var idBuf [2]byte
	n, err := io.ReadFull(r, idBuf[:])
	read += n
	if err != nil {
		return read, err
	}
	ack.PacketID = binary.BigEndian.Uint16(idBuf[:])

	if header.RemainingLength <= 2 {
		ack.ReasonCode = ReasonSuccess
		return read, nil
	}

	var reasonBuf [1]byte
	n, err = io.ReadFull(r, reasonBuf[:])
	read += n
	if err != nil {
		return read, err
	}
	ack.ReasonCode = ReasonCode(reasonBuf[0])

	if header.RemainingLength <= 3 {
		return read, nil
	}

	n, err = ack.Props.Decode(r)
	read += n
	if err != nil {
		return read, err
	}
	if err := ack.Props.ValidateFor(propCtx); err != nil {
		return read, err
	}

	return read, nil
}
