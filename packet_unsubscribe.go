package mqtt5

import (
	"bytes"
	"encoding/binary"
	"io"
)

// UnsubscribePacket removes one or more topic filters from the sending
// client's subscriptions (MQTT v5.0 section 3.10).
type UnsubscribePacket struct {
	PacketID     uint16
	Props        Properties
	TopicFilters []string
}

func (p *UnsubscribePacket) Type() PacketType { return PacketUNSUBSCRIBE }

func (p *UnsubscribePacket) Properties() *Properties { return &p.Props }

func (p *UnsubscribePacket) GetPacketID() uint16 { return p.PacketID }

func (p *UnsubscribePacket) SetPacketID(id uint16) { p.PacketID = id }

func (p *UnsubscribePacket) Encode(w io.Writer) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	if err := p.Props.ValidateFor(PropCtxUNSUBSCRIBE); err != nil {
		return 0, err
	}

	var body bytes.Buffer

	var idBuf [2]byte
	binary.BigEndian.PutUint16(idBuf[:], p.PacketID)
	if _, err := body.Write(idBuf[:]); err != nil {
		return 0, err
	}

	if _, err := p.Props.Encode(&body); err != nil {
		return 0, err
	}

	for _, filter := range p.TopicFilters {
		if _, err := encodeString(&body, filter); err != nil {
			return 0, err
		}
	}

	header := FixedHeader{
		PacketType:      PacketUNSUBSCRIBE,
		Flags:           pubrelFixedFlags,
		RemainingLength: uint32(body.Len()),
	}

	total, err := header.Encode(w)
	if err != nil {
		return total, err
	}

	n, err := w.Write(body.Bytes())
	return total + n, err
}

func (p *UnsubscribePacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if header.PacketType != PacketUNSUBSCRIBE {
		return 0, ErrInvalidPacketType
	}
	if header.Flags != pubrelFixedFlags {
		return 0, ErrInvalidPacketFlags
	}

	var read int

	var idBuf [2]byte
	n, err := io.ReadFull(r, idBuf[:])
	read += n
	if err != nil {
		return read, err
	}
	p.PacketID = binary.BigEndian.Uint16(idBuf[:])

	n, err = p.Props.Decode(r)
	read += n
	if err != nil {
		return read, err
	}
	if err := p.Props.ValidateFor(PropCtxUNSUBSCRIBE); err != nil {
		return read, err
	}

	p.TopicFilters = nil
	for read < int(header.RemainingLength) {
		filter, n, err := decodeString(r)
		read += n
		if err != nil {
			return read, err
		}
		p.TopicFilters = append(p.TopicFilters, filter)
	}

	return read, nil
}

func (p *UnsubscribePacket) Validate() error {
	if p.PacketID == 0 {
		return ErrInvalidPacketID
	}
	if len(p.TopicFilters) == 0 {
		return ErrProtocolViolation
	}
	for _, filter := range p.TopicFilters {
		if filter == "" {
			return ErrProtocolViolation
		}
	}
	return nil
}
