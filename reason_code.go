package mqtt5

// ReasonCode is a single-byte status value carried in MQTT v5.0 ACK and
// DISCONNECT packets (section 2.4). Which codes are legal depends on
// which packet type carries them; reasonCodeTable below records that.
type ReasonCode byte

// Reason codes defined in MQTT v5.0 section 2.4.
const (
	ReasonSuccess                    ReasonCode = 0x00
	ReasonGrantedQoS1                ReasonCode = 0x01
	ReasonGrantedQoS2                ReasonCode = 0x02
	ReasonDisconnectWithWill         ReasonCode = 0x04
	ReasonNoMatchingSubscribers      ReasonCode = 0x10
	ReasonNoSubscriptionExisted      ReasonCode = 0x11
	ReasonContinueAuth               ReasonCode = 0x18
	ReasonReAuth                     ReasonCode = 0x19
	ReasonUnspecifiedError           ReasonCode = 0x80
	ReasonMalformedPacket            ReasonCode = 0x81
	ReasonProtocolError              ReasonCode = 0x82
	ReasonImplSpecificError          ReasonCode = 0x83
	ReasonUnsupportedProtocolVersion ReasonCode = 0x84
	ReasonClientIDNotValid           ReasonCode = 0x85
	ReasonBadUserNameOrPassword      ReasonCode = 0x86
	ReasonNotAuthorized              ReasonCode = 0x87
	ReasonServerUnavailable          ReasonCode = 0x88
	ReasonServerBusy                 ReasonCode = 0x89
	ReasonBanned                     ReasonCode = 0x8A
	ReasonServerShuttingDown         ReasonCode = 0x8B
	ReasonBadAuthMethod              ReasonCode = 0x8C
	ReasonKeepAliveTimeout           ReasonCode = 0x8D
	ReasonSessionTakenOver           ReasonCode = 0x8E
	ReasonTopicFilterInvalid         ReasonCode = 0x8F
	ReasonTopicNameInvalid           ReasonCode = 0x90
	ReasonPacketIDInUse              ReasonCode = 0x91
	ReasonPacketIDNotFound           ReasonCode = 0x92
	ReasonReceiveMaxExceeded         ReasonCode = 0x93
	ReasonTopicAliasInvalid          ReasonCode = 0x94
	ReasonPacketTooLarge             ReasonCode = 0x95
	ReasonMessageRateTooHigh         ReasonCode = 0x96
	ReasonQuotaExceeded              ReasonCode = 0x97
	ReasonAdminAction                ReasonCode = 0x98
	ReasonPayloadFormatInvalid       ReasonCode = 0x99
	ReasonRetainNotSupported         ReasonCode = 0x9A
	ReasonQoSNotSupported            ReasonCode = 0x9B
	ReasonUseAnotherServer           ReasonCode = 0x9C
	ReasonServerMoved                ReasonCode = 0x9D
	ReasonSharedSubsNotSupported     ReasonCode = 0x9E
	ReasonConnectionRateExceeded     ReasonCode = 0x9F
	ReasonMaxConnectTime             ReasonCode = 0xA0
	ReasonSubIDsNotSupported         ReasonCode = 0xA1
	ReasonWildcardSubsNotSupported   ReasonCode = 0xA2
)

// ReasonGrantedQoS0 is ReasonSuccess under the name SUBACK gives it.
const ReasonGrantedQoS0 = ReasonSuccess

// packetKindSet is a bitmask of the packet types a reason code is legal
// in, letting reasonCodeTable hold one entry per code instead of nine
// parallel lookup tables.
type packetKindSet uint16

const (
	kindCONNACK packetKindSet = 1 << iota
	kindPUBACK
	kindPUBREC
	kindPUBREL
	kindPUBCOMP
	kindSUBACK
	kindUNSUBACK
	kindDISCONNECT
	kindAUTH
)

type reasonCodeInfo struct {
	text  string
	kinds packetKindSet
}

var reasonCodeTable = map[ReasonCode]reasonCodeInfo{
	ReasonSuccess:                    {"Success", kindCONNACK | kindPUBACK | kindPUBREC | kindPUBREL | kindPUBCOMP | kindUNSUBACK | kindDISCONNECT | kindAUTH},
	ReasonGrantedQoS1:                {"Granted QoS 1", kindSUBACK},
	ReasonGrantedQoS2:                {"Granted QoS 2", kindSUBACK},
	ReasonDisconnectWithWill:         {"Disconnect with Will Message", kindDISCONNECT},
	ReasonNoMatchingSubscribers:      {"No matching subscribers", kindPUBACK | kindPUBREC},
	ReasonNoSubscriptionExisted:      {"No subscription existed", kindUNSUBACK},
	ReasonContinueAuth:               {"Continue authentication", kindAUTH},
	ReasonReAuth:                     {"Re-authenticate", kindAUTH},
	ReasonUnspecifiedError:           {"Unspecified error", kindCONNACK | kindPUBACK | kindPUBREC | kindSUBACK | kindUNSUBACK | kindDISCONNECT},
	ReasonMalformedPacket:            {"Malformed Packet", kindCONNACK | kindDISCONNECT},
	ReasonProtocolError:              {"Protocol Error", kindCONNACK | kindDISCONNECT},
	ReasonImplSpecificError:          {"Implementation specific error", kindCONNACK | kindPUBACK | kindPUBREC | kindSUBACK | kindUNSUBACK | kindDISCONNECT},
	ReasonUnsupportedProtocolVersion: {"Unsupported Protocol Version", kindCONNACK},
	ReasonClientIDNotValid:           {"Client Identifier not valid", kindCONNACK},
	ReasonBadUserNameOrPassword:      {"Bad User Name or Password", kindCONNACK},
	ReasonNotAuthorized:              {"Not authorized", kindCONNACK | kindPUBACK | kindPUBREC | kindSUBACK | kindUNSUBACK | kindDISCONNECT},
	ReasonServerUnavailable:          {"Server unavailable", kindCONNACK},
	ReasonServerBusy:                 {"Server busy", kindCONNACK | kindDISCONNECT},
	ReasonBanned:                     {"Banned", kindCONNACK},
	ReasonServerShuttingDown:         {"Server shutting down", kindDISCONNECT},
	ReasonBadAuthMethod:              {"Bad authentication method", kindCONNACK},
	ReasonKeepAliveTimeout:           {"Keep Alive timeout", kindDISCONNECT},
	ReasonSessionTakenOver:           {"Session taken over", kindDISCONNECT},
	ReasonTopicFilterInvalid:         {"Topic Filter invalid", kindSUBACK | kindUNSUBACK | kindDISCONNECT},
	ReasonTopicNameInvalid:           {"Topic Name invalid", kindCONNACK | kindPUBACK | kindPUBREC | kindDISCONNECT},
	ReasonPacketIDInUse:              {"Packet Identifier in use", kindPUBACK | kindPUBREC | kindSUBACK | kindUNSUBACK},
	ReasonPacketIDNotFound:           {"Packet Identifier not found", kindPUBREL | kindPUBCOMP},
	ReasonReceiveMaxExceeded:         {"Receive Maximum exceeded", kindDISCONNECT},
	ReasonTopicAliasInvalid:          {"Topic Alias invalid", kindDISCONNECT},
	ReasonPacketTooLarge:             {"Packet too large", kindCONNACK | kindDISCONNECT},
	ReasonMessageRateTooHigh:         {"Message rate too high", kindDISCONNECT},
	ReasonQuotaExceeded:              {"Quota exceeded", kindCONNACK | kindPUBACK | kindPUBREC | kindSUBACK | kindDISCONNECT},
	ReasonAdminAction:                {"Administrative action", kindDISCONNECT},
	ReasonPayloadFormatInvalid:       {"Payload format invalid", kindCONNACK | kindPUBACK | kindPUBREC | kindDISCONNECT},
	ReasonRetainNotSupported:         {"Retain not supported", kindCONNACK | kindDISCONNECT},
	ReasonQoSNotSupported:            {"QoS not supported", kindCONNACK | kindDISCONNECT},
	ReasonUseAnotherServer:           {"Use another server", kindCONNACK | kindDISCONNECT},
	ReasonServerMoved:                {"Server moved", kindCONNACK | kindDISCONNECT},
	ReasonSharedSubsNotSupported:     {"Shared Subscriptions not supported", kindSUBACK | kindDISCONNECT},
	ReasonConnectionRateExceeded:     {"Connection rate exceeded", kindCONNACK},
	ReasonMaxConnectTime:             {"Maximum connect time", kindDISCONNECT},
	ReasonSubIDsNotSupported:         {"Subscription Identifiers not supported", kindSUBACK | kindDISCONNECT},
	ReasonWildcardSubsNotSupported:   {"Wildcard Subscriptions not supported", kindSUBACK | kindDISCONNECT},
}

// String returns the human-readable description of the reason code.
// 0x00 reads as "Success" even though SUBACK reuses the same byte value
// to mean "Granted QoS 0" (see ReasonGrantedQoS0); callers that need the
// SUBACK-specific wording should check the packet type themselves.
func (r ReasonCode) String() string {
	if info, ok := reasonCodeTable[r]; ok {
		return info.text
	}
	return "Unknown reason code"
}

// IsError reports whether the reason code indicates failure. All error
// codes are >= 0x80 by construction (MQTT v5.0 section 2.4).
func (r ReasonCode) IsError() bool {
	return r >= 0x80
}

// IsSuccess reports whether the reason code indicates success.
func (r ReasonCode) IsSuccess() bool {
	return r < 0x80
}

func (r ReasonCode) validFor(kind packetKindSet) bool {
	info, ok := reasonCodeTable[r]
	return ok && info.kinds&kind != 0
}

// ValidForCONNACK reports whether the reason code may appear in a CONNACK.
func (r ReasonCode) ValidForCONNACK() bool { return r.validFor(kindCONNACK) }

// ValidForPUBACK reports whether the reason code may appear in a PUBACK.
func (r ReasonCode) ValidForPUBACK() bool { return r.validFor(kindPUBACK) }

// ValidForPUBREC reports whether the reason code may appear in a PUBREC.
func (r ReasonCode) ValidForPUBREC() bool { return r.validFor(kindPUBREC) }

// ValidForPUBREL reports whether the reason code may appear in a PUBREL.
func (r ReasonCode) ValidForPUBREL() bool { return r.validFor(kindPUBREL) }

// ValidForPUBCOMP reports whether the reason code may appear in a PUBCOMP.
func (r ReasonCode) ValidForPUBCOMP() bool { return r.validFor(kindPUBCOMP) }

// ValidForSUBACK reports whether the reason code may appear in a SUBACK.
func (r ReasonCode) ValidForSUBACK() bool { return r.validFor(kindSUBACK) }

// ValidForUNSUBACK reports whether the reason code may appear in an UNSUBACK.
func (r ReasonCode) ValidForUNSUBACK() bool { return r.validFor(kindUNSUBACK) }

// ValidForDISCONNECT reports whether the reason code may appear in a DISCONNECT.
func (r ReasonCode) ValidForDISCONNECT() bool { return r.validFor(kindDISCONNECT) }

// ValidForAUTH reports whether the reason code may appear in an AUTH packet.
func (r ReasonCode) ValidForAUTH() bool { return r.validFor(kindAUTH) }
