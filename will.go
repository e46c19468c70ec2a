package mqtt5

// WillMessage represents an MQTT Last Will and Testament message.
type WillMessage struct {
	// Topic is the will topic.
	Topic string

	// Payload is the will payload.
	Payload []byte

	// QoS is the quality of service level (0, 1, or 2).
	QoS byte

	// Retain indicates if the will message should be retained.
	Retain bool

	// DelayInterval is the will delay interval in seconds.
	// The server delays publishing the will message until this interval expires
	// or the session expires, whichever happens first.
	DelayInterval uint32

	// PayloadFormat indicates if the payload is UTF-8 encoded (1) or binary (0).
	PayloadFormat byte

	// MessageExpiry is the message expiry interval in seconds.
	MessageExpiry uint32

	// ContentType is the MIME type of the payload.
	ContentType string

	// ResponseTopic is the topic name for a response message.
	ResponseTopic string

	// CorrelationData is used to correlate a request with a response.
	CorrelationData []byte

	// UserProperties are application-defined properties.
	UserProperties []StringPair
}

// ToMessage converts a WillMessage to a Message, useful for interceptor
// pipelines that want to inspect the will the same way as a normal publish.
func (w *WillMessage) ToMessage() *Message {
	return &Message{
		Topic:           w.Topic,
		Payload:         w.Payload,
		QoS:             w.QoS,
		Retain:          w.Retain,
		PayloadFormat:   w.PayloadFormat,
		MessageExpiry:   w.MessageExpiry,
		ContentType:     w.ContentType,
		ResponseTopic:   w.ResponseTopic,
		CorrelationData: w.CorrelationData,
		UserProperties:  w.UserProperties,
	}
}

// ToProperties converts will message properties to a Properties block
// suitable for embedding in a CONNECT packet's WillProps.
func (w *WillMessage) ToProperties() *Properties {
	props := &Properties{}

	if w.DelayInterval > 0 {
		props.Set(PropWillDelayInterval, w.DelayInterval)
	}
	if w.PayloadFormat > 0 {
		props.Set(PropPayloadFormatIndicator, w.PayloadFormat)
	}
	if w.MessageExpiry > 0 {
		props.Set(PropMessageExpiryInterval, w.MessageExpiry)
	}
	if w.ContentType != "" {
		props.Set(PropContentType, w.ContentType)
	}
	if w.ResponseTopic != "" {
		props.Set(PropResponseTopic, w.ResponseTopic)
	}
	if len(w.CorrelationData) > 0 {
		props.Set(PropCorrelationData, w.CorrelationData)
	}
	for _, up := range w.UserProperties {
		props.Add(PropUserProperty, up)
	}

	return props
}

// Validate checks that the will message is well-formed before it is
// attached to a CONNECT packet.
func (w *WillMessage) Validate() error {
	if err := ValidateTopicName(w.Topic); err != nil {
		return err
	}
	if w.QoS > 2 {
		return ErrInvalidQoS
	}
	return nil
}
