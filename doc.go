// Package mqtt5 provides a client SDK for the MQTT v5.0 protocol.
//
// This package implements the MQTT Version 5.0 OASIS Standard:
// https://docs.oasis-open.org/mqtt/mqtt/v5.0/mqtt-v5.0.html
//
// # Features
//
//   - All 15 MQTT v5.0 control packet types
//   - Complete properties system
//   - QoS 0, 1, 2 message flows with state machines
//   - Topic matching with wildcard support (+, #)
//   - Transport: TCP, TLS, WebSocket, WSS, Unix domain sockets, QUIC, HTTP/SOCKS5 proxies
//   - Automatic reconnect with pluggable backoff strategies and an offline publish queue
//   - Built-in SCRAM-SHA-1/256/512 enhanced authentication
//
// # Packet Types
//
// The package provides structs for all MQTT v5.0 control packets:
//
//   - ConnectPacket, ConnackPacket: Connection establishment
//   - PublishPacket, PubackPacket, PubrecPacket, PubrelPacket, PubcompPacket: Message delivery
//   - SubscribePacket, SubackPacket: Topic subscription
//   - UnsubscribePacket, UnsubackPacket: Topic unsubscription
//   - PingreqPacket, PingrespPacket: Keep-alive
//   - DisconnectPacket: Connection termination
//   - AuthPacket: Enhanced authentication
//
// Use ReadPacket and WritePacket to read/write packets from/to connections:
//
//	// Read a packet
//	pkt, n, err := mqtt5.ReadPacket(conn, maxPacketSize)
//
//	// Write a packet
//	n, err := mqtt5.WritePacket(conn, packet, maxPacketSize)
//
// # Client
//
// Use the high-level Client API for connecting to MQTT brokers:
//
//	client, err := mqtt5.Dial("tcp://localhost:1883",
//	    mqtt5.WithClientID("my-client"),
//	    mqtt5.WithKeepAlive(60),
//	)
//	defer client.Close()
//
// TLS connections:
//
//	client, err := mqtt5.Dial("tls://localhost:8883",
//	    mqtt5.WithTLS(&tls.Config{}),
//	)
//
// WebSocket and QUIC connections:
//
//	client, err := mqtt5.Dial("ws://localhost:8080/mqtt")
//	client, err := mqtt5.Dial("quic://localhost:14567")
//
// # Reconnect and offline publishing
//
// By default the client reconnects automatically on connection loss, using
// exponential backoff. Other ReconnectStrategy implementations are available:
//
//	client, err := mqtt5.Dial("tcp://localhost:1883",
//	    mqtt5.WithReconnectStrategy(mqtt5.NewLinearBackoff(time.Second, time.Second, 30*time.Second)),
//	    mqtt5.WithOfflineQueueCapacity(1000),
//	)
//
// Publishes issued while disconnected are queued (oldest dropped first once
// the capacity is reached) and flushed in order once the session resumes.
//
// # Session Management
//
// Session state for the client's own subscriptions, pending messages, and
// packet IDs is tracked through the Session interface. A reference
// implementation is provided with MemorySession:
//
//	session := mqtt5.NewMemorySession("client-id")
//	session.AddSubscription(mqtt5.Subscription{
//	    TopicFilter: "sensors/#",
//	    QoS:         1,
//	})
//	packetID := session.NextPacketID()
//
// # QoS State Machines
//
// For QoS 1 and 2 message flows, use the provided state machines:
//
//	// QoS 1 tracking
//	tracker := mqtt5.NewQoS1Tracker(retryTimeout, maxRetries)
//	tracker.Track(packetID, message)
//	tracker.Acknowledge(packetID)
//
//	// QoS 2 tracking
//	tracker := mqtt5.NewQoS2Tracker(retryTimeout, maxRetries)
//	tracker.TrackSend(packetID, message)
//	tracker.HandlePubrec(packetID)
//	tracker.HandlePubcomp(packetID)
//
// # Flow Control
//
// Flow control caps the number of in-flight QoS 1/2 publishes the client
// will allow in parallel, per the broker's advertised Receive Maximum:
//
//	fc := mqtt5.NewFlowController(receiveMaximum)
//	if fc.CanSend() {
//	    fc.Acquire()
//	}
//	fc.Release()
//
// # Topic Matching
//
// Topic validation and matching support MQTT wildcards:
//
//	// Validate topic names and filters
//	err := mqtt5.ValidateTopicName("sensors/temperature")
//	err = mqtt5.ValidateTopicFilter("sensors/+/status")
//
//	// Match topics against filters
//	matched := mqtt5.TopicMatch("sensors/#", "sensors/room1/temp")
//
//	// Parse shared subscriptions
//	shared, _ := mqtt5.ParseSharedSubscription("$share/group/topic")
//
// # Enhanced Authentication
//
// For request/response enhanced authentication (AUTH packets), implement
// ClientEnhancedAuthenticator. A built-in SCRAM-SHA-1/256/512 implementation
// covers the common case:
//
//	client, err := mqtt5.Dial("tcp://localhost:1883",
//	    mqtt5.WithEnhancedAuthentication(mqtt5.NewSCRAMClientAuthenticator(mqtt5.SCRAMHashSHA256, "alice", "s3cret")),
//	)
//
// # Logging
//
// Implement EventLogger for structured logging, or use the bundled
// console logger:
//
//	logger := mqtt5.NewConsoleLogger(os.Stdout, mqtt5.LevelInfo)
//	client, err := mqtt5.Dial("tcp://localhost:1883", mqtt5.WithLogger(logger))
package mqtt5
