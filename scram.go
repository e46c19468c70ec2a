package mqtt5

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // SHA-1 required for SCRAM-SHA-1 compatibility
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// SCRAMHash represents the hash algorithm used for SCRAM authentication.
type SCRAMHash int

const (
	// SCRAMHashSHA1 uses SHA-1 (for legacy compatibility, not recommended for new deployments).
	SCRAMHashSHA1 SCRAMHash = iota
	// SCRAMHashSHA256 uses SHA-256 (recommended).
	SCRAMHashSHA256
	// SCRAMHashSHA512 uses SHA-512 (highest security).
	SCRAMHashSHA512
)

// String returns the MQTT auth method name for this hash.
func (h SCRAMHash) String() string {
	switch h {
	case SCRAMHashSHA1:
		return "SCRAM-SHA-1"
	case SCRAMHashSHA256:
		return "SCRAM-SHA-256"
	case SCRAMHashSHA512:
		return "SCRAM-SHA-512"
	default:
		return "SCRAM-SHA-256"
	}
}

// hashFunc returns the hash.Hash constructor for this algorithm.
func (h SCRAMHash) hashFunc() func() hash.Hash {
	switch h {
	case SCRAMHashSHA1:
		return sha1.New
	case SCRAMHashSHA256:
		return sha256.New
	case SCRAMHashSHA512:
		return sha512.New
	default:
		return sha256.New
	}
}

// ErrSCRAMAuthFailed is returned when a SCRAM exchange cannot be completed,
// e.g. a malformed server message or a server signature mismatch.
var ErrSCRAMAuthFailed = errors.New("scram: authentication exchange failed")

// scramClientState carries state between the two legs of a client-driven
// SCRAM exchange (client-first -> server-first -> client-final -> server-final).
type scramClientState struct {
	clientNonce     string
	clientFirstBare string
	saltedPassword  []byte
	serverKey       []byte
	awaitingFinal   bool
}

// SCRAMClientAuthenticator implements ClientEnhancedAuthenticator for the
// SCRAM-SHA-1/256/512 mechanisms (RFC 5802), driving the client side of the
// challenge/response exchange carried over MQTT v5 AUTH packets.
type SCRAMClientAuthenticator struct {
	hash     SCRAMHash
	username string
	password string
}

// NewSCRAMClientAuthenticator creates a client-side SCRAM authenticator for
// the given hash algorithm, username and password. The password is hashed
// fresh for every connect attempt using the salt and iteration count the
// server supplies in its challenge; it is never sent on the wire.
func NewSCRAMClientAuthenticator(h SCRAMHash, username, password string) *SCRAMClientAuthenticator {
	return &SCRAMClientAuthenticator{hash: h, username: username, password: password}
}

// AuthMethod returns the MQTT authentication method name, e.g. "SCRAM-SHA-256".
func (a *SCRAMClientAuthenticator) AuthMethod() string {
	return a.hash.String()
}

// AuthStart builds the client-first-message sent as CONNECT's authentication data.
func (a *SCRAMClientAuthenticator) AuthStart(_ context.Context) (*ClientEnhancedAuthResult, error) {
	nonce := generateScramNonce()
	clientFirstBare := fmt.Sprintf("n=%s,r=%s", escapeScramUsername(a.username), nonce)
	clientFirst := "n,," + clientFirstBare

	state := &scramClientState{
		clientNonce:     nonce,
		clientFirstBare: clientFirstBare,
	}

	return &ClientEnhancedAuthResult{
		AuthData: []byte(clientFirst),
		State:    state,
	}, nil
}

// AuthContinue processes the server's challenge. The first call receives the
// server-first-message (nonce/salt/iterations) and answers with the
// client-final-message carrying the computed proof. A second call, if the
// server chose to carry its verification signature over another AUTH packet
// rather than in CONNACK properties, verifies the server signature.
func (a *SCRAMClientAuthenticator) AuthContinue(_ context.Context, authCtx *ClientEnhancedAuthContext) (*ClientEnhancedAuthResult, error) {
	state, ok := authCtx.State.(*scramClientState)
	if !ok || state == nil {
		return nil, fmt.Errorf("%w: missing client state", ErrSCRAMAuthFailed)
	}

	if state.awaitingFinal {
		return a.verifyServerFinal(state, authCtx.AuthData)
	}

	return a.respondToServerFirst(state, authCtx.AuthData)
}

func (a *SCRAMClientAuthenticator) respondToServerFirst(state *scramClientState, serverFirst []byte) (*ClientEnhancedAuthResult, error) {
	serverNonce, saltB64, iterations, err := parseScramServerFirst(string(serverFirst))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSCRAMAuthFailed, err)
	}
	if !strings.HasPrefix(serverNonce, state.clientNonce) {
		return nil, fmt.Errorf("%w: server nonce does not extend client nonce", ErrSCRAMAuthFailed)
	}

	salt, err := base64.StdEncoding.DecodeString(saltB64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid salt: %v", ErrSCRAMAuthFailed, err)
	}

	hashFunc := a.hash.hashFunc()
	keySize := hashLen(a.hash)
	saltedPassword := pbkdf2.Key([]byte(a.password), salt, iterations, keySize, hashFunc)

	clientKeyHMAC := hmac.New(hashFunc, saltedPassword)
	clientKeyHMAC.Write([]byte("Client Key"))
	clientKey := clientKeyHMAC.Sum(nil)

	h := hashFunc()
	h.Write(clientKey)
	storedKey := h.Sum(nil)

	serverKeyHMAC := hmac.New(hashFunc, saltedPassword)
	serverKeyHMAC.Write([]byte("Server Key"))
	serverKey := serverKeyHMAC.Sum(nil)

	clientFinalWithoutProof := fmt.Sprintf("c=biws,r=%s", serverNonce)
	authMessage := fmt.Sprintf("%s,%s,%s", state.clientFirstBare, string(serverFirst), clientFinalWithoutProof)

	clientSigHMAC := hmac.New(hashFunc, storedKey)
	clientSigHMAC.Write([]byte(authMessage))
	clientSignature := clientSigHMAC.Sum(nil)

	clientProof := make([]byte, len(clientKey))
	for i := range clientKey {
		clientProof[i] = clientKey[i] ^ clientSignature[i]
	}

	serverSigHMAC := hmac.New(hashFunc, serverKey)
	serverSigHMAC.Write([]byte(authMessage))
	expectedServerSignature := serverSigHMAC.Sum(nil)

	clientFinal := fmt.Sprintf("%s,p=%s", clientFinalWithoutProof, base64.StdEncoding.EncodeToString(clientProof))

	state.saltedPassword = saltedPassword
	state.serverKey = expectedServerSignature
	state.awaitingFinal = true

	return &ClientEnhancedAuthResult{
		AuthData: []byte(clientFinal),
		State:    state,
	}, nil
}

func (a *SCRAMClientAuthenticator) verifyServerFinal(state *scramClientState, serverFinal []byte) (*ClientEnhancedAuthResult, error) {
	serverSignature, err := parseScramServerFinal(string(serverFinal))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSCRAMAuthFailed, err)
	}
	if !hmac.Equal(serverSignature, state.serverKey) {
		return nil, fmt.Errorf("%w: server signature mismatch", ErrSCRAMAuthFailed)
	}
	return &ClientEnhancedAuthResult{Done: true}, nil
}

func hashLen(h SCRAMHash) int {
	switch h {
	case SCRAMHashSHA1:
		return 20
	case SCRAMHashSHA512:
		return 64
	default:
		return 32
	}
}

func escapeScramUsername(username string) string {
	username = strings.ReplaceAll(username, "=", "=3D")
	username = strings.ReplaceAll(username, ",", "=2C")
	return username
}

// parseScramServerFirst extracts nonce, salt, and iteration count from a
// server-first-message of the form "r=<nonce>,s=<salt>,i=<iterations>".
func parseScramServerFirst(msg string) (nonce, salt string, iterations int, err error) {
	for _, part := range strings.Split(msg, ",") {
		if len(part) < 2 {
			continue
		}
		switch part[:2] {
		case "r=":
			nonce = part[2:]
		case "s=":
			salt = part[2:]
		case "i=":
			if _, scanErr := fmt.Sscanf(part[2:], "%d", &iterations); scanErr != nil {
				return "", "", 0, scanErr
			}
		}
	}
	if nonce == "" || salt == "" || iterations <= 0 {
		return "", "", 0, fmt.Errorf("incomplete server-first-message")
	}
	return nonce, salt, iterations, nil
}

// parseScramServerFinal extracts the server signature from a
// server-final-message of the form "v=<signature>".
func parseScramServerFinal(msg string) ([]byte, error) {
	for _, part := range strings.Split(msg, ",") {
		if strings.HasPrefix(part, "v=") {
			return base64.StdEncoding.DecodeString(part[2:])
		}
	}
	return nil, fmt.Errorf("missing server signature")
}

// generateScramNonce creates a cryptographically secure random nonce.
func generateScramNonce() string {
	b := make([]byte, 18)
	if _, err := rand.Read(b); err != nil {
		// Fallback to less secure but functional nonce
		return "fallback-nonce"
	}
	return base64.StdEncoding.EncodeToString(b)
}
