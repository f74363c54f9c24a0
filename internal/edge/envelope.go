// Package edge implements the Edge Server: the realtime channel's admission
// gate, credential verification, payload encryption, protocol validation,
// command dispatch to the Worker, and callback fan-out back to the client.
//
// It is intended for internal use by gatewayd only.
package edge

import (
	"encoding/json"
	"fmt"

	"github.com/nimbus-robotics/gatewayd/internal/crypto"
)

// envelope is the realtime channel's wire frame in both directions. When
// encryption is disabled it is exchanged as plain JSON; when enabled, the
// entire marshaled envelope is itself the encrypted payload and the frame on
// the wire is the opaque OpenSSL-compatible ciphertext string.
type envelope struct {
	Event string         `json:"event"`
	AckID string         `json:"ack_id,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
}

// decodeFrame turns one inbound websocket text frame into an envelope,
// transparently decrypting it first if encryption is configured.
func decodeFrame(frame []byte, passphrase string, encrypted bool) (envelope, error) {
	var env envelope

	if encrypted {
		plaintext, err := crypto.Decrypt(passphrase, string(frame))
		if err != nil {
			return envelope{}, fmt.Errorf("decrypting frame: %w", err)
		}
		if err := json.Unmarshal(plaintext, &env); err != nil {
			return envelope{}, fmt.Errorf("decoding decrypted frame: %w", err)
		}
		return env, nil
	}

	if err := json.Unmarshal(frame, &env); err != nil {
		return envelope{}, fmt.Errorf("decoding frame: %w", err)
	}
	return env, nil
}

// encodeFrame marshals env into an outbound websocket text frame,
// symmetrically encrypting it first if encryption is configured.
func encodeFrame(env envelope, passphrase string, encrypted bool) ([]byte, error) {
	plaintext, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encoding frame: %w", err)
	}

	if !encrypted {
		return plaintext, nil
	}

	ciphertext, err := crypto.Encrypt(passphrase, plaintext)
	if err != nil {
		return nil, fmt.Errorf("encrypting frame: %w", err)
	}
	return []byte(ciphertext), nil
}
