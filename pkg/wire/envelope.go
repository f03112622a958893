package wire

import (
	"fmt"

	"github.com/TebbeUbben/remora/pkg/crypto"
)

// Envelope format: nonce (12 bytes) || AES-GCM(messageID (8 bytes) ||
// marshaled message). The additional authenticated data binds the sealed
// payload to the channel it travels on, so an envelope replayed onto a
// different topic pair fails authentication.
//
// The message id is the per-peer monotonic counter used for duplicate and
// replay rejection after decryption.

// channelAAD builds the associated data for a topic pair. replyTopic is
// the sender's own ingoing topic, destTopic the topic published on; the
// receiver computes the same pair from its outgoing and ingoing topics.
func channelAAD(replyTopic, destTopic string) []byte {
	return []byte(replyTopic + ">" + destTopic)
}

// Seal encrypts a message for transmission on destTopic.
func Seal(key []byte, messageID uint64, m Message, replyTopic, destTopic string) ([]byte, error) {
	body, err := Marshal(m)
	if err != nil {
		return nil, err
	}

	w := &writer{}
	w.u64(messageID)
	w.buf = append(w.buf, body...)

	nonce, err := crypto.NewNonce()
	if err != nil {
		return nil, fmt.Errorf("sealing envelope: %w", err)
	}
	sealed, err := crypto.AESGCMSeal(key, nonce, w.buf, channelAAD(replyTopic, destTopic))
	if err != nil {
		return nil, fmt.Errorf("sealing envelope: %w", err)
	}

	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// Open authenticates and decrypts an envelope received on destTopic.
// Returns the message id and decoded message. Fails closed: on any
// authentication or decoding failure nothing is returned.
func Open(key, data []byte, replyTopic, destTopic string) (uint64, Message, error) {
	if len(data) < crypto.AESGCMNonceSize+crypto.AESGCMTagSize+8 {
		return 0, nil, ErrMessageTooShort
	}

	nonce := data[:crypto.AESGCMNonceSize]
	plaintext, err := crypto.AESGCMOpen(key, nonce, data[crypto.AESGCMNonceSize:], channelAAD(replyTopic, destTopic))
	if err != nil {
		return 0, nil, ErrDecryptionFailed
	}

	r := &reader{buf: plaintext}
	messageID := r.u64()
	if r.err != nil {
		return 0, nil, r.err
	}
	m, err := Unmarshal(plaintext[r.off:])
	if err != nil {
		return 0, nil, err
	}
	return messageID, m, nil
}
