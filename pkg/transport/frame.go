package transport

import (
	"encoding/binary"
	"fmt"

	"github.com/TebbeUbben/remora/pkg/crypto"
)

// Relay frame opcodes. The relay itself never sees message plaintext;
// frames only carry opaque topic ids and sealed payloads.
const (
	opSubscribe   byte = 1
	opUnsubscribe byte = 2
	opPublish     byte = 3
	opDeliver     byte = 4
)

// frame is one relay protocol unit: opcode, topic, optional payload.
type frame struct {
	op      byte
	topic   string
	payload []byte
}

func (f *frame) encode() []byte {
	buf := make([]byte, 0, 3+len(f.topic)+len(f.payload))
	buf = append(buf, f.op)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(f.topic)))
	buf = append(buf, f.topic...)
	buf = append(buf, f.payload...)
	return buf
}

func decodeFrame(data []byte) (*frame, error) {
	if len(data) < 3 {
		return nil, ErrFrameTooShort
	}
	op := data[0]
	switch op {
	case opSubscribe, opUnsubscribe, opPublish, opDeliver:
	default:
		return nil, ErrUnknownOpcode
	}
	topicLen := int(binary.LittleEndian.Uint16(data[1:3]))
	if len(data) < 3+topicLen {
		return nil, ErrFrameTooShort
	}
	return &frame{
		op:      op,
		topic:   string(data[3 : 3+topicLen]),
		payload: data[3+topicLen:],
	}, nil
}

// sealFrame encrypts an encoded frame under the relay session key with a
// fresh CTR IV. With a nil key the frame travels unframed plaintext.
func sealFrame(sessionKey, encoded []byte) ([]byte, error) {
	if sessionKey == nil {
		return encoded, nil
	}
	iv, err := crypto.NewCTRIV()
	if err != nil {
		return nil, fmt.Errorf("generating frame iv: %w", err)
	}
	ct, err := crypto.AESCTR(sessionKey, iv, encoded)
	if err != nil {
		return nil, fmt.Errorf("sealing frame: %w", err)
	}
	return append(iv, ct...), nil
}

func openFrame(sessionKey, data []byte) ([]byte, error) {
	if sessionKey == nil {
		return data, nil
	}
	if len(data) < crypto.AESCTRIVSize {
		return nil, ErrFrameTooShort
	}
	return crypto.AESCTR(sessionKey, data[:crypto.AESCTRIVSize], data[crypto.AESCTRIVSize:])
}
