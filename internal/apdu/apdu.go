// Package apdu builds the PC/SC pseudo-APDU and ISO/IEC 7816-4 command
// packets used by the reader pipeline, and validates their status words.
package apdu

import (
	"encoding/binary"

	"github.com/cardkit/nfc-agent/internal/cardcore"
)

// Status words.
const (
	StatusSuccess     uint16 = 0x9000
	StatusFileNotFound uint16 = 0x6A82
)

// Command classes and instructions used by the table in spec §4.1.
const (
	classPCSC     byte = 0xFF
	classISO7816  byte = 0x00

	insLoadAuthKey byte = 0x82
	insAuthV207    byte = 0x86
	insAuthV201    byte = 0x88
	insReadBinary  byte = 0xB0
	insUpdateBin   byte = 0xD6
	insGetUID      byte = 0xCA
	insSelectFile  byte = 0xA4
)

// MIFARE key types.
const (
	KeyTypeA byte = 0x60
	KeyTypeB byte = 0x61
)

// Response is a parsed APDU response: payload plus status word.
type Response struct {
	Data   []byte
	Status uint16
}

// Success reports whether the response status word is exactly 0x9000.
func (r Response) Success() bool {
	return r.Status == StatusSuccess
}

// Parse splits a raw response into payload and big-endian status word.
// It fails with invalid_response if the response is shorter than 2 bytes.
func Parse(raw []byte) (Response, error) {
	if len(raw) < 2 {
		return Response{}, cardcore.NewReadError(cardcore.CodeInvalidResponse, "response shorter than status word", nil)
	}
	n := len(raw)
	return Response{
		Data:   raw[:n-2],
		Status: binary.BigEndian.Uint16(raw[n-2:]),
	}, nil
}

func build(cla, ins, p1, p2 byte, data []byte, le *byte) []byte {
	cmd := []byte{cla, ins, p1, p2}
	if len(data) > 0 {
		cmd = append(cmd, byte(len(data)))
		cmd = append(cmd, data...)
	}
	if le != nil {
		cmd = append(cmd, *le)
	}
	return cmd
}

// LoadAuthKey builds the Load Auth Key command for the given slot (0/1)
// and a 6-byte key.
func LoadAuthKey(slot byte, key []byte) []byte {
	return build(classPCSC, insLoadAuthKey, 0x00, slot, key, nil)
}

// AuthenticateV207 builds the current-form Authenticate command.
func AuthenticateV207(block byte, keyType byte, slot byte) []byte {
	data := []byte{0x01, 0x00, block, keyType, slot}
	return build(classPCSC, insAuthV207, 0x00, 0x00, data, nil)
}

// AuthenticateV201 builds the obsolete-form Authenticate command: FF 88 00
// <block> <keyType> <slot>, with keyType and slot as bare trailing bytes
// rather than an Lc-prefixed data field.
func AuthenticateV201(block byte, keyType byte, slot byte) []byte {
	return []byte{classPCSC, insAuthV201, 0x00, block, keyType, slot}
}

// ReadBinary builds a Read Binary command for a block/page number and
// response length, using the given command class (defaults to 0xFF at
// call sites that don't need a different reader class).
func ReadBinary(class byte, block uint16, length byte) []byte {
	p1 := byte(block >> 8)
	p2 := byte(block)
	return build(class, insReadBinary, p1, p2, nil, &length)
}

// UpdateBinary builds an Update Binary command writing data at block.
func UpdateBinary(block byte, data []byte) []byte {
	return build(classPCSC, insUpdateBin, 0x00, block, data, nil)
}

// GetUID builds the ISO/IEC 14443-3 Get UID command.
func GetUID() []byte {
	le := byte(0x00)
	return build(classPCSC, insGetUID, 0x00, 0x00, nil, &le)
}

// SelectAID builds the ISO/IEC 14443-4 SELECT command for an application
// identifier.
func SelectAID(aid []byte) []byte {
	le := byte(0x00)
	return build(classISO7816, insSelectFile, 0x04, 0x00, aid, &le)
}
