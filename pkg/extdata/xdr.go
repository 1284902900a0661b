package extdata

import (
	"bytes"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"math/big"
	"sort"
)

// Minimal XDR encoder for the handful of ScVal shapes ext-data uses. The
// discriminants follow the Stellar contract value schema.
const (
	scvI256    int32 = 12
	scvBytes   int32 = 13
	scvSymbol  int32 = 15
	scvMap     int32 = 17
	scvAddress int32 = 18

	scAddressAccount  int32 = 0
	scAddressContract int32 = 1

	publicKeyEd25519 int32 = 0
)

// scAddress is a decoded strkey.
type scAddress struct {
	contract bool
	payload  [32]byte
}

type scEntry struct {
	key   string
	value []byte // pre-encoded ScVal
}

type scMap struct {
	entries []scEntry
}

func newScMap() *scMap {
	return &scMap{}
}

func (m *scMap) putBytes(key string, b []byte) {
	var buf bytes.Buffer
	writeInt32(&buf, scvBytes)
	writeOpaque(&buf, b)
	m.entries = append(m.entries, scEntry{key: key, value: buf.Bytes()})
}

// putI256 encodes a signed 256-bit integer as four big-endian 64-bit limbs,
// most significant first, two's complement for negatives.
func (m *scMap) putI256(key string, v *big.Int) {
	var buf bytes.Buffer
	writeInt32(&buf, scvI256)

	words := new(big.Int).Set(v)
	if words.Sign() < 0 {
		// two's complement over 256 bits
		mod := new(big.Int).Lsh(big.NewInt(1), 256)
		words.Add(words, mod)
	}
	raw := words.Bytes()
	var limbs [32]byte
	copy(limbs[32-len(raw):], raw)
	buf.Write(limbs[:])

	m.entries = append(m.entries, scEntry{key: key, value: buf.Bytes()})
}

func (m *scMap) putAddress(key string, addr scAddress) {
	var buf bytes.Buffer
	writeInt32(&buf, scvAddress)
	if addr.contract {
		writeInt32(&buf, scAddressContract)
	} else {
		writeInt32(&buf, scAddressAccount)
		writeInt32(&buf, publicKeyEd25519)
	}
	buf.Write(addr.payload[:])
	m.entries = append(m.entries, scEntry{key: key, value: buf.Bytes()})
}

// encode emits the ScMap value with entries in byte-lex symbol order, the
// chain's canonical map form.
func (m *scMap) encode() ([]byte, error) {
	sort.Slice(m.entries, func(i, j int) bool {
		return m.entries[i].key < m.entries[j].key
	})

	var buf bytes.Buffer
	writeInt32(&buf, scvMap)
	writeInt32(&buf, 1) // optional map present
	writeUint32(&buf, uint32(len(m.entries)))
	for _, e := range m.entries {
		writeInt32(&buf, scvSymbol)
		writeOpaque(&buf, []byte(e.key))
		buf.Write(e.value)
	}
	return buf.Bytes(), nil
}

func writeInt32(buf *bytes.Buffer, v int32) {
	binary.Write(buf, binary.BigEndian, v)
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	binary.Write(buf, binary.BigEndian, v)
}

// writeOpaque emits variable-length opaque data padded to 4 bytes.
func writeOpaque(buf *bytes.Buffer, b []byte) {
	writeUint32(buf, uint32(len(b)))
	buf.Write(b)
	if pad := (4 - len(b)%4) % 4; pad > 0 {
		buf.Write(make([]byte, pad))
	}
}

// strkey version bytes for the two address kinds we accept.
const (
	strkeyAccount  byte = 6 << 3 // 'G'
	strkeyContract byte = 2 << 3 // 'C'
)

var strkeyEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// decodeStrkey decodes and checksums a G... or C... address.
func decodeStrkey(s string) (scAddress, error) {
	raw, err := strkeyEncoding.DecodeString(s)
	if err != nil {
		return scAddress{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(raw) != 1+32+2 {
		return scAddress{}, fmt.Errorf("%w: decoded length %d", ErrInvalidAddress, len(raw))
	}

	version, payload, checksum := raw[0], raw[1:33], raw[33:]
	if crc16(raw[:33]) != binary.LittleEndian.Uint16(checksum) {
		return scAddress{}, fmt.Errorf("%w: checksum mismatch", ErrInvalidAddress)
	}

	addr := scAddress{}
	switch version {
	case strkeyAccount:
	case strkeyContract:
		addr.contract = true
	default:
		return scAddress{}, fmt.Errorf("%w: version byte %#x", ErrInvalidAddress, version)
	}
	copy(addr.payload[:], payload)
	return addr, nil
}

// EncodeAccountStrkey renders an ed25519 public key as a G... address.
func EncodeAccountStrkey(pub [32]byte) string {
	raw := make([]byte, 0, 35)
	raw = append(raw, strkeyAccount)
	raw = append(raw, pub[:]...)
	var checksum [2]byte
	binary.LittleEndian.PutUint16(checksum[:], crc16(raw))
	raw = append(raw, checksum[:]...)
	return strkeyEncoding.EncodeToString(raw)
}

// crc16 is the XModem CRC over the version byte and payload.
func crc16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
