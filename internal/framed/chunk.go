// Package framed implements the namespaced, chunked, CRC32C-checked,
// optionally HMAC-authenticated multiplexing layer that rides on top of
// any internal/transport.Transport.
package framed

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"hash/crc32"
)

const headerVersion = 0xA1

const flagMACPresent = 1 << 0

// MACTagSize is the length in bytes of the HMAC-SHA256 tag appended to a
// chunk when MAC is enabled.
const MACTagSize = 32

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// Header is one chunk's fixed fields, decoded ahead of its payload.
type Header struct {
	HasMAC     bool
	MacKeyID   byte
	Namespace  string
	Kind       string
	Seq        uint64
	TotalLen   uint32
	ChunkIndex uint16
	ChunkCount uint16
	CRC        uint32
}

// EncodeMessage splits payload into chunks of at most chunkSize bytes and
// encodes each as a standalone framed chunk. When macKey is non-nil every
// chunk carries an HMAC-SHA256 tag over the full (unchunked) payload, keyed
// by macKeyID so the receiver can select the right key on rollover.
func EncodeMessage(namespace, kind string, seq uint64, payload []byte, chunkSize int, macKeyID byte, macKey []byte) ([][]byte, error) {
	if len(namespace) == 0 || len(namespace) > 255 || len(kind) == 0 || len(kind) > 255 {
		return nil, framedErr(Malformed, nil)
	}
	if chunkSize <= 0 {
		chunkSize = len(payload)
		if chunkSize == 0 {
			chunkSize = 1
		}
	}

	crc := crc32.Checksum(payload, crc32cTable)

	chunkCount := (len(payload) + chunkSize - 1) / chunkSize
	if chunkCount == 0 {
		chunkCount = 1
	}

	var mac []byte
	if macKey != nil {
		mac = computeMAC(namespace, kind, seq, uint32(len(payload)), payload, macKey)
	}

	out := make([][]byte, 0, chunkCount)
	for i := 0; i < chunkCount; i++ {
		lo := i * chunkSize
		hi := lo + chunkSize
		if hi > len(payload) {
			hi = len(payload)
		}
		chunkPayload := payload[lo:hi]

		buf := make([]byte, 0, 32+len(namespace)+len(kind)+len(chunkPayload)+MACTagSize)
		buf = append(buf, headerVersion)
		flags := byte(0)
		if mac != nil {
			flags |= flagMACPresent
		}
		buf = append(buf, flags)
		if mac != nil {
			buf = append(buf, macKeyID)
		}
		buf = append(buf, byte(len(namespace)), byte(len(kind)))
		buf = append(buf, namespace...)
		buf = append(buf, kind...)
		buf = appendUint64(buf, seq)
		buf = appendUint32(buf, uint32(len(payload)))
		buf = appendUint16(buf, uint16(i))
		buf = appendUint16(buf, uint16(chunkCount))
		buf = appendUint32(buf, crc)
		buf = append(buf, chunkPayload...)
		if mac != nil {
			buf = append(buf, mac...)
		}
		out = append(out, buf)
	}
	return out, nil
}

func computeMAC(namespace, kind string, seq uint64, totalLen uint32, payload, key []byte) []byte {
	mac := hmac.New(sha256.New, key)
	// version||ns_len||ns||kind_len||kind||seq||total_len||payload.
	mac.Write([]byte{headerVersion, byte(len(namespace))})
	mac.Write([]byte(namespace))
	mac.Write([]byte{byte(len(kind))})
	mac.Write([]byte(kind))
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], seq)
	mac.Write(seqBuf[:])
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], totalLen)
	mac.Write(lenBuf[:])
	mac.Write(payload)
	return mac.Sum(nil)
}

// DecodeChunk parses one chunk's header and payload (and MAC tag if
// present). The CRC is NOT verified here; verification happens once the
// full payload is reassembled, since CRC is computed over the complete
// message, not the individual chunk.
func DecodeChunk(b []byte) (Header, []byte, []byte, error) {
	if len(b) < 5 {
		return Header{}, nil, nil, framedErr(Malformed, nil)
	}
	pos := 0
	version := b[pos]
	pos++
	if version != headerVersion {
		return Header{}, nil, nil, framedErr(UnsupportedVersion, nil)
	}
	flags := b[pos]
	pos++
	hasMAC := flags&flagMACPresent != 0

	var macKeyID byte
	if hasMAC {
		if len(b) <= pos {
			return Header{}, nil, nil, framedErr(Malformed, nil)
		}
		macKeyID = b[pos]
		pos++
	}

	if len(b) < pos+2 {
		return Header{}, nil, nil, framedErr(Malformed, nil)
	}
	nsLen := int(b[pos])
	kindLen := int(b[pos+1])
	pos += 2
	if nsLen == 0 || kindLen == 0 || len(b) < pos+nsLen+kindLen+8+4+2+2+4 {
		return Header{}, nil, nil, framedErr(Malformed, nil)
	}
	ns := string(b[pos : pos+nsLen])
	pos += nsLen
	kind := string(b[pos : pos+kindLen])
	pos += kindLen

	seq := binary.BigEndian.Uint64(b[pos:])
	pos += 8
	totalLen := binary.BigEndian.Uint32(b[pos:])
	pos += 4
	chunkIndex := binary.BigEndian.Uint16(b[pos:])
	pos += 2
	chunkCount := binary.BigEndian.Uint16(b[pos:])
	pos += 2
	crc := binary.BigEndian.Uint32(b[pos:])
	pos += 4

	remaining := len(b) - pos
	macLen := 0
	if hasMAC {
		macLen = MACTagSize
	}
	if remaining < macLen {
		return Header{}, nil, nil, framedErr(Malformed, nil)
	}
	chunkPayload := b[pos : len(b)-macLen]
	var mac []byte
	if hasMAC {
		mac = b[len(b)-macLen:]
	}

	h := Header{
		HasMAC:     hasMAC,
		MacKeyID:   macKeyID,
		Namespace:  ns,
		Kind:       kind,
		Seq:        seq,
		TotalLen:   totalLen,
		ChunkIndex: chunkIndex,
		ChunkCount: chunkCount,
		CRC:        crc,
	}
	return h, chunkPayload, mac, nil
}

// VerifyCRC reports whether payload matches the CRC32C carried in h.
func VerifyCRC(h Header, payload []byte) bool {
	return crc32.Checksum(payload, crc32cTable) == h.CRC
}

// VerifyMAC reports whether mac matches the HMAC-SHA256 of payload under
// key, using the same construction as computeMAC.
func VerifyMAC(h Header, payload, mac, key []byte) bool {
	expected := computeMAC(h.Namespace, h.Kind, h.Seq, h.TotalLen, payload, key)
	return hmac.Equal(expected, mac)
}

func appendUint16(b []byte, v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendUint32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendUint64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}
