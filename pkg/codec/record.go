package codec

import (
	"encoding/binary"
	"fmt"
)

// Field tags for the capability-table record format. New fields can be
// appended with new tags; a reader that does not know a tag skips its
// payload using the tag's length prefix, so the wire format can grow
// without a stream-wide version bump. Modeled on friggdb/encoding's
// manual binary (un)marshaling, generalized to a skippable per-field
// layout instead of a single fixed-width struct.
const (
	tagDstAddr  uint8 = 1
	tagSrcPort  uint8 = 2
	tagDstPort  uint8 = 3
	tagTTL      uint8 = 4
	tagProtocol uint8 = 5
)

const lengthPrefixSize = 4 // u32 record body length, little-endian

// EncodeRecord serializes a Probe into a length-prefixed, self-describing
// record: [u32 bodyLen][u8 fieldCount][{u8 tag, u16 len, payload}...].
func EncodeRecord(p Probe) []byte {
	const bodyLen = 1 + // field count
		(1 + 2 + 16) + // dst_addr
		(1 + 2 + 2) + // src_port
		(1 + 2 + 2) + // dst_port
		(1 + 2 + 1) + // ttl
		(1 + 2 + 1) // protocol

	buf := make([]byte, lengthPrefixSize+bodyLen)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(bodyLen))

	body := buf[lengthPrefixSize:]
	body[0] = 5 // field count
	off := 1

	off = putField(body, off, tagDstAddr, p.DstAddr[:])

	var portBuf [2]byte
	binary.LittleEndian.PutUint16(portBuf[:], p.SrcPort)
	off = putField(body, off, tagSrcPort, portBuf[:])

	binary.LittleEndian.PutUint16(portBuf[:], p.DstPort)
	off = putField(body, off, tagDstPort, portBuf[:])

	off = putField(body, off, tagTTL, []byte{p.TTL})
	putField(body, off, tagProtocol, []byte{byte(p.Protocol)})

	return buf
}

func putField(body []byte, off int, tag uint8, payload []byte) int {
	body[off] = tag
	binary.LittleEndian.PutUint16(body[off+1:off+3], uint16(len(payload)))
	copy(body[off+3:off+3+len(payload)], payload)
	return off + 3 + len(payload)
}

// DecodeRecord reads one length-prefixed record from the front of buf and
// returns the decoded Probe plus the number of bytes consumed.
func DecodeRecord(buf []byte) (Probe, int, error) {
	if len(buf) < lengthPrefixSize {
		return Probe{}, 0, fmt.Errorf("truncated record: missing length prefix")
	}
	bodyLen := int(binary.LittleEndian.Uint32(buf[0:4]))
	total := lengthPrefixSize + bodyLen
	if len(buf) < total {
		return Probe{}, 0, fmt.Errorf("truncated record: want %d bytes, have %d", total, len(buf))
	}
	body := buf[lengthPrefixSize:total]

	if len(body) < 1 {
		return Probe{}, 0, fmt.Errorf("truncated record: missing field count")
	}
	fieldCount := int(body[0])
	off := 1

	var p Probe
	for i := 0; i < fieldCount; i++ {
		if off+3 > len(body) {
			return Probe{}, 0, fmt.Errorf("truncated record: field %d header", i)
		}
		tag := body[off]
		flen := int(binary.LittleEndian.Uint16(body[off+1 : off+3]))
		off += 3
		if off+flen > len(body) {
			return Probe{}, 0, fmt.Errorf("truncated record: field %d payload", i)
		}
		payload := body[off : off+flen]
		off += flen

		switch tag {
		case tagDstAddr:
			if flen == 16 {
				copy(p.DstAddr[:], payload)
			}
		case tagSrcPort:
			if flen == 2 {
				p.SrcPort = binary.LittleEndian.Uint16(payload)
			}
		case tagDstPort:
			if flen == 2 {
				p.DstPort = binary.LittleEndian.Uint16(payload)
			}
		case tagTTL:
			if flen == 1 {
				p.TTL = payload[0]
			}
		case tagProtocol:
			if flen == 1 {
				p.Protocol = Protocol(payload[0])
			}
		default:
			// Unknown tag: skip. This is the capability-table property
			// that lets the wire format grow without breaking readers.
		}
	}

	return p, total, nil
}

// DecodeBatch decodes every record in a batch produced by Batch, in order.
func DecodeBatch(batch []byte) ([]Probe, error) {
	var probes []Probe
	off := 0
	for off < len(batch) {
		p, n, err := DecodeRecord(batch[off:])
		if err != nil {
			return nil, err
		}
		probes = append(probes, p)
		off += n
	}
	return probes, nil
}
