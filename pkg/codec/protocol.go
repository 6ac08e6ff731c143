// Package codec transcodes user-submitted JSON probe descriptors into the
// compact binary records published to the probing-agent bus, and batches
// them under a byte budget.
package codec

import "strings"

// Protocol is the closed set of transport protocols a probe may target.
// On the wire it is written as its numeric value (see record.go), so the
// order of the constants below is part of the wire format.
type Protocol uint8

const (
	ProtocolUnknown Protocol = iota
	ProtocolTCP
	ProtocolUDP
	ProtocolICMP
	ProtocolICMPv6
)

// String returns the lowercase wire name of the protocol.
func (p Protocol) String() string {
	switch p {
	case ProtocolTCP:
		return "tcp"
	case ProtocolUDP:
		return "udp"
	case ProtocolICMP:
		return "icmp"
	case ProtocolICMPv6:
		return "icmpv6"
	default:
		return "unknown"
	}
}

// ParseProtocol parses a protocol name. The fast path matches the
// lowercase literal before falling back to a case-insensitive compare,
// per spec: "the fast path matches the lowercase literal before
// lowercasing".
func ParseProtocol(s string) (Protocol, bool) {
	switch s {
	case "tcp":
		return ProtocolTCP, true
	case "udp":
		return ProtocolUDP, true
	case "icmp":
		return ProtocolICMP, true
	case "icmpv6":
		return ProtocolICMPv6, true
	}

	switch strings.ToLower(s) {
	case "tcp":
		return ProtocolTCP, true
	case "udp":
		return ProtocolUDP, true
	case "icmp":
		return ProtocolICMP, true
	case "icmpv6":
		return ProtocolICMPv6, true
	}

	return ProtocolUnknown, false
}
