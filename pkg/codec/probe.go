package codec

import (
	"encoding/json"
	"fmt"
	"net"
)

// Probe is the decoded, validated form of one JSON probe descriptor.
// DstAddr is always the 16-byte IPv6 (or IPv4-mapped-IPv6) form.
type Probe struct {
	DstAddr  [16]byte
	SrcPort  uint16
	DstPort  uint16
	TTL      uint8
	Protocol Protocol
}

// ValidationError reports why the probe at Index failed to parse.
type ValidationError struct {
	Index  int
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("probe %d: %s", e.Index, e.Reason)
}

func invalid(index int, reason string) error {
	return &ValidationError{Index: index, Reason: reason}
}

// ParseProbe decodes and validates the JSON array `[dst_addr, src_port,
// dst_port, ttl, protocol]` at the given index. Any deviation from the
// five-field positional shape fails with an index-qualified error.
func ParseProbe(index int, raw json.RawMessage) (Probe, error) {
	var fields []json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Probe{}, invalid(index, "not a JSON array")
	}
	if len(fields) != 5 {
		return Probe{}, invalid(index, fmt.Sprintf("expected 5 fields, got %d", len(fields)))
	}

	var dstAddr string
	if err := json.Unmarshal(fields[0], &dstAddr); err != nil {
		return Probe{}, invalid(index, "Destination address must be a string")
	}
	addr16, err := normalizeAddr(dstAddr)
	if err != nil {
		return Probe{}, invalid(index, "Destination address: "+err.Error())
	}

	srcPort, err := parsePort(fields[1])
	if err != nil {
		return Probe{}, invalid(index, "Source port: "+err.Error())
	}
	dstPort, err := parsePort(fields[2])
	if err != nil {
		return Probe{}, invalid(index, "Destination port: "+err.Error())
	}
	ttl, err := parseTTL(fields[3])
	if err != nil {
		return Probe{}, invalid(index, "TTL: "+err.Error())
	}

	var protoStr string
	if err := json.Unmarshal(fields[4], &protoStr); err != nil {
		return Probe{}, invalid(index, "Protocol must be a string")
	}
	proto, ok := ParseProtocol(protoStr)
	if !ok {
		return Probe{}, invalid(index, fmt.Sprintf("Protocol: unsupported value %q", protoStr))
	}

	return Probe{
		DstAddr:  addr16,
		SrcPort:  srcPort,
		DstPort:  dstPort,
		TTL:      ttl,
		Protocol: proto,
	}, nil
}

// ParseProbes decodes every element of a JSON probe array. The first
// invalid probe fails the whole operation, matching §4.1's
// "First invalid probe fails the whole operation" rule.
func ParseProbes(raw json.RawMessage) ([]Probe, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("probes must be a JSON array: %w", err)
	}

	probes := make([]Probe, 0, len(items))
	for i, item := range items {
		p, err := ParseProbe(i, item)
		if err != nil {
			return nil, err
		}
		probes = append(probes, p)
	}
	return probes, nil
}

func normalizeAddr(s string) ([16]byte, error) {
	var out [16]byte
	ip := net.ParseIP(s)
	if ip == nil {
		return out, fmt.Errorf("not a valid IP address")
	}
	if v4 := ip.To4(); v4 != nil {
		// IPv4-mapped IPv6: ::ffff:a.b.c.d
		copy(out[10:12], []byte{0xff, 0xff})
		copy(out[12:16], v4)
		return out, nil
	}
	v6 := ip.To16()
	if v6 == nil {
		return out, fmt.Errorf("not a valid IP address")
	}
	copy(out[:], v6)
	return out, nil
}

func parsePort(raw json.RawMessage) (uint16, error) {
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if n < 1 || n > 65535 {
		return 0, fmt.Errorf("must be in [1, 65535], got %d", n)
	}
	return uint16(n), nil
}

func parseTTL(raw json.RawMessage) (uint8, error) {
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if n < 1 || n > 255 {
		return 0, fmt.Errorf("must be in [1, 255], got %d", n)
	}
	return uint8(n), nil
}
