package codec

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRoundTrip(t *testing.T) {
	p, err := ParseProbe(0, json.RawMessage(`["192.0.2.1", 33434, 53, 64, "udp"]`))
	require.NoError(t, err)

	rec := EncodeRecord(p)
	got, n, err := DecodeRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, len(rec), n)
	assert.Equal(t, p, got)
}

func TestDecodeRecord_SkipsUnknownTags(t *testing.T) {
	p, err := ParseProbe(0, json.RawMessage(`["192.0.2.1", 1, 2, 3, "tcp"]`))
	require.NoError(t, err)

	rec := EncodeRecord(p)

	// Simulate a future writer adding a 6th field with an unknown tag.
	extra := []byte{99, 3, 0, 'f', 'o', 'o'} // tag=99, len=3, payload="foo"
	rec[4] = 6 // bump field count
	patched := append(append([]byte{}, rec[:len(rec)-0]...), extra...)
	// fix outer length prefix to include the appended field
	newBodyLen := len(patched) - lengthPrefixSize
	patched[0] = byte(newBodyLen)
	patched[1] = byte(newBodyLen >> 8)
	patched[2] = byte(newBodyLen >> 16)
	patched[3] = byte(newBodyLen >> 24)

	got, n, err := DecodeRecord(patched)
	require.NoError(t, err)
	assert.Equal(t, len(patched), n)
	assert.Equal(t, p, got)
}

func TestDecodeBatch_ConcatenationPreservesOrder(t *testing.T) {
	raws := []json.RawMessage{
		`["192.0.2.1", 1, 2, 3, "tcp"]`,
		`["192.0.2.2", 4, 5, 6, "udp"]`,
		`["2001:db8::1", 7, 8, 9, "icmp"]`,
	}
	var probes []Probe
	for i, r := range raws {
		p, err := ParseProbe(i, r)
		require.NoError(t, err)
		probes = append(probes, p)
	}

	batches, err := Batch(probes, DefaultBatchBudget)
	require.NoError(t, err)
	require.Len(t, batches, 1)

	decoded, err := DecodeBatch(batches[0])
	require.NoError(t, err)
	assert.Equal(t, probes, decoded)
}
