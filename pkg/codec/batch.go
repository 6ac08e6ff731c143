package codec

import "fmt"

// DefaultBatchBudget is the default byte budget per batch (§4.1).
const DefaultBatchBudget = 1_000_000

// Batch encodes probes and splits them into batches whose encoded size
// never exceeds budget. A record is appended to the current batch iff
// doing so keeps the batch size <= budget; otherwise the current batch
// is sealed and a new one started. Input order is preserved within and
// across batches. A single record larger than budget fails the whole
// submission; no record is ever split across batches.
func Batch(probes []Probe, budget int) ([][]byte, error) {
	if len(probes) == 0 {
		return nil, nil
	}

	var batches [][]byte
	var current []byte

	for i, p := range probes {
		rec := EncodeRecord(p)
		if len(rec) > budget {
			return nil, fmt.Errorf("probe %d: encoded record of %d bytes exceeds batch budget of %d bytes", i, len(rec), budget)
		}

		if len(current)+len(rec) > budget {
			batches = append(batches, current)
			current = nil
		}
		current = append(current, rec...)
	}

	if len(current) > 0 {
		batches = append(batches, current)
	}

	return batches, nil
}
