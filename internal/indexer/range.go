package indexer

import "fmt"

// BlockRange represents an inclusive block range.
type BlockRange struct {
	From uint64
	To   uint64
}

// Len returns the number of blocks in the range.
func (r BlockRange) Len() uint64 {
	return r.To - r.From + 1
}

// SplitRange splits a block range into batches of size batchSize.
func SplitRange(from, to, batchSize uint64) ([]BlockRange, error) {
	if batchSize == 0 {
		return nil, fmt.Errorf("batch size must be greater than zero")
	}
	if to < from {
		return nil, fmt.Errorf("to block must be >= from block")
	}

	ranges := make([]BlockRange, 0)
	start := from
	for start <= to {
		next := nextRange(start, to, batchSize)
		ranges = append(ranges, next)
		if next.To == to {
			break
		}
		start = next.To + 1
	}

	return ranges, nil
}

// NextRange returns the first batch of [from, to], or false when the range is empty.
func NextRange(from, to, batchSize uint64) (BlockRange, bool) {
	if batchSize == 0 || to < from {
		return BlockRange{}, false
	}
	return nextRange(from, to, batchSize), true
}

func nextRange(start, to, batchSize uint64) BlockRange {
	if to-start+1 <= batchSize {
		return BlockRange{From: start, To: to}
	}
	return BlockRange{From: start, To: start + batchSize - 1}
}
