package dist

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"strconv"
)

// Communicator runs blocking collectives over the store: every rank
// must enter each collective in the same order. Round numbers keep
// concurrent epochs' keys apart; finished rounds are reclaimed by the
// last rank to leave.
type Communicator struct {
	store *Store
	round uint64
}

// NewCommunicator wraps a rendezvoused store.
func NewCommunicator(store *Store) *Communicator {
	return &Communicator{store: store}
}

// AllReduceSum sums vec across all ranks in place. Blocks until every
// rank has contributed.
func (c *Communicator) AllReduceSum(vec []float64) error {
	prefix := fmt.Sprintf("ar/%d/", c.round)
	c.round++

	if err := c.store.Set(prefix+strconv.Itoa(c.store.Rank()), encodeVec(vec)); err != nil {
		return err
	}

	sum := make([]float64, len(vec))
	for r := 0; r < c.store.World(); r++ {
		raw, err := c.store.Get(prefix + strconv.Itoa(r))
		if err != nil {
			return err
		}
		part, err := decodeVec(raw)
		if err != nil {
			return err
		}
		if len(part) != len(vec) {
			return fmt.Errorf("dist: all-reduce: rank %d sent %d values, want %d", r, len(part), len(vec))
		}
		for i, v := range part {
			sum[i] += v
		}
	}
	copy(vec, sum)
	return c.finishRound(prefix)
}

// Broadcast copies root's vec into every rank's vec in place.
func (c *Communicator) Broadcast(vec []float64, root int) error {
	if root < 0 || root >= c.store.World() {
		return fmt.Errorf("dist: broadcast: root %d out of range [0, %d)", root, c.store.World())
	}
	prefix := fmt.Sprintf("bc/%d/", c.round)
	c.round++

	if c.store.Rank() == root {
		if err := c.store.Set(prefix+"v", encodeVec(vec)); err != nil {
			return err
		}
	} else {
		raw, err := c.store.Get(prefix + "v")
		if err != nil {
			return err
		}
		part, err := decodeVec(raw)
		if err != nil {
			return err
		}
		if len(part) != len(vec) {
			return fmt.Errorf("dist: broadcast: got %d values, want %d", len(part), len(vec))
		}
		copy(vec, part)
	}
	return c.finishRound(prefix)
}

// Barrier blocks until every rank has reached it.
func (c *Communicator) Barrier() error {
	one := []float64{1}
	if err := c.AllReduceSum(one); err != nil {
		return err
	}
	if int(one[0]) != c.store.World() {
		return fmt.Errorf("dist: barrier counted %d ranks, want %d", int(one[0]), c.store.World())
	}
	return nil
}

// finishRound counts leavers and lets the last one reclaim the round's
// keys. Every participant has read all values by the time it leaves, so
// the deletion cannot race a reader.
func (c *Communicator) finishRound(prefix string) error {
	n, err := c.store.Add(prefix+"done", 1)
	if err != nil {
		return err
	}
	if int(n) == c.store.World() {
		return c.store.DelPrefix(prefix)
	}
	return nil
}

func encodeVec(vec []float64) []byte {
	var buf bytes.Buffer
	gob.NewEncoder(&buf).Encode(vec)
	return buf.Bytes()
}

func decodeVec(raw []byte) ([]float64, error) {
	var vec []float64
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&vec); err != nil {
		return nil, fmt.Errorf("dist: decode vector: %w", err)
	}
	return vec, nil
}
