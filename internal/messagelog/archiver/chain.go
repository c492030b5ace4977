package archiver

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"msglog/pkg/platform/atomicfile"
	"msglog/pkg/platform/digest"
)

const stateFileName = ".chain-state.json"

// ErrChainBroken marks a gap or a digest mismatch between consecutive units.
var ErrChainBroken = errors.New("archive chain broken")

// chainState records both ends of the archive chain. The head fields are
// set once retention has removed the first units; until then the chain
// starts at unit 1.
type chainState struct {
	Sequence uint64 `json:"sequence"`
	Digest   string `json:"digest"`
	UnitID   string `json:"unitId,omitempty"`

	FirstSequence       uint64 `json:"firstSequence,omitempty"`
	FirstPreviousDigest string `json:"firstPreviousDigest,omitempty"`
}

// advance moves the tail to m, keeping the head.
func (st chainState) advance(m Manifest) chainState {
	st.Sequence = m.Sequence
	st.Digest = m.Digest
	st.UnitID = m.UnitID
	return st
}

// head is the sequence the chain must start at.
func (st chainState) head() uint64 {
	if st.FirstSequence == 0 {
		return 1
	}
	return st.FirstSequence
}

func loadState(dir string) (chainState, error) {
	data, err := os.ReadFile(filepath.Join(dir, stateFileName))
	if errors.Is(err, os.ErrNotExist) {
		return chainState{}, nil
	}
	if err != nil {
		return chainState{}, fmt.Errorf("read chain state: %w", err)
	}
	var st chainState
	if err := json.Unmarshal(data, &st); err != nil {
		return chainState{}, fmt.Errorf("decode chain state: %w", err)
	}
	return st, nil
}

func saveState(dir string, st chainState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode chain state: %w", err)
	}
	if err := atomicfile.WriteBytes(filepath.Join(dir, stateFileName), ".chain-state-", data); err != nil {
		return fmt.Errorf("write chain state: %w", err)
	}
	return nil
}

// VerifyResult summarizes a chain walk.
type VerifyResult struct {
	Units         int    `json:"units"`
	Records       int    `json:"records"`
	FirstSequence uint64 `json:"firstSequence"`
	LastSequence  uint64 `json:"lastSequence"`
	LastDigest    string `json:"lastDigest"`
}

// VerifyChain reads every unit in dir in sequence order, checks each digest
// and checks that every unit names its predecessor's digest. The chain must
// start at unit 1, or at the head recorded when retention removed the first
// units. A non-empty alg requires every unit to use it.
func VerifyChain(dir string, alg digest.Algorithm) (*VerifyResult, error) {
	files, err := listUnits(dir)
	if err != nil {
		return nil, err
	}
	st, err := loadState(dir)
	if err != nil {
		return nil, err
	}
	head := st.head()

	res := &VerifyResult{}
	if len(files) > 0 && files[0].sequence > head {
		return res, fmt.Errorf("%w: chain starts at unit %d, units from %d are missing", ErrChainBroken, files[0].sequence, head)
	}
	for i, f := range files {
		unit, err := ReadUnit(f.path)
		if err != nil {
			return res, err
		}
		m := unit.Manifest
		if m.Sequence != f.sequence {
			return res, fmt.Errorf("%w: %s holds sequence %d", ErrChainBroken, filepath.Base(f.path), m.Sequence)
		}
		if alg != "" && m.DigestAlgorithm != alg {
			return res, fmt.Errorf("%w: unit %d uses %s, want %s", ErrChainBroken, m.Sequence, m.DigestAlgorithm, alg)
		}

		if m.Sequence == 1 && m.PreviousDigest != "" {
			return res, fmt.Errorf("%w: first unit names a predecessor", ErrChainBroken)
		}
		if m.Sequence == head && head > 1 && m.PreviousDigest != st.FirstPreviousDigest {
			return res, fmt.Errorf("%w: unit %d does not chain to the pruned unit %d", ErrChainBroken, m.Sequence, head-1)
		}
		if i == 0 {
			res.FirstSequence = m.Sequence
		} else {
			if m.Sequence != res.LastSequence+1 {
				return res, fmt.Errorf("%w: unit %d follows unit %d", ErrChainBroken, m.Sequence, res.LastSequence)
			}
			if m.PreviousDigest != res.LastDigest {
				return res, fmt.Errorf("%w: unit %d does not chain to unit %d", ErrChainBroken, m.Sequence, res.LastSequence)
			}
		}

		res.Units++
		res.Records += m.RecordCount
		res.LastSequence = m.Sequence
		res.LastDigest = m.Digest
	}

	if st.Sequence > res.LastSequence || (st.Sequence == res.LastSequence && st.Digest != res.LastDigest) {
		return res, fmt.Errorf("%w: chain state at unit %d but last unit is %d", ErrChainBroken, st.Sequence, res.LastSequence)
	}
	return res, nil
}
