package archiver

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Prune removes the oldest units sealed before cutoff. Only a prefix of the
// chain is removed and the newest unit is always kept. The new head and its
// link to the last removed unit are saved in the chain state before any file
// is removed, so the remaining units still verify and losing further head
// units is detected.
func (a *Archiver) Prune(cutoff time.Time) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	files, err := listUnits(a.dir)
	if err != nil {
		return 0, err
	}
	expired := 0
	var head Manifest
	for i, f := range files {
		m, err := readManifest(f.path)
		if err != nil {
			return 0, err
		}
		head = m
		if i == len(files)-1 || !m.SealedAt.Before(cutoff) {
			break
		}
		expired++
	}
	if expired == 0 {
		return 0, nil
	}

	state, err := loadState(a.dir)
	if err != nil {
		return 0, err
	}
	state.FirstSequence = head.Sequence
	state.FirstPreviousDigest = head.PreviousDigest
	if err := saveState(a.dir, state); err != nil {
		return 0, err
	}

	removed := 0
	for _, f := range files[:expired] {
		if err := os.Remove(f.path); err != nil {
			return removed, fmt.Errorf("remove unit %d: %w", f.sequence, err)
		}
		removed++
	}
	return removed, nil
}

// readManifest decodes only the first line of a unit.
func readManifest(path string) (Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("open unit: %w", err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrCorruptUnit, err)
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return Manifest{}, fmt.Errorf("%w: read manifest: %v", ErrCorruptUnit, err)
	}
	var m Manifest
	if err := json.Unmarshal(line, &m); err != nil {
		return Manifest{}, fmt.Errorf("%w: decode manifest: %v", ErrCorruptUnit, err)
	}
	return m, nil
}
