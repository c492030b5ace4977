// Package hashchain binds a batch of record digests to a single root so that a
// timestamp over the root proves the inclusion of each record individually.
//
// Leaves are hashed as H(0x00 || leaf) and interior nodes as H(0x01 || left || right).
// An odd node at the end of a level is promoted unchanged.
package hashchain

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"msglog/pkg/platform/digest"
)

var (
	// ErrEmptyBatch is returned when Build receives no leaves.
	ErrEmptyBatch = errors.New("hash chain needs at least one leaf")
	// ErrMismatch is returned when a chain does not lead to the expected root.
	ErrMismatch = errors.New("hash chain does not match")
)

const (
	leafPrefix = 0x00
	nodePrefix = 0x01
)

// Step is one sibling on the way from a leaf to the root.
type Step struct {
	Hash string `json:"hash"`
	Left bool   `json:"left"`
}

// Chain proves that Leaf at Index is covered by Root.
type Chain struct {
	Algorithm digest.Algorithm `json:"algorithm"`
	Index     int              `json:"index"`
	Leaf      string           `json:"leaf"`
	Path      []Step           `json:"path"`
	Root      string           `json:"root"`
}

// Batch is the result of Build: the root to timestamp plus one encoded chain per leaf.
type Batch struct {
	Root   string
	Chains []string
}

// Build computes the root over leaves (base64 digests) and each leaf's chain.
func Build(alg digest.Algorithm, leaves []string) (*Batch, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyBatch
	}

	level := make([][]byte, len(leaves))
	for i, leaf := range leaves {
		raw, err := base64.StdEncoding.DecodeString(leaf)
		if err != nil {
			return nil, fmt.Errorf("decode leaf %d: %w", i, err)
		}
		h, err := hashLeaf(alg, raw)
		if err != nil {
			return nil, err
		}
		level[i] = h
	}

	paths := make([][]Step, len(leaves))
	positions := make([]int, len(leaves))
	for i := range positions {
		positions[i] = i
	}

	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			h, err := hashNode(alg, level[i], level[i+1])
			if err != nil {
				return nil, err
			}
			next = append(next, h)
		}
		for leaf, pos := range positions {
			sibling := pos ^ 1
			if sibling < len(level) {
				paths[leaf] = append(paths[leaf], Step{
					Hash: base64.StdEncoding.EncodeToString(level[sibling]),
					Left: sibling < pos,
				})
			}
			positions[leaf] = pos / 2
		}
		level = next
	}

	root := base64.StdEncoding.EncodeToString(level[0])
	batch := &Batch{Root: root, Chains: make([]string, len(leaves))}
	for i, leaf := range leaves {
		encoded, err := json.Marshal(Chain{
			Algorithm: alg,
			Index:     i,
			Leaf:      leaf,
			Path:      paths[i],
			Root:      root,
		})
		if err != nil {
			return nil, fmt.Errorf("encode chain %d: %w", i, err)
		}
		batch.Chains[i] = string(encoded)
	}
	return batch, nil
}

// Parse decodes a chain produced by Build.
func Parse(encoded string) (*Chain, error) {
	var c Chain
	if err := json.Unmarshal([]byte(encoded), &c); err != nil {
		return nil, fmt.Errorf("decode hash chain: %w", err)
	}
	return &c, nil
}

// Verify checks that encoded proves leaf and that it leads to root.
func Verify(encoded, leaf, root string) error {
	c, err := Parse(encoded)
	if err != nil {
		return err
	}
	if c.Leaf != leaf {
		return fmt.Errorf("%w: leaf differs", ErrMismatch)
	}
	computed, err := c.ComputeRoot()
	if err != nil {
		return err
	}
	if computed != root || c.Root != root {
		return fmt.Errorf("%w: root differs", ErrMismatch)
	}
	return nil
}

// ComputeRoot walks the path from the leaf and returns the resulting root.
func (c *Chain) ComputeRoot() (string, error) {
	raw, err := base64.StdEncoding.DecodeString(c.Leaf)
	if err != nil {
		return "", fmt.Errorf("decode leaf: %w", err)
	}
	cur, err := hashLeaf(c.Algorithm, raw)
	if err != nil {
		return "", err
	}
	for i, step := range c.Path {
		sibling, err := base64.StdEncoding.DecodeString(step.Hash)
		if err != nil {
			return "", fmt.Errorf("decode step %d: %w", i, err)
		}
		if step.Left {
			cur, err = hashNode(c.Algorithm, sibling, cur)
		} else {
			cur, err = hashNode(c.Algorithm, cur, sibling)
		}
		if err != nil {
			return "", err
		}
	}
	return base64.StdEncoding.EncodeToString(cur), nil
}

func hashLeaf(alg digest.Algorithm, leaf []byte) ([]byte, error) {
	return digest.Sum(alg, append([]byte{leafPrefix}, leaf...))
}

func hashNode(alg digest.Algorithm, left, right []byte) ([]byte, error) {
	buf := make([]byte, 0, 1+len(left)+len(right))
	buf = append(buf, nodePrefix)
	buf = append(buf, left...)
	buf = append(buf, right...)
	return digest.Sum(alg, buf)
}
