// Package digest maps configured hash algorithm identifiers to implementations.
package digest

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"hash"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Algorithm is a hash algorithm identifier as it appears in configuration and
// in archive manifests.
type Algorithm string

const (
	SHA256   Algorithm = "SHA-256"
	SHA384   Algorithm = "SHA-384"
	SHA512   Algorithm = "SHA-512"
	SHA3_256 Algorithm = "SHA3-256"
	SHA3_512 Algorithm = "SHA3-512"
)

// Default is used when no algorithm is configured.
const Default = SHA512

var constructors = map[Algorithm]func() hash.Hash{
	SHA256:   sha256.New,
	SHA384:   sha512.New384,
	SHA512:   sha512.New,
	SHA3_256: sha3.New256,
	SHA3_512: sha3.New512,
}

// Parse normalizes an identifier such as "sha-256" or "SHA3-256".
func Parse(s string) (Algorithm, error) {
	if s == "" {
		return Default, nil
	}
	alg := Algorithm(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := constructors[alg]; !ok {
		return "", fmt.Errorf("unsupported digest algorithm %q", s)
	}
	return alg, nil
}

// New returns a fresh hash for alg.
func New(alg Algorithm) (hash.Hash, error) {
	ctor, ok := constructors[alg]
	if !ok {
		return nil, fmt.Errorf("unsupported digest algorithm %q", alg)
	}
	return ctor(), nil
}

// Sum computes the digest of data.
func Sum(alg Algorithm, data []byte) ([]byte, error) {
	h, err := New(alg)
	if err != nil {
		return nil, err
	}
	h.Write(data)
	return h.Sum(nil), nil
}

// SumBase64 computes the digest of data and encodes it with standard base64.
func SumBase64(alg Algorithm, data []byte) (string, error) {
	sum, err := Sum(alg, data)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sum), nil
}
