package archiver

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/klauspost/compress/zstd"

	"msglog/internal/messagelog/models"
	"msglog/pkg/platform/digest"
)

// FormatVersion identifies the archive unit layout.
const FormatVersion = "msglog-archive/1"

// ErrCorruptUnit marks a unit whose content does not match its manifest.
var ErrCorruptUnit = errors.New("corrupt archive unit")

var unitNamePattern = regexp.MustCompile(`^mlog-(\d{10})-[0-9a-f-]{36}\.jsonl\.zst$`)

// Manifest is the first line of every archive unit.
//
// Digest = H(manifest with empty Digest || body), where body is the
// uncompressed entry lines. PreviousDigest chains units together.
type Manifest struct {
	Format          string           `json:"format"`
	Sequence        uint64           `json:"sequence"`
	UnitID          string           `json:"unitId"`
	SealedAt        time.Time        `json:"sealedAt"`
	FirstTime       time.Time        `json:"firstTime"`
	LastTime        time.Time        `json:"lastTime"`
	RecordCount     int              `json:"recordCount"`
	DigestAlgorithm digest.Algorithm `json:"digestAlgorithm"`
	PreviousDigest  string           `json:"previousDigest"`
	Digest          string           `json:"digest"`
}

// Entry is one archived message with its timestamp.
type Entry struct {
	ID                 int64           `json:"id"`
	QueryID            string          `json:"queryId"`
	Time               time.Time       `json:"time"`
	IsResponse         bool            `json:"isResponse"`
	MemberID           string          `json:"memberId"`
	Message            string          `json:"message"`
	SignatureXML       string          `json:"signatureXml"`
	SignatureHash      string          `json:"signatureHash"`
	HashChainResult    string          `json:"hashChainResult,omitempty"`
	HashChain          string          `json:"hashChain,omitempty"`
	TimestampHashChain string          `json:"timestampHashChain,omitempty"`
	Timestamp          *EntryTimestamp `json:"timestamp"`
}

// EntryTimestamp is the timestamp part of an Entry.
type EntryTimestamp struct {
	ID              int64     `json:"id"`
	Time            time.Time `json:"time"`
	TimestampDER    string    `json:"timestampDer"`
	HashChainResult string    `json:"hashChainResult,omitempty"`
}

func entryFor(rec *models.MessageRecord) Entry {
	e := Entry{
		ID:                 rec.ID,
		QueryID:            rec.QueryID,
		Time:               rec.Time,
		IsResponse:         rec.IsResponse,
		MemberID:           string(rec.MemberID),
		Message:            rec.Message,
		SignatureXML:       rec.SignatureXML,
		SignatureHash:      rec.SignatureHash,
		HashChainResult:    rec.HashChainResult,
		HashChain:          rec.HashChain,
		TimestampHashChain: rec.TimestampHashChain,
	}
	if ts := rec.Timestamp; ts != nil {
		e.Timestamp = &EntryTimestamp{
			ID:              ts.ID,
			Time:            ts.Time,
			TimestampDER:    ts.TimestampDER,
			HashChainResult: ts.HashChainResult,
		}
	}
	return e
}

// UnitFileName is the file name of a unit.
func UnitFileName(sequence uint64, unitID string) string {
	return fmt.Sprintf("mlog-%010d-%s.jsonl.zst", sequence, unitID)
}

// computeDigest hashes the manifest (without its digest) followed by body.
func computeDigest(m Manifest, body io.Reader) (string, error) {
	h, err := digest.New(m.DigestAlgorithm)
	if err != nil {
		return "", err
	}
	m.Digest = ""
	header, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode manifest: %w", err)
	}
	h.Write(header)
	if _, err := io.Copy(h, body); err != nil {
		return "", fmt.Errorf("hash body: %w", err)
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

// writeUnit streams manifest then body through zstd into w.
func writeUnit(w io.Writer, m Manifest, body io.Reader) error {
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	header, err := json.Marshal(m)
	if err != nil {
		_ = enc.Close()
		return fmt.Errorf("encode manifest: %w", err)
	}
	if _, err := enc.Write(append(header, '\n')); err != nil {
		_ = enc.Close()
		return fmt.Errorf("write manifest: %w", err)
	}
	if _, err := io.Copy(enc, body); err != nil {
		_ = enc.Close()
		return fmt.Errorf("write entries: %w", err)
	}
	return enc.Close()
}

// Unit is a decoded archive unit.
type Unit struct {
	Path     string
	Manifest Manifest
	Entries  []Entry
}

// ReadUnit decodes and verifies the unit at path against its own manifest.
func ReadUnit(path string) (*Unit, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open unit: %w", err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptUnit, filepath.Base(path), err)
	}
	defer dec.Close()

	r := bufio.NewReader(dec)
	headerLine, err := r.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read manifest: %v", ErrCorruptUnit, filepath.Base(path), err)
	}
	var m Manifest
	if err := json.Unmarshal(headerLine, &m); err != nil {
		return nil, fmt.Errorf("%w: %s: decode manifest: %v", ErrCorruptUnit, filepath.Base(path), err)
	}
	if m.Format != FormatVersion {
		return nil, fmt.Errorf("%w: %s: unknown format %q", ErrCorruptUnit, filepath.Base(path), m.Format)
	}
	// The digest covers the re-encoded manifest, so the stored line must be
	// exactly that encoding or edits to ignored keys would go unnoticed.
	canonical, err := json.Marshal(m)
	if err != nil || !bytes.Equal(canonical, bytes.TrimSuffix(headerLine, []byte("\n"))) {
		return nil, fmt.Errorf("%w: %s: manifest not in canonical form", ErrCorruptUnit, filepath.Base(path))
	}

	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read entries: %v", ErrCorruptUnit, filepath.Base(path), err)
	}

	sum, err := computeDigest(m, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptUnit, filepath.Base(path), err)
	}
	if sum != m.Digest {
		return nil, fmt.Errorf("%w: %s: digest mismatch", ErrCorruptUnit, filepath.Base(path))
	}

	unit := &Unit{Path: path, Manifest: m}
	lines := bufio.NewScanner(bytes.NewReader(body))
	lines.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for lines.Scan() {
		var e Entry
		if err := json.Unmarshal(lines.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("%w: %s: decode entry: %v", ErrCorruptUnit, filepath.Base(path), err)
		}
		unit.Entries = append(unit.Entries, e)
	}
	if err := lines.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: scan entries: %v", ErrCorruptUnit, filepath.Base(path), err)
	}
	if len(unit.Entries) != m.RecordCount {
		return nil, fmt.Errorf("%w: %s: %d entries, manifest says %d", ErrCorruptUnit, filepath.Base(path), len(unit.Entries), m.RecordCount)
	}
	return unit, nil
}

// unitFile is a unit found on disk, identified by name only.
type unitFile struct {
	path     string
	sequence uint64
}

// listUnits returns the units in dir ordered by sequence.
func listUnits(dir string) ([]unitFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list archive dir: %w", err)
	}
	var units []unitFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		match := unitNamePattern.FindStringSubmatch(e.Name())
		if match == nil {
			continue
		}
		seq, err := strconv.ParseUint(match[1], 10, 64)
		if err != nil {
			continue
		}
		units = append(units, unitFile{path: filepath.Join(dir, e.Name()), sequence: seq})
	}
	sort.Slice(units, func(i, j int) bool { return units[i].sequence < units[j].sequence })
	return units, nil
}
