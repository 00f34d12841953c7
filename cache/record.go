package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmgilman/go/errors"

	"github.com/IvanBrykalov/tiercache/internal/util"
)

// recordVersion is bumped whenever the metadata layout changes.
// Records with another version are treated as corrupt and removed.
const recordVersion = 1

const (
	metaExt   = ".meta"
	dataExt   = ".data"
	tmpPrefix = ".tmp-"
)

// diskMeta is the JSON sidecar written next to every payload file.
// It is small enough to be scanned without touching payloads.
type diskMeta struct {
	Version    int       `json:"v"`
	Key        string    `json:"key"`
	Identity   string    `json:"identity,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	SizeBytes  int64     `json:"size_bytes"`
	Stored     int64     `json:"stored_bytes"`
	Compressed bool      `json:"zstd,omitempty"`

	// Not persisted: refreshed on every disk hit for MaxDiskBytes ordering.
	lastAccess time.Time
	hits       int
}

func (m *diskMeta) info() EntryInfo {
	return EntryInfo{
		Key:         m.Key,
		Identity:    m.Identity,
		Tier:        TierDisk,
		CreatedAt:   m.CreatedAt,
		ExpiresAt:   m.ExpiresAt,
		SizeBytes:   m.SizeBytes,
		LastAccess:  m.lastAccess,
		AccessCount: m.hits,
	}
}

func encodeMeta(m *diskMeta) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "encode record metadata")
	}
	return b, nil
}

func decodeMeta(b []byte) (*diskMeta, error) {
	var m diskMeta
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidInput, "decode record metadata")
	}
	if m.Version != recordVersion {
		return nil, errors.Newf(errors.CodeInvalidInput, "unsupported record version %d", m.Version)
	}
	if m.Key == "" {
		return nil, errors.New(errors.CodeInvalidInput, "record metadata without key")
	}
	m.lastAccess = m.CreatedAt
	return &m, nil
}

// recordName is the filesystem-safe base name for key.
func recordName(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:keyBytes])
}

// recordDir returns the fan-out directory holding name.
func recordDir(name string, fanout int) string {
	return fmt.Sprintf("%02x", util.Bucket(util.Fnv64a(name), fanout))
}
