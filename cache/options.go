package cache

import (
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-git/go-billy/v5"

	"github.com/IvanBrykalov/tiercache/policy"
	"github.com/IvanBrykalov/tiercache/policy/lru"
)

// Defaults applied by New for zero-valued Options fields.
const (
	DefaultMaxMemoryBytes        int64 = 100 << 20 // 100 MiB
	DefaultTTL                         = time.Hour
	DefaultLargeItemFraction           = 0.3
	DefaultDemoteAccessThreshold       = 3
	DefaultDiskFanout                  = 16
	DefaultCompressionLevel            = 3
	DefaultCompressMinBytes            = 1024
)

// Tier identifies one of the two storage backends.
type Tier int

const (
	// TierMemory is the bounded in-process tier.
	TierMemory Tier = iota
	// TierDisk is the persistent overflow tier.
	TierDisk
)

func (t Tier) String() string {
	switch t {
	case TierMemory:
		return "memory"
	case TierDisk:
		return "disk"
	default:
		return "unknown"
	}
}

// EvictReason explains why an entry left the memory tier.
type EvictReason int

const (
	// EvictDiscard: removed by LRU pressure and dropped.
	EvictDiscard EvictReason = iota
	// EvictDemote: removed by LRU pressure and persisted to the disk tier.
	EvictDemote
	// EvictTTL: expired, found on read, during eviction or by Cleanup.
	EvictTTL
)

func (r EvictReason) String() string {
	switch r {
	case EvictDemote:
		return "demote"
	case EvictTTL:
		return "ttl"
	default:
		return "discard"
	}
}

// Metrics exposes cache-level observability hooks.
// A NoopMetrics implementation is provided and used by default.
// Calls happen under the manager lock; implementations must not call back
// into the cache.
type Metrics interface {
	Hit(tier Tier)
	Miss()
	Evict(reason EvictReason)
	Promote()
	Usage(memoryBytes, diskBytes int64, memoryItems, diskItems int)
}

// Clock provides the current time; useful for deterministic tests.
type Clock interface{ Now() time.Time }

// Options configures the cache manager. Zero values are safe;
// sane defaults are applied in New():
//   - MaxMemoryBytes <= 0     => DefaultMaxMemoryBytes
//   - DiskRoot == ""          => DefaultDiskRoot() (unless DiskFS is set)
//   - DefaultTTL <= 0         => one hour
//   - LargeItemFraction <= 0  => 0.3
//   - nil Codec               => GobCodec
//   - nil Policy / Demoter    => LRU / AccessThreshold(DemoteAccessThreshold)
//   - nil Metrics / Logger    => NoopMetrics / log.Default() with a prefix
type Options struct {
	// MaxMemoryBytes is the byte budget of the memory tier.
	MaxMemoryBytes int64

	// LargeItemFraction is the share of MaxMemoryBytes above which an entry
	// bypasses memory and is written straight to disk.
	LargeItemFraction float64

	// DefaultTTL applies when Set/Wrap is called with a non-positive ttl.
	// Every entry expires; there is no "forever".
	DefaultTTL time.Duration

	// Disk tier.
	// DiskRoot is the directory holding records. Ignored when DiskFS is set.
	DiskRoot string
	// DiskFS overrides the filesystem (e.g. memfs in tests).
	DiskFS billy.Filesystem
	// MaxDiskBytes bounds stored payload bytes (0 = unbounded).
	MaxDiskBytes int64
	// DiskFanout is the number of bucket directories (rounded to a power of two, max 256).
	DiskFanout int
	// Compression enables zstd for payloads of at least CompressMinBytes.
	Compression      bool
	CompressionLevel int
	CompressMinBytes int

	// Codec serializes values for the disk tier and, by default, for sizing.
	Codec Codec
	// Sizer estimates the in-memory footprint of a value. Nil => defaultSizer.
	Sizer func(v any) int64

	// Eviction.
	// Policy orders memory entries by recency; nil => strict LRU.
	Policy policy.Policy
	// Demoter decides what evicted entries are persisted; nil =>
	// policy.AccessThreshold(DemoteAccessThreshold).
	Demoter policy.Demoter
	// DemoteAccessThreshold is used when Demoter is nil (0 => 3).
	DemoteAccessThreshold int

	// CoalesceWrap deduplicates concurrent Wrap computations for the same key.
	// Off by default: duplicate computation is allowed.
	CoalesceWrap bool

	// Observability
	Metrics Metrics
	Logger  *log.Logger

	// Clock allows overriding time source (tests). Nil => time.Now().
	Clock Clock
}

// withDefaults returns a copy of o with zero values replaced.
func (o Options) withDefaults() Options {
	if o.MaxMemoryBytes <= 0 {
		o.MaxMemoryBytes = DefaultMaxMemoryBytes
	}
	if o.LargeItemFraction <= 0 {
		o.LargeItemFraction = DefaultLargeItemFraction
	}
	if o.DefaultTTL <= 0 {
		o.DefaultTTL = DefaultTTL
	}
	if o.DiskFanout <= 0 {
		o.DiskFanout = DefaultDiskFanout
	}
	if o.CompressionLevel <= 0 {
		o.CompressionLevel = DefaultCompressionLevel
	}
	if o.CompressMinBytes <= 0 {
		o.CompressMinBytes = DefaultCompressMinBytes
	}
	if o.DemoteAccessThreshold == 0 {
		o.DemoteAccessThreshold = DefaultDemoteAccessThreshold
	}
	if o.Codec == nil {
		o.Codec = GobCodec{}
	}
	if o.Policy == nil {
		o.Policy = lru.New()
	}
	if o.Demoter == nil {
		o.Demoter = policy.AccessThreshold(o.DemoteAccessThreshold)
	}
	if o.Metrics == nil {
		o.Metrics = NoopMetrics{}
	}
	if o.Logger == nil {
		o.Logger = log.Default().WithPrefix("tiercache")
	}
	if o.Clock == nil {
		o.Clock = systemClock{}
	}
	return o
}

// largeItemThreshold is the byte size above which entries go straight to disk.
func (o Options) largeItemThreshold() int64 {
	return int64(float64(o.MaxMemoryBytes) * o.LargeItemFraction)
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
