package cache

import (
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/jmgilman/go/errors"
	"github.com/klauspost/compress/zstd"

	iutil "github.com/IvanBrykalov/tiercache/internal/util"
)

// lookupStatus is the outcome of a tier lookup.
type lookupStatus int

const (
	lookupMiss lookupStatus = iota
	lookupHit
	lookupExpired
)

// diskTier persists entries as <fan>/<name>.data + <name>.meta pairs on a
// billy filesystem. An in-memory index of the metadata is built on open,
// so lookups, sweeps and scans never list directories.
//
// All I/O failures are logged and degrade to a miss or a no-op.
type diskTier struct {
	mu    sync.RWMutex
	fs    billy.Filesystem
	index map[string]*diskMeta
	used  int64 // sum of stored payload bytes

	codec       Codec
	fanout      int
	maxBytes    int64
	compress    bool
	minCompress int
	enc         *zstd.Encoder
	dec         *zstd.Decoder

	log *log.Logger
	now func() time.Time
}

// openDisk prepares the disk tier and indexes existing records.
// A filesystem that cannot be listed is logged and treated as empty.
func openDisk(o Options, logger *log.Logger) (*diskTier, error) {
	fs := o.DiskFS
	if fs == nil {
		if err := os.MkdirAll(o.DiskRoot, 0o755); err != nil {
			logger.Warn("disk root unavailable", "root", o.DiskRoot, "err", err)
		}
		fs = osfs.New(o.DiskRoot)
	}

	d := &diskTier{
		fs:          fs,
		index:       make(map[string]*diskMeta),
		codec:       o.Codec,
		fanout:      iutil.FanoutCount(o.DiskFanout),
		maxBytes:    o.MaxDiskBytes,
		compress:    o.Compression,
		minCompress: o.CompressMinBytes,
		log:         logger,
		now:         o.Clock.Now,
	}

	var err error
	if d.compress {
		d.enc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(o.CompressionLevel)))
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeInternal, "create zstd encoder")
		}
	}
	// The decoder is always available: records written with compression
	// stay readable after compression is turned off.
	d.dec, err = zstd.NewReader(nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "create zstd decoder")
	}

	d.load()
	return d, nil
}

// load rebuilds the index from *.meta files and removes anything that
// cannot be trusted: corrupt metadata, payload files without metadata,
// leftovers of interrupted writes.
func (d *diskTier) load() {
	dirs, err := d.fs.ReadDir("")
	if err != nil {
		d.log.Warn("disk index scan failed", "err", err)
		return
	}

	var removed int
	for _, dir := range dirs {
		if !dir.IsDir() || !isFanDir(dir.Name()) {
			continue
		}
		files, err := d.fs.ReadDir(dir.Name())
		if err != nil {
			d.log.Warn("disk index scan failed", "dir", dir.Name(), "err", err)
			continue
		}

		committed := make(map[string]bool)
		for _, f := range files {
			name := f.Name()
			if !strings.HasSuffix(name, metaExt) {
				continue
			}
			base := strings.TrimSuffix(name, metaExt)
			if m, ok := d.loadRecord(dir.Name(), base); ok {
				committed[base] = true
				d.index[m.Key] = m
				d.used += m.Stored
				continue
			}
			d.removeFiles(dir.Name(), base)
			removed++
		}

		for _, f := range files {
			name := f.Name()
			switch {
			case strings.HasPrefix(name, tmpPrefix):
			case strings.HasSuffix(name, dataExt) && !committed[strings.TrimSuffix(name, dataExt)]:
			default:
				continue
			}
			if err := d.fs.Remove(d.fs.Join(dir.Name(), name)); err == nil {
				removed++
			}
		}
	}

	d.log.Debug("disk index loaded", "records", len(d.index), "bytes", d.used, "removed", removed)
}

// loadRecord reads and validates one metadata file.
func (d *diskTier) loadRecord(dir, base string) (*diskMeta, bool) {
	b, err := util.ReadFile(d.fs, d.fs.Join(dir, base+metaExt))
	if err != nil {
		d.log.Warn("unreadable record metadata", "name", base, "err", err)
		return nil, false
	}
	m, err := decodeMeta(b)
	if err != nil {
		d.log.Warn("corrupt record metadata", "name", base, "code", errors.GetCode(err), "err", err)
		return nil, false
	}
	if recordName(m.Key) != base || recordDir(base, d.fanout) != dir {
		// Written with another fan-out or renamed by hand.
		d.log.Warn("misplaced record", "name", base, "dir", dir)
		return nil, false
	}
	fi, err := d.fs.Stat(d.fs.Join(dir, base+dataExt))
	if err != nil || fi.Size() != m.Stored {
		d.log.Warn("record payload missing or truncated", "name", base)
		return nil, false
	}
	return m, true
}

func isFanDir(name string) bool {
	if len(name) != 2 {
		return false
	}
	for _, c := range name {
		if !strings.ContainsRune("0123456789abcdef", c) {
			return false
		}
	}
	return true
}

// paths returns the directory, data and metadata paths for key.
func (d *diskTier) paths(key string) (dir, data, meta string) {
	name := recordName(key)
	dir = recordDir(name, d.fanout)
	return dir, d.fs.Join(dir, name+dataExt), d.fs.Join(dir, name+metaExt)
}

// get returns the decoded value for key. Expired records are deleted.
// Unreadable records are deleted, logged and reported as a miss.
func (d *diskTier) get(key string, now time.Time) (any, *diskMeta, lookupStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, ok := d.index[key]
	if !ok {
		return nil, nil, lookupMiss
	}
	if isExpired(now, m.ExpiresAt) {
		d.dropLocked(key, m)
		return nil, nil, lookupExpired
	}

	v, err := d.readLocked(key, m)
	if err != nil {
		d.log.Warn("disk read failed; dropping record", "key", key, "code", errors.GetCode(err), "err", err)
		d.dropLocked(key, m)
		return nil, nil, lookupMiss
	}

	m.lastAccess = now
	m.hits++
	cp := *m
	return v, &cp, lookupHit
}

func (d *diskTier) readLocked(key string, m *diskMeta) (any, error) {
	_, dataPath, _ := d.paths(key)
	b, err := util.ReadFile(d.fs, dataPath)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "read payload")
	}
	if m.Compressed {
		b, err = d.dec.DecodeAll(b, nil)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeInvalidInput, "decompress payload")
		}
	}
	return d.codec.Decode(b)
}

// set persists value with the metadata in info. It reports whether the
// record was written; failures leave no committed record behind.
func (d *diskTier) set(info EntryInfo, value any) bool {
	payload, err := d.codec.Encode(value)
	if err != nil {
		d.log.Warn("value not persisted", "key", info.Key, "code", errors.GetCode(err), "err", err)
		return false
	}

	m := &diskMeta{
		Version:    recordVersion,
		Key:        info.Key,
		Identity:   info.Identity,
		CreatedAt:  info.CreatedAt,
		ExpiresAt:  info.ExpiresAt,
		SizeBytes:  info.SizeBytes,
		lastAccess: d.now(),
	}
	if d.compress && len(payload) >= d.minCompress {
		payload = d.enc.EncodeAll(payload, make([]byte, 0, len(payload)/2))
		m.Compressed = true
	}
	m.Stored = int64(len(payload))

	metaBytes, err := encodeMeta(m)
	if err != nil {
		d.log.Error("value not persisted", "key", info.Key, "code", errors.GetCode(err), "err", err)
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if old, ok := d.index[info.Key]; ok {
		// Uncommit the old record first: a crash between the two writes
		// must not pair the old metadata with the new payload.
		d.dropLocked(info.Key, old)
	}

	dir, dataPath, metaPath := d.paths(info.Key)
	if err := d.fs.MkdirAll(dir, 0o755); err != nil {
		d.log.Warn("value not persisted", "key", info.Key, "err", err)
		return false
	}
	if err := d.writeAtomic(dir, dataPath, payload); err != nil {
		d.log.Warn("value not persisted", "key", info.Key, "code", errors.GetCode(err), "err", err)
		return false
	}
	if err := d.writeAtomic(dir, metaPath, metaBytes); err != nil {
		d.log.Warn("value not persisted", "key", info.Key, "code", errors.GetCode(err), "err", err)
		_ = d.fs.Remove(dataPath)
		return false
	}

	d.index[info.Key] = m
	d.used += m.Stored
	d.enforceBudgetLocked(info.Key)
	return true
}

// writeAtomic writes b to a temp file in dir and renames it into place.
func (d *diskTier) writeAtomic(dir, dst string, b []byte) error {
	f, err := d.fs.TempFile(dir, tmpPrefix)
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "create temp file")
	}
	tmp := f.Name()

	_, err = f.Write(b)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = d.fs.Rename(tmp, dst)
	}
	if err != nil {
		_ = d.fs.Remove(tmp)
		return errors.Wrapf(err, errors.CodeInternal, "write %s", path.Base(dst))
	}
	return nil
}

// enforceBudgetLocked removes least recently accessed records until the
// stored bytes fit MaxDiskBytes. keep is never removed.
func (d *diskTier) enforceBudgetLocked(keep string) {
	if d.maxBytes <= 0 || d.used <= d.maxBytes {
		return
	}
	victims := make([]*diskMeta, 0, len(d.index))
	for k, m := range d.index {
		if k != keep {
			victims = append(victims, m)
		}
	}
	sort.Slice(victims, func(i, j int) bool {
		if !victims[i].lastAccess.Equal(victims[j].lastAccess) {
			return victims[i].lastAccess.Before(victims[j].lastAccess)
		}
		return victims[i].Key < victims[j].Key
	})
	for _, m := range victims {
		if d.used <= d.maxBytes {
			break
		}
		d.log.Debug("disk budget eviction", "key", m.Key, "bytes", m.Stored)
		d.dropLocked(m.Key, m)
	}
}

// dropLocked removes the record files and the index entry.
// Metadata goes first so a partial delete never leaves a committed record.
func (d *diskTier) dropLocked(key string, m *diskMeta) {
	_, dataPath, metaPath := d.paths(key)
	if err := d.fs.Remove(metaPath); err != nil && !os.IsNotExist(err) {
		d.log.Warn("remove record metadata", "key", key, "err", err)
	}
	if err := d.fs.Remove(dataPath); err != nil && !os.IsNotExist(err) {
		d.log.Warn("remove record payload", "key", key, "err", err)
	}
	delete(d.index, key)
	d.used -= m.Stored
	if d.used < 0 {
		d.used = 0
	}
}

func (d *diskTier) removeFiles(dir, base string) {
	_ = d.fs.Remove(d.fs.Join(dir, base+metaExt))
	_ = d.fs.Remove(d.fs.Join(dir, base+dataExt))
}

func (d *diskTier) remove(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.index[key]
	if ok {
		d.dropLocked(key, m)
	}
	return ok
}

func (d *diskTier) has(key string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.index[key]
	return ok
}

// scanMetadata returns the metadata of every record, oldest first,
// without loading payloads.
func (d *diskTier) scanMetadata() []EntryInfo {
	d.mu.RLock()
	out := make([]EntryInfo, 0, len(d.index))
	for _, m := range d.index {
		out = append(out, m.info())
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// sweep removes expired records and returns how many were removed.
func (d *diskTier) sweep(now time.Time) int {
	return d.removeWhere(func(m *diskMeta) bool { return isExpired(now, m.ExpiresAt) })
}

func (d *diskTier) removeIdentity(identity string) int {
	return d.removeWhere(func(m *diskMeta) bool { return m.Identity == identity })
}

func (d *diskTier) countIdentity(identity string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := 0
	for _, m := range d.index {
		if m.Identity == identity {
			n++
		}
	}
	return n
}

func (d *diskTier) removeWhere(match func(*diskMeta) bool) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for k, m := range d.index {
		if match(m) {
			d.dropLocked(k, m)
			n++
		}
	}
	return n
}

// clear removes every record and every fan-out directory. Files outside
// the fan-out directories are left alone.
func (d *diskTier) clear() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := len(d.index)
	d.index = make(map[string]*diskMeta)
	d.used = 0

	dirs, err := d.fs.ReadDir("")
	if err != nil {
		d.log.Warn("disk clear failed", "err", err)
		return n
	}
	for _, dir := range dirs {
		if dir.IsDir() && isFanDir(dir.Name()) {
			if err := util.RemoveAll(d.fs, dir.Name()); err != nil {
				d.log.Warn("disk clear failed", "dir", dir.Name(), "err", err)
			}
		}
	}
	return n
}

func (d *diskTier) usage() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.used
}

func (d *diskTier) len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.index)
}

// close releases the zstd workers. Records stay on disk. A read racing
// with close fails to decompress and is reported as a miss.
func (d *diskTier) close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dec.Close()
	if d.enc != nil {
		if err := d.enc.Close(); err != nil {
			return errors.Wrap(err, errors.CodeInternal, "close zstd encoder")
		}
	}
	return nil
}
