package cache

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/go-git/go-billy/v5/memfs"
	gap "github.com/muesli/go-app-paths"
)

// appName names the per-user cache directory.
const appName = "tiercache"

// DefaultDiskRoot returns the per-user cache directory for disk records
// (e.g. ~/.cache/tiercache on Linux). It falls back to the system temp
// directory when the user directories cannot be resolved.
func DefaultDiskRoot() string {
	dir, err := gap.NewScope(gap.User, appName).CacheDir()
	if err != nil || dir == "" {
		return filepath.Join(os.TempDir(), appName)
	}
	return dir
}

var (
	defaultOnce sync.Once
	defaultMgr  atomic.Pointer[Manager]
)

// Default returns a process-wide Manager, creating one with zero Options on
// first use. Prefer constructing a Manager with New and passing it
// explicitly; Default exists for small programs and scripts.
//
// If the default configuration cannot be used, the returned Manager keeps
// its disk tier in memory.
func Default() *Manager {
	defaultOnce.Do(func() {
		if defaultMgr.Load() != nil {
			return
		}
		m, err := New(Options{})
		if err != nil {
			log.Default().Warn("default cache falls back to an in-memory disk tier", "err", err)
			m, _ = New(Options{DiskFS: memfs.New()})
		}
		defaultMgr.CompareAndSwap(nil, m)
	})
	return defaultMgr.Load()
}

// SetDefault replaces the Manager returned by Default. The previous
// Manager is returned and is not closed.
func SetDefault(m *Manager) *Manager {
	defaultOnce.Do(func() {})
	return defaultMgr.Swap(m)
}
