package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/jmgilman/go/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/tiercache/cache"
	pmet "github.com/IvanBrykalov/tiercache/metrics/prom"
)

type benchFlags struct {
	workers   int
	duration  time.Duration
	readPct   int
	keys      int
	zipfS     float64
	zipfV     float64
	seed      int64
	preload   int
	minValue  int
	maxValue  int
	ttl       time.Duration
	ephemeral bool

	pprofAddr   string
	metricsAddr string
}

var bf benchFlags

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Run a synthetic zipf workload and report hit rates",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runBench(cmd.Context(), cmd, bf)
	},
}

func init() {
	f := benchCmd.Flags()
	f.IntVar(&bf.workers, "workers", 2*runtime.GOMAXPROCS(0), "number of worker goroutines")
	f.DurationVar(&bf.duration, "duration", 10*time.Second, "benchmark duration")
	f.IntVar(&bf.readPct, "reads", 80, "read percentage [0..100]")
	f.IntVar(&bf.keys, "keys", 100_000, "keyspace size")
	f.Float64Var(&bf.zipfS, "zipf-s", 1.1, "Zipf s > 1 (skew)")
	f.Float64Var(&bf.zipfV, "zipf-v", 1.0, "Zipf v >= 1")
	f.Int64Var(&bf.seed, "seed", time.Now().UnixNano(), "random seed")
	f.IntVar(&bf.preload, "preload", 0, "preload entries (0 = keys/10)")
	f.IntVar(&bf.minValue, "min-value", 64, "minimum value size in bytes")
	f.IntVar(&bf.maxValue, "max-value", 4096, "maximum value size in bytes")
	f.DurationVar(&bf.ttl, "ttl", 0, "entry TTL (0 = configured default)")
	f.BoolVar(&bf.ephemeral, "ephemeral", true, "keep the disk tier in memory instead of the disk root")
	f.StringVar(&bf.pprofAddr, "pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
	f.StringVar(&bf.metricsAddr, "http", "", "serve Prometheus metrics at addr (e.g. :8080); empty = disabled")
}

func runBench(ctx context.Context, cmd *cobra.Command, f benchFlags) error {
	if f.keys <= 1 || f.zipfS <= 1 || f.zipfV < 1 {
		return errors.New(errors.CodeInvalidInput, "need keys > 1, zipf-s > 1 and zipf-v >= 1")
	}
	if f.minValue <= 0 || f.maxValue < f.minValue {
		return errors.New(errors.CodeInvalidInput, "need 0 < min-value <= max-value")
	}
	if f.workers <= 0 {
		f.workers = 1
	}
	if ctx == nil {
		ctx = context.Background()
	}

	// pprof and metrics share DefaultServeMux.
	if f.pprofAddr != "" {
		go func() {
			logger.Info("pprof: serving", "addr", f.pprofAddr)
			logger.Warn("pprof server stopped", "err", http.ListenAndServe(f.pprofAddr, nil))
		}()
	}
	var metrics cache.Metrics
	if f.metricsAddr != "" {
		metrics = pmet.New(nil, appName, "bench", nil)
		http.Handle("/metrics", promhttp.Handler())
		go func() {
			logger.Info("metrics: serving", "addr", f.metricsAddr)
			logger.Warn("metrics server stopped", "err", http.ListenAndServe(f.metricsAddr, nil))
		}()
	}

	m, err := openManager(func(o *cache.Options) {
		o.Metrics = metrics
		if f.ephemeral {
			o.DiskFS = memfs.New()
		}
	})
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	value := func(r *rand.Rand) string {
		n := f.minValue
		if span := f.maxValue - f.minValue; span > 0 {
			n += r.Intn(span + 1)
		}
		return strings.Repeat("v", n)
	}

	// Preload a slice of the keyspace to get a realistic hit rate.
	pl := f.preload
	if pl == 0 {
		pl = f.keys / 10
	}
	pr := rand.New(rand.NewSource(f.seed))
	for i := 0; i < pl; i++ {
		m.Set("k:"+strconv.Itoa(i), value(pr), f.ttl)
	}

	var reads, writes, hits, total atomic.Uint64
	ctx, cancel := context.WithTimeout(ctx, f.duration)
	defer cancel()

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < f.workers; w++ {
		id := int64(w)
		g.Go(func() error {
			// rand.Rand is not goroutine-safe: one RNG and Zipf per worker.
			r := rand.New(rand.NewSource(f.seed + id*9973))
			z := rand.NewZipf(r, f.zipfS, f.zipfV, uint64(f.keys-1))
			for {
				select {
				case <-gctx.Done():
					return nil
				default:
				}
				k := "k:" + strconv.FormatUint(z.Uint64(), 10)
				total.Add(1)
				if r.Intn(100) < f.readPct {
					reads.Add(1)
					if _, ok := m.Get(k); ok {
						hits.Add(1)
					}
					continue
				}
				writes.Add(1)
				m.Set(k, value(r), f.ttl)
			}
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	out := cmd.OutOrStdout()
	ops := total.Load()
	hitRate := 0.0
	if n := reads.Load(); n > 0 {
		hitRate = float64(hits.Load()) / float64(n) * 100
	}
	fmt.Fprintf(out, "workers=%d keys=%d dur=%v seed=%d values=%s..%s\n",
		f.workers, f.keys, elapsed.Round(time.Millisecond), f.seed,
		humanize.IBytes(uint64(f.minValue)), humanize.IBytes(uint64(f.maxValue)))
	fmt.Fprintf(out, "ops=%s (%s ops/s)  reads=%d  writes=%d  hit-rate=%.2f%%\n",
		humanize.Comma(int64(ops)), humanize.Comma(int64(float64(ops)/elapsed.Seconds())),
		reads.Load(), writes.Load(), hitRate)
	printStats(out, m.Stats())
	return nil
}
