package cmd

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/MrEthical07/courierAuth/session"
)

var (
	ltPrincipals  int
	ltConcurrency int
	ltOps         int
	ltInMemory    bool
)

type principalState struct {
	id   string
	hash string
	mu   sync.Mutex
	gen  int
}

var loadtestCmd = &cobra.Command{
	Use:   "loadtest",
	Short: "Measure session index check and rotation latency against Redis",
	RunE: func(cmd *cobra.Command, args []string) error {
		if ltPrincipals <= 0 || ltConcurrency <= 0 || ltOps <= 0 {
			return fmt.Errorf("principals, concurrency and ops must be > 0")
		}
		ctx := cmd.Context()

		addr := redisAddr
		if ltInMemory {
			mr, err := miniredis.Run()
			if err != nil {
				return fmt.Errorf("failed to start miniredis: %w", err)
			}
			defer mr.Close()
			addr = mr.Addr()
			fmt.Printf("using miniredis at %s\n", addr)
		} else {
			fmt.Printf("using redis at %s\n", addr)
		}
		client := redis.NewClient(&redis.Options{Addr: addr})
		defer client.Close()

		store := session.NewStore(client, "cs-loadtest")

		states := make([]principalState, ltPrincipals)
		fmt.Printf("seeding %d sessions...\n", ltPrincipals)
		startSeed := time.Now()
		for i := range states {
			states[i].id = fmt.Sprintf("p-%d", i)
			states[i].hash = sessionHash(i, 0)
			if _, err := store.Save(ctx, "user", states[i].id, states[i].hash, nil, 24*time.Hour); err != nil {
				return fmt.Errorf("save failed: %w", err)
			}
		}
		fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

		check := runPhase(ltOps, ltConcurrency, func(r *rand.Rand) error {
			st := &states[r.IntN(len(states))]
			st.mu.Lock()
			hash := st.hash
			st.mu.Unlock()
			active, err := store.IsActive(ctx, "user", st.id, hash)
			if err == nil && !active {
				err = session.ErrSessionNotFound
			}
			return err
		})
		rotate := runPhase(ltOps, ltConcurrency, func(r *rand.Rand) error {
			st := &states[r.IntN(len(states))]
			st.mu.Lock()
			defer st.mu.Unlock()
			next := sessionHash(r.IntN(len(states)), st.gen+1)
			if err := store.Rotate(ctx, "user", st.id, st.hash, next, 24*time.Hour); err != nil {
				return err
			}
			st.hash = next
			st.gen++
			return nil
		})

		fmt.Println("---- results ----")
		printStats("check", check)
		printStats("rotate", rotate)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loadtestCmd)
	loadtestCmd.Flags().IntVar(&ltPrincipals, "principals", 10000, "Number of sessions to seed")
	loadtestCmd.Flags().IntVar(&ltConcurrency, "concurrency", 128, "Concurrent workers")
	loadtestCmd.Flags().IntVar(&ltOps, "ops", 100000, "Operations per phase")
	loadtestCmd.Flags().BoolVar(&ltInMemory, "in-memory", false, "Run against an embedded miniredis instead of --redis-addr")
}

func runPhase(ops, concurrency int, op func(r *rand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    atomic.Int64
		failures  atomic.Int64
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, ops)
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker uint64) {
			defer wg.Done()
			r := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), worker))
			for cursor.Add(1) <= int64(ops) {
				t0 := time.Now()
				err := op(r)
				d := time.Since(t0)
				if err != nil {
					failures.Add(1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(uint64(w))
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures.Load())
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	slices.Sort(samples)
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(sorted []time.Duration, p int) time.Duration {
	switch {
	case len(sorted) == 0:
		return 0
	case p <= 0:
		return sorted[0]
	case p >= 100:
		return sorted[len(sorted)-1]
	}
	return sorted[(len(sorted)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

func sessionHash(i, gen int) string {
	return fmt.Sprintf("%064x", uint64(i)<<20|uint64(gen))
}
