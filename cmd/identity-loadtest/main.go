// Command identity-loadtest drives concurrent logins, session checks and
// brute-force guard updates through the engine against a Redis store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	identity "github.com/arthurh0812/natours-identity"
	"github.com/arthurh0812/natours-identity/account"
	"github.com/arthurh0812/natours-identity/password"
	"github.com/arthurh0812/natours-identity/store/redisstore"
)

const loadPassword = "loadtest-pass"

func main() {
	var (
		accounts    = flag.Int("accounts", 500, "number of confirmed accounts to seed")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 20000, "operations in the authenticate and guard phases")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "loadtest", "redis key prefix")
	)
	flag.Parse()

	if *accounts <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "accounts, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", mr.Addr())
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	store := redisstore.New(client, redisstore.WithPrefix(*prefix))

	cfg := identity.DefaultConfig()
	cfg.Session.PrivateKey = []byte(uuid.NewString() + uuid.NewString())
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Password.UpgradeOnLogin = false

	engine, err := identity.New().
		WithConfig(cfg).
		WithStore(store).
		WithMailer(identity.MailerFunc(func(context.Context, string, string, string) error { return nil })).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	handles, err := seed(ctx, store, cfg.Password, *accounts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}

	sessions := make([]string, len(handles))
	loginStats := runPhase(len(handles), *concurrency, func(i int, _ *rand.Rand) error {
		res, err := engine.Login(ctx, identity.LoginInput{Identifier: handles[i], Password: loadPassword})
		if err != nil {
			return err
		}
		sessions[i] = res.Session
		return nil
	})

	authStats := runPhase(*ops, *concurrency, func(_ int, r *rand.Rand) error {
		_, err := engine.Authenticate(ctx, sessions[r.Intn(len(sessions))])
		return err
	})

	// Failures concentrate on a handful of accounts so UpdateAttempt contends.
	var locked int64
	hot := min(8, len(handles))
	guardStats := runPhase(*ops, *concurrency, func(_ int, r *rand.Rand) error {
		_, err := engine.Login(ctx, identity.LoginInput{Identifier: handles[r.Intn(hot)], Password: "wrong-password"})
		switch {
		case errors.Is(err, identity.ErrLocked):
			atomic.AddInt64(&locked, 1)
			return nil
		case errors.Is(err, identity.ErrUnauthorized):
			return nil
		default:
			return err
		}
	})

	fmt.Println("---- results ----")
	printStats("login", loginStats)
	printStats("authenticate", authStats)
	printStats("guard", guardStats)
	fmt.Printf("guard: locked responses=%d\n", locked)
}

// seed stores confirmed accounts sharing one precomputed hash.
func seed(ctx context.Context, store account.Store, pc identity.PasswordConfig, n int) ([]string, error) {
	hasher, err := password.NewArgon2(password.Config{
		Memory:      pc.Memory,
		Time:        pc.Time,
		Parallelism: pc.Parallelism,
		SaltLength:  pc.SaltLength,
		KeyLength:   pc.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	hash, err := hasher.Hash(loadPassword)
	if err != nil {
		return nil, err
	}

	fmt.Printf("seeding %d accounts...\n", n)
	start := time.Now()
	handles := make([]string, n)
	for i := range handles {
		handles[i] = fmt.Sprintf("tourist%06d", i)
		err := store.CreateAccount(ctx, &account.Account{
			ID:           uuid.NewString(),
			Name:         "Load Tourist",
			Handle:       handles[i],
			Email:        handles[i] + "@loadtest.local",
			PasswordHash: hash,
			Role:         account.RoleUser,
			Active:       true,
			Registered:   true,
			CreatedAt:    time.Now(),
		})
		if err != nil {
			return nil, err
		}
	}
	fmt.Printf("seeded in %s\n", time.Since(start).Round(time.Millisecond))
	return handles, nil
}

func runPhase(ops, concurrency int, op func(i int, r *rand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(i, r)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
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
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
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

func percentile(samples []time.Duration, p int) time.Duration {
	switch {
	case len(samples) == 0:
		return 0
	case p <= 0:
		return samples[0]
	case p >= 100:
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
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
