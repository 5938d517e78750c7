package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	mrand "math/rand"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/MrEthical07/docauth"
	"github.com/MrEthical07/docauth/credstore/memory"
)

type loadtestOptions struct {
	accounts    int
	concurrency int
	ops         int
	redisAddr   string
}

// newLoadtestCmd drives Validate and the OTP round trip against an
// in-process engine and prints latency percentiles.
func newLoadtestCmd() *cobra.Command {
	opts := loadtestOptions{}
	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Benchmark session validation and OTP verification",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLoadtest(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().IntVar(&opts.accounts, "accounts", 200, "accounts to register before the validate phase")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 64, "concurrent workers")
	cmd.Flags().IntVar(&opts.ops, "ops", 50000, "operations per phase")
	cmd.Flags().StringVar(&opts.redisAddr, "redis-addr", "", "redis address; empty starts miniredis")
	return cmd
}

var codePattern = regexp.MustCompile(`\b(\d{6,10})\b`)

// codeSink captures the last OTP sent per recipient.
type codeSink struct {
	mu    sync.Mutex
	codes map[string]string
}

func (s *codeSink) Send(_ context.Context, recipient, _, body string) error {
	m := codePattern.FindStringSubmatch(body)
	if m == nil {
		return fmt.Errorf("no code in body")
	}
	s.mu.Lock()
	s.codes[recipient] = m[1]
	s.mu.Unlock()
	return nil
}

func (s *codeSink) code(recipient string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[recipient]
}

func runLoadtest(ctx context.Context, out io.Writer, opts loadtestOptions) error {
	if opts.accounts <= 0 || opts.concurrency <= 0 || opts.ops <= 0 {
		return fmt.Errorf("accounts, concurrency and ops must be > 0")
	}

	addr := opts.redisAddr
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("start miniredis: %w", err)
		}
		defer mr.Close()
		addr = mr.Addr()
		fmt.Fprintf(out, "using miniredis at %s\n", addr)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	defer func() { _ = client.Close() }()

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return err
	}
	cfg := docauth.DefaultConfig()
	cfg.Session.PrivateKey = key
	cfg.OTP.HashKey = key
	cfg.OTP.Cooldown = 0
	cfg.Login.MaxFailures = 0
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1

	sink := &codeSink{codes: make(map[string]string)}
	engine, err := docauth.New().
		WithConfig(cfg).
		WithRedis(client).
		WithCredentialStore(memory.New()).
		WithNotifier(sink).
		WithLatencyHistograms(true).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	fmt.Fprintf(out, "registering %d accounts...\n", opts.accounts)
	tokens := make([]string, opts.accounts)
	start := time.Now()
	for i := range tokens {
		email := fmt.Sprintf("load-%d@docauth.test", i)
		vt, err := otpRoundTrip(ctx, engine, sink, email)
		if err != nil {
			return fmt.Errorf("verify %s: %w", email, err)
		}
		sess, err := engine.Register(ctx, docauth.RegisterInput{Email: email, Password: "load-test-password", VerificationToken: vt})
		if err != nil {
			return fmt.Errorf("register %s: %w", email, err)
		}
		tokens[i] = sess.Token
	}
	fmt.Fprintf(out, "registered in %s\n", time.Since(start).Round(time.Millisecond))

	validate := runPhase(opts, func(worker, i int, r *mrand.Rand) error {
		_, err := engine.Validate(ctx, tokens[r.Intn(len(tokens))])
		return err
	})
	otp := runPhase(opts, func(worker, i int, _ *mrand.Rand) error {
		_, err := otpRoundTrip(ctx, engine, sink, fmt.Sprintf("otp-%d-%d@docauth.test", worker, i))
		return err
	})

	fmt.Fprintln(out, "---- results ----")
	printStats(out, "validate", validate)
	printStats(out, "otp", otp)
	return nil
}

func otpRoundTrip(ctx context.Context, engine *docauth.Engine, sink *codeSink, email string) (string, error) {
	if err := engine.RequestOTP(ctx, email); err != nil {
		return "", err
	}
	return engine.VerifyOTP(ctx, email, sink.code(email))
}

func runPhase(opts loadtestOptions, op func(worker, i int, r *mrand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, opts.ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < opts.concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := mrand.New(mrand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= opts.ops {
					return
				}
				t0 := time.Now()
				err := op(worker, i, r)
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
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(out io.Writer, name string, s phaseStats) {
	fmt.Fprintf(out, "%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
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
