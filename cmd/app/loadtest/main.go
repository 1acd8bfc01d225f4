package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pvzzle/walletfeed/internal/webhook"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

const usdcContract = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"

type latencySample struct {
	d time.Duration
}

type target struct {
	url        string
	signingKey string
	timeout    time.Duration
}

func main() {
	var (
		url     = flag.String("url", "http://localhost:8080/webhook", "webhook endpoint")
		key     = flag.String("key", "", "webhook signing key")
		dur     = flag.Duration("dur", 60*time.Second, "test duration")
		warmup  = flag.Duration("warmup", 5*time.Second, "warmup duration (not counted)")
		avgRPS  = flag.Int("avg-rps", 100, "avg transactions per second")
		peakRPS = flag.Int("peak-rps", 500, "peak transactions per second (during ramp)")
		ramp    = flag.Duration("ramp", 10*time.Second, "ramp-up duration to peak")
		subs    = flag.Int("subs", 1000, "number of distinct subscriptions (wh_lt<n>)")
		workers = flag.Int("workers", 64, "concurrent workers")
	)
	flag.Parse()

	ctx := context.Background()
	tgt := target{url: *url, signingKey: *key, timeout: 5 * time.Second}

	fmt.Println("starting warmup:", *warmup)
	runPhase(ctx, tgt, *workers, *avgRPS, *avgRPS, 0, *warmup, *subs, false)

	fmt.Println("starting measured test:", *dur)
	res := runPhase(ctx, tgt, *workers, *avgRPS, *peakRPS, *ramp, *dur, *subs, true)

	printReport(res)
}

type results struct {
	totalTxs   uint64
	posts      uint64
	errPosts   uint64
	latencies  []latencySample // measured posts only
	startedAt  time.Time
	finishedAt time.Time
}

func runPhase(
	ctx context.Context,
	tgt target,
	workers int,
	avgRPS int,
	peakRPS int,
	ramp time.Duration,
	dur time.Duration,
	subs int,
	collect bool,
) results {
	ctx, cancel := context.WithTimeout(ctx, dur)
	defer cancel()

	// If ramp == 0 => constant avgRPS
	lim := rate.NewLimiter(rate.Limit(avgRPS), avgRPS)

	jobs := make(chan struct{}, 1024)

	var (
		res results
		mu  sync.Mutex
	)

	res.startedAt = time.Now()

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano()))
			for range jobs {
				atomic.AddUint64(&res.totalTxs, 1)
				for _, body := range fakeBurst(r, subs) {
					t0 := time.Now()
					err := post(tgt, body)
					dt := time.Since(t0)

					atomic.AddUint64(&res.posts, 1)
					if err != nil {
						atomic.AddUint64(&res.errPosts, 1)
						continue
					}
					if collect {
						mu.Lock()
						res.latencies = append(res.latencies, latencySample{d: dt})
						mu.Unlock()
					}
				}
			}
		}()
	}

	// producer
	go func() {
		defer close(jobs)
		rampStart := time.Now()

		for {
			if err := lim.Wait(ctx); err != nil {
				return
			}

			if ramp > 0 {
				el := time.Since(rampStart)
				if el < ramp {
					// linear from avgRPS -> peakRPS
					cur := float64(avgRPS) + (float64(peakRPS-avgRPS) * (float64(el) / float64(ramp)))
					lim.SetLimit(rate.Limit(cur))
				} else {
					lim.SetLimit(rate.Limit(peakRPS))
				}
			}

			jobs <- struct{}{}
		}
	}()

	wg.Wait()
	res.finishedAt = time.Now()
	return res
}

func post(tgt target, body []byte) error {
	a := fiber.Post(tgt.url).
		ContentType(fiber.MIMEApplicationJSON).
		Timeout(tgt.timeout).
		Body(body)
	if tgt.signingKey != "" {
		a.Set("X-Alchemy-Signature", webhook.Sign(body, tgt.signingKey))
	}

	code, _, errs := a.Bytes()
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if code != fiber.StatusOK {
		return fmt.Errorf("status %d", code)
	}
	return nil
}

// fakeBurst imitates the provider splitting one transaction into separate
// deliveries per category: a token transfer, the native call and, for some
// transactions, an internal refund.
func fakeBurst(r *rand.Rand, subs int) [][]byte {
	hash := fmt.Sprintf("0x%064x", r.Uint64())
	sub := fmt.Sprintf("wh_lt%d", r.Intn(subs))
	from := fmt.Sprintf("0x%040x", r.Uint64())
	to := fmt.Sprintf("0x%040x", r.Uint64())

	acts := []webhook.Activity{
		{
			FromAddress: from, ToAddress: to, Hash: hash,
			Value: json.Number(fmt.Sprintf("%d", 1+r.Intn(1000))), Asset: "USDC", Category: "token",
			RawContract: webhook.RawContract{Address: usdcContract, Decimals: json.RawMessage("6")},
		},
		{
			FromAddress: from, ToAddress: usdcContract, Hash: hash,
			Value: "0", Asset: "ETH", Category: "external",
		},
	}
	if r.Intn(4) == 0 {
		acts = append(acts, webhook.Activity{
			FromAddress: usdcContract, ToAddress: from, Hash: hash,
			Value: "0.001", Asset: "ETH", Category: "internal",
		})
	}

	out := make([][]byte, 0, len(acts))
	for i, act := range acts {
		body, _ := json.Marshal(webhook.Payload{
			WebhookID: sub,
			ID:        fmt.Sprintf("whevt_%s_%d", hash[2:18], i),
			CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
			Type:      "ADDRESS_ACTIVITY",
			Event: &webhook.Event{
				Network:  "ETH_MAINNET",
				Activity: []webhook.Activity{act},
			},
		})
		out = append(out, body)
	}
	return out
}

func printReport(res results) {
	d := res.finishedAt.Sub(res.startedAt)
	txs := atomic.LoadUint64(&res.totalTxs)
	posts := atomic.LoadUint64(&res.posts)
	errs := atomic.LoadUint64(&res.errPosts)

	fmt.Printf("\n== REPORT ==\n")
	fmt.Printf("duration: %s\n", d)
	fmt.Printf("txs=%d posts=%d errors=%d\n", txs, posts, errs)
	if d > 0 {
		fmt.Printf("throughput: %.2f posts/s\n", float64(posts)/d.Seconds())
	}
	if len(res.latencies) == 0 {
		fmt.Println("no latency samples")
		return
	}
	sort.Slice(res.latencies, func(i, j int) bool { return res.latencies[i].d < res.latencies[j].d })
	p := func(q float64) time.Duration {
		i := int(q * float64(len(res.latencies)-1))
		return res.latencies[i].d
	}
	fmt.Printf("latency p50=%s p95=%s p99=%s max=%s\n",
		p(0.50), p(0.95), p(0.99), res.latencies[len(res.latencies)-1].d,
	)
}
