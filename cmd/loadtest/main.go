package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// loadtest drives the autocomplete endpoint with a rotating set of prefixes
// and reports throughput, latency percentiles and status codes.

type Config struct {
	BaseURL     string
	Concurrency int
	Duration    time.Duration
	Prefixes    []string
}

type Stats struct {
	total       atomic.Int64
	ok          atomic.Int64
	failed      atomic.Int64
	limited     atomic.Int64
	empty       atomic.Int64
	latencies   []time.Duration
	latenciesMu sync.Mutex
	codes       map[int]int64
	codesMu     sync.Mutex
}

func NewStats() *Stats {
	return &Stats{
		latencies: make([]time.Duration, 0, 100000),
		codes:     make(map[int]int64),
	}
}

func (s *Stats) Record(d time.Duration, status int, emptyBody bool, err error) {
	s.total.Add(1)
	if err != nil {
		s.failed.Add(1)
		return
	}
	switch {
	case status == http.StatusTooManyRequests:
		s.limited.Add(1)
	case status >= 200 && status < 300:
		s.ok.Add(1)
		if emptyBody {
			s.empty.Add(1)
		}
	default:
		s.failed.Add(1)
	}

	s.latenciesMu.Lock()
	s.latencies = append(s.latencies, d)
	s.latenciesMu.Unlock()

	s.codesMu.Lock()
	s.codes[status]++
	s.codesMu.Unlock()
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the portfolio service")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	prefixes := flag.String("prefixes", "j,ja,jav,java,s,sp,spr,r,re,rea,go,k,ko,py,ty,no,z", "comma-separated prefixes to query")
	flag.Parse()

	cfg := Config{
		BaseURL:     strings.TrimRight(*baseURL, "/"),
		Concurrency: *concurrency,
		Duration:    *duration,
		Prefixes:    strings.Split(*prefixes, ","),
	}

	fmt.Println("=== Autocomplete Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Prefixes:    %d\n", len(cfg.Prefixes))
	fmt.Println()

	stats := run(cfg)
	report(stats, cfg.Duration)
}

func run(cfg Config) *Stats {
	stats := NewStats()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := worker; ctx.Err() == nil; i++ {
				prefix := cfg.Prefixes[i%len(cfg.Prefixes)]
				target := cfg.BaseURL + "/api/portfolios/autocomplete?keyword=" + url.QueryEscape(prefix)

				req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
				if err != nil {
					fmt.Fprintf(os.Stderr, "bad request url: %v\n", err)
					return
				}
				start := time.Now()
				resp, err := client.Do(req)
				elapsed := time.Since(start)
				if err != nil {
					if ctx.Err() == nil {
						stats.Record(elapsed, 0, false, err)
					}
					continue
				}
				body, _ := io.ReadAll(resp.Body)
				resp.Body.Close()
				stats.Record(elapsed, resp.StatusCode, strings.Contains(string(body), `"keywords":[]`), nil)
			}
		}(w)
	}
	wg.Wait()
	return stats
}

func report(stats *Stats, duration time.Duration) {
	total := stats.total.Load()
	fmt.Println("=== Results ===")
	fmt.Printf("Total Requests:  %d\n", total)
	fmt.Printf("Successful:      %d (%d with no match)\n", stats.ok.Load(), stats.empty.Load())
	fmt.Printf("Rate Limited:    %d\n", stats.limited.Load())
	fmt.Printf("Errors:          %d\n", stats.failed.Load())
	if total > 0 {
		fmt.Printf("Requests/sec:    %.2f\n", float64(total)/duration.Seconds())
	}

	stats.latenciesMu.Lock()
	latencies := append([]time.Duration(nil), stats.latencies...)
	stats.latenciesMu.Unlock()

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		fmt.Println()
		fmt.Println("=== Latency ===")
		fmt.Printf("Min:    %s\n", latencies[0])
		fmt.Printf("Avg:    %s\n", sum/time.Duration(len(latencies)))
		for _, p := range []float64{50, 90, 99} {
			fmt.Printf("P%-4.0f  %s\n", p, percentile(latencies, p))
		}
		fmt.Printf("Max:    %s\n", latencies[len(latencies)-1])
	}

	fmt.Println()
	fmt.Println("=== Status Codes ===")
	stats.codesMu.Lock()
	codes := make([]int, 0, len(stats.codes))
	for code := range stats.codes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		fmt.Printf("  %d: %d\n", code, stats.codes[code])
	}
	stats.codesMu.Unlock()

	if total == 0 {
		fmt.Println()
		fmt.Println("WARNING: no requests completed. Is the service running?")
		os.Exit(1)
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}
