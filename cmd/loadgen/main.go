package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

type Workload string

const (
	// WorkloadPopulate inserts documents, roughly one in ten led by popular words.
	WorkloadPopulate Workload = "populate"
	// WorkloadLongTail searches rare word_N terms, so most lookups miss the caches.
	WorkloadLongTail Workload = "long-tail"
	// WorkloadShortTail searches a small set of popular terms.
	WorkloadShortTail Workload = "short-tail"
)

const docWords = 35

var popularWords = []string{
	"apple", "amazon", "google", "microsoft", "tcs", "reliance", "iitb",
	"facebook", "meta", "tesla", "nvidia", "intel", "oracle", "ibm",
	"flipkart", "uber", "airbnb", "zoom", "slack", "spotify", "twitter",
	"linkedin", "microsoftteams", "github", "docker", "kubernetes",
	"tensorflow", "pytorch", "scikit-learn", "opencv", "nlp", "reinforcement",
	"deepdream", "chatgpt", "stable-diffusion", "midjourney", "gpt4",
	"transformer", "attention", "backpropagation", "gradientdescent",
	"overfitting", "regularization", "dropout", "epoch", "batchnorm",
	"funnycat", "robotunicorn", "quantumbanana", "datawizard", "blah", "decs", "load", "testing",
}

type Config struct {
	BaseURL     string
	Concurrency int
	Duration    time.Duration
	Workload    Workload
	RPS         float64
	RareWords   int
	Gibberish   int
}

type Stats struct {
	totalRequests atomic.Int64
	successCount  atomic.Int64
	errorCount    atomic.Int64
	emptyResults  atomic.Int64
	latencies     []time.Duration
	latenciesMu   sync.Mutex
	statusCodes   map[int]*atomic.Int64
	statusCodesMu sync.Mutex
}

func NewStats() *Stats {
	return &Stats{
		latencies:   make([]time.Duration, 0, 100000),
		statusCodes: make(map[int]*atomic.Int64),
	}
}

func (s *Stats) RecordRequest(duration time.Duration, statusCode int, err error) {
	s.totalRequests.Add(1)

	if err != nil {
		s.errorCount.Add(1)
		return
	}

	if statusCode >= 200 && statusCode < 300 {
		s.successCount.Add(1)
	} else {
		s.errorCount.Add(1)
	}

	s.latenciesMu.Lock()
	s.latencies = append(s.latencies, duration)
	s.latenciesMu.Unlock()

	s.statusCodesMu.Lock()
	if _, ok := s.statusCodes[statusCode]; !ok {
		s.statusCodes[statusCode] = &atomic.Int64{}
	}
	s.statusCodes[statusCode].Add(1)
	s.statusCodesMu.Unlock()
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the retriever")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	workload := flag.String("workload", string(WorkloadShortTail), "populate, long-tail or short-tail")
	rps := flag.Float64("rps", 0, "overall request rate cap, 0 for unlimited")
	flag.Parse()

	cfg := Config{
		BaseURL:     strings.TrimRight(*baseURL, "/"),
		Concurrency: *concurrency,
		Duration:    *duration,
		Workload:    Workload(*workload),
		RPS:         *rps,
		RareWords:   10000,
		Gibberish:   5000,
	}
	switch cfg.Workload {
	case WorkloadPopulate, WorkloadLongTail, WorkloadShortTail:
	default:
		fmt.Fprintf(os.Stderr, "unknown workload %q\n", cfg.Workload)
		os.Exit(2)
	}
	if cfg.Concurrency < 1 {
		fmt.Fprintln(os.Stderr, "concurrency must be at least 1")
		os.Exit(2)
	}

	fmt.Println("=== Lexical Retriever Load Generator ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Workload:    %s\n", cfg.Workload)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	if cfg.RPS > 0 {
		fmt.Printf("Rate cap:    %.0f req/s\n", cfg.RPS)
	}
	fmt.Println()

	stats := runLoad(cfg)
	printReport(stats, cfg)
}

func runLoad(cfg Config) *Stats {
	stats := NewStats()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), max(1, int(cfg.RPS)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	fmt.Print("Running")

	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if err := limiter.Wait(ctx); err != nil {
					return
				}
				req := buildRequest(ctx, cfg)

				start := time.Now()
				resp, err := client.Do(req)
				duration := time.Since(start)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					stats.RecordRequest(duration, 0, err)
					continue
				}
				if cfg.Workload != WorkloadPopulate && resp.StatusCode == http.StatusOK && emptySearch(resp.Body) {
					stats.emptyResults.Add(1)
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()

				stats.RecordRequest(duration, resp.StatusCode, nil)
			}
		}()
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	wg.Wait()
	fmt.Println(" done!")
	fmt.Println()
	return stats
}

func buildRequest(ctx context.Context, cfg Config) *http.Request {
	if cfg.Workload == WorkloadPopulate {
		body, _ := json.Marshal(map[string]string{"text": generateDocument(cfg, rand.IntN(10) == 0)})
		req := mustNewRequest(ctx, http.MethodPost, cfg.BaseURL+"/documents", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		return req
	}
	word := popularWords[rand.IntN(len(popularWords))]
	if cfg.Workload == WorkloadLongTail {
		word = "word_" + strconv.Itoa(rand.IntN(cfg.RareWords))
	}
	return mustNewRequest(ctx, http.MethodGet, cfg.BaseURL+"/search?query="+url.QueryEscape(word), nil)
}

// generateDocument builds a docWords-long text whose first two words are
// popular or rare and whose remainder is gibberish padding.
func generateDocument(cfg Config, popularHeavy bool) string {
	words := make([]string, docWords)
	for i := range words {
		switch {
		case i < 2 && popularHeavy:
			words[i] = popularWords[rand.IntN(len(popularWords))]
		case i < 2:
			words[i] = "word_" + strconv.Itoa(rand.IntN(cfg.RareWords))
		default:
			words[i] = "gibberish_" + strconv.Itoa(rand.IntN(cfg.Gibberish))
		}
	}
	return strings.Join(words, " ")
}

func emptySearch(body io.Reader) bool {
	var out struct {
		Results []json.RawMessage `json:"results"`
	}
	if err := json.NewDecoder(body).Decode(&out); err != nil {
		return false
	}
	return len(out.Results) == 0
}

func mustNewRequest(ctx context.Context, method, rawURL string, body io.Reader) *http.Request {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		panic(fmt.Sprintf("creating request: %v", err))
	}
	return req
}

func printReport(stats *Stats, cfg Config) {
	total := stats.totalRequests.Load()
	success := stats.successCount.Load()
	errors := stats.errorCount.Load()

	fmt.Println("=== Results ===")
	fmt.Printf("Total Requests:  %d\n", total)
	fmt.Printf("Successful:      %d\n", success)
	fmt.Printf("Errors:          %d\n", errors)
	if cfg.Workload != WorkloadPopulate {
		fmt.Printf("Empty Results:   %d\n", stats.emptyResults.Load())
	}

	if total > 0 {
		errorRate := float64(errors) / float64(total) * 100
		fmt.Printf("Error Rate:      %.2f%%\n", errorRate)
		rps := float64(total) / cfg.Duration.Seconds()
		fmt.Printf("Requests/sec:    %.2f\n", rps)
	}

	stats.latenciesMu.Lock()
	latencies := make([]time.Duration, len(stats.latencies))
	copy(latencies, stats.latencies)
	stats.latenciesMu.Unlock()

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool {
			return latencies[i] < latencies[j]
		})

		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		avg := sum / time.Duration(len(latencies))

		fmt.Println()
		fmt.Println("=== Latency ===")
		fmt.Printf("Min:    %s\n", latencies[0])
		fmt.Printf("Avg:    %s\n", avg)
		fmt.Printf("P50:    %s\n", percentile(latencies, 50))
		fmt.Printf("P95:    %s\n", percentile(latencies, 95))
		fmt.Printf("P99:    %s\n", percentile(latencies, 99))
		fmt.Printf("Max:    %s\n", latencies[len(latencies)-1])
	}

	fmt.Println()
	fmt.Println("=== Status Codes ===")
	stats.statusCodesMu.Lock()
	codes := make([]int, 0, len(stats.statusCodes))
	for code := range stats.statusCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		fmt.Printf("  %d: %d\n", code, stats.statusCodes[code].Load())
	}
	stats.statusCodesMu.Unlock()

	if total == 0 {
		fmt.Println()
		fmt.Println("WARNING: No requests completed. Is the service running?")
		os.Exit(1)
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
