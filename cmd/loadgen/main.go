// Load generator for a running Plutus instance.
//
// Usage:
//
//	go run ./cmd/loadgen -url http://localhost:8080 -n 5000 -workers 20
//
// Records are synthesised with gofakeit from the training vocabulary. A
// fraction is shaped like account-takeover traffic (night, bursty, far from
// the 7-day average) and a fraction carries an unknown category so the
// input-error path is exercised too.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
)

var (
	merchantCategories = []string{
		"electronics", "fashion", "fuel", "gaming", "groceries",
		"health", "luxury", "restaurants", "subscriptions", "travel",
	}
	paymentMethods = []string{"card", "online", "wallet"}
	countryCodes   = []string{"DE", "LK", "SG", "UK", "US"}
	unknownValues  = []string{"crypto_exchange", "pawn_shop", "bnpl"}
)

// Record is the /score request body.
type Record struct {
	Timestamp        string  `json:"timestamp"`
	Amount           float64 `json:"amount"`
	MerchantCategory string  `json:"merchant_category"`
	PaymentMethod    string  `json:"payment_method"`
	CountryCode      string  `json:"country_code"`
	TxnCount1h       int     `json:"txn_count_1h"`
	TxnCount24h      int     `json:"txn_count_24h"`
	AvgAmount7d      float64 `json:"avg_amount_7d"`
	AmountDeviation  float64 `json:"amount_deviation"`
	TimeSinceLastTxn float64 `json:"time_since_last_txn"`
	IsNight          int     `json:"is_night"`
	IsWeekend        int     `json:"is_weekend"`
	NewMerchantFlag  int     `json:"new_merchant_flag"`
	GeoJump          int     `json:"geo_jump"`
	HighAmountFlag   int     `json:"high_amount_flag"`
}

// ScoreResponse is the subset of the /score response the generator reads.
type ScoreResponse struct {
	FraudProbability float64 `json:"fraud_probability"`
	Decision         string  `json:"decision"`
}

// Results tracks a run.
type Results struct {
	Total        int64
	ClientErrors int64
	ServerErrors int64
	Transport    int64

	mu        sync.Mutex
	decisions map[string]int64
	latencies []time.Duration
}

func (r *Results) observe(decision string, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions[decision]++
	r.latencies = append(r.latencies, latency)
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Plutus base URL")
	count := flag.Int("n", 1000, "Number of requests to send")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	riskyRate := flag.Float64("risky", 0.1, "Fraction of records shaped like fraud (0.0-1.0)")
	invalidRate := flag.Float64("invalid", 0.01, "Fraction of records with an unknown category (0.0-1.0)")
	seed := flag.Uint64("seed", 42, "Faker seed")
	verbose := flag.Bool("verbose", false, "Print each result")
	flag.Parse()

	fmt.Println("PLUTUS LOAD GENERATOR")
	fmt.Printf("\nPlutus URL:   %s\n", *baseURL)
	fmt.Printf("Requests:     %d\n", *count)
	fmt.Printf("Workers:      %d\n", *workers)
	fmt.Printf("Risky Rate:   %.2f\n", *riskyRate)
	fmt.Printf("Invalid Rate: %.2f\n", *invalidRate)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Plutus not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Plutus is running:")
		fmt.Println("  go run ./cmd/plutus")
		os.Exit(1)
	}
	fmt.Println("Plutus is healthy")

	faker := gofakeit.New(*seed)
	records := make([]Record, *count)
	for i := range records {
		records[i] = generate(faker, *riskyRate, *invalidRate)
	}

	fmt.Printf("\nSending %d records with %d workers...\n", len(records), *workers)
	start := time.Now()
	results := run(records, *baseURL, *workers, *verbose)
	printResults(results, time.Since(start))
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func generate(f *gofakeit.Faker, riskyRate, invalidRate float64) Record {
	now := time.Now()
	ts := f.DateRange(now.AddDate(0, 0, -30), now)

	avg := f.Float64Range(10, 400)
	rec := Record{
		MerchantCategory: f.RandomString(merchantCategories),
		PaymentMethod:    f.RandomString(paymentMethods),
		CountryCode:      f.RandomString(countryCodes),
		TxnCount1h:       f.IntRange(0, 2),
		TxnCount24h:      f.IntRange(0, 12),
		AvgAmount7d:      round2(avg),
		TimeSinceLastTxn: float64(f.IntRange(60, 86400)),
		NewMerchantFlag:  boolInt(f.Float64() < 0.15),
		GeoJump:          boolInt(f.Float64() < 0.03),
	}
	rec.Amount = round2(avg * f.Float64Range(0.3, 1.8))

	if f.Float64() < riskyRate {
		ts = time.Date(ts.Year(), ts.Month(), ts.Day(), f.IntRange(0, 4), f.Minute(), f.Second(), 0, time.UTC)
		rec.Amount = round2(f.Float64Range(800, 5000))
		rec.TxnCount1h = f.IntRange(4, 12)
		rec.TxnCount24h = rec.TxnCount1h + f.IntRange(0, 20)
		rec.TimeSinceLastTxn = float64(f.IntRange(5, 300))
		rec.NewMerchantFlag = 1
		rec.GeoJump = boolInt(f.Bool())
		rec.MerchantCategory = f.RandomString([]string{"electronics", "gaming", "luxury", "travel"})
	}

	rec.Timestamp = ts.Format("2006-01-02T15:04:05")
	rec.IsNight = boolInt(ts.Hour() < 6)
	rec.IsWeekend = boolInt(ts.Weekday() == time.Saturday || ts.Weekday() == time.Sunday)
	rec.AmountDeviation = round2(math.Abs(rec.Amount - rec.AvgAmount7d))
	rec.HighAmountFlag = boolInt(rec.Amount > 3*rec.AvgAmount7d)

	if f.Float64() < invalidRate {
		rec.MerchantCategory = f.RandomString(unknownValues)
	}
	return rec
}

func run(records []Record, baseURL string, numWorkers int, verbose bool) *Results {
	results := &Results{decisions: make(map[string]int64)}

	work := make(chan Record, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for rec := range work {
				start := time.Now()
				resp, status, err := score(client, baseURL, rec)
				elapsed := time.Since(start)
				atomic.AddInt64(&results.Total, 1)

				switch {
				case err != nil:
					atomic.AddInt64(&results.Transport, 1)
					if verbose {
						fmt.Printf("ERROR: %v\n", err)
					}
					continue
				case status >= 500:
					atomic.AddInt64(&results.ServerErrors, 1)
					continue
				case status >= 400:
					atomic.AddInt64(&results.ClientErrors, 1)
					continue
				}

				results.observe(resp.Decision, elapsed)
				if verbose {
					fmt.Printf("%-6s p=%.4f | %-13s | %-6s | $%9.2f | %v\n",
						resp.Decision, resp.FraudProbability, rec.MerchantCategory, rec.PaymentMethod, rec.Amount, elapsed)
				}
			}
		}()
	}

	for _, rec := range records {
		work <- rec
	}
	close(work)
	wg.Wait()

	return results
}

func score(client *http.Client, baseURL string, rec Record) (*ScoreResponse, int, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return nil, 0, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/score", bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, nil
	}

	var result ScoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, resp.StatusCode, err
	}
	return &result, resp.StatusCode, nil
}

func printResults(r *Results, duration time.Duration) {
	fmt.Println("\nRESULTS")

	fmt.Printf("\n   Total Sent:      %d\n", r.Total)
	fmt.Printf("   Client Errors:   %d\n", r.ClientErrors)
	fmt.Printf("   Server Errors:   %d\n", r.ServerErrors)
	fmt.Printf("   Transport Errs:  %d\n", r.Transport)

	scored := int64(len(r.latencies))
	fmt.Printf("\n   DECISIONS (%d scored)\n", scored)
	for _, d := range []string{"ALLOW", "REVIEW", "BLOCK"} {
		n := r.decisions[d]
		pct := 0.0
		if scored > 0 {
			pct = 100 * float64(n) / float64(scored)
		}
		fmt.Printf("   %-7s %8d  (%5.2f%%)\n", d, n, pct)
	}

	if scored > 0 {
		slices.Sort(r.latencies)
		fmt.Printf("\n   LATENCY\n")
		fmt.Printf("   p50: %v\n", percentile(r.latencies, 0.50))
		fmt.Printf("   p95: %v\n", percentile(r.latencies, 0.95))
		fmt.Printf("   p99: %v\n", percentile(r.latencies, 0.99))
		fmt.Printf("   max: %v\n", r.latencies[len(r.latencies)-1])
	}

	fmt.Printf("\n   Duration:   %v\n", duration.Round(time.Millisecond))
	if duration > 0 {
		fmt.Printf("   Throughput: %.1f req/s\n", float64(r.Total)/duration.Seconds())
	}
	fmt.Println()
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, q float64) time.Duration {
	idx := int(q * float64(len(sorted)-1))
	return sorted[idx]
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
