package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Config holds the benchmark settings
var (
	targetURL   string
	code        string
	concurrency int
	duration    time.Duration
	workload    string
	users       int
)

// Metrics
var (
	totalRequests   uint64
	attributed      uint64 // success=true
	alreadyReferred uint64 // lost the race or replay
	rejectedOther   uint64 // invalid code, self referral, failure
	failOther       uint64 // transport errors and non-200
)

const msgAlreadyReferred = "User already has a referrer"

type processResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.StringVar(&code, "code", "", "Referral code every request attributes to (required)")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.IntVar(&users, "users", 1000, "Number of seeded users (user-0001..)")
}

func main() {
	flag.Parse()
	if code == "" {
		log.Fatal("-code is required")
	}
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start)
	}

	wg.Wait()
	printResults(time.Since(start))
}

func worker(wg *sync.WaitGroup, start time.Time) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	for time.Since(start) < duration {
		body, _ := json.Marshal(map[string]string{
			"referredUserId": pickReferred(),
			"referralCode":   code,
		})

		req, _ := http.NewRequest(http.MethodPost, targetURL+"/api/v1/referrals/process", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}
		atomic.AddUint64(&totalRequests, 1)

		var res processResult
		decodeErr := json.NewDecoder(resp.Body).Decode(&res)
		resp.Body.Close()

		switch {
		case resp.StatusCode != http.StatusOK || decodeErr != nil:
			atomic.AddUint64(&failOther, 1)
		case res.Success:
			atomic.AddUint64(&attributed, 1)
		case res.Error == msgAlreadyReferred:
			atomic.AddUint64(&alreadyReferred, 1)
		default:
			atomic.AddUint64(&rejectedOther, 1)
		}
	}
}

// pickReferred chooses the user being attributed. Hotspot sends 90% of
// traffic at a handful of users so the single-referrer guard is contended.
func pickReferred() string {
	if workload == "hotspot" && rand.Float32() < 0.90 {
		return fmt.Sprintf("user-%04d", rand.Intn(5)+2)
	}
	return fmt.Sprintf("user-%04d", rand.Intn(users)+1)
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	ok := atomic.LoadUint64(&attributed)
	dup := atomic.LoadUint64(&alreadyReferred)
	rej := atomic.LoadUint64(&rejectedOther)
	fErr := atomic.LoadUint64(&failOther)

	var dupRate float64
	if total > 0 {
		dupRate = float64(dup) / float64(total) * 100
	}

	results := map[string]interface{}{
		"workload":           workload,
		"duration_sec":       d.Seconds(),
		"total_requests":     total,
		"throughput_rps":     float64(total) / d.Seconds(),
		"attributed":         ok,
		"already_referred":   dup,
		"already_referred_%": dupRate,
		"rejected_other":     rej,
		"errors":             fErr,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		log.Printf("write %s: %v", filename, err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
