// Loadtest sends concurrent chat-completion requests through the gateway and
// reports throughput, latency percentiles and how requests spread over the
// pool's accounts.
//
// Usage:
//
//	go run ./scripts/loadtest -url http://localhost:9000/v1/chat/completions -concurrency 10 -requests 1000
//	go run ./scripts/loadtest -concurrency 50 -requests 5000 -csv results.csv -out summary.json
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

type accountStats struct {
	Count     int32
	Success   int32
	Failure   int32
	Latencies []time.Duration
}

type accountSummary struct {
	Total   int32   `json:"total"`
	Success int32   `json:"success"`
	Failure int32   `json:"failure"`
	P50     float64 `json:"p50_ms"`
	P90     float64 `json:"p90_ms"`
	P95     float64 `json:"p95_ms"`
	P99     float64 `json:"p99_ms"`
}

func main() {
	var (
		url         = flag.String("url", "http://localhost:9000/v1/chat/completions", "Target URL")
		concurrency = flag.Int("concurrency", 10, "Number of concurrent workers")
		requests    = flag.Int("requests", 100, "Total number of requests to send")
		model       = flag.String("model", "gpt-4o-mini", "Model to request")
		timeoutSec  = flag.Int("timeout", 60, "Per-request timeout in seconds")
		outJSON     = flag.String("out", "", "Write JSON summary to this file (optional)")
		outCSV      = flag.String("csv", "", "Write per-request CSV to this file (optional)")
		verbose     = flag.Bool("v", false, "Verbose per-request logging to stdout")
	)
	flag.Parse()

	body, _ := json.Marshal(map[string]any{
		"model":    *model,
		"messages": []map[string]string{{"role": "user", "content": "Say hi"}},
	})

	client := &http.Client{Timeout: time.Duration(*timeoutSec) * time.Second}

	var total, success, failure int32

	stats := make(map[string]*accountStats)
	var statsMu sync.Mutex

	statusCodes := make(map[int]int32)
	var allLatencies []time.Duration

	var csvWriter *csv.Writer
	if *outCSV != "" {
		f, err := os.Create(*outCSV)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create csv file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		csvWriter = csv.NewWriter(f)
		csvWriter.Write([]string{"idx", "timestamp", "request_id", "account", "status", "duration_ms"})
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	testStart := time.Now()

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for idx := range jobs {
				atomic.AddInt32(&total, 1)
				start := time.Now()

				resp, err := client.Post(*url, "application/json", bytes.NewReader(body))
				dur := time.Since(start)

				if err != nil {
					atomic.AddInt32(&failure, 1)
					if *verbose {
						fmt.Printf("[%d] idx=%d error=%v\n", workerID, idx, err)
					}
					continue
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()

				ok := resp.StatusCode >= 200 && resp.StatusCode <= 299
				if ok {
					atomic.AddInt32(&success, 1)
				} else {
					atomic.AddInt32(&failure, 1)
				}

				acc := resp.Header.Get("X-Pool-Account")
				if acc == "" {
					acc = "(none)"
				}

				statsMu.Lock()
				statusCodes[resp.StatusCode]++
				allLatencies = append(allLatencies, dur)
				as, found := stats[acc]
				if !found {
					as = &accountStats{}
					stats[acc] = as
				}
				as.Count++
				if ok {
					as.Success++
				} else {
					as.Failure++
				}
				as.Latencies = append(as.Latencies, dur)
				if csvWriter != nil {
					csvWriter.Write([]string{
						strconv.Itoa(idx),
						time.Now().Format(time.RFC3339Nano),
						resp.Header.Get("X-Request-ID"),
						acc,
						strconv.Itoa(resp.StatusCode),
						fmt.Sprintf("%.3f", float64(dur.Microseconds())/1000.0),
					})
				}
				statsMu.Unlock()

				if *verbose {
					fmt.Printf("[%d] idx=%d account=%s status=%d dur=%v\n", workerID, idx, acc, resp.StatusCode, dur)
				}
			}
		}(i)
	}

	go func() {
		for i := 0; i < *requests; i++ {
			jobs <- i
		}
		close(jobs)
	}()

	wg.Wait()
	totalDuration := time.Since(testStart)

	if csvWriter != nil {
		csvWriter.Flush()
	}

	throughput := float64(total) / totalDuration.Seconds()

	fmt.Println("--- Load Test Summary ---")
	fmt.Printf("Target: %s\n", *url)
	fmt.Printf("Requests: %d  Concurrency: %d\n", *requests, *concurrency)
	fmt.Printf("Total sent: %d  Success: %d  Failure: %d\n", total, success, failure)
	fmt.Printf("Duration: %v  Throughput: %.2f req/s\n", totalDuration, throughput)

	fmt.Println("\nStatus codes:")
	var codes []int
	for k := range statusCodes {
		codes = append(codes, k)
	}
	sort.Ints(codes)
	for _, k := range codes {
		fmt.Printf("  %d -> %d\n", k, statusCodes[k])
	}

	fmt.Println("\nAccount distribution:")
	var names []string
	for k := range stats {
		names = append(names, k)
	}
	sort.Strings(names)

	summaries := make(map[string]accountSummary, len(stats))
	for _, k := range names {
		as := stats[k]
		sum := accountSummary{Total: as.Count, Success: as.Success, Failure: as.Failure}
		if len(as.Latencies) > 0 {
			sorted := sortedCopy(as.Latencies)
			sum.P50 = ms(percentile(sorted, 0.50))
			sum.P90 = ms(percentile(sorted, 0.90))
			sum.P95 = ms(percentile(sorted, 0.95))
			sum.P99 = ms(percentile(sorted, 0.99))
		}
		summaries[k] = sum

		fmt.Printf("  %s -> total=%d success=%d failure=%d p50=%.1fms p99=%.1fms\n",
			k, sum.Total, sum.Success, sum.Failure, sum.P50, sum.P99)
	}

	if len(allLatencies) > 0 {
		sorted := sortedCopy(allLatencies)
		fmt.Println("\nOverall latencies:")
		fmt.Printf("  samples=%d min=%v max=%v p50=%v p90=%v p95=%v p99=%v\n",
			len(sorted), sorted[0], sorted[len(sorted)-1],
			percentile(sorted, 0.50), percentile(sorted, 0.90), percentile(sorted, 0.95), percentile(sorted, 0.99))
	}

	if *outJSON != "" {
		report := map[string]any{
			"target":         *url,
			"requests":       *requests,
			"concurrency":    *concurrency,
			"total_sent":     total,
			"success":        success,
			"failure":        failure,
			"duration_ms":    totalDuration.Milliseconds(),
			"throughput_rps": throughput,
			"accounts":       summaries,
		}

		f, err := os.Create(*outJSON)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create json file: %v\n", err)
			os.Exit(1)
		}
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		enc.Encode(report)
		f.Close()
		fmt.Printf("\nWrote JSON summary to %s\n", *outJSON)
	}

	if failure > 0 {
		os.Exit(2)
	}
}

func sortedCopy(d []time.Duration) []time.Duration {
	tmp := make([]time.Duration, len(d))
	copy(tmp, d)
	sort.Slice(tmp, func(i, j int) bool { return tmp[i] < tmp[j] })
	return tmp
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	return sorted[int(float64(len(sorted)-1)*p)]
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}
