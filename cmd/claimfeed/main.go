// Replay tool for scoring a labeled claims CSV against ClaimGuard.
//
// Usage:
//
//	go run ./cmd/claimfeed -csv /path/to/claims.csv -url http://localhost:8080
//
// This tool:
//  1. Reads claim rows carrying a PotentialFraud label (Yes/No)
//  2. Sends each claim to ClaimGuard for scoring
//  3. Compares the risk score against the label
//  4. Prints precision, recall, F1-score and the confusion matrix
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"
)

// AssessResponse is the part of ClaimGuard's scoring response the replay uses.
type AssessResponse struct {
	ClaimID          string  `json:"claimId"`
	RiskScore        int     `json:"riskScore"`
	RiskLabel        string  `json:"riskLabel"`
	FraudProbability float64 `json:"fraudProbability"`
}

func main() {
	csvPath := flag.String("csv", "", "Path to labeled claims CSV")
	baseURL := flag.String("url", "http://localhost:8080", "ClaimGuard base URL")
	limit := flag.Int("limit", 10000, "Maximum claims to replay (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	fraudOnly := flag.Bool("fraud-only", false, "Only replay claims labeled fraud")
	sampleRate := flag.Float64("sample", 1.0, "Sample rate for non-fraud (0.0-1.0)")
	threshold := flag.Int("threshold", 76, "Risk score at or above which a claim counts as flagged")
	store := flag.Bool("store", false, "Store claims via POST /claims instead of previewing via POST /assess")
	verbose := flag.Bool("verbose", false, "Print each claim result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: claimfeed -csv /path/to/claims.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	endpoint := "/assess"
	if *store {
		endpoint = "/claims"
	}

	fmt.Println("CLAIMGUARD REPLAY")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Target:      %s%s\n", *baseURL, endpoint)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Printf("Threshold:   %d\n", *threshold)
	fmt.Printf("Fraud Only:  %v\n", *fraudOnly)
	fmt.Printf("Sample Rate: %.2f\n", *sampleRate)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: ClaimGuard not reachable at %s: %v\n", *baseURL, err)
		os.Exit(1)
	}
	fmt.Println("ClaimGuard is healthy")

	file, err := os.Open(*csvPath)
	if err != nil {
		fmt.Printf("ERROR: Failed to open CSV: %v\n", err)
		os.Exit(1)
	}
	claims, err := readClaims(file, ReadOptions{Limit: *limit, FraudOnly: *fraudOnly, SampleRate: *sampleRate})
	file.Close()
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	if len(claims) == 0 {
		fmt.Println("ERROR: no claims to replay")
		os.Exit(1)
	}

	fraudCount := 0
	for _, c := range claims {
		if c.IsFraud {
			fraudCount++
		}
	}
	fmt.Printf("Loaded %d claims\n", len(claims))
	fmt.Printf("  - Fraud:     %d (%.2f%%)\n", fraudCount, 100*float64(fraudCount)/float64(len(claims)))
	fmt.Printf("  - Non-fraud: %d (%.2f%%)\n", len(claims)-fraudCount, 100*float64(len(claims)-fraudCount)/float64(len(claims)))

	fmt.Printf("\nReplaying with %d workers...\n", *workers)
	start := time.Now()
	result := replay(claims, *baseURL+endpoint, *workers, *threshold, *verbose)
	printResults(result, time.Since(start))
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

func replay(claims []LabeledClaim, url string, numWorkers, threshold int, verbose bool) *Confusion {
	result := &Confusion{}

	work := make(chan LabeledClaim, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for c := range work {
				start := time.Now()
				resp, err := scoreClaim(client, url, c.Record)
				result.ProcessingTimeMs.Add(time.Since(start).Milliseconds())

				if err != nil {
					result.Errors.Add(1)
					if verbose {
						fmt.Printf("ERROR: %v -> %v\n", c.Record["ClaimID"], err)
					}
					continue
				}

				predicted := resp.RiskScore >= threshold
				result.Record(predicted, c.IsFraud)

				if verbose {
					mark := "ok "
					if predicted != c.IsFraud {
						mark = "BAD"
					}
					fmt.Printf("%s %-12v | Fraud: %-5v | Score: %3d %-11s (p=%.3f)\n",
						mark, c.Record["ClaimID"], c.IsFraud, resp.RiskScore, resp.RiskLabel, resp.FraudProbability)
				}
			}
		}()
	}

	for _, c := range claims {
		work <- c
	}
	close(work)
	wg.Wait()

	return result
}

func scoreClaim(client *http.Client, url string, record map[string]any) (*AssessResponse, error) {
	body, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		var e struct {
			Error string `json:"error"`
			Field string `json:"field"`
		}
		json.NewDecoder(resp.Body).Decode(&e)
		if e.Field != "" {
			return nil, fmt.Errorf("status %d: %s (%s)", resp.StatusCode, e.Error, e.Field)
		}
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, e.Error)
	}

	var out AssessResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func printResults(m *Confusion, duration time.Duration) {
	fmt.Println("\nREPLAY RESULTS")

	fmt.Printf("\nDATASET\n")
	fmt.Printf("   Scored:   %d\n", m.Total())
	fmt.Printf("   Errors:   %d\n", m.Errors.Load())

	fmt.Printf("\nCONFUSION MATRIX\n")
	fmt.Println("                     Predicted")
	fmt.Println("                 Flagged    Cleared")
	fmt.Printf("   Actual  F   %9d  %9d   (TP, FN)\n", m.TruePositives.Load(), m.FalseNegatives.Load())
	fmt.Printf("          NF   %9d  %9d   (FP, TN)\n", m.FalsePositives.Load(), m.TrueNegatives.Load())

	fmt.Printf("\nDETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f\n", m.Precision())
	fmt.Printf("   Recall:     %.4f\n", m.Recall())
	fmt.Printf("   F1-Score:   %.4f\n", m.F1())
	fmt.Printf("   Accuracy:   %.4f\n", m.Accuracy())

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if processed := m.Total() + m.Errors.Load(); processed > 0 {
		fmt.Printf("   Avg Latency:      %.2f ms\n", float64(m.ProcessingTimeMs.Load())/float64(processed))
		fmt.Printf("   Throughput:       %.2f claims/sec\n", float64(processed)/duration.Seconds())
	}
	fmt.Println()
}
