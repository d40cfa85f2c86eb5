// Benchmark tool for testing Talon against labeled lead conversion data.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/leads.csv -url http://localhost:8080
//
// This tool:
//   1. Reads lead data (with conversion labels)
//   2. Sends each lead to Talon for triage
//   3. Compares Talon's band (HIGH/MEDIUM vs LOW) with actual conversions
//   4. Calculates precision, recall, F1-score, and confusion matrix
//
// Expected CSV columns: email, name, company, source, budget, employees,
// converted (1/0). Extra columns are passed through as custom fields.
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
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LabeledLead represents a row from the benchmark dataset.
type LabeledLead struct {
	Email     string
	Name      string
	Company   string
	Source    string
	Budget    float64
	Employees float64
	Extra     map[string]any
	Converted bool
}

// LeadRequest is the Talon API request format.
type LeadRequest struct {
	Email   string         `json:"email"`
	Name    string         `json:"name,omitempty"`
	Company string         `json:"company,omitempty"`
	Source  string         `json:"source,omitempty"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// LeadResponse is the Talon API response format.
type LeadResponse struct {
	EvaluationID string   `json:"evaluationId"`
	Score        int      `json:"score"`
	Band         string   `json:"band"`
	Pool         string   `json:"pool,omitempty"`
	OwnerID      string   `json:"ownerId,omitempty"`
	Tags         []string `json:"tags,omitempty"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TruePositives  int64 // Converted lead scored HIGH/MEDIUM
	FalsePositives int64 // Unconverted lead scored HIGH/MEDIUM
	TrueNegatives  int64 // Unconverted lead scored LOW
	FalseNegatives int64 // Converted lead scored LOW (missed opportunity!)

	TotalProcessed int64
	TotalConverted int64
	TotalUnconvert int64
	TotalErrors    int64
	TotalAssigned  int64

	ProcessingTimeMs int64
}

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Path to labeled leads CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Talon base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	limit := flag.Int("limit", 10000, "Maximum leads to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	hotBand := flag.String("hot-band", "MEDIUM", "Lowest band counted as a positive prediction (MEDIUM or HIGH)")
	verbose := flag.Bool("verbose", false, "Print each lead result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/leads.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║            TALON BENCHMARK - Lead Conversion                  ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Talon URL:   %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Printf("Hot Band:    %s\n", *hotBand)
	fmt.Println()

	// Check Talon is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Talon not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Talon is running:")
		fmt.Println("  go run cmd/talon/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Talon is healthy")

	// Read lead data
	fmt.Printf("\nReading leads from %s...\n", *csvPath)
	leads, err := readLeadsCSV(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d leads\n", len(leads))

	convertedCount := 0
	for _, lead := range leads {
		if lead.Converted {
			convertedCount++
		}
	}
	fmt.Printf("  - Converted:   %d (%.2f%%)\n", convertedCount, 100*float64(convertedCount)/float64(len(leads)))
	fmt.Printf("  - Unconverted: %d (%.2f%%)\n", len(leads)-convertedCount, 100*float64(len(leads)-convertedCount)/float64(len(leads)))

	// Run benchmark
	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(leads, *baseURL, *tenantID, *hotBand, *workers, *verbose)
	duration := time.Since(startTime)

	// Print results
	printResults(metrics, duration)
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

func readLeadsCSV(path string, limit int) ([]LabeledLead, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	// Read header
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	// Map column indices; anything unrecognized rides along as a custom field
	known := map[string]bool{
		"email": true, "name": true, "company": true, "source": true,
		"budget": true, "employees": true, "converted": true,
	}
	colIndex := make(map[string]int)
	var extraCols []string
	for i, col := range header {
		name := strings.ToLower(strings.TrimSpace(col))
		colIndex[name] = i
		if !known[name] {
			extraCols = append(extraCols, name)
		}
	}
	if _, ok := colIndex["email"]; !ok {
		return nil, fmt.Errorf("csv missing required email column")
	}

	var leads []LabeledLead
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		get := func(col string) string {
			if i, ok := colIndex[col]; ok && i < len(record) {
				return record[i]
			}
			return ""
		}

		budget, _ := strconv.ParseFloat(get("budget"), 64)
		employees, _ := strconv.ParseFloat(get("employees"), 64)

		var extra map[string]any
		if len(extraCols) > 0 {
			extra = make(map[string]any, len(extraCols))
			for _, col := range extraCols {
				if v := get(col); v != "" {
					extra[col] = v
				}
			}
		}

		leads = append(leads, LabeledLead{
			Email:     get("email"),
			Name:      get("name"),
			Company:   get("company"),
			Source:    get("source"),
			Budget:    budget,
			Employees: employees,
			Extra:     extra,
			Converted: get("converted") == "1",
		})

		if limit > 0 && len(leads) >= limit {
			break
		}
	}

	return leads, nil
}

func runBenchmark(leads []LabeledLead, baseURL, tenantID, hotBand string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	// Create work channel
	work := make(chan LabeledLead, 100)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for lead := range work {
				start := time.Now()
				result, err := triageLead(client, baseURL, tenantID, lead)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", lead.Email, err)
					}
					continue
				}

				// Track actual labels
				if lead.Converted {
					atomic.AddInt64(&metrics.TotalConverted, 1)
				} else {
					atomic.AddInt64(&metrics.TotalUnconvert, 1)
				}
				if result.OwnerID != "" {
					atomic.AddInt64(&metrics.TotalAssigned, 1)
				}

				// Calculate confusion matrix
				predicted := isHot(result.Band, hotBand)
				actual := lead.Converted

				if predicted && actual {
					atomic.AddInt64(&metrics.TruePositives, 1)
				} else if predicted && !actual {
					atomic.AddInt64(&metrics.FalsePositives, 1)
				} else if !predicted && !actual {
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				} else { // !predicted && actual
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					status := "✓"
					if (predicted && !actual) || (!predicted && actual) {
						status = "✗"
					}
					email := lead.Email
					if len(email) > 24 {
						email = email[:24]
					}
					fmt.Printf("%s %-24s | Source: %-14s | Budget: $%10.0f | Converted: %-5v | Talon: %-6s (%d) | Pool: %s\n",
						status,
						email,
						lead.Source,
						lead.Budget,
						lead.Converted,
						result.Band,
						result.Score,
						result.Pool,
					)
				}
			}
		}()
	}

	// Send work
	for _, lead := range leads {
		work <- lead
	}
	close(work)

	// Wait for completion
	wg.Wait()

	return metrics
}

// isHot reports whether a band counts as a positive prediction given the
// configured floor.
func isHot(band, hotBand string) bool {
	if band == "HIGH" {
		return true
	}
	return band == "MEDIUM" && hotBand != "HIGH"
}

func triageLead(client *http.Client, baseURL, tenantID string, lead LabeledLead) (*LeadResponse, error) {
	fields := map[string]any{
		"budget":    lead.Budget,
		"employees": lead.Employees,
	}
	for k, v := range lead.Extra {
		fields[k] = v
	}

	req := LeadRequest{
		Email:   lead.Email,
		Name:    lead.Name,
		Company: lead.Company,
		Source:  lead.Source,
		Fields:  fields,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/leads", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result LeadResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:   %d\n", m.TotalProcessed)
	fmt.Printf("   Total Converted:   %d\n", m.TotalConverted)
	fmt.Printf("   Total Unconverted: %d\n", m.TotalUnconvert)
	fmt.Printf("   Owner Assigned:    %d\n", m.TotalAssigned)
	fmt.Printf("   Errors:            %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                    HOT         COLD")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  C  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("          NC  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	// Calculate metrics
	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\n🎯 SCORING METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of hot leads, how many actually converted)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of conversions, how many we flagged hot)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct predictions)\n", accuracy)

	fmt.Printf("\n🔍 PIPELINE ANALYSIS\n")
	if m.TotalConverted > 0 {
		hitRate := float64(m.TruePositives) / float64(m.TotalConverted) * 100
		missRate := float64(m.FalseNegatives) / float64(m.TotalConverted) * 100
		fmt.Printf("   Conversions Flagged:  %d / %d (%.2f%%)\n", m.TruePositives, m.TotalConverted, hitRate)
		fmt.Printf("   Conversions Missed:   %d / %d (%.2f%%) ⚠️\n", m.FalseNegatives, m.TotalConverted, missRate)
	}
	if m.TotalUnconvert > 0 {
		wasteRate := float64(m.FalsePositives) / float64(m.TotalUnconvert) * 100
		fmt.Printf("   Wasted Follow-ups:    %d / %d (%.2f%%)\n", m.FalsePositives, m.TotalUnconvert, wasteRate)
	}
	if m.TotalProcessed > 0 {
		assignRate := float64(m.TotalAssigned) / float64(m.TotalProcessed) * 100
		fmt.Printf("   Assignment Rate:      %.2f%%\n", assignRate)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		lps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f leads/sec\n", lps)
	}

	// Interpretation
	fmt.Printf("\n💡 INTERPRETATION\n")
	if recall >= 0.9 {
		fmt.Println("   ✅ Excellent recall - flagging most converting leads")
	} else if recall >= 0.7 {
		fmt.Println("   ⚠️  Good recall - but some conversions slip through cold")
	} else if recall >= 0.5 {
		fmt.Println("   ⚠️  Moderate recall - significant conversions scored cold")
	} else {
		fmt.Println("   ❌ Poor recall - most converting leads are scored cold!")
	}

	if precision >= 0.5 {
		fmt.Println("   ✅ Good precision - hot leads are worth the follow-up")
	} else if precision >= 0.2 {
		fmt.Println("   ⚠️  Low precision - reps chasing many dead leads")
	} else {
		fmt.Println("   ❌ Very low precision - hot band is mostly noise")
	}

	fmt.Println()
}
