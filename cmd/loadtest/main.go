package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Result records one HTTP attempt for later aggregation.
type Result struct {
	Status int
	Body   string
	Err    error
}

func main() {
	baseURL := flag.String("base", "http://localhost:8080", "server base url")
	sku := flag.String("sku", "SKU-1", "product sku")
	prime := flag.Bool("prime", true, "prime redis counters before the test")
	adminToken := flag.String("admin-token", "dev-admin-token", "admin token for the prime endpoint")
	stockCheck := flag.Bool("stock", true, "check remaining stock after the test")

	// Oversell scenario: many distinct buyers racing for a small stock.
	nUsers := flag.Int("users", 200, "distinct buyers")
	concurrency := flag.Int("c", 50, "max concurrency")
	flag.Parse()

	client := &http.Client{Timeout: 5 * time.Second}

	if *prime {
		// Seed the Redis counters from the DB row first so a missing
		// stock key does not skew the run.
		url := fmt.Sprintf("%s/api/v1/admin/products/%s/prime", *baseURL, *sku)
		if err := doPOST(client, url, nil, map[string]string{
			"X-Admin-Token": *adminToken,
		}); err != nil {
			panic(fmt.Sprintf("prime failed: %v", err))
		}
		fmt.Println("prime ok")
	}

	// 1) Oversell: each request carries a distinct buyer id.
	fmt.Printf("start oversell test: sku=%s users=%d concurrency=%d\n", *sku, *nUsers, *concurrency)
	results := runBuy(client, *baseURL, *sku, *nUsers, *concurrency)
	printSummary("oversell", results)

	if *stockCheck {
		stock, err := getStock(client, *baseURL, *sku)
		if err != nil {
			fmt.Println("stock check err:", err)
		} else {
			fmt.Println("final available stock:", stock)
		}
	}

	// 2) Per-user limit + rate limit: one buyer hammering the endpoint.
	fmt.Println("\nstart same-buyer test: buyer-10001, 50 requests, concurrency 50")
	results2 := runBuySameUser(client, *baseURL, *sku, "buyer-10001", 50, 50)
	printSummary("same_buyer", results2)
}

func runBuy(client *http.Client, baseURL, sku string, nUsers, concurrency int) []Result {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	results := make([]Result, nUsers)

	for i := 0; i < nUsers; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			buyer := fmt.Sprintf("buyer-%d", idx+1)
			results[idx] = buyOnce(client, baseURL, sku, buyer)
		}(i)
	}

	wg.Wait()
	return results
}

func runBuySameUser(client *http.Client, baseURL, sku, buyer string, total, concurrency int) []Result {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	results := make([]Result, total)

	for i := 0; i < total; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			results[idx] = buyOnce(client, baseURL, sku, buyer)
		}(i)
	}

	wg.Wait()
	return results
}

func buyOnce(client *http.Client, baseURL, sku, buyer string) Result {
	body, _ := json.Marshal(map[string]any{"productSKU": sku, "quantity": 1})
	url := fmt.Sprintf("%s/api/v1/orders", baseURL)
	req, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-Id", buyer)

	resp, err := client.Do(req)
	if err != nil {
		return Result{Err: err}
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return Result{Status: resp.StatusCode, Body: string(b)}
}

// printSummary aggregates the status code distribution of one scenario.
func printSummary(name string, results []Result) {
	count := map[int]int{}
	errCount := 0
	for _, r := range results {
		if r.Err != nil {
			errCount++
			continue
		}
		count[r.Status]++
	}
	fmt.Printf("[%s] http status summary:\n", name)
	for _, code := range []int{200, 201, 400, 403, 404, 409, 429, 500} {
		if count[code] > 0 {
			fmt.Printf("  %d -> %d\n", code, count[code])
		}
	}
	if errCount > 0 {
		fmt.Printf("  errors -> %d\n", errCount)
	}
}

func doPOST(client *http.Client, url string, body any, headers map[string]string) error {
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(http.MethodPost, url, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status=%d body=%s", resp.StatusCode, string(b))
	}
	return nil
}

// getStock reads the live availableStock so a run can be checked for oversell.
func getStock(client *http.Client, baseURL, sku string) (int64, error) {
	url := fmt.Sprintf("%s/api/v1/products/%s/stock", baseURL, sku)
	resp, err := client.Get(url)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return 0, fmt.Errorf("status=%d body=%s", resp.StatusCode, string(b))
	}

	var out struct {
		Success bool `json:"success"`
		Data    struct {
			AvailableStock int64 `json:"availableStock"`
		} `json:"data"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return 0, err
	}
	return out.Data.AvailableStock, nil
}
