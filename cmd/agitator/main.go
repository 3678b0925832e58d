// Package main - agitator
// Load generator for stress testing: founds vaults, watches their event
// feeds and spams player commands at them while the scheduler ticks.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
)

// Config for the agitator
type Config struct {
	ServerURL      string
	AdminToken     string
	NumVaults      int
	ActionInterval time.Duration
	TestDuration   time.Duration
	ForceTicks     bool
}

// Stats tracks performance metrics
type Stats struct {
	Requests       int64
	Accepted       int64
	Conflicts      int64 // 409, lease held by a tick
	Rejected       int64 // 4xx other than 409
	Errors         int64 // transport failures and 5xx
	EventsReceived int64
	Latencies      []time.Duration
	mu             sync.Mutex
}

type vaultView struct {
	Vault struct {
		ID string `json:"id"`
	} `json:"vault"`
	Rooms []struct {
		ID string `json:"id"`
	} `json:"rooms"`
	Dwellers []struct {
		ID string `json:"id"`
	} `json:"dwellers"`
}

func main() {
	serverURL := flag.String("url", "http://localhost:8080", "Vault server base URL")
	token := flag.String("token", "", "Admin token for force ticks")
	numVaults := flag.Int("vaults", 50, "Number of vaults to found and drive")
	interval := flag.Duration("interval", 200*time.Millisecond, "Command interval per vault")
	duration := flag.Duration("duration", 60*time.Second, "Test duration")
	flag.Parse()

	config := Config{
		ServerURL:      strings.TrimRight(*serverURL, "/"),
		AdminToken:     *token,
		NumVaults:      *numVaults,
		ActionInterval: *interval,
		TestDuration:   *duration,
		ForceTicks:     *token != "",
	}

	fmt.Println("=========================================")
	fmt.Println("AGITATOR - Vault Stress Test Tool")
	fmt.Println("=========================================")
	fmt.Printf("Server:   %s\n", config.ServerURL)
	fmt.Printf("Vaults:   %d\n", config.NumVaults)
	fmt.Printf("Interval: %v\n", config.ActionInterval)
	fmt.Printf("Duration: %v\n", config.TestDuration)
	fmt.Println("=========================================")

	ctx, cancel := context.WithTimeout(context.Background(), config.TestDuration)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		<-sigChan
		fmt.Println("\nInterrupt received, stopping...")
		cancel()
	}()

	client := resty.New().
		SetBaseURL(config.ServerURL).
		SetTimeout(10*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	stats := runStressTest(ctx, client, config)
	printResults(stats, config)
}

func runStressTest(ctx context.Context, client *resty.Client, config Config) *Stats {
	stats := &Stats{
		Latencies: make([]time.Duration, 0, 10000),
	}

	var wg sync.WaitGroup
	fmt.Println("\nFounding vaults...")

	for i := 0; i < config.NumVaults; i++ {
		var v vaultView
		resp, err := client.R().
			SetContext(ctx).
			SetBody(map[string]string{"name": fmt.Sprintf("Stress Vault %03d", i)}).
			SetResult(&v).
			Post("/api/vaults")
		if err == nil && resp.StatusCode() != http.StatusCreated {
			err = fmt.Errorf("status %s", resp.Status())
		}
		if err != nil {
			log.Printf("Vault %d: create failed: %v", i, err)
			atomic.AddInt64(&stats.Errors, 1)
			continue
		}

		wg.Add(2)
		go func() {
			defer wg.Done()
			watchVault(ctx, config, v.Vault.ID, stats)
		}()
		go func(seed int64) {
			defer wg.Done()
			driveVault(ctx, client, config, v, rand.New(rand.NewSource(seed)), stats)
		}(int64(i))

		// Stagger vault starts to avoid thundering herd
		time.Sleep(10 * time.Millisecond)
	}

	fmt.Printf("All vaults started\n\n")

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Printf("Progress: Requests=%d Accepted=%d Conflicts=%d Events=%d Errors=%d\n",
					atomic.LoadInt64(&stats.Requests),
					atomic.LoadInt64(&stats.Accepted),
					atomic.LoadInt64(&stats.Conflicts),
					atomic.LoadInt64(&stats.EventsReceived),
					atomic.LoadInt64(&stats.Errors))
			}
		}
	}()

	wg.Wait()
	return stats
}

// watchVault counts the events pushed for one vault.
func watchVault(ctx context.Context, config Config, vaultID string, stats *Stats) {
	u, err := url.Parse(config.ServerURL)
	if err != nil {
		atomic.AddInt64(&stats.Errors, 1)
		return
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path = "/ws"
	u.RawQuery = url.Values{"vault_id": {vaultID}}.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		log.Printf("Vault %s: websocket failed: %v", vaultID, err)
		atomic.AddInt64(&stats.Errors, 1)
		return
	}
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		// several events may be batched in one frame
		atomic.AddInt64(&stats.EventsReceived, int64(strings.Count(string(data), "\n")+1))
	}
}

// driveVault issues random commands against one vault.
func driveVault(ctx context.Context, client *resty.Client, config Config, v vaultView, rng *rand.Rand, stats *Stats) {
	if len(v.Dwellers) == 0 || len(v.Rooms) == 0 {
		return
	}
	base := "/api/vaults/" + v.Vault.ID
	ticker := time.NewTicker(config.ActionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d := v.Dwellers[rng.Intn(len(v.Dwellers))].ID
			req := client.R().SetContext(ctx)
			var path string
			switch rng.Intn(6) {
			case 0:
				room := v.Rooms[rng.Intn(len(v.Rooms))].ID
				req.SetBody(map[string]interface{}{"room_id": room})
				path = base + "/dwellers/" + d + "/assign"
			case 1:
				req.SetBody(map[string]interface{}{"duration": fmt.Sprintf("%dm", 5+rng.Intn(55)), "stimpaks": rng.Intn(2)})
				path = base + "/dwellers/" + d + "/explore"
			case 2:
				path = base + "/dwellers/" + d + "/recall"
			case 3:
				req.SetBody(map[string]interface{}{"guard": rng.Intn(2) == 0})
				path = base + "/dwellers/" + d + "/guard"
			case 4:
				req.SetBody(map[string]interface{}{"quest_id": "supply-run", "members": []string{d}})
				path = base + "/quests"
			default:
				if !config.ForceTicks {
					continue
				}
				req.SetAuthToken(config.AdminToken)
				path = base + "/tick"
			}

			start := time.Now()
			resp, err := req.Post(path)
			record(stats, resp, err, time.Since(start))
		}
	}
}

func record(stats *Stats, resp *resty.Response, err error, latency time.Duration) {
	atomic.AddInt64(&stats.Requests, 1)
	switch {
	case err != nil:
		atomic.AddInt64(&stats.Errors, 1)
		return
	case resp.StatusCode() == http.StatusConflict:
		atomic.AddInt64(&stats.Conflicts, 1)
	case resp.StatusCode() >= 500:
		atomic.AddInt64(&stats.Errors, 1)
	case resp.StatusCode() >= 400:
		atomic.AddInt64(&stats.Rejected, 1)
	default:
		atomic.AddInt64(&stats.Accepted, 1)
	}
	stats.mu.Lock()
	stats.Latencies = append(stats.Latencies, latency)
	stats.mu.Unlock()
}

func printResults(stats *Stats, config Config) {
	fmt.Println("\n=========================================")
	fmt.Println("STRESS TEST RESULTS")
	fmt.Println("=========================================")

	reqs := atomic.LoadInt64(&stats.Requests)
	errs := atomic.LoadInt64(&stats.Errors)

	fmt.Printf("Requests:        %d\n", reqs)
	fmt.Printf("Accepted:        %d\n", atomic.LoadInt64(&stats.Accepted))
	fmt.Printf("Conflicts (409): %d\n", atomic.LoadInt64(&stats.Conflicts))
	fmt.Printf("Rejected (4xx):  %d\n", atomic.LoadInt64(&stats.Rejected))
	fmt.Printf("Errors:          %d\n", errs)
	fmt.Printf("Events received: %d\n", atomic.LoadInt64(&stats.EventsReceived))
	fmt.Printf("Error Rate:      %.2f%%\n", float64(errs)/float64(reqs+1)*100)

	throughput := float64(reqs) / config.TestDuration.Seconds()
	fmt.Printf("Throughput:      %.2f req/sec\n", throughput)

	if len(stats.Latencies) > 0 {
		var total time.Duration
		lo, hi := stats.Latencies[0], stats.Latencies[0]
		for _, l := range stats.Latencies {
			total += l
			lo = min(lo, l)
			hi = max(hi, l)
		}
		fmt.Printf("\nLatency:\n")
		fmt.Printf("  Min: %v\n", lo)
		fmt.Printf("  Avg: %v\n", total/time.Duration(len(stats.Latencies)))
		fmt.Printf("  Max: %v\n", hi)
	}

	fmt.Println("\n-----------------------------------------")
	switch rate := float64(errs) / float64(reqs+1); {
	case errs == 0:
		fmt.Println("TEST PASSED: System handled the load")
	case rate < 0.05:
		fmt.Println("TEST WARNING: Some errors detected")
	default:
		fmt.Println("TEST FAILED: High error rate")
	}
	fmt.Println("=========================================")

	results := map[string]interface{}{
		"requests":           reqs,
		"accepted":           atomic.LoadInt64(&stats.Accepted),
		"conflicts":          atomic.LoadInt64(&stats.Conflicts),
		"rejected":           atomic.LoadInt64(&stats.Rejected),
		"errors":             errs,
		"events_received":    atomic.LoadInt64(&stats.EventsReceived),
		"throughput_per_sec": throughput,
		"config": map[string]interface{}{
			"vaults":   config.NumVaults,
			"interval": config.ActionInterval.String(),
			"duration": config.TestDuration.String(),
		},
	}

	jsonData, _ := json.MarshalIndent(results, "", "  ")
	os.WriteFile("stress_test_results.json", jsonData, 0644)
	fmt.Println("\nResults saved to stress_test_results.json")
}
