// Load driver for the vault API. Uploads a set of files, then hammers the
// preview endpoint from concurrent workers and reports latency percentiles
// alongside the server's own Prometheus counters.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/common/expfmt"
	"github.com/sirupsen/logrus"
)

type result struct {
	latency time.Duration
	status  int
	err     error
}

func main() {
	var (
		baseURL    = flag.String("url", "http://localhost:8080", "vault base URL")
		userID     = flag.String("user", "loadtest-user-01", "stable user identifier")
		credential = flag.String("credential", "", "primary gate credential")
		workers    = flag.Int("workers", 8, "concurrent workers")
		duration   = flag.Duration("duration", 30*time.Second, "test duration")
		files      = flag.Int("files", 16, "number of files to seed")
		fileSize   = flag.Int("size", 256*1024, "seed file size in bytes")
	)
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if *credential == "" {
		logger.Fatal("credential is required")
	}

	client := &http.Client{Timeout: 30 * time.Second}

	fileIDs, err := seedFiles(client, *baseURL, *userID, *files, *fileSize)
	if err != nil {
		logger.WithError(err).Fatal("Seeding failed")
	}
	logger.WithField("files", len(fileIDs)).Info("Seed uploads complete")

	results := make(chan result, 4096)
	var total, failed int64
	deadline := time.Now().Add(*duration)

	var wg sync.WaitGroup
	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(worker)))
			for time.Now().Before(deadline) {
				fileID := fileIDs[rng.Intn(len(fileIDs))]
				start := time.Now()
				status, err := previewOnce(client, *baseURL, *userID, *credential, fileID)
				atomic.AddInt64(&total, 1)
				if err != nil || status != http.StatusOK {
					atomic.AddInt64(&failed, 1)
				}
				results <- result{latency: time.Since(start), status: status, err: err}
			}
		}(i)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var latencies []time.Duration
	for r := range results {
		if r.err == nil {
			latencies = append(latencies, r.latency)
		}
	}

	logger.WithFields(logrus.Fields{
		"total":   atomic.LoadInt64(&total),
		"failed":  atomic.LoadInt64(&failed),
		"p50":     percentile(latencies, 0.50),
		"p95":     percentile(latencies, 0.95),
		"p99":     percentile(latencies, 0.99),
		"req_sec": float64(atomic.LoadInt64(&total)) / duration.Seconds(),
	}).Info("Load test complete")

	if err := reportServerMetrics(client, *baseURL, logger); err != nil {
		logger.WithError(err).Warn("Could not scrape server metrics")
	}
}

func seedFiles(client *http.Client, baseURL, userID string, count, size int) ([]string, error) {
	ids := make([]string, 0, count)
	for i := 0; i < count; i++ {
		fileID := fmt.Sprintf("loadtest-%d", i)
		body := make([]byte, size)
		if _, err := rand.Read(body); err != nil {
			return nil, err
		}
		// A PNG header on some files gives the classifier varied work.
		if i%2 == 0 {
			copy(body, []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A})
		}

		req, err := http.NewRequest(http.MethodPut, baseURL+"/v1/files/"+fileID, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-Vault-User", userID)
		req.Header.Set("X-Vault-Filename", fileID+".bin")
		req.Header.Set("Content-Type", "application/octet-stream")

		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			return nil, fmt.Errorf("upload %s: status %d", fileID, resp.StatusCode)
		}
		ids = append(ids, fileID)
	}
	return ids, nil
}

func previewOnce(client *http.Client, baseURL, userID, credential, fileID string) (int, error) {
	req, err := http.NewRequest(http.MethodPost, baseURL+"/v1/files/"+fileID+"/preview", nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("X-Vault-User", userID)
	req.Header.Set("X-Vault-Reauth", credential)

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	status := resp.StatusCode
	if status != http.StatusOK {
		return status, nil
	}

	// Release so the server is not holding a live handle between iterations.
	rel, err := http.NewRequest(http.MethodDelete, baseURL+"/v1/files/"+fileID+"/preview", nil)
	if err != nil {
		return status, err
	}
	rel.Header.Set("X-Vault-User", userID)
	relResp, err := client.Do(rel)
	if err != nil {
		return status, err
	}
	relResp.Body.Close()
	return status, nil
}

// reportServerMetrics scrapes /metrics and prints the vault counters.
func reportServerMetrics(client *http.Client, baseURL string, logger *logrus.Logger) error {
	resp, err := client.Get(baseURL + "/metrics")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		return err
	}

	for _, name := range []string{"vault_previews_total", "vault_crypto_operations_total", "vault_classifier_results_total", "vault_live_preview_handles"} {
		mf, ok := families[name]
		if !ok {
			continue
		}
		for _, metric := range mf.GetMetric() {
			fields := logrus.Fields{"metric": name}
			for _, label := range metric.GetLabel() {
				fields[label.GetName()] = label.GetValue()
			}
			switch {
			case metric.GetCounter() != nil:
				fields["value"] = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				fields["value"] = metric.GetGauge().GetValue()
			}
			logger.WithFields(fields).Info("Server metric")
		}
	}
	return nil
}

func percentile(latencies []time.Duration, p float64) time.Duration {
	if len(latencies) == 0 {
		return 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	idx := int(float64(len(latencies)-1) * p)
	return latencies[idx]
}
