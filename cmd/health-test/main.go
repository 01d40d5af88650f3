// Command health-test checks a running server's /health report and exits
// non-zero when any section is missing or unhealthy.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/pflag"
)

type storeHealth struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type cacheHealth struct {
	Records *int `json:"records"`
}

type streamHealth struct {
	Subscribers *int    `json:"subscribers"`
	Seq         *uint64 `json:"seq"`
}

type healthReport struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Services  struct {
		Store  *storeHealth  `json:"store"`
		Cache  *cacheHealth  `json:"cache"`
		Stream *streamHealth `json:"stream"`
	} `json:"services"`
}

// check decodes a health body and verifies every section the server reports.
func check(body []byte) (*healthReport, error) {
	var h healthReport
	if err := json.Unmarshal(body, &h); err != nil {
		return nil, fmt.Errorf("parse health response: %w", err)
	}

	var errs []error
	if h.Version == "" {
		errs = append(errs, errors.New("version missing"))
	}
	if _, err := time.Parse(time.RFC3339, h.Timestamp); err != nil {
		errs = append(errs, fmt.Errorf("timestamp %q: %w", h.Timestamp, err))
	}

	svc := h.Services
	switch {
	case svc.Store == nil:
		errs = append(errs, errors.New("services.store missing"))
	case svc.Store.Status != "ok":
		errs = append(errs, fmt.Errorf("store status %q: %s", svc.Store.Status, svc.Store.Error))
	}
	if svc.Cache == nil || svc.Cache.Records == nil {
		errs = append(errs, errors.New("services.cache.records missing"))
	} else if *svc.Cache.Records < 0 {
		errs = append(errs, fmt.Errorf("services.cache.records %d: negative", *svc.Cache.Records))
	}
	if svc.Stream == nil || svc.Stream.Subscribers == nil {
		errs = append(errs, errors.New("services.stream.subscribers missing"))
	}
	if svc.Stream == nil || svc.Stream.Seq == nil {
		errs = append(errs, errors.New("services.stream.seq missing"))
	}
	if h.Status != "ok" {
		errs = append(errs, fmt.Errorf("health status %q", h.Status))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &h, nil
}

func fetch(client *http.Client, url string) ([]byte, error) {
	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return body, fmt.Errorf("status %s", resp.Status)
	}
	return body, nil
}

func main() {
	timeout := pflag.DurationP("timeout", "t", 10*time.Second, "request timeout")
	pflag.Parse()

	url := "http://localhost:8080/health"
	if pflag.NArg() > 0 {
		url = pflag.Arg(0)
	}

	fmt.Printf("🔍 Testing health endpoint: %s\n", url)

	body, err := fetch(&http.Client{Timeout: *timeout}, url)
	if body != nil {
		fmt.Printf("📄 Response Body: %s\n", string(body))
	}
	if err != nil {
		fmt.Printf("❌ Health check failed: %v\n", err)
		os.Exit(1)
	}

	h, err := check(body)
	if err != nil {
		fmt.Printf("❌ Health check failed:\n%v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✅ Health check passed!\n")
	fmt.Printf("   Version: %s\n", h.Version)
	fmt.Printf("   Cached records: %d\n", *h.Services.Cache.Records)
	fmt.Printf("   Live subscribers: %d\n", *h.Services.Stream.Subscribers)
	fmt.Printf("   Published seq: %d\n", *h.Services.Stream.Seq)
	fmt.Printf("   Timestamp: %s\n", h.Timestamp)
}
