// Package fetcher retrieves remote subscription feeds concurrently. Each
// feed races against a fixed timeout; a slow or failing feed degrades to
// an empty contribution and never aborts the batch.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"subhub/models"
)

var (
	fetchAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "subhub_feed_fetch_attempts_total",
		Help: "The total number of subscription feed fetch attempts",
	})

	fetchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "subhub_feed_fetch_failures_total",
		Help: "The total number of failed subscription feed fetches",
	})

	fetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "subhub_feed_fetch_duration_seconds",
		Help:    "Duration of subscription feed fetches",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})
)

// FetchTimeout bounds every feed fetch. A feed that has not answered by
// then contributes nothing to the batch.
const FetchTimeout = 8 * time.Second

// Result is one feed's contribution, positioned by input index so callers
// can re-establish configuration order after the concurrent join.
type Result struct {
	Body     string
	UserInfo models.UserInfo

	// Err records why the feed contributed nothing. It is never surfaced
	// to the end client.
	Err error
}

// Fetcher issues feed requests. The zero value is not usable; use New.
type Fetcher struct {
	client *http.Client
}

func New() *Fetcher {
	return &Fetcher{
		// The race below enforces the deadline; the client timeout is a
		// backstop so abandoned calls cannot hold sockets forever.
		client: &http.Client{Timeout: 2 * FetchTimeout},
	}
}

// FetchAll retrieves every subscription concurrently and returns results
// indexed by input position. The slice always has len(subs) entries.
func (f *Fetcher) FetchAll(ctx context.Context, subs []models.Subscription, userAgent string) []Result {
	results := make([]Result, len(subs))

	var wg sync.WaitGroup
	for i, sub := range subs {
		wg.Add(1)
		go func(i int, sub models.Subscription) {
			defer wg.Done()
			results[i] = f.fetchOne(ctx, sub, userAgent)
		}(i, sub)
	}
	wg.Wait()

	return results
}

// fetchOne races the HTTP call against the fixed timeout. When the timer
// wins, the in-flight call is abandoned: its eventual result lands in the
// buffered channel and is discarded, never awaited.
func (f *Fetcher) fetchOne(ctx context.Context, sub models.Subscription, userAgent string) Result {
	fetchAttempts.Inc()
	start := time.Now()

	resultChan := make(chan Result, 1)
	go func() {
		resultChan <- f.doFetch(ctx, sub, userAgent)
	}()

	timer := time.NewTimer(FetchTimeout)
	defer timer.Stop()

	select {
	case result := <-resultChan:
		fetchDuration.Observe(time.Since(start).Seconds())
		if result.Err != nil {
			fetchFailures.Inc()
			log.WithFields(log.Fields{
				"subscription": sub.Name,
				"error":        result.Err,
			}).Warn("Feed fetch failed")
		}
		return result
	case <-timer.C:
		fetchFailures.Inc()
		log.WithFields(log.Fields{
			"subscription": sub.Name,
			"timeout":      FetchTimeout,
		}).Warn("Feed fetch timed out")
		return Result{Err: fmt.Errorf("fetch of %s timed out after %s", sub.Name, FetchTimeout)}
	}
}

func (f *Fetcher) doFetch(ctx context.Context, sub models.Subscription, userAgent string) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sub.URL, nil)
	if err != nil {
		return Result{Err: fmt.Errorf("failed to build request for %s: %w", sub.Name, err)}
	}
	// Some feeds vary content by declared client.
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return Result{Err: fmt.Errorf("failed to fetch %s: %w", sub.Name, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{Err: fmt.Errorf("feed %s returned status %d", sub.Name, resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{Err: fmt.Errorf("failed to read %s: %w", sub.Name, err)}
	}

	return Result{
		Body:     string(body),
		UserInfo: ParseUserInfo(resp.Header.Get("Subscription-Userinfo")),
	}
}

// ParseUserInfo decodes the semi-structured usage header, e.g.
// "upload=123; download=456; total=789; expire=1700000000". Unknown
// fields are ignored and malformed numbers default to zero.
func ParseUserInfo(header string) models.UserInfo {
	var info models.UserInfo
	for _, part := range strings.Split(header, ";") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "upload":
			info.Upload = n
		case "download":
			info.Download = n
		case "total":
			info.Total = n
		case "expire":
			info.Expire = n
		}
	}
	return info
}
