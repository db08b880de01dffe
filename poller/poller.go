// Package poller runs the scheduled maintenance cycle: refresh every
// enabled remote feed, evaluate alert thresholds, and persist whatever
// actually changed.
package poller

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"subhub/fetcher"
	"subhub/models"
	"subhub/notify"
	"subhub/parser"
	"subhub/store"
)

// pollUserAgent is the identity declared when polling feeds. Feeds only
// attach usage headers for clients they recognize.
const pollUserAgent = "clash"

type Poller struct {
	store   *store.Store
	fetcher *fetcher.Fetcher

	// defaults are substituted when the settings record is unreadable.
	defaults models.Settings
}

func New(st *store.Store, defaults models.Settings) *Poller {
	return &Poller{
		store:    st,
		fetcher:  fetcher.New(),
		defaults: defaults,
	}
}

// Run executes one poll cycle. Failures local to one source or one
// notification never abort the cycle.
func (p *Poller) Run(ctx context.Context) error {
	start := time.Now()

	settings := p.defaults
	if stored, err := p.store.GetSettings(ctx); err != nil {
		log.WithFields(log.Fields{
			"error": err,
		}).Warn("Could not read settings, using defaults")
	} else if stored != nil {
		settings = *stored
	}

	subs, err := p.store.GetSubscriptions(ctx)
	if err != nil {
		log.WithFields(log.Fields{
			"error": err,
		}).Warn("Could not read subscriptions, skipping poll cycle")
		return nil
	}
	if len(subs) == 0 {
		log.Info("No subscriptions configured, nothing to poll")
		return nil
	}

	// Fetch all enabled remote feeds concurrently, keyed back to their
	// position in the stored list.
	indexes := make([]int, 0, len(subs))
	targets := make([]models.Subscription, 0, len(subs))
	for i, sub := range subs {
		if sub.Enabled && !sub.IsManual() {
			indexes = append(indexes, i)
			targets = append(targets, sub)
		}
	}

	results := p.fetcher.FetchAll(ctx, targets, pollUserAgent)

	notifier := notify.NewNotifier(settings.BotToken, settings.ChatID)
	now := time.Now()
	changed := false

	for pos, result := range results {
		sub := &subs[indexes[pos]]

		if result.Err == nil {
			nodes := parser.Parse(result.Body, sub.Name, parser.Options{Exclude: sub.Exclude})
			if sub.NodeCount != len(nodes) || sub.UserInfo != result.UserInfo {
				sub.NodeCount = len(nodes)
				sub.UserInfo = result.UserInfo
				changed = true
			}
		}

		if notify.Evaluate(ctx, notifier, sub, settings, now) {
			changed = true
		}
	}

	if changed {
		if err := p.store.PutSubscriptions(ctx, subs); err != nil {
			log.WithFields(log.Fields{
				"error": err,
			}).Error("Failed to persist polled subscriptions")
			return err
		}
	}

	log.WithFields(log.Fields{
		"sources": len(targets),
		"elapsed": time.Since(start),
	}).Info("Poll cycle complete")

	return nil
}
