package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"subhub/models"
)

var alertsSent = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "subhub_alerts_sent_total",
	Help: "The total number of alerts delivered, by trigger",
}, []string{"trigger"})

// Cooldown is the minimum gap between repeat alerts of the same kind for
// one subscription.
const Cooldown = 24 * time.Hour

// Evaluate checks both alert triggers for one subscription and sends at
// most one alert per trigger. The two triggers are independent and may
// both fire in the same cycle. A cooldown stamp is only written after a
// successful delivery, so a failed send retries on the next poll.
// Returns true when a stamp was updated and the record needs persisting.
func Evaluate(ctx context.Context, sender Sender, sub *models.Subscription, settings models.Settings, now time.Time) bool {
	changed := false

	if shouldAlertExpire(sub, settings, now) {
		days := sub.UserInfo.DaysUntilExpire(now)
		text := fmt.Sprintf("⚠️ <b>%s</b> expires in %d day(s)", sub.Name, days)
		if err := sender.Send(ctx, text); err != nil {
			log.WithFields(log.Fields{
				"subscription": sub.Name,
				"error":        err,
			}).Warn("Failed to deliver expiry alert")
		} else {
			sub.LastNotifiedExpire = now.Unix()
			alertsSent.WithLabelValues("expire").Inc()
			changed = true
		}
	}

	if shouldAlertTraffic(sub, settings, now) {
		text := fmt.Sprintf("⚠️ <b>%s</b> has used %.1f%% of its traffic", sub.Name, sub.UserInfo.UsedPercent())
		if err := sender.Send(ctx, text); err != nil {
			log.WithFields(log.Fields{
				"subscription": sub.Name,
				"error":        err,
			}).Warn("Failed to deliver traffic alert")
		} else {
			sub.LastNotifiedTraffic = now.Unix()
			alertsSent.WithLabelValues("traffic").Inc()
			changed = true
		}
	}

	return changed
}

func shouldAlertExpire(sub *models.Subscription, settings models.Settings, now time.Time) bool {
	// A feed that reports no expiry never triggers; one already past its
	// expiry still does.
	if sub.UserInfo.Expire <= 0 || sub.UserInfo.DaysUntilExpire(now) > settings.ExpireDays {
		return false
	}
	return now.Sub(time.Unix(sub.LastNotifiedExpire, 0)) >= Cooldown
}

func shouldAlertTraffic(sub *models.Subscription, settings models.Settings, now time.Time) bool {
	if settings.TrafficPercent <= 0 || sub.UserInfo.UsedPercent() < settings.TrafficPercent {
		return false
	}
	return now.Sub(time.Unix(sub.LastNotifiedTraffic, 0)) >= Cooldown
}
