package models

import (
	"strings"
	"time"
)

// Node is a single proxy endpoint produced by parsing. Identity is the
// exact connection URL; nodes live only for one aggregation pass.
type Node struct {
	URL    string `json:"url"`
	Name   string `json:"name"`
	Source string `json:"source,omitempty"`
}

// UserInfo holds the usage counters reported by a feed in its
// subscription-userinfo response header. Absent fields stay zero.
type UserInfo struct {
	Upload   int64 `json:"upload"`
	Download int64 `json:"download"`
	Total    int64 `json:"total"`
	Expire   int64 `json:"expire"`
}

// UsedPercent returns (upload+download)/total as a percentage, or 0 when
// the feed reported no total.
func (u UserInfo) UsedPercent() float64 {
	if u.Total <= 0 {
		return 0
	}
	return float64(u.Upload+u.Download) / float64(u.Total) * 100
}

// DaysUntilExpire returns the number of whole days until the reported
// expiry epoch, or -1 when no expiry was reported.
func (u UserInfo) DaysUntilExpire(now time.Time) int64 {
	if u.Expire <= 0 {
		return -1
	}
	return (u.Expire - now.Unix()) / 86400
}

// Subscription is a configured source: either a remote feed URL or a
// literal node line entered by hand.
type Subscription struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	URL     string `json:"url"`
	Enabled bool   `json:"enabled"`
	// Exclude is a regular expression; matching node names are dropped.
	Exclude   string   `json:"exclude,omitempty"`
	NodeCount int      `json:"nodeCount"`
	UserInfo  UserInfo `json:"userInfo"`

	// Cooldown stamps for the notification throttler, unix seconds.
	LastNotifiedExpire  int64 `json:"lastNotifiedExpire,omitempty"`
	LastNotifiedTraffic int64 `json:"lastNotifiedTraffic,omitempty"`
}

// IsManual reports whether the entry is a literal node line rather than a
// remote feed. There is no separate manual-node list in the store; the
// scheme decides.
func (s Subscription) IsManual() bool {
	return !strings.HasPrefix(s.URL, "http://") && !strings.HasPrefix(s.URL, "https://")
}

// Profile is a named, separately tokened subset of the subscription list.
type Profile struct {
	ID       string   `json:"id"`
	CustomID string   `json:"customId,omitempty"`
	Name     string   `json:"name"`
	Enabled  bool     `json:"enabled"`
	Expire   int64    `json:"expire,omitempty"`
	SubIDs   []string `json:"subIds,omitempty"`
	NodeIDs  []string `json:"nodeIds,omitempty"`

	// Converter/Config override the settings defaults when non-empty.
	Converter string `json:"converter,omitempty"`
	Config    string `json:"config,omitempty"`
}

// Expired reports whether the profile carries an expiry in the past.
func (p Profile) Expired(now time.Time) bool {
	return p.Expire > 0 && p.Expire < now.Unix()
}

// Settings is the single process-wide configuration record. It is read
// from the store on every request and passed down by parameter.
type Settings struct {
	FileName     string `json:"fileName"`
	Token        string `json:"token"`
	ProfileToken string `json:"profileToken"`
	Converter    string `json:"converter"`
	Config       string `json:"config"`
	PrependName  bool   `json:"prependName"`

	// Notification thresholds and transport credentials.
	ExpireDays     int64   `json:"expireDays"`
	TrafficPercent float64 `json:"trafficPercent"`
	BotToken       string  `json:"botToken,omitempty"`
	ChatID         string  `json:"chatId,omitempty"`
}
