// Package profiles resolves an inbound token and optional profile
// identifier into the set of sources a request may see.
package profiles

import (
	"errors"
	"time"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"subhub/models"
)

var (
	// ErrUnauthorized is returned for a missing or mismatched token.
	ErrUnauthorized = errors.New("invalid access token")

	// ErrNotFound is returned for an unknown or disabled profile.
	ErrNotFound = errors.New("profile not found")
)

// SentinelExpiredNode is the single node served for an expired profile in
// place of its real members.
var SentinelExpiredNode = models.Node{
	URL:  "trojan://expired@127.0.0.1:443#Expired",
	Name: "Expired",
}

// Resolution is the outcome of a successful resolve: the sources to
// aggregate and the effective converter parameters.
type Resolution struct {
	// Manual entries and remote feeds, both in configured order.
	Manual []models.Subscription
	Remote []models.Subscription

	// Sentinel, when set, replaces all sources (expired profile).
	Sentinel *models.Node

	// Name is the display name for the response attachment.
	Name string

	Converter string
	Config    string
}

// Resolve checks the token and selects the target source set. Without a
// profile identifier the token must equal the main token and every
// enabled subscription is in scope; with one, the token must equal the
// shared profile token and only the profile's enabled members are.
// Token comparison is exact equality, never a prefix match.
func Resolve(token, profileID string, settings models.Settings, subs []models.Subscription, profs []models.Profile, now time.Time) (*Resolution, error) {
	if profileID == "" {
		if token == "" || token != settings.Token {
			return nil, ErrUnauthorized
		}
		enabled := lo.Filter(subs, func(sub models.Subscription, _ int) bool {
			return sub.Enabled
		})
		return &Resolution{
			Manual:    manualOnly(enabled),
			Remote:    remoteOnly(enabled),
			Name:      settings.FileName,
			Converter: settings.Converter,
			Config:    settings.Config,
		}, nil
	}

	if token == "" || token != settings.ProfileToken {
		return nil, ErrUnauthorized
	}

	profile, found := lo.Find(profs, func(p models.Profile) bool {
		if p.CustomID != "" && p.CustomID == profileID {
			return true
		}
		return p.ID == profileID
	})
	if !found || !profile.Enabled {
		return nil, ErrNotFound
	}

	resolution := &Resolution{
		Name:      profile.Name,
		Converter: settings.Converter,
		Config:    settings.Config,
	}
	if profile.Converter != "" {
		resolution.Converter = profile.Converter
	}
	if profile.Config != "" {
		resolution.Config = profile.Config
	}

	if profile.Expired(now) {
		log.WithFields(log.Fields{
			"profile": profile.Name,
		}).Info("Profile expired, serving sentinel node")
		sentinel := SentinelExpiredNode
		resolution.Sentinel = &sentinel
		return resolution, nil
	}

	members := lo.Filter(subs, func(sub models.Subscription, _ int) bool {
		if !sub.Enabled {
			return false
		}
		if sub.IsManual() {
			return lo.Contains(profile.NodeIDs, sub.ID)
		}
		return lo.Contains(profile.SubIDs, sub.ID)
	})

	resolution.Manual = manualOnly(members)
	resolution.Remote = remoteOnly(members)
	return resolution, nil
}

func manualOnly(subs []models.Subscription) []models.Subscription {
	return lo.Filter(subs, func(sub models.Subscription, _ int) bool {
		return sub.IsManual()
	})
}

func remoteOnly(subs []models.Subscription) []models.Subscription {
	return lo.Filter(subs, func(sub models.Subscription, _ int) bool {
		return !sub.IsManual()
	})
}
