// Package store persists the subscription list, profile list and settings
// record as JSON values in etcd. Writes go through a content fingerprint
// so unchanged records never hit the backend.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"

	"subhub/models"
)

var (
	storeWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subhub_store_writes_total",
		Help: "The total number of writes issued to the key-value store",
	}, []string{"key"})

	storeWritesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subhub_store_writes_skipped_total",
		Help: "The total number of writes skipped because the value was unchanged",
	}, []string{"key"})
)

const (
	keySubscriptions = "subscriptions"
	keyProfiles      = "profiles"
	keySettings      = "settings"

	// keyLegacy is the single-blob key used by earlier deployments; it is
	// only read by the one-time migration.
	keyLegacy = "state"
)

type Config struct {
	Endpoints []string
	Username  string
	Password  string
	BasePath  string
	Timeout   time.Duration
}

// Store wraps an etcd client with typed, change-detecting access to the
// persisted records.
type Store struct {
	client   *clientv3.Client
	basePath string
	timeout  time.Duration
}

// New connects to etcd, retrying with exponential backoff so a briefly
// unreachable cluster does not kill the process at startup.
func New(cfg Config) (*Store, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("etcd endpoints cannot be empty")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}

	var client *clientv3.Client
	connect := func() error {
		var err error
		client, err = clientv3.New(clientv3.Config{
			Endpoints:   cfg.Endpoints,
			Username:    cfg.Username,
			Password:    cfg.Password,
			DialTimeout: cfg.Timeout,
		})
		if err != nil {
			log.WithFields(log.Fields{
				"endpoints": cfg.Endpoints,
				"error":     err,
			}).Warn("Could not connect to etcd, retrying")
		}
		return err
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)
	if err := backoff.Retry(connect, policy); err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	return &Store{
		client:   client,
		basePath: cfg.BasePath,
		timeout:  cfg.Timeout,
	}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(name string) string {
	return path.Join("/", s.basePath, name)
}

// get reads a single key; a missing key returns (nil, nil).
func (s *Store) get(ctx context.Context, name string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.Get(ctx, s.key(name))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, nil
	}
	return resp.Kvs[0].Value, nil
}

// putIfChanged writes value under name unless the stored value has the
// same content fingerprint. The comparison is a write-amplification guard
// for a backend billed per write, not a correctness mechanism: an unread
// or missing previous value always results in a write.
func (s *Store) putIfChanged(ctx context.Context, name string, value []byte) error {
	previous, err := s.get(ctx, name)
	if err == nil && previous != nil && fingerprint(previous) == fingerprint(value) {
		storeWritesSkipped.WithLabelValues(name).Inc()
		log.WithFields(log.Fields{
			"key": name,
		}).Debug("Skipping write, value unchanged")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.client.Put(ctx, s.key(name), string(value)); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	storeWrites.WithLabelValues(name).Inc()
	return nil
}

// fingerprint hashes the canonical form of a JSON document. Round-tripping
// through interface{} makes the hash independent of object key order, so
// logically identical records compare equal regardless of who wrote them.
func fingerprint(data []byte) string {
	var value interface{}
	if err := json.Unmarshal(data, &value); err != nil {
		// Not JSON; hash the raw bytes.
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:])
	}
	canonical, err := json.Marshal(value)
	if err != nil {
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:])
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

func (s *Store) GetSubscriptions(ctx context.Context) ([]models.Subscription, error) {
	data, err := s.get(ctx, keySubscriptions)
	if err != nil || data == nil {
		return nil, err
	}
	var subs []models.Subscription
	if err := json.Unmarshal(data, &subs); err != nil {
		return nil, fmt.Errorf("failed to decode subscriptions: %w", err)
	}
	return subs, nil
}

func (s *Store) PutSubscriptions(ctx context.Context, subs []models.Subscription) error {
	data, err := json.Marshal(subs)
	if err != nil {
		return fmt.Errorf("failed to encode subscriptions: %w", err)
	}
	return s.putIfChanged(ctx, keySubscriptions, data)
}

func (s *Store) GetProfiles(ctx context.Context) ([]models.Profile, error) {
	data, err := s.get(ctx, keyProfiles)
	if err != nil || data == nil {
		return nil, err
	}
	var profiles []models.Profile
	if err := json.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("failed to decode profiles: %w", err)
	}
	return profiles, nil
}

func (s *Store) PutProfiles(ctx context.Context, profiles []models.Profile) error {
	data, err := json.Marshal(profiles)
	if err != nil {
		return fmt.Errorf("failed to encode profiles: %w", err)
	}
	return s.putIfChanged(ctx, keyProfiles, data)
}

// GetSettings returns the stored settings record, or (nil, nil) when none
// exists yet. Callers substitute configured defaults on nil or error.
func (s *Store) GetSettings(ctx context.Context) (*models.Settings, error) {
	data, err := s.get(ctx, keySettings)
	if err != nil || data == nil {
		return nil, err
	}
	var settings models.Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	return &settings, nil
}

func (s *Store) PutSettings(ctx context.Context, settings models.Settings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	return s.putIfChanged(ctx, keySettings, data)
}
