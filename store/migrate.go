package store

import (
	"context"
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"

	"subhub/models"
)

// legacyState is the single-blob layout written by earlier deployments.
type legacyState struct {
	Subscriptions []models.Subscription `json:"subscriptions"`
	Profiles      []models.Profile      `json:"profiles"`
	Settings      *models.Settings      `json:"settings"`
}

// MigrateLegacy splits the legacy single-blob key into the three typed
// keys. Existing typed keys are left alone so the migration can be rerun
// safely; the legacy blob itself is retained for manual rollback.
func (s *Store) MigrateLegacy(ctx context.Context) error {
	data, err := s.get(ctx, keyLegacy)
	if err != nil {
		return err
	}
	if data == nil {
		log.Info("No legacy state found, nothing to migrate")
		return nil
	}

	var state legacyState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to decode legacy state: %w", err)
	}

	if existing, err := s.get(ctx, keySubscriptions); err == nil && existing == nil && state.Subscriptions != nil {
		if err := s.PutSubscriptions(ctx, state.Subscriptions); err != nil {
			return err
		}
		log.WithFields(log.Fields{
			"count": len(state.Subscriptions),
		}).Info("Migrated subscriptions from legacy state")
	}

	if existing, err := s.get(ctx, keyProfiles); err == nil && existing == nil && state.Profiles != nil {
		if err := s.PutProfiles(ctx, state.Profiles); err != nil {
			return err
		}
		log.WithFields(log.Fields{
			"count": len(state.Profiles),
		}).Info("Migrated profiles from legacy state")
	}

	if existing, err := s.get(ctx, keySettings); err == nil && existing == nil && state.Settings != nil {
		if err := s.PutSettings(ctx, *state.Settings); err != nil {
			return err
		}
		log.Info("Migrated settings from legacy state")
	}

	return nil
}
