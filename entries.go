package main

import (
	log "github.com/sirupsen/logrus"

	"github.com/alepar/wp6003/config"
	"github.com/alepar/wp6003/integration"
)

// entrySet keeps the coordinator in line with the entries of the config file.
type entrySet struct {
	coord   *integration.Coordinator
	flow    *integration.ConfigFlow
	logger  log.FieldLogger
	current map[string]config.EntryConfig
}

func newEntrySet(coord *integration.Coordinator, logger log.FieldLogger) *entrySet {
	return &entrySet{
		coord:   coord,
		flow:    integration.NewConfigFlow(),
		logger:  logger,
		current: make(map[string]config.EntryConfig),
	}
}

// apply sets up new entries, drops removed ones and replaces changed ones.
func (s *entrySet) apply(entries []config.EntryConfig) {
	next := make(map[string]config.EntryConfig, len(entries))
	for _, e := range entries {
		next[e.ID] = e
	}

	for id, old := range s.current {
		if e, ok := next[id]; ok && e == old {
			continue
		}
		s.coord.UnloadEntry(id)
		s.flow.Remove(id)
		delete(s.current, id)
		s.logger.WithField("entry_id", id).Info("entry removed from config")
	}

	for _, e := range entries {
		if _, ok := s.current[e.ID]; ok {
			continue
		}

		entry, formErrors := s.flow.StepUser(e.ID, map[string]string{
			integration.FieldMAC:       e.MACAddress,
			integration.FieldTransport: e.Transport,
			integration.FieldTitle:     e.Title,
		})
		if err := integration.FormError(formErrors); err != nil {
			s.logger.WithError(err).WithField("entry_id", e.ID).Error("skipping entry")
			continue
		}

		s.current[e.ID] = e
		if !s.coord.SetupEntry(entry) {
			s.logger.WithField("entry_id", e.ID).Warn("entry not loaded, retrying on next reload")
		}
	}
}

// reload re-reads the config file and reloads every entry. A config that no
// longer loads keeps the previous entries.
func (s *entrySet) reload(path string) {
	cfg, err := config.Load(path)
	if err != nil {
		s.logger.WithError(err).Warn("keeping previous entries")
	} else {
		s.apply(cfg.Entries)
	}

	reloaded, err := s.coord.ReloadAll()
	if err != nil {
		s.logger.WithError(err).Warn("reload incomplete")
	}
	s.logger.WithFields(log.Fields{
		"reloaded": reloaded,
		"failed":   s.coord.Failed(),
	}).Info("reloaded entries")
}
