package store

import (
	"time"

	"gorm.io/gorm/clause"
)

// SaveDefaultSession records sandboxID's bootstrapped default session
// id and the hostname captured at the time, upserting on sandboxID.
func (s *Store) SaveDefaultSession(sandboxID, sessionID, hostname string) error {
	rec := SandboxRecord{
		SandboxID:        sandboxID,
		DefaultSessionID: sessionID,
		Hostname:         hostname,
		UpdatedAt:        time.Now(),
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "sandbox_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"default_session_id", "hostname", "updated_at"}),
	}).Create(&rec).Error
}

// GetDefaultSession returns the previously recorded default session id
// for sandboxID, or "" if none was ever saved.
func (s *Store) GetDefaultSession(sandboxID string) (string, error) {
	var rec SandboxRecord
	err := s.db.Where("sandbox_id = ?", sandboxID).First(&rec).Error
	if err != nil {
		return "", nil
	}
	return rec.DefaultSessionID, nil
}

// RecordPortGrant upserts sandboxID's grant for port, bumping its
// rotation generation so a previously cached preview token can be told
// apart from the current one after a control-plane restart.
func (s *Store) RecordPortGrant(sandboxID string, port int, name string) (int, error) {
	var existing PortGrant
	err := s.db.Where("sandbox_id = ? AND port = ?", sandboxID, port).First(&existing).Error
	generation := existing.Generation + 1

	grant := PortGrant{
		SandboxID:  sandboxID,
		Port:       port,
		Name:       name,
		Generation: generation,
		ExposedAt:  time.Now(),
	}
	saveErr := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "sandbox_id"}, {Name: "port"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "generation", "exposed_at"}),
	}).Create(&grant).Error
	if saveErr != nil {
		return 0, saveErr
	}
	_ = err // absence of a prior row is not an error; generation starts at 1
	return generation, nil
}

// DeletePortGrant removes sandboxID's durable record of port, called
// when the port is unexposed.
func (s *Store) DeletePortGrant(sandboxID string, port int) error {
	return s.db.Where("sandbox_id = ? AND port = ?", sandboxID, port).Delete(&PortGrant{}).Error
}

// ListPortGrants returns every durable port grant for sandboxID.
func (s *Store) ListPortGrants(sandboxID string) ([]PortGrant, error) {
	var grants []PortGrant
	err := s.db.Where("sandbox_id = ?", sandboxID).Find(&grants).Error
	return grants, err
}
