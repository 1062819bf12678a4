// Package store persists the control-plane-owned bookkeeping that must
// survive a control-plane restart independent of its sandboxes'
// containers: which sandbox id maps to which default session id, and
// the rotation generation of each exposed port's preview token. The
// container's own session/process/port state stays in-container and
// volatile, per the data model this module implements; this package
// never stores file contents or process output.
package store

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/glebarez/sqlite"
)

// SandboxRecord is the durable row for one sandbox id: its default
// session id (once bootstrapped) and the outward hostname last
// captured for it. The hostname is written by SaveDefaultSession; no
// method of this package reads it back.
type SandboxRecord struct {
	SandboxID        string `gorm:"primaryKey"`
	DefaultSessionID string
	Hostname         string
	UpdatedAt        time.Time
}

// PortGrant is the durable row for one sandbox's exposed port: the
// token's rotation generation lets a restarted control plane detect
// that a previously issued preview token is stale without needing the
// container to still be running.
type PortGrant struct {
	SandboxID  string `gorm:"primaryKey"`
	Port       int    `gorm:"primaryKey"`
	Name       string
	Generation int
	ExposedAt  time.Time
}

// Store wraps the control plane's bookkeeping database.
type Store struct {
	db *gorm.DB
}

// Open opens (creating and migrating if necessary) the store backing
// databaseURL: a "postgres://" DSN selects Postgres, anything else is
// treated as a sqlite file path (relative paths are resolved under
// dataDir).
func Open(databaseURL, dataDir string) (*Store, error) {
	var dialector gorm.Dialector
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		dialector = postgres.Open(databaseURL)
	} else {
		path := databaseURL
		if path == "" {
			path = "sandboxkit.db"
		}
		if !filepath.IsAbs(path) {
			path = filepath.Join(dataDir, path)
		}
		dialector = sqlite.Open(path)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if err := db.AutoMigrate(&SandboxRecord{}, &PortGrant{}); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
