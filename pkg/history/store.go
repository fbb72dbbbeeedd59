// Package history persists per-host knowledge between runs: the last OS
// classification (used to seed the monitor's in-memory cache, subject to a
// maximum age) and the last known MAC address (so a host can be woken by
// name alone).
package history

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/rdpwake/rdpwake/pkg/monitor"
)

// SeedMaxAge is how old a stored classification may be and still seed a
// live check.
const SeedMaxAge = 30 * 24 * time.Hour

// ErrNotFound is returned when no record exists for a host.
var ErrNotFound = errors.New("history: host not found")

// HostRecord is one persisted host entry.
type HostRecord struct {
	ID   uint   `gorm:"primaryKey"`
	Host string `gorm:"uniqueIndex;not null"`

	// MAC is the last hardware address seen for this host, for wake
	// packets. Empty when never learned.
	MAC string

	// Classification snapshot.
	OsType                int
	MultiSessionInstalled bool
	MaxSessions           int
	OsName                string
	OsVersion             string

	// LastChecked is when the classification was last refreshed from a
	// live check.
	LastChecked time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store is the SQLite-backed history store.
type Store struct {
	db *gorm.DB
}

// DefaultPath returns the history database location under the user config
// directory.
func DefaultPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, _ := os.UserHomeDir()
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "rdpwake", "history.db")
}

// New opens (creating if needed) the history database at path and runs
// schema migration.
func New(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("history: create database directory: %w", err)
	}

	// WAL keeps concurrent readers cheap; busy_timeout tolerates a
	// second process holding the file briefly.
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("history: open database: %w", err)
	}

	if err := db.AutoMigrate(&HostRecord{}); err != nil {
		return nil, fmt.Errorf("history: migrate schema: %w", err)
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

// normalizeHost keys records case-insensitively.
func normalizeHost(host string) string {
	return strings.ToLower(strings.TrimSpace(host))
}

// Get returns the record for host, or ErrNotFound.
func (s *Store) Get(host string) (*HostRecord, error) {
	var rec HostRecord
	err := s.db.Where("host = ?", normalizeHost(host)).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("history: get %s: %w", host, err)
	}
	return &rec, nil
}

// RecordClassification upserts the classification snapshot for host.
// Call it after a check whose result carried a non-Unknown classification.
func (s *Store) RecordClassification(host string, cls monitor.OsClassification) error {
	key := normalizeHost(host)
	rec := HostRecord{
		Host:                  key,
		OsType:                int(cls.Type),
		MultiSessionInstalled: cls.MultiSessionInstalled,
		MaxSessions:           cls.MaxSessions,
		OsName:                cls.OsName,
		OsVersion:             cls.OsVersion,
		LastChecked:           time.Now(),
	}

	err := s.db.Where("host = ?", key).
		Assign(map[string]any{
			"os_type":                 rec.OsType,
			"multi_session_installed": rec.MultiSessionInstalled,
			"max_sessions":            rec.MaxSessions,
			"os_name":                 rec.OsName,
			"os_version":              rec.OsVersion,
			"last_checked":            rec.LastChecked,
		}).
		FirstOrCreate(&HostRecord{}, HostRecord{Host: key}).Error
	if err != nil {
		return fmt.Errorf("history: record classification for %s: %w", host, err)
	}
	return nil
}

// RecordMAC remembers the hardware address for host.
func (s *Store) RecordMAC(host, mac string) error {
	key := normalizeHost(host)
	err := s.db.Where("host = ?", key).
		Assign(map[string]any{"mac": strings.ToLower(mac)}).
		FirstOrCreate(&HostRecord{}, HostRecord{Host: key}).Error
	if err != nil {
		return fmt.Errorf("history: record MAC for %s: %w", host, err)
	}
	return nil
}

// MAC returns the stored hardware address for host, or ErrNotFound when
// the host is unknown or has no MAC on file.
func (s *Store) MAC(host string) (string, error) {
	rec, err := s.Get(host)
	if err != nil {
		return "", err
	}
	if rec.MAC == "" {
		return "", ErrNotFound
	}
	return rec.MAC, nil
}

// CachedClassification returns the stored classification for host if it is
// younger than maxAge, applying the age gate the monitor expects its
// callers to enforce. Returns nil (no error) when the host is unknown,
// never classified, or stale.
func (s *Store) CachedClassification(host string, maxAge time.Duration) (*monitor.OsClassification, error) {
	if maxAge <= 0 {
		maxAge = SeedMaxAge
	}

	rec, err := s.Get(host)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if monitor.OsType(rec.OsType) == monitor.OsUnknown {
		return nil, nil
	}
	if time.Since(rec.LastChecked) > maxAge {
		return nil, nil
	}

	return &monitor.OsClassification{
		Type:                  monitor.OsType(rec.OsType),
		MultiSessionInstalled: rec.MultiSessionInstalled,
		MaxSessions:           rec.MaxSessions,
		Level:                 monitor.WarnInfo,
		OsName:                rec.OsName,
		OsVersion:             rec.OsVersion,
	}, nil
}
