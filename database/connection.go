package database

import (
	"fmt"
	"os"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Database holds the GORM database connection and provides access to the
// underlying DB instance. One file, one writer; readers share the WAL.
type Database struct {
	db   *gorm.DB
	path string
}

// DB returns the underlying GORM database instance for direct access when needed
func (d *Database) DB() *gorm.DB {
	return d.db
}

// Path returns the storage file path
func (d *Database) Path() string {
	return d.path
}

// Connect opens (or creates) the SQLite storage file. WAL with
// synchronous=NORMAL survives abrupt termination without losing
// committed cycles.
func Connect(path string) (*Database, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", path)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent), // Silent logging for production
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	// SQLite allows one writer; a single connection serialises them
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	return &Database{db: db, path: path}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SizeMB returns the storage file size in megabytes
func (d *Database) SizeMB() float64 {
	info, err := os.Stat(d.path)
	if err != nil {
		return 0
	}
	return float64(info.Size()) / (1024 * 1024)
}
