package models

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	sqliteEncrypt "github.com/Daskott/gorm-sqlite-cipher"
	"github.com/campuskit/sentinel/server/logger"
	"github.com/campuskit/sentinel/utils"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

const DB_NAME = "sentinel.db"

var logg = logger.NewLogger()
var db *gorm.DB

// AutoMigrate opens the encrypted sqlite db, migrates the schema
// and inserts seed data
func AutoMigrate(passPhrase string, dbRootDir string) error {
	err := openDB(passPhrase, dbRootDir)
	if err != nil {
		return err
	}

	return migrateAndSeed()
}

// InitializeTestDb swaps the package db for a fresh in-memory sqlite db.
// Only meant to be called from package tests.
func InitializeTestDb() {
	var err error

	db, err = gorm.Open(sqliteEncrypt.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		logg.Panicf("failed to connect test database: %v", err)
	}

	db.Migrator().DropTable(
		&AlertStatus{}, &JobStatus{}, &Role{},
		&Job{}, &User{}, &Contact{}, &Alert{}, "alert_contacts",
	)

	if err = migrateAndSeed(); err != nil {
		logg.Panicf("failed to migrate test database: %v", err)
	}
}

// DbFilePath is where the sqlite db file lives, given the root dir.
// The backup job uploads this exact file.
func DbFilePath(dbRootDir string) (string, error) {
	dbDir, err := dbDirectory(dbRootDir)
	if err != nil {
		return "", err
	}

	return filepath.Join(dbDir, DB_NAME), nil
}

// ---------------------------------------------------------------------------------//
// Helper functions
// --------------------------------------------------------------------------------//

func openDB(passPhrase string, dbRootDir string) error {
	var err error

	dbDSNVal, err := dbDSN(passPhrase, dbRootDir)
	if err != nil {
		return fmt.Errorf("failed to set sqlite DSN: %v", err)
	}

	db, err = gorm.Open(sqliteEncrypt.Open(dbDSNVal), &gorm.Config{
		Logger: gormLogger.New(
			log.New(os.Stdout, "\r\n", log.LstdFlags),
			gormLogger.Config{
				LogLevel:                  gormLogger.Silent,
				IgnoreRecordNotFoundError: true,
				Colorful:                  false,
			},
		),
	})
	if err != nil {
		return fmt.Errorf("failed to connect database: %v", err)
	}

	return nil
}

func migrateAndSeed() error {
	err := db.AutoMigrate(
		&AlertStatus{}, &JobStatus{}, &Role{},
		&Job{}, &User{}, &Contact{}, &Alert{},
	)
	if err != nil {
		return err
	}

	populateDBWithSeedData()

	return nil
}

func populateDBWithSeedData() {
	if err := db.First(&AlertStatus{}).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		logg.Info("Inserting seed data into 'AlertStatus'")
		db.Create(&[]AlertStatus{
			{Name: PENDING_ALERT}, {Name: ACTIVE_ALERT},
			{Name: RESOLVED_ALERT}, {Name: CANCELLED_ALERT},
		})
	}

	if err := db.First(&JobStatus{}).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		logg.Info("Inserting seed data into 'JobStatus'")
		db.Create(&[]JobStatus{
			{Name: ENQUEUED_JOB}, {Name: IN_PROGRESS_JOB},
			{Name: SUCCESSFUL_JOB}, {Name: DEAD_JOB},
		})
	}

	if err := db.First(&Role{}).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		logg.Info("Inserting seed data into 'Role'")
		db.Create(&[]Role{{Name: ADMIN_USER_ROLE}, {Name: STUDENT_USER_ROLE}})
	}
}

func dbDSN(passPhrase string, dbRootDir string) (string, error) {
	dbFilePath, err := DbFilePath(dbRootDir)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(
		"file:%v?_pragma_key=%s&_pragma_cipher_page_size=4096&_journal_mode=WAL",
		dbFilePath,
		passPhrase,
	), nil
}

func dbDirectory(dbRootDir string) (string, error) {
	dbDir := filepath.Join(dbRootDir, "db")

	err := utils.CreateDirIfNotExist(dbDir)
	if err != nil {
		return "", err
	}

	return dbDir, nil
}
