package db

import (
	"fmt"

	"github.com/router-for-me/SchoolAuth/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Migrate creates or updates the auth core tables.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	if errMigrate := conn.AutoMigrate(
		&models.User{},
		&models.WebAuthnCredential{},
		&models.WebAuthnChallenge{},
		&models.QRLoginSession{},
		&models.RecoveryCode{},
	); errMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errMigrate)
	}
	log.WithField("dialect", DialectName(conn)).Debug("database schema migrated")
	return nil
}
