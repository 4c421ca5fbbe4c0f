package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/suPer8Hu/chat-relay/internal/auth"
	"github.com/suPer8Hu/chat-relay/internal/catalog"
	"github.com/suPer8Hu/chat-relay/internal/models"
)

type AdminSeed struct {
	Username string
	Password string
	Email    string
}

// Seed fills the model catalog and, when admin.Username is set, makes sure an
// unlimited admin account exists. Both steps are safe to repeat.
func Seed(ctx context.Context, gdb *gorm.DB, admin AdminSeed, log logrus.FieldLogger) error {
	n, err := catalog.Seed(ctx, gdb)
	if err != nil {
		return err
	}
	if n > 0 {
		log.WithField("count", n).Info("seeded model catalog")
	}

	if strings.TrimSpace(admin.Username) == "" {
		return nil
	}
	created, err := seedAdmin(ctx, gdb, admin)
	if err != nil {
		return err
	}
	if created {
		log.WithField("username", admin.Username).Info("created admin user")
	}
	return nil
}

func seedAdmin(ctx context.Context, gdb *gorm.DB, admin AdminSeed) (bool, error) {
	username := strings.TrimSpace(admin.Username)
	var existing models.User
	err := gdb.WithContext(ctx).Where("username = ?", username).First(&existing).Error
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, fmt.Errorf("db: lookup admin: %w", err)
	}
	if admin.Password == "" {
		return false, errors.New("db: ADMIN_PASSWORD is required when ADMIN_USERNAME is set")
	}

	hash, err := auth.HashPassword(admin.Password)
	if err != nil {
		return false, fmt.Errorf("db: hash admin password: %w", err)
	}
	u := models.User{
		Username:          username,
		Email:             admin.Email,
		PasswordHash:      hash,
		IsActive:          true,
		DailyRequestLimit: models.UnlimitedRequests,
	}
	if err := gdb.WithContext(ctx).Create(&u).Error; err != nil {
		return false, fmt.Errorf("db: create admin: %w", err)
	}
	return true, nil
}

// CreateUser adds a regular account with the given daily limit.
func CreateUser(ctx context.Context, gdb *gorm.DB, username, email, password string, dailyLimit int) (*models.User, error) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	u := &models.User{
		Username:          strings.TrimSpace(username),
		Email:             email,
		PasswordHash:      hash,
		IsActive:          true,
		DailyRequestLimit: dailyLimit,
	}
	if err := gdb.WithContext(ctx).Create(u).Error; err != nil {
		return nil, fmt.Errorf("db: create user: %w", err)
	}
	return u, nil
}
