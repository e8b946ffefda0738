package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/router-for-me/SchoolAuth/internal/db"
	"github.com/router-for-me/SchoolAuth/internal/models"
	"gorm.io/gorm"
)

// Users reads and writes principals.
type Users struct {
	db *gorm.DB
}

// NewUsers constructs a Users store.
func NewUsers(conn *gorm.DB) *Users {
	return &Users{db: conn}
}

// UserFilter narrows ListUsers results.
type UserFilter struct {
	Query  string
	Role   string
	Offset int
	Limit  int
}

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// FindByID loads a principal by primary key.
func (s *Users) FindByID(ctx context.Context, id uint64) (*models.User, error) {
	var user models.User
	if errFind := s.db.WithContext(ctx).First(&user, id).Error; errFind != nil {
		return nil, translate(errFind)
	}
	return &user, nil
}

// FindByEmail loads a principal by email, ignoring case.
func (s *Users) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	normalized := NormalizeEmail(email)
	if normalized == "" {
		return nil, ErrNotFound
	}
	var user models.User
	if errFind := s.db.WithContext(ctx).Where("email = ?", normalized).First(&user).Error; errFind != nil {
		return nil, translate(errFind)
	}
	return &user, nil
}

// FindByRollNumber loads a principal by roll number.
func (s *Users) FindByRollNumber(ctx context.Context, rollNumber string) (*models.User, error) {
	rollNumber = strings.TrimSpace(rollNumber)
	if rollNumber == "" {
		return nil, ErrNotFound
	}
	var user models.User
	if errFind := s.db.WithContext(ctx).Where("roll_number = ?", rollNumber).First(&user).Error; errFind != nil {
		return nil, translate(errFind)
	}
	return &user, nil
}

// FindByIdentifier resolves an email address, roll number or numeric id.
func (s *Users) FindByIdentifier(ctx context.Context, identifier string) (*models.User, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, ErrNotFound
	}
	if strings.Contains(identifier, "@") {
		return s.FindByEmail(ctx, identifier)
	}
	user, errRoll := s.FindByRollNumber(ctx, identifier)
	if !errors.Is(errRoll, ErrNotFound) {
		return user, errRoll
	}
	if id, errParse := strconv.ParseUint(identifier, 10, 64); errParse == nil {
		return s.FindByID(ctx, id)
	}
	return nil, ErrNotFound
}

// Create inserts a principal, reporting ErrConflict for a duplicate roll number or email.
func (s *Users) Create(ctx context.Context, user *models.User) error {
	if user.Email != nil {
		normalized := NormalizeEmail(*user.Email)
		if normalized == "" {
			user.Email = nil
		} else {
			user.Email = &normalized
		}
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		query := tx.Model(&models.User{}).Where("roll_number = ?", user.RollNumber)
		if user.Email != nil {
			query = query.Or("email = ?", *user.Email)
		}
		if errCount := query.Count(&count).Error; errCount != nil {
			return errCount
		}
		if count > 0 {
			return ErrConflict
		}
		active := user.Active
		if errCreate := tx.Create(user).Error; errCreate != nil {
			return translate(errCreate)
		}
		// Active defaults to true in the schema; persist an explicit false.
		if !active {
			if errUpdate := tx.Model(user).Update("active", false).Error; errUpdate != nil {
				return errUpdate
			}
			user.Active = false
		}
		return nil
	})
}

// Update applies column updates to a principal.
func (s *Users) Update(ctx context.Context, id uint64, updates map[string]any) (*models.User, error) {
	if email, ok := updates["email"].(string); ok {
		normalized := NormalizeEmail(email)
		if normalized == "" {
			updates["email"] = nil
		} else {
			updates["email"] = normalized
			var count int64
			if errCount := s.db.WithContext(ctx).Model(&models.User{}).
				Where("email = ? AND id <> ?", normalized, id).Count(&count).Error; errCount != nil {
				return nil, errCount
			}
			if count > 0 {
				return nil, ErrConflict
			}
		}
	}
	updates["updated_at"] = time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return nil, translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return s.FindByID(ctx, id)
}

// SetActive flips the active flag.
func (s *Users) SetActive(ctx context.Context, id uint64, active bool) error {
	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).
		Updates(map[string]any{"active": active, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns principals ordered by id together with the unpaged total.
func (s *Users) List(ctx context.Context, filter UserFilter) ([]models.User, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.User{})
	if q := strings.TrimSpace(filter.Query); q != "" {
		pattern := db.ContainsPattern(s.db, q)
		query = query.Where(
			fmt.Sprintf("(%s OR %s OR %s)",
				db.CaseInsensitiveLikeExpr(s.db, "roll_number"),
				db.CaseInsensitiveLikeExpr(s.db, "full_name"),
				db.CaseInsensitiveLikeExpr(s.db, "email")),
			pattern, pattern, pattern,
		)
	}
	if role := strings.TrimSpace(filter.Role); role != "" {
		query = query.Where("role = ?", role)
	}
	query = query.Session(&gorm.Session{})

	var total int64
	if errCount := query.Count(&total).Error; errCount != nil {
		return nil, 0, errCount
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var users []models.User
	if errFind := query.Order("id ASC").Offset(filter.Offset).Limit(limit).Find(&users).Error; errFind != nil {
		return nil, 0, errFind
	}
	return users, total, nil
}
