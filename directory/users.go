package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/carebridge/resetd"
)

// userModel maps the marketplace users table. Password holds the PHC
// encoded hash, never plaintext.
type userModel struct {
	ID                string     `gorm:"column:id;primaryKey"`
	Phone             string     `gorm:"column:phone;uniqueIndex"`
	Email             string     `gorm:"column:email;uniqueIndex"`
	Password          string     `gorm:"column:password;not null"`
	Role              string     `gorm:"column:role;not null"`
	IsActive          bool       `gorm:"column:is_active;not null;default:true"`
	PasswordChangedAt *time.Time `gorm:"column:password_changed_at"`
	LastLoginAt       *time.Time `gorm:"column:last_login_at"`
	CreatedAt         time.Time  `gorm:"column:created_at"`
	UpdatedAt         time.Time  `gorm:"column:updated_at"`
}

func (userModel) TableName() string {
	return "users"
}

// Directory is the Postgres-backed user lookup used by the reset engine.
type Directory struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Directory {
	return &Directory{db: db}
}

// AutoMigrate creates or updates the backing tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&userModel{}, &auditLogModel{})
}

func (d *Directory) GetUserByPhone(ctx context.Context, phone string) (resetd.UserRecord, error) {
	return d.findOne(ctx, "phone = ?", phone)
}

func (d *Directory) GetUserByEmail(ctx context.Context, email string) (resetd.UserRecord, error) {
	return d.findOne(ctx, "email = ?", email)
}

func (d *Directory) GetUserByID(ctx context.Context, userID string) (resetd.UserRecord, error) {
	return d.findOne(ctx, "id = ?", userID)
}

func (d *Directory) findOne(ctx context.Context, query string, arg string) (resetd.UserRecord, error) {
	var user userModel
	err := d.db.WithContext(ctx).Where(query, arg).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return resetd.UserRecord{}, resetd.ErrUserNotFound
		}
		return resetd.UserRecord{}, fmt.Errorf("user lookup: %w", err)
	}

	return resetd.UserRecord{
		UserID: user.ID,
		Phone:  user.Phone,
		Email:  user.Email,
		Role:   user.Role,
		Active: user.IsActive,
	}, nil
}

// credentialUpdates builds the column set a credential commit writes.
// The last-login stamp rides along so the reset counts as the account's
// most recent authentication event.
func credentialUpdates(passwordHash string, at time.Time) map[string]interface{} {
	return map[string]interface{}{
		"password":            passwordHash,
		"password_changed_at": at,
		"last_login_at":       at,
		"updated_at":          at,
	}
}

// UpdateCredential replaces the stored password hash and stamps the
// change and last-login times in one transaction.
func (d *Directory) UpdateCredential(ctx context.Context, userID, passwordHash string, at time.Time) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&userModel{}).
			Where("id = ?", userID).
			Updates(credentialUpdates(passwordHash, at))
		if result.Error != nil {
			return fmt.Errorf("credential update: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return resetd.ErrUserNotFound
		}
		return nil
	})
}
