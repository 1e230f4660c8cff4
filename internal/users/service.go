package users

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fossgis/3dmr/internal/render"
)

var (
	// ErrUnknownUser indicates the uid has never been seen.
	ErrUnknownUser = errors.New("users: unknown user")
	// ErrAlreadyBanned indicates the user already has an active ban.
	ErrAlreadyBanned = errors.New("users: user already banned")
	// ErrNotBanned indicates there is no active ban to lift.
	ErrNotBanned = errors.New("users: user is not banned")

	errMissingDatabase = errors.New("users: database handle is required")
	noOpLogger         = zap.NewNop()
)

// Claims carries the identity attributes asserted by the upstream provider.
type Claims struct {
	UID         string
	DisplayName string
	AvatarURL   string
}

// ServiceConfig describes the dependencies of the user service.
type ServiceConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Service manages user accounts, ban state and actor resolution.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewService constructs the user service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, logger: logger}, nil
}

// EnsureUser creates or refreshes the account for a provider-asserted
// identity and returns the stored record.
func (s *Service) EnsureUser(ctx context.Context, claims Claims) (*User, error) {
	uid := normalize(claims.UID)
	if uid == "" {
		return nil, ErrUnknownUser
	}

	var user User
	err := s.db.WithContext(ctx).Where("uid = ?", uid).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		user = User{
			UID:       uid,
			Name:      normalize(claims.DisplayName),
			AvatarURL: normalize(claims.AvatarURL),
		}
		if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
			return nil, err
		}
		return &user, nil
	}
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if name := normalize(claims.DisplayName); name != "" && name != user.Name {
		updates["name"] = name
		user.Name = name
	}
	if avatar := normalize(claims.AvatarURL); avatar != "" && avatar != user.AvatarURL {
		updates["avatar_url"] = avatar
		user.AvatarURL = avatar
	}
	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(&User{}).Where("uid = ?", uid).Updates(updates).Error; err != nil {
			s.logger.Warn("user refresh failed", zap.String("uid", uid), zap.Error(err))
		}
	}
	return &user, nil
}

// ResolveActor loads the policy-relevant view of a user. An unknown uid
// resolves to an anonymous actor.
func (s *Service) ResolveActor(ctx context.Context, uid string) (Actor, error) {
	uid = normalize(uid)
	if uid == "" {
		return Actor{}, nil
	}

	var user User
	err := s.db.WithContext(ctx).Where("uid = ?", uid).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Actor{}, nil
	}
	if err != nil {
		return Actor{}, err
	}

	banned, err := s.isBanned(ctx, uid)
	if err != nil {
		return Actor{}, err
	}

	return Actor{UID: user.UID, Admin: user.Admin, Banned: banned}, nil
}

// Lookup returns the account for a uid or display name.
func (s *Service) Lookup(ctx context.Context, identity string) (*User, error) {
	identity = normalize(identity)
	if identity == "" {
		return nil, ErrUnknownUser
	}
	var user User
	err := s.db.WithContext(ctx).
		Where("uid = ? OR name = ?", identity, identity).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUnknownUser
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateProfile replaces the profile description, re-rendering the HTML form.
func (s *Service) UpdateProfile(ctx context.Context, uid, description string) error {
	rendered, err := render.Markdown(description)
	if err != nil {
		return err
	}
	result := s.db.WithContext(ctx).Model(&User{}).Where("uid = ?", uid).Updates(map[string]interface{}{
		"description":          description,
		"rendered_description": rendered,
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUnknownUser
	}
	return nil
}

// BanUser records a new active ban against the user.
func (s *Service) BanUser(ctx context.Context, adminUID, userUID, reason string) error {
	userUID = normalize(userUID)
	if userUID == "" {
		return ErrUnknownUser
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&User{}).Where("uid = ?", userUID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrUnknownUser
		}

		var active int64
		if err := tx.Model(&Ban{}).Where("user_uid = ? AND lifted = ?", userUID, false).Count(&active).Error; err != nil {
			return err
		}
		if active > 0 {
			return ErrAlreadyBanned
		}

		ban := Ban{UserUID: userUID, Reason: reason, BannedBy: adminUID}
		if err := tx.Create(&ban).Error; err != nil {
			return fmt.Errorf("users: recording ban: %w", err)
		}
		s.logger.Info("user banned",
			zap.String("uid", userUID),
			zap.String("by", adminUID),
			zap.String("reason", reason))
		return nil
	})
}

// UnbanUser lifts every active ban for the user, keeping the rows for audit.
func (s *Service) UnbanUser(ctx context.Context, adminUID, userUID string) error {
	result := s.db.WithContext(ctx).Model(&Ban{}).
		Where("user_uid = ? AND lifted = ?", normalize(userUID), false).
		Update("lifted", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotBanned
	}
	s.logger.Info("user unbanned", zap.String("uid", userUID), zap.String("by", adminUID))
	return nil
}

// SetAdmin grants or revokes administrator privilege.
func (s *Service) SetAdmin(ctx context.Context, uid string, admin bool) error {
	result := s.db.WithContext(ctx).Model(&User{}).Where("uid = ?", normalize(uid)).Update("admin", admin)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUnknownUser
	}
	return nil
}

func (s *Service) isBanned(ctx context.Context, uid string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Ban{}).
		Where("user_uid = ? AND lifted = ?", uid, false).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
