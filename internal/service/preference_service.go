package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"notifyhub/internal/model"
)

// PreferenceStore is the persistence surface PreferenceService needs.
type PreferenceStore interface {
	Get(ctx context.Context, recipientID, notifType string) (*model.Preference, error)
	Upsert(ctx context.Context, p *model.Preference) error
	Delete(ctx context.Context, recipientID, notifType string) error
	DeleteAll(ctx context.Context, recipientID string) error
	ListForRecipient(ctx context.Context, recipientID string) ([]*model.Preference, error)
}

// PreferenceService owns opt-in/opt-out decisions. The model is opt-out:
// without an explicit preference row, every channel is enabled.
type PreferenceService struct {
	store  PreferenceStore
	logger *zap.Logger
}

func NewPreferenceService(store PreferenceStore, logger *zap.Logger) *PreferenceService {
	return &PreferenceService{store: store, logger: logger}
}

func (s *PreferenceService) IsEmailEnabled(ctx context.Context, recipientID, notifType string) (bool, error) {
	p, err := s.store.Get(ctx, recipientID, notifType)
	if err != nil {
		return false, err
	}
	if p == nil {
		return true, nil
	}
	return p.EmailEnabled, nil
}

func (s *PreferenceService) IsPushEnabled(ctx context.Context, recipientID, notifType string) (bool, error) {
	p, err := s.store.Get(ctx, recipientID, notifType)
	if err != nil {
		return false, err
	}
	if p == nil {
		return true, nil
	}
	return p.PushEnabled, nil
}

// DetermineEffectiveChannel degrades the requested channel to whatever the
// recipient still allows. Requested "both" becomes a single channel when the
// other is disabled, and "none" only when nothing remains.
func (s *PreferenceService) DetermineEffectiveChannel(ctx context.Context, recipientID, notifType string, requested model.Channel) (model.Channel, error) {
	p, err := s.store.Get(ctx, recipientID, notifType)
	if err != nil {
		return model.ChannelNone, err
	}

	emailEnabled, pushEnabled := true, true
	if p != nil {
		emailEnabled = p.EmailEnabled
		pushEnabled = p.PushEnabled
	}

	switch requested {
	case model.ChannelEmail:
		if emailEnabled {
			return model.ChannelEmail, nil
		}
		return model.ChannelNone, nil
	case model.ChannelPush:
		if pushEnabled {
			return model.ChannelPush, nil
		}
		return model.ChannelNone, nil
	case model.ChannelBoth:
		switch {
		case emailEnabled && pushEnabled:
			return model.ChannelBoth, nil
		case emailEnabled:
			return model.ChannelEmail, nil
		case pushEnabled:
			return model.ChannelPush, nil
		default:
			return model.ChannelNone, nil
		}
	default:
		return model.ChannelNone, fmt.Errorf("unknown channel %q", requested)
	}
}

func (s *PreferenceService) SetPreference(ctx context.Context, recipientID, notifType string, emailEnabled, pushEnabled bool) error {
	err := s.store.Upsert(ctx, &model.Preference{
		RecipientID:  recipientID,
		Type:         notifType,
		EmailEnabled: emailEnabled,
		PushEnabled:  pushEnabled,
	})
	if err != nil {
		return err
	}
	s.logger.Info("Preference updated",
		zap.String("recipient_id", recipientID),
		zap.String("type", notifType),
		zap.Bool("email_enabled", emailEnabled),
		zap.Bool("push_enabled", pushEnabled),
	)
	return nil
}

// DisableAllNotifications opts a recipient out of both channels for the given
// types.
func (s *PreferenceService) DisableAllNotifications(ctx context.Context, recipientID string, types []string) error {
	for _, t := range types {
		if err := s.SetPreference(ctx, recipientID, t, false, false); err != nil {
			return fmt.Errorf("failed to disable %s: %w", t, err)
		}
	}
	return nil
}

// EnableAllNotifications opts a recipient back into both channels for the
// given types.
func (s *PreferenceService) EnableAllNotifications(ctx context.Context, recipientID string, types []string) error {
	for _, t := range types {
		if err := s.SetPreference(ctx, recipientID, t, true, true); err != nil {
			return fmt.Errorf("failed to enable %s: %w", t, err)
		}
	}
	return nil
}

// ResetAllPreferences deletes every stored row, restoring defaults.
func (s *PreferenceService) ResetAllPreferences(ctx context.Context, recipientID string) error {
	if err := s.store.DeleteAll(ctx, recipientID); err != nil {
		return err
	}
	s.logger.Info("Preferences reset to defaults", zap.String("recipient_id", recipientID))
	return nil
}
