package service

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"notifyhub/internal/model"
)

type fakePreferenceStore struct {
	rows map[string]*model.Preference
}

func newFakePreferenceStore() *fakePreferenceStore {
	return &fakePreferenceStore{rows: make(map[string]*model.Preference)}
}

func (f *fakePreferenceStore) key(recipientID, notifType string) string {
	return recipientID + "/" + notifType
}

func (f *fakePreferenceStore) Get(ctx context.Context, recipientID, notifType string) (*model.Preference, error) {
	return f.rows[f.key(recipientID, notifType)], nil
}

func (f *fakePreferenceStore) Upsert(ctx context.Context, p *model.Preference) error {
	f.rows[f.key(p.RecipientID, p.Type)] = p
	return nil
}

func (f *fakePreferenceStore) Delete(ctx context.Context, recipientID, notifType string) error {
	delete(f.rows, f.key(recipientID, notifType))
	return nil
}

func (f *fakePreferenceStore) DeleteAll(ctx context.Context, recipientID string) error {
	for k, p := range f.rows {
		if p.RecipientID == recipientID {
			delete(f.rows, k)
		}
	}
	return nil
}

func (f *fakePreferenceStore) ListForRecipient(ctx context.Context, recipientID string) ([]*model.Preference, error) {
	var out []*model.Preference
	for _, p := range f.rows {
		if p.RecipientID == recipientID {
			out = append(out, p)
		}
	}
	return out, nil
}

func TestPreferencesDefaultEnabled(t *testing.T) {
	svc := NewPreferenceService(newFakePreferenceStore(), zap.NewNop())
	ctx := context.Background()

	email, err := svc.IsEmailEnabled(ctx, "u1", "incident.reported")
	if err != nil {
		t.Fatalf("IsEmailEnabled failed: %v", err)
	}
	push, err := svc.IsPushEnabled(ctx, "u1", "incident.reported")
	if err != nil {
		t.Fatalf("IsPushEnabled failed: %v", err)
	}
	if !email || !push {
		t.Fatalf("no stored row must mean enabled, got email=%v push=%v", email, push)
	}
}

func TestDetermineEffectiveChannel(t *testing.T) {
	cases := []struct {
		name      string
		email     bool
		push      bool
		requested model.Channel
		want      model.Channel
	}{
		{"both allowed", true, true, model.ChannelBoth, model.ChannelBoth},
		{"both degrades to email", true, false, model.ChannelBoth, model.ChannelEmail},
		{"both degrades to push", false, true, model.ChannelBoth, model.ChannelPush},
		{"both fully disabled", false, false, model.ChannelBoth, model.ChannelNone},
		{"email disabled", false, true, model.ChannelEmail, model.ChannelNone},
		{"push allowed", true, true, model.ChannelPush, model.ChannelPush},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			store := newFakePreferenceStore()
			svc := NewPreferenceService(store, zap.NewNop())
			ctx := context.Background()

			if err := svc.SetPreference(ctx, "u1", "photo.uploaded", c.email, c.push); err != nil {
				t.Fatalf("SetPreference failed: %v", err)
			}

			got, err := svc.DetermineEffectiveChannel(ctx, "u1", "photo.uploaded", c.requested)
			if err != nil {
				t.Fatalf("DetermineEffectiveChannel failed: %v", err)
			}
			if got != c.want {
				t.Errorf("effective channel = %s, want %s", got, c.want)
			}
		})
	}
}

func TestDetermineEffectiveChannelUnknownRequest(t *testing.T) {
	svc := NewPreferenceService(newFakePreferenceStore(), zap.NewNop())
	if _, err := svc.DetermineEffectiveChannel(context.Background(), "u1", "t", model.Channel("carrier-pigeon")); err == nil {
		t.Fatal("expected error for unknown requested channel")
	}
}

func TestDisableEnableResetAll(t *testing.T) {
	store := newFakePreferenceStore()
	svc := NewPreferenceService(store, zap.NewNop())
	ctx := context.Background()
	types := []string{"attendance.checkIn", "photo.uploaded"}

	if err := svc.DisableAllNotifications(ctx, "u1", types); err != nil {
		t.Fatalf("DisableAllNotifications failed: %v", err)
	}
	got, err := svc.DetermineEffectiveChannel(ctx, "u1", "photo.uploaded", model.ChannelBoth)
	if err != nil {
		t.Fatalf("DetermineEffectiveChannel failed: %v", err)
	}
	if got != model.ChannelNone {
		t.Fatalf("after disable-all, effective channel = %s, want none", got)
	}

	if err := svc.EnableAllNotifications(ctx, "u1", types); err != nil {
		t.Fatalf("EnableAllNotifications failed: %v", err)
	}
	got, _ = svc.DetermineEffectiveChannel(ctx, "u1", "attendance.checkIn", model.ChannelBoth)
	if got != model.ChannelBoth {
		t.Fatalf("after enable-all, effective channel = %s, want both", got)
	}

	if err := svc.DisableAllNotifications(ctx, "u1", types); err != nil {
		t.Fatalf("DisableAllNotifications failed: %v", err)
	}
	if err := svc.ResetAllPreferences(ctx, "u1"); err != nil {
		t.Fatalf("ResetAllPreferences failed: %v", err)
	}
	if len(store.rows) != 0 {
		t.Fatalf("reset should delete all rows, %d remain", len(store.rows))
	}
	got, _ = svc.DetermineEffectiveChannel(ctx, "u1", "photo.uploaded", model.ChannelBoth)
	if got != model.ChannelBoth {
		t.Fatalf("after reset, effective channel = %s, want both", got)
	}
}
