package bot

import (
	"testing"

	"pgregory.net/rapid"

	"telegram-card-bot/internal/config"
)

// Whitelist membership decides access exactly: a chat is allowed if and
// only if its ID is listed, except an empty whitelist allows everything.
func TestWhitelistMembershipProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		numChats := rapid.IntRange(1, 10).Draw(t, "numChats")
		chatIDs := make([]int64, numChats)
		listed := make(map[int64]bool)
		for i := 0; i < numChats; i++ {
			chatIDs[i] = rapid.Int64Range(-1000000000, -1).Draw(t, "chatID")
			listed[chatIDs[i]] = true
		}

		cfg := &config.Config{
			Whitelist: config.WhitelistConfig{Chats: chatIDs},
		}

		probe := rapid.Int64Range(-1000000000, -1).Draw(t, "probe")
		if cfg.IsChatAllowed(probe) != listed[probe] {
			t.Fatalf("whitelist mismatch: chat=%d listed=%v", probe, listed[probe])
		}
	})
}

func TestWhitelistEmptyAllowsAll(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cfg := &config.Config{}
		chatID := rapid.Int64Range(-1000000000, 1000000000).Draw(t, "chatID")
		if !cfg.IsChatAllowed(chatID) {
			t.Fatalf("empty whitelist must allow chat %d", chatID)
		}
	})
}

// Admin membership is exact: a user is admin if and only if listed.
func TestAdminMembershipProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		numAdmins := rapid.IntRange(0, 10).Draw(t, "numAdmins")
		admins := make([]int64, numAdmins)
		listed := make(map[int64]bool)
		for i := 0; i < numAdmins; i++ {
			admins[i] = rapid.Int64Range(1, 1000000000).Draw(t, "adminID")
			listed[admins[i]] = true
		}

		cfg := &config.Config{
			Whitelist: config.WhitelistConfig{Admins: admins},
		}

		probe := rapid.Int64Range(1, 1000000000).Draw(t, "probe")
		if cfg.IsAdmin(probe) != listed[probe] {
			t.Fatalf("admin mismatch: user=%d listed=%v", probe, listed[probe])
		}
	})
}

func TestPrivateUserCache(t *testing.T) {
	if IsPrivateUserAllowed(424242) {
		t.Fatal("unseen user should not be allowed")
	}
	AllowPrivateUser(424242)
	if !IsPrivateUserAllowed(424242) {
		t.Fatal("seen user should be allowed")
	}
}
