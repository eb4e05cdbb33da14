// Package authz answers the entitlement questions the chat core asks: is this
// channel allowed to run a bot, is this user privileged in this channel, and
// what feature toggles does the channel have. It only reads the externally
// maintained subscription and settings records; it never mutates them.
package authz

import (
	"context"
	"database/sql"
	"strings"

	"github.com/onnwee/streampilot/db"
)

// Oracle reads authorization state from the database.
type Oracle struct {
	DB *sql.DB
}

// IsAuthorized reports whether the channel is entitled to run a bot, with a
// short reason for the negative case.
func (o *Oracle) IsAuthorized(ctx context.Context, channel string) (bool, string, error) {
	status, err := db.SubscriptionStatus(ctx, o.DB, channel)
	if err != nil {
		return false, "", err
	}
	switch status {
	case "active":
		return true, "", nil
	case "":
		return false, "no subscription on record", nil
	default:
		return false, "subscription " + status, nil
	}
}

// Toggles returns the channel's feature toggles (all enabled by default).
func (o *Oracle) Toggles(ctx context.Context, channel string) (db.Settings, error) {
	return db.GetSettings(ctx, o.DB, channel)
}

// IsPrivileged reports whether a user may run privileged commands in a channel:
// the broadcaster (login equals the channel identity), or anyone carrying
// moderator/broadcaster role markers in the message metadata.
func IsPrivileged(username, channel string, mod bool, badges map[string]int) bool {
	if strings.EqualFold(username, channel) {
		return true
	}
	if mod {
		return true
	}
	if badges["broadcaster"] > 0 || badges["moderator"] > 0 {
		return true
	}
	return false
}
