// Package directory is the Online User Directory: a process-lifetime cache
// of resolved player profiles keyed by canonical cross-play id.
package directory

import (
	"maps"

	"github.com/memohai/crossplay/internal/backend"
)

// LocalOnlyFields is set on the OnlineUser describing the local player.
type LocalOnlyFields struct {
	PlatformNativeID string           `json:"platform_native_id"`
	AccountID        string           `json:"account_id,omitempty"`
	Platform         backend.Platform `json:"platform"`
}

// OnlineUser is any player visible to the local client.
type OnlineUser struct {
	CanonicalID      string                                       `json:"canonical_id"`
	DisplayName      string                                       `json:"display_name"`
	PrimaryPlatform  backend.Platform                             `json:"primary_platform,omitempty"`
	ExternalAccounts map[backend.Platform]backend.ExternalAccount `json:"external_accounts,omitempty"`
	Avatar           []byte                                       `json:"-"`
	HasAvatar        bool                                         `json:"has_avatar"`
	Local            *LocalOnlyFields                             `json:"local,omitempty"`
}

// Account returns the user's external account on p.
func (u OnlineUser) Account(p backend.Platform) (backend.ExternalAccount, bool) {
	acc, ok := u.ExternalAccounts[p]
	return acc, ok
}

func (u OnlineUser) clone() OnlineUser {
	u.ExternalAccounts = maps.Clone(u.ExternalAccounts)
	if u.Local != nil {
		local := *u.Local
		u.Local = &local
	}
	return u
}

// PrimaryPlatform picks the platform with the most recent last login. Equal
// timestamps resolve by platform priority so the result is deterministic.
func PrimaryPlatform(accounts map[backend.Platform]backend.ExternalAccount) backend.Platform {
	var (
		best  backend.Platform
		found bool
		last  backend.ExternalAccount
	)
	for p, acc := range accounts {
		if !found {
			best, last, found = p, acc, true
			continue
		}
		switch {
		case acc.LastLogin.After(last.LastLogin):
			best, last = p, acc
		case acc.LastLogin.Equal(last.LastLogin) && p.Priority() < best.Priority():
			best, last = p, acc
		}
	}
	return best
}

// fromUserInfo builds an OnlineUser from a backend lookup row.
func fromUserInfo(info backend.UserInfo) OnlineUser {
	accounts := make(map[backend.Platform]backend.ExternalAccount, len(info.Accounts))
	for _, acc := range info.Accounts {
		if current, ok := accounts[acc.Platform]; ok && !acc.LastLogin.After(current.LastLogin) {
			continue
		}
		accounts[acc.Platform] = acc
	}
	user := OnlineUser{
		CanonicalID:      info.UserID,
		DisplayName:      info.DisplayName,
		ExternalAccounts: accounts,
		PrimaryPlatform:  PrimaryPlatform(accounts),
	}
	if user.DisplayName == "" {
		if acc, ok := accounts[user.PrimaryPlatform]; ok {
			user.DisplayName = acc.DisplayName
		}
	}
	if user.DisplayName == "" {
		user.DisplayName = info.UserID
	}
	return user
}
