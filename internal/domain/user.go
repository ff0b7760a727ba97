// Package domain contains entities without logic, just meta-data.
package domain

import "errors"

const MaxUsernameLen = 36

var (
	ErrUsernameEmpty   = errors.New("username empty")
	ErrUsernameTooLong = errors.New("username too long")
)

// Status is a user's presence status as shown to other users.
type Status string

const (
	StatusOnline       Status = "Online"
	StatusIdle         Status = "Idle"
	StatusDoNotDisturb Status = "DoNotDisturb"
	StatusOffline      Status = "Offline"
)

type User struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar,omitempty"`
	Status      Status `json:"status"`
	// IsInvisible suppresses all presence broadcasts for this user.
	IsInvisible bool `json:"-"`
	// SpecialStatus marks a manually pinned status that plain "online"
	// updates must not overwrite.
	SpecialStatus bool `json:"-"`
}

func NewUser(id int64, username string) (*User, error) {
	if len(username) == 0 {
		return nil, ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return nil, ErrUsernameTooLong
	}
	return &User{ID: id, Username: username, DisplayName: username, Status: StatusOffline}, nil
}

// MemberInfo is a user as seen through their per-server profile overlay:
// the profile's display name and avatar win over the account's when set.
type MemberInfo struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar,omitempty"`
}

// ServerProfile is the per-server presence overlay for one member.
type ServerProfile struct {
	Status        Status `json:"status"`
	IsInvisible   bool   `json:"-"`
	SpecialStatus bool   `json:"-"`
}
