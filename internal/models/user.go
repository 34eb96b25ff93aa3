package models

import "time"

// Role is a caller's privilege level. Elevated moderation actions
// require RoleModerator or higher.
type Role string

const (
	RoleUser       Role = "user"
	RoleModerator  Role = "moderator"
	RoleAdmin      Role = "admin"
	RoleSuperadmin Role = "superadmin"
)

// CanModerate reports whether the role may invoke elevated actions
// (ban/unban/mute/unmute, deleting other users' messages).
func (r Role) CanModerate() bool {
	switch r {
	case RoleModerator, RoleAdmin, RoleSuperadmin:
		return true
	}
	return false
}

// User is a caller identity with its moderation state. Credential
// issuance and account lifecycle live outside this server; the chat
// core only consumes the verified identity and keeps the flags that
// gate writes. Moderation flags are re-read on each privileged check,
// never cached for the lifetime of a connection.
type User struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Avatar   string     `json:"avatar,omitempty"`
	Role     Role       `json:"role"`
	IsBanned bool       `json:"isBanned"`
	IsMuted  bool       `json:"isMuted"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}
