package model

import "strings"

// Channel names an addressable group of live connections.
type Channel string

// AdminsChannel is the single channel every admin connection joins.
const AdminsChannel Channel = "admins"

const userChannelPrefix = "user_"

// UserChannel returns the private channel of a user.
func UserChannel(userID string) Channel {
	return Channel(userChannelPrefix + userID)
}

// ChannelFor derives the channel a principal belongs to.
// Admins share AdminsChannel; everyone else gets their own user channel.
func ChannelFor(p Principal) Channel {
	if p.Role == RoleAdmin {
		return AdminsChannel
	}
	return UserChannel(p.UserID)
}

// IsUserChannel reports whether c is a per-user channel and returns its user id.
func (c Channel) IsUserChannel() (string, bool) {
	s := string(c)
	if !strings.HasPrefix(s, userChannelPrefix) {
		return "", false
	}
	return strings.TrimPrefix(s, userChannelPrefix), true
}
