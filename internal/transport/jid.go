package transport

import (
	"fmt"
	"strings"
)

const (
	// UserServer is the JID domain for direct chats.
	UserServer = "s.whatsapp.net"
	// GroupServer is the JID domain for group chats.
	GroupServer = "g.us"
)

// ToUserJID normalizes a phone number into the provider's addressing scheme.
// All non-digit characters are stripped; empty input is rejected.
func ToUserJID(phone string) (string, error) {
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return "", fmt.Errorf("invalid phone number %q", phone)
	}
	return digits.String() + "@" + UserServer, nil
}

// ToGroupJID ensures a group identifier carries the group domain suffix.
func ToGroupJID(id string) string {
	if strings.HasSuffix(id, "@"+GroupServer) {
		return id
	}
	return id + "@" + GroupServer
}
