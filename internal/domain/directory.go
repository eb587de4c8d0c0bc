package domain

// Friend is a read-only directory entry for a known contact.
type Friend struct {
	Address      string `json:"address"`
	Username     string `json:"username"`
	Nickname     string `json:"nickname,omitempty"`
	AvatarObject string `json:"-"` // object key in the avatar bucket
	AvatarURL    string `json:"avatar_url,omitempty"`
}

// DisplayName returns the name a call UI should show for the friend.
func (f *Friend) DisplayName() string {
	if f.Nickname != "" {
		return f.Nickname
	}
	return f.Username
}

// Group is a read-only directory entry for a chat group the user belongs to.
type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
