package telegram

// Chat member statuses reported in new_chat_member.status.
const (
	MemberStatusMember = "member"
	MemberStatusLeft   = "left"
	MemberStatusKicked = "kicked"
)

// Update is the subset of a Telegram webhook delivery the tracker reads.
// Unknown fields and update types are ignored.
type Update struct {
	UpdateID   int64              `json:"update_id"`
	ChatMember *ChatMemberUpdated `json:"chat_member,omitempty"`
}

// ChatMemberUpdated describes a membership change in a chat.
type ChatMemberUpdated struct {
	Chat          *Chat           `json:"chat"`
	From          *User           `json:"from"`
	NewChatMember *ChatMember     `json:"new_chat_member"`
	InviteLink    *ChatInviteLink `json:"invite_link,omitempty"`
}

// ChatMember is the member state after the change.
type ChatMember struct {
	Status string `json:"status"`
	User   *User  `json:"user"`
}

// User is a Telegram user.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Chat is the chat the membership change happened in.
type Chat struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Type  string `json:"type"`
}

// ChatInviteLink is the invite link used to join, when any.
type ChatInviteLink struct {
	InviteLink string `json:"invite_link"`
	Name       string `json:"name"`
}

// JoinedUser returns the user in new_chat_member, or nil.
func (u *ChatMemberUpdated) JoinedUser() *User {
	if u == nil || u.NewChatMember == nil {
		return nil
	}
	return u.NewChatMember.User
}

// Status returns new_chat_member.status, or "".
func (u *ChatMemberUpdated) Status() string {
	if u == nil || u.NewChatMember == nil {
		return ""
	}
	return u.NewChatMember.Status
}

// LinkName returns invite_link.name, or "" when the user joined without a
// named link.
func (u *ChatMemberUpdated) LinkName() string {
	if u == nil || u.InviteLink == nil {
		return ""
	}
	return u.InviteLink.Name
}

// ChatTitle returns chat.title, or "".
func (u *ChatMemberUpdated) ChatTitle() string {
	if u == nil || u.Chat == nil {
		return ""
	}
	return u.Chat.Title
}
