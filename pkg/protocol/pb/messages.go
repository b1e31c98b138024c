// Package pb defines the logical messages exchanged between client and server.
package pb

// Message wraps all messages exchanged over a connection.
type Message struct {
	// Only one of these fields should be set.
	LoginOrSignup    *LoginOrSignup    `json:"login_or_signup,omitempty"`
	Credentials      *Credentials      `json:"credentials,omitempty"`
	UsernameAccepted *UsernameAccepted `json:"username_accepted,omitempty"`
	InvalidUsername  *InvalidUsername  `json:"invalid_username,omitempty"`
	SignupFailed     *SignupFailed     `json:"signup_failed,omitempty"`
	LoginFailed      *LoginFailed      `json:"login_failed,omitempty"`
	ShowUsers        *ShowUsers        `json:"show_users,omitempty"`
	UserList         *UserList         `json:"user_list,omitempty"`
	ChatRequest      *ChatRequest      `json:"chat_request,omitempty"`
	ChatInvite       *ChatInvite       `json:"chat_invite,omitempty"`
	ChatAccepted     *ChatAccepted     `json:"chat_accepted,omitempty"`
	ChatDeclined     *ChatDeclined     `json:"chat_declined,omitempty"`
	ChatStarted      *ChatStarted      `json:"chat_started,omitempty"`
	ChatMsg          *ChatMessage      `json:"chat_message,omitempty"`
	FileTransfer     *FileTransfer     `json:"file_transfer,omitempty"`
	ChatEnded        *ChatEnded        `json:"chat_ended,omitempty"`
	GroupChatRequest *GroupChatRequest `json:"group_chat_request,omitempty"`
	GroupInvite      *GroupInvite      `json:"group_invite,omitempty"`
	GroupAccepted    *GroupAccepted    `json:"group_accepted,omitempty"`
	GroupDeclined    *GroupDeclined    `json:"group_declined,omitempty"`
	GroupStarted     *GroupStarted     `json:"group_started,omitempty"`
	GroupMsg         *GroupMessage     `json:"group_message,omitempty"`
	GroupLeft        *GroupLeft        `json:"group_left,omitempty"`
	Rename           *Rename           `json:"rename,omitempty"`
	UsernameChanged  *UsernameChanged  `json:"username_changed,omitempty"`
	Error            *ErrorMessage     `json:"error,omitempty"`
	Exit             *Exit             `json:"exit,omitempty"`
}

// LeaveSentinel is the reserved chat text that signals intent to leave the
// current chat or group session.
const LeaveSentinel = "#"

// ----- Authentication -----

// LoginOrSignup is the server's opening prompt on a fresh connection.
type LoginOrSignup struct{}

// Credentials is the client's answer: which mode and which username.
type Credentials struct {
	Mode     string `json:"mode"` // "login" or "signup"
	Username string `json:"username"`
}

type UsernameAccepted struct {
	Username string `json:"username"`
}

type InvalidUsername struct{}

type SignupFailed struct {
	Message string `json:"message"`
}

type LoginFailed struct {
	Message string `json:"message"`
}

// ----- Commands -----

type ShowUsers struct{}

type UserList struct {
	Users []string `json:"users"`
}

type Rename struct {
	NewUsername string `json:"new_username"`
}

type UsernameChanged struct {
	NewUsername string `json:"new_username"`
}

type Exit struct{}

// ----- Pairwise chat -----

type ChatRequest struct {
	Target string `json:"target"`
}

type ChatInvite struct {
	From string `json:"from"`
}

type ChatAccepted struct{}

type ChatDeclined struct{}

type ChatStarted struct {
	With string `json:"with"`
}

// ChatMessage carries conversation text. From is set by the server when the
// message is forwarded to the peer.
type ChatMessage struct {
	From string `json:"from,omitempty"`
	Text string `json:"text"`
}

// FileTransfer carries an inline file payload. The payload is opaque bytes,
// forwarded verbatim; From is set by the server on forwarding.
type FileTransfer struct {
	From     string `json:"from,omitempty"`
	Filename string `json:"filename"`
	Payload  []byte `json:"payload"`
}

type ChatEnded struct{}

// ----- Group chat -----

type GroupChatRequest struct {
	Targets []string `json:"targets"`
}

type GroupInvite struct {
	From    string   `json:"from"`
	Members []string `json:"members"`
}

type GroupAccepted struct{}

type GroupDeclined struct {
	Message string `json:"message"`
}

type GroupStarted struct {
	GroupID string   `json:"group_id"`
	Members []string `json:"members"`
}

type GroupMessage struct {
	From    string `json:"from,omitempty"`
	GroupID string `json:"group_id,omitempty"`
	Text    string `json:"text"`
}

type GroupLeft struct{}

// ----- Generic -----

type ErrorMessage struct {
	Message string `json:"message"`
}
