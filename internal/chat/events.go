package chat

import "github.com/Patsimim/GlobalChat/internal/models"

// Socket event names, both directions. The names mirror the server contract
// exactly; the coordinator is the only place that speaks them.
const (
	EventJoinWorldChat    = "join_world_chat"
	EventJoinGroup        = "join_group"
	EventJoinPrivateChat  = "join_private_chat"
	EventLeaveWorldChat   = "leave_world_chat"
	EventLeaveGroup       = "leave_group"
	EventLeavePrivateChat = "leave_private_chat"

	EventWorldMessage   = "world_message"
	EventGroupMessage   = "group_message"
	EventPrivateMessage = "private_message"

	EventGroupCreated       = "group_created"
	EventGroupUpdated       = "group_updated"
	EventGroupDeleted       = "group_deleted"
	EventParticipantAdded   = "group_participant_added"
	EventParticipantRemoved = "group_participant_removed"
	EventPrivateChatCreated = "private_chat_created"

	EventOnlineUsers = "online_users"
	EventUserOnline  = "user_online"
	EventUserOffline = "user_offline"
)

type messageEvent struct {
	Type    string         `json:"type"`
	Message models.Message `json:"message"`
}

type groupEvent struct {
	Group models.Room `json:"group"`
}

type groupDeletedEvent struct {
	GroupID string `json:"groupId"`
}

type participantEvent struct {
	GroupID       string              `json:"groupId"`
	Participant   *models.Participant `json:"participant,omitempty"`
	ParticipantID string              `json:"participantId,omitempty"`
}

type privateChatEvent struct {
	Chat models.Room `json:"chat"`
}

type onlineUsersEvent struct {
	Users []models.User `json:"users"`
}

type userEvent struct {
	User   *models.User `json:"user,omitempty"`
	UserID string       `json:"userId,omitempty"`
}

type joinGroupPayload struct {
	GroupID string `json:"groupId"`
}

type joinPrivatePayload struct {
	ChatID string `json:"chatId"`
}
