package models

import "time"

// Response envelopes for the HTTP boundary. Every endpoint reports success
// in-band on top of the HTTP status.

type Pagination struct {
	Limit   int  `json:"limit"`
	Skip    int  `json:"skip"`
	Total   int  `json:"total"`
	HasMore bool `json:"hasMore"`
}

type MessagesResponse struct {
	Success    bool       `json:"success"`
	Messages   []Message  `json:"messages"`
	Pagination Pagination `json:"pagination"`
}

type SendResponse struct {
	Success bool    `json:"success"`
	Message Message `json:"message"`
	ChatID  string  `json:"chatId,omitempty"`
}

type GroupsResponse struct {
	Success bool   `json:"success"`
	Groups  []Room `json:"groups"`
	Count   int    `json:"count"`
}

type PrivateChatsResponse struct {
	Success bool   `json:"success"`
	Chats   []Room `json:"chats"`
	Count   int    `json:"count"`
}

type GroupResponse struct {
	Success bool `json:"success"`
	Group   Room `json:"group"`
}

type PrivateChatResponse struct {
	Success bool `json:"success"`
	Chat    Room `json:"chat"`
	IsNew   bool `json:"isNew"`
}

type UsersResponse struct {
	Success bool   `json:"success"`
	Users   []User `json:"users"`
	Count   int    `json:"count"`
}

type AuthResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Token   string `json:"token"`
	User    User   `json:"user"`
}

type ChatStats struct {
	TotalMessages     int       `json:"totalMessages"`
	GroupCount        int       `json:"groupCount"`
	PrivateChatsCount int       `json:"privateChatsCount"`
	TodayMessages     int       `json:"todayMessages"`
	JoinedAt          time.Time `json:"joinedAt"`
}

type StatsResponse struct {
	Success bool      `json:"success"`
	Stats   ChatStats `json:"stats"`
}
