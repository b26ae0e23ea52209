package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Patsimim/GlobalChat/internal/api"
	"github.com/Patsimim/GlobalChat/internal/auth"
	"github.com/Patsimim/GlobalChat/internal/chat"
	"github.com/Patsimim/GlobalChat/internal/config"
	"github.com/Patsimim/GlobalChat/internal/models"
	"github.com/Patsimim/GlobalChat/internal/tasks"
	"github.com/Patsimim/GlobalChat/internal/transport"
)

// lineComposer is the Composer contract for a line-based REPL: an accepted
// send clears the held text, a failed send restores it so an empty input line
// resends it.
type lineComposer struct {
	mu   sync.Mutex
	text string
}

func (c *lineComposer) Clear() {
	c.mu.Lock()
	c.text = ""
	c.mu.Unlock()
}

func (c *lineComposer) Restore(text string) {
	c.mu.Lock()
	c.text = text
	c.mu.Unlock()
	fmt.Printf("\n✖ Not delivered. Press enter to retry: %s\n> ", text)
}

func (c *lineComposer) Take() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	text := c.text
	c.text = ""
	return text
}

func main() {
	cfg := config.Load()

	store := auth.NewTokenStore(cfg.TokenFile)
	session := auth.NewSession(cfg.APIURL, store)

	reader := bufio.NewReader(os.Stdin)
	ctx := context.Background()

	if err := session.Resume(ctx); err != nil {
		if err := interactiveLogin(ctx, reader, session); err != nil {
			log.Fatalf("Login failed: %v", err)
		}
	}

	self := session.CurrentUser()
	fmt.Printf("🌍 Welcome to GlobalChat, %s!\n", self.DisplayName())

	apiClient := api.NewClient(cfg.APIURL, session)
	channel := transport.NewChannel(cfg.SocketURL, transport.Options{
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectDelay:    cfg.ReconnectDelay,
	})

	rooms := chat.NewRoomDirectory()
	logs := chat.NewMessageLog()
	presence := chat.NewPresenceTracker()
	composer := &lineComposer{}

	coord := chat.NewCoordinator(apiClient, channel, session, rooms, logs, presence, composer, chat.Options{
		PageSize: cfg.HistoryPageSize,
	})
	go coord.Run()

	channel.Connect(session.Token())

	sweeper := tasks.NewPendingSweeper(coord, cfg.PendingDeadline)
	sweeper.Start()

	quit := make(chan struct{})
	go watchUpdates(coord, rooms, session, quit)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	if err := coord.Focus(models.WorldScope()); err != nil {
		log.Printf("Focusing world chat failed: %v", err)
	}
	printHistory(logs, rooms)

	go repl(reader, coord, apiClient, rooms, logs, presence, session, composer, quit)

	select {
	case <-stop:
		fmt.Println("\nShutdown signal received. Cleaning up...")
	case <-quit:
	}

	sweeper.Stop()
	coord.Stop()
	channel.Close()
	time.Sleep(200 * time.Millisecond)
	fmt.Println("Goodbye! 👋")
}

func interactiveLogin(ctx context.Context, reader *bufio.Reader, session *auth.Session) error {
	for {
		fmt.Print("Login or register? [l/r]: ")
		choice, _ := reader.ReadString('\n')
		choice = strings.TrimSpace(strings.ToLower(choice))

		switch choice {
		case "l", "login", "":
			email := prompt(reader, "Email: ")
			password := prompt(reader, "Password: ")
			if err := session.Login(ctx, email, password); err != nil {
				fmt.Printf("❌ %v\n", err)
				continue
			}
			return nil

		case "r", "register":
			user := models.User{
				FirstName: prompt(reader, "First name: "),
				LastName:  prompt(reader, "Last name: "),
				Email:     prompt(reader, "Email: "),
				Country:   prompt(reader, "Country code (e.g. PH): "),
			}
			password := prompt(reader, "Password: ")
			if err := session.Register(ctx, user, password); err != nil {
				fmt.Printf("❌ %v\n", err)
				continue
			}
			return nil

		default:
			fmt.Println("Please answer l or r.")
		}
	}
}

func prompt(reader *bufio.Reader, label string) string {
	fmt.Print(label)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

// watchUpdates renders the coordinator's broadcast stream: messages for the
// focused room inline, everything else as short notices.
func watchUpdates(coord *chat.Coordinator, rooms *chat.RoomDirectory, session *auth.Session, quit chan struct{}) {
	updates, cancel := coord.Updates()
	defer cancel()

	for u := range updates {
		switch u.Kind {
		case chat.UpdateMessage:
			focused, ok := rooms.Focused()
			if !ok || focused != u.Scope || u.Message == nil {
				continue
			}
			printMessage(*u.Message)

		case chat.UpdateConnection:
			if u.Connected {
				fmt.Println("— connected —")
			} else {
				fmt.Println("— connecting… —")
			}

		case chat.UpdateFocusLost:
			fmt.Printf("— room %s is gone —\n", u.Scope)

		case chat.UpdateSendFailed:
			// The composer restore already told the user.

		case chat.UpdateAuthExpired:
			fmt.Println("Session expired, please log in again.")
			session.Logout()
			close(quit)
			return
		}
	}
}

func repl(
	reader *bufio.Reader,
	coord *chat.Coordinator,
	apiClient *api.Client,
	rooms *chat.RoomDirectory,
	logs *chat.MessageLog,
	presence *chat.PresenceTracker,
	session *auth.Session,
	composer *lineComposer,
	quit chan struct{},
) {
	defer func() {
		select {
		case <-quit:
		default:
			close(quit)
		}
	}()

	for {
		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if held := composer.Take(); held != "" {
				sendToFocused(coord, rooms, held)
			}
			continue
		}

		if !strings.HasPrefix(line, "/") {
			sendToFocused(coord, rooms, line)
			continue
		}

		parts := strings.SplitN(line, " ", 2)
		cmd := parts[0]
		arg := ""
		if len(parts) > 1 {
			arg = strings.TrimSpace(parts[1])
		}

		switch cmd {
		case "/quit", "/exit":
			return

		case "/logout":
			session.Logout()
			return

		case "/help":
			fmt.Println("Commands: /rooms /focus <world|g:<id>|p:<id>> /users /find <name> /newgroup <name> /msg <userId> /stats /logout /quit")

		case "/rooms":
			printRooms(rooms, session)

		case "/users":
			for _, u := range presence.Snapshot() {
				fmt.Printf("  🟢 %s (%s)\n", u.DisplayName(), u.Country)
			}
			fmt.Printf("  %d online\n", presence.Count())

		case "/focus":
			scope, ok := parseScope(arg)
			if !ok {
				fmt.Println("Usage: /focus world | /focus g:<groupId> | /focus p:<chatId>")
				continue
			}
			if err := coord.Focus(scope); err != nil {
				fmt.Printf("❌ %v\n", err)
				continue
			}
			printHistory(logs, rooms)

		case "/find":
			if arg == "" {
				fmt.Println("Usage: /find <name or email>")
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			found, err := apiClient.SearchUsers(ctx, arg, 10)
			cancel()
			if err != nil {
				fmt.Printf("❌ %v\n", err)
				continue
			}
			if len(found) == 0 {
				fmt.Println("  nobody matched")
				continue
			}
			for _, u := range found {
				marker := "⚪"
				if presence.IsOnline(u.ID) {
					marker = "🟢"
				}
				fmt.Printf("  %s %s (%s) — /msg %s\n", marker, u.DisplayName(), u.Country, u.ID)
			}

		case "/newgroup":
			if arg == "" {
				fmt.Println("Usage: /newgroup <name>")
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			group, err := apiClient.CreateGroup(ctx, arg, nil, "")
			cancel()
			if err != nil {
				fmt.Printf("❌ %v\n", err)
				continue
			}
			group.Type = models.ChatGroup
			rooms.Upsert(*group)
			fmt.Printf("✅ Group %q created (%s)\n", group.Name, group.ID)

		case "/msg":
			if arg == "" {
				fmt.Println("Usage: /msg <userId>")
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			room, isNew, err := apiClient.StartPrivateChat(ctx, arg)
			cancel()
			if err != nil {
				fmt.Printf("❌ %v\n", err)
				continue
			}
			room.Type = models.ChatPrivate
			rooms.Upsert(*room)
			if isNew {
				fmt.Printf("✅ Started chat with %s\n", room.Name)
			}
			if err := coord.Focus(room.Scope()); err != nil {
				fmt.Printf("❌ %v\n", err)
			}

		case "/stats":
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			stats, err := apiClient.ChatStats(ctx)
			cancel()
			if err != nil {
				fmt.Printf("❌ %v\n", err)
				continue
			}
			fmt.Printf("  messages: %d total, %d today | groups: %d | private: %d | member since %s\n",
				stats.TotalMessages, stats.TodayMessages, stats.GroupCount,
				stats.PrivateChatsCount, stats.JoinedAt.Format("2006-01-02"))

		default:
			fmt.Printf("Unknown command %s (try /help)\n", cmd)
		}
	}
}

func sendToFocused(coord *chat.Coordinator, rooms *chat.RoomDirectory, body string) {
	focused, ok := rooms.Focused()
	if !ok {
		fmt.Println("No room focused. Try /focus world")
		return
	}
	if err := coord.Send(focused, body); err != nil {
		switch {
		case errors.Is(err, chat.ErrEmptyMessage):
			// Nothing to say, nothing to do.
		case errors.Is(err, chat.ErrRateLimited):
			fmt.Println("⚠️ Slow down a little.")
		default:
			fmt.Printf("❌ %v\n", err)
		}
	}
}

func parseScope(arg string) (models.Scope, bool) {
	switch {
	case arg == "world":
		return models.WorldScope(), true
	case strings.HasPrefix(arg, "g:"):
		id := strings.TrimPrefix(arg, "g:")
		if id == "" {
			return models.Scope{}, false
		}
		return models.GroupScope(id), true
	case strings.HasPrefix(arg, "p:"):
		id := strings.TrimPrefix(arg, "p:")
		if id == "" {
			return models.Scope{}, false
		}
		return models.PrivateScope(id), true
	}
	return models.Scope{}, false
}

func printRooms(rooms *chat.RoomDirectory, session *auth.Session) {
	self := ""
	if u := session.CurrentUser(); u != nil {
		self = u.ID
	}

	fmt.Println("  world — World Chat")
	for _, r := range rooms.List(models.ChatGroup) {
		fmt.Printf("  g:%s — %s%s%s\n", r.ID, r.Name, unreadBadge(r), previewLine(r))
	}
	for _, r := range rooms.List(models.ChatPrivate) {
		name := r.Name
		if peer := r.OtherParticipant(self); peer != nil {
			name = peer.Name
		}
		fmt.Printf("  p:%s — %s%s%s\n", r.ID, name, unreadBadge(r), previewLine(r))
	}
}

func unreadBadge(r *models.Room) string {
	if r.UnreadCount == 0 {
		return ""
	}
	return fmt.Sprintf(" [%d unread]", r.UnreadCount)
}

func previewLine(r *models.Room) string {
	if r.LastMessage == nil {
		return ""
	}
	body := r.LastMessage.Content
	if len(body) > 40 {
		body = body[:40] + "…"
	}
	return " · " + body
}

func printHistory(logs *chat.MessageLog, rooms *chat.RoomDirectory) {
	focused, ok := rooms.Focused()
	if !ok {
		return
	}

	// The page fetch may still be in flight; whatever is in the log now is
	// what the UI would show, and the update stream covers the rest.
	for _, m := range logs.Get(focused) {
		printMessage(m)
	}
}

func printMessage(m models.Message) {
	who := m.SenderName
	if m.IsOwn {
		who = "you"
	}
	fmt.Printf("[%s] %s (%s): %s\n", m.Timestamp.Format("15:04"), who, m.SenderCountry, m.Content)
}
