// taskdeck-chat is a minimal terminal client for the TaskDeck chat
// backend: it connects a session, tails inbound messages and presence, and
// sends direct messages read from stdin as "<receiverId>: <text>" lines.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/taskdeck/go-realtime-core/chat"
	"github.com/taskdeck/go-realtime-core/config"
	"github.com/taskdeck/go-realtime-core/models"
)

// envAuth reads the identity and token from the environment. Real
// deployments plug in the dashboard's auth service instead.
type envAuth struct{}

func (envAuth) CurrentUser(ctx context.Context) (models.User, error) {
	user := models.User{
		ID:    os.Getenv("TASKDECK_USER_ID"),
		Name:  os.Getenv("TASKDECK_USER_NAME"),
		Email: os.Getenv("TASKDECK_USER_EMAIL"),
	}
	if user.ID == "" {
		return models.User{}, fmt.Errorf("TASKDECK_USER_ID is not set")
	}
	return user, nil
}

func (envAuth) Token(ctx context.Context) (string, error) {
	return os.Getenv("TASKDECK_TOKEN"), nil
}

func main() {
	godotenv.Load()
	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	session := chat.NewSession(cfg, envAuth{})
	defer session.Disconnect()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := session.Connect(ctx); err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	slog.Info("connected", "endpoint", cfg.DialEndpoint(), "user", session.CurrentUser().ID)

	bus := session.Bus()
	disposers := []func(){
		bus.OnNewMessage(func(msg models.Message) {
			fmt.Printf("[%s] %s: %s\n", msg.CreatedAt.Format("15:04:05"), msg.SenderName, msg.Content)
		}),
		bus.OnUserStatusChange(func(change chat.StatusChange) {
			state := "offline"
			if change.Online {
				state = "online"
			}
			fmt.Printf("* %s is %s\n", change.UserID, state)
		}),
		bus.OnConnectionFailed(func(err error) {
			slog.Error("connection lost for good", "error", err)
			stop()
		}),
	}
	defer func() {
		for _, dispose := range disposers {
			dispose()
		}
	}()

	channel := chat.NewChannel(session)
	go readLines(ctx, channel)

	<-ctx.Done()
	slog.Info("shutting down")
}

// readLines sends each "<receiverId>: <text>" stdin line as a message.
func readLines(ctx context.Context, channel *chat.Channel) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		receiver, text, ok := strings.Cut(line, ":")
		if !ok {
			fmt.Println("usage: <receiverId>: <text>")
			continue
		}
		msg, err := channel.SendMessage(ctx, strings.TrimSpace(receiver), text)
		if err != nil {
			slog.Warn("send failed", "error", err)
			continue
		}
		fmt.Printf("sent %s\n", msg.ID)
	}
}

func setupLogging() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)
}
