// Command client is a terminal chat client on top of the sync layer. Each stdin
// line is sent to the focused conversation; "/quit" exits.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"wesync/internal/config"
	"wesync/internal/conversation"
	"wesync/internal/entity"
	"wesync/internal/event"
	"wesync/internal/session"
	"wesync/pkg/logger"
)

const sendTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "", "optional config file (yaml, json, toml)")
	conversationId := flag.String("conversation", "", "conversation to focus; defaults to the most recent one")
	peer := flag.String("peer", "", "user id to open a direct conversation with")
	register := flag.Bool("register", false, "register USERNAME/PASSWORD before signing in")
	flag.Parse()

	cfg, err := config.LoadClient(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc := session.New(cfg, log, prometheus.NewRegistry())
	defer svc.Dispose()

	if *register {
		if _, err := svc.API().Register(ctx, entity.RegisterRequest{Username: cfg.Username, Password: cfg.Password}); err != nil {
			log.Fatal("register", zap.Error(err))
		}
	}

	svc.Manager().On(event.KindConnectionStatusChanged, func(ev event.Event) {
		st := ev.(event.ConnectionStatusChanged)
		if st.Err != nil {
			fmt.Printf("* %s (attempt %d): %v\n", st.Status, st.Attempt, st.Err)
			return
		}
		fmt.Printf("* %s\n", st.Status)
	})

	if err := svc.Start(ctx); err != nil {
		log.Fatal("start session", zap.Error(err))
	}
	store := svc.Store()

	convId, err := pickConversation(ctx, store, *conversationId, *peer)
	if err != nil {
		log.Fatal("pick conversation", zap.Error(err))
	}

	if err := store.LoadPage(ctx, convId, 1, cfg.PageSize); err != nil {
		log.Warn("load history", zap.Error(err))
	}
	if err := store.Focus(convId); err != nil {
		log.Debug("join conversation", zap.Error(err))
	}

	me := svc.UserId()
	fmt.Printf("* conversation %s\n", convId)
	for _, m := range store.Messages(convId) {
		printMessage(me, m)
	}
	markRead(ctx, store, convId, log)

	cancel := store.Watch(watch(store, convId, me, func() { markRead(ctx, store, convId, log) }))
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok || strings.TrimSpace(line) == "/quit" {
				return
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			sendLine(ctx, store, convId, line, log)
		}
	}
}

// watch prints changes to the focused conversation. Watchers run on the
// dispatch goroutine, so read is started on its own goroutine.
func watch(store *conversation.Store, convId, me string, read func()) func(conversation.Change) {
	return func(c conversation.Change) {
		switch c.Kind {
		case conversation.ChangeMessages:
			if !c.Active || c.MessageId == "" {
				return
			}
			if m, ok := store.Message(convId, c.MessageId); ok && m.SenderId != me {
				printMessage(me, m)
				go read()
			}
		case conversation.ChangeTyping:
			if c.Active && c.UserId != "" && len(store.Typing(convId)) > 0 {
				fmt.Printf("* %s is typing\n", c.UserId)
			}
		case conversation.ChangePresence:
			state := "offline"
			if store.Online(c.UserId) {
				state = "online"
			}
			fmt.Printf("* %s is %s\n", c.UserId, state)
		case conversation.ChangeDeliveryFailed:
			fmt.Printf("* message %s failed: %v\n", c.MessageId, c.Err)
		}
	}
}

// sendLine announces typing, sends one line and clears the indicator. Stdin is
// line-buffered, so a finished line is the only composing signal available.
func sendLine(ctx context.Context, store *conversation.Store, convId, line string, log *zap.Logger) {
	if err := store.NotifyTyping(convId); err != nil {
		log.Debug("notify typing", zap.Error(err))
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	msg, err := store.SendMessage(sendCtx, convId, conversation.Draft{Content: line})
	cancel()

	if err := store.StopTyping(convId); err != nil {
		log.Debug("stop typing", zap.Error(err))
	}
	if err != nil && !errors.Is(err, conversation.ErrDeliveryFailed) {
		fmt.Printf("* not sent: %v\n", err)
		return
	}
	if msg.Status == entity.MessageStatusPending {
		fmt.Println("* queued until reconnect")
	}
}

func pickConversation(ctx context.Context, store *conversation.Store, id, peer string) (string, error) {
	if id != "" {
		return id, nil
	}
	if peer != "" {
		conv, err := store.StartConversation(ctx, entity.CreateConversationRequest{
			Kind:           entity.ConversationKindDirect,
			ParticipantIds: []string{peer},
		})
		if err != nil {
			return "", err
		}
		return conv.Id, nil
	}
	convs := store.Conversations()
	if len(convs) == 0 {
		return "", errors.New("no conversations yet; pass -peer to start one")
	}
	return convs[0].Id, nil
}

func markRead(ctx context.Context, store *conversation.Store, convId string, log *zap.Logger) {
	if err := store.MarkConversationRead(ctx, convId); err != nil {
		log.Debug("mark read", zap.Error(err))
	}
}

func printMessage(me string, m entity.Message) {
	who := m.SenderId
	if who == me {
		who = "me"
	}
	content := m.Content
	switch {
	case m.Deleted:
		content = "(deleted)"
	case m.Edited:
		content += " (edited)"
	}
	ts := time.UnixMilli(m.Timestamp).Format("15:04")
	fmt.Printf("[%s] %s: %s\n", ts, who, content)
}
