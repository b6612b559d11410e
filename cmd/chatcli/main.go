// chatcli is a terminal chat client for the marketplace, mostly useful
// for poking at a running server. Commands:
//
//	list                  show conversations and unread counts
//	open <chat-id>        open a conversation and print its history
//	send <text>           send a text message to the open conversation
//	start <seller-id>     start (or resume) a conversation with a seller
//	close                 close the open conversation
//	quit                  exit
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/campusmarket/chat-app/internal/model"
	"github.com/campusmarket/chat-app/pkg/chatclient"
)

func main() {
	baseURL := envOr("CHATCLI_URL", "http://localhost:8080")
	token := os.Getenv("CHATCLI_TOKEN")
	if token == "" {
		fmt.Fprintln(os.Stderr, "CHATCLI_TOKEN is required")
		os.Exit(1)
	}
	userID, err := subjectOf(token)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad token: %v\n", err)
		os.Exit(1)
	}

	log := zerolog.New(os.Stderr).Level(zerolog.WarnLevel).With().Timestamp().Logger()
	tokenSource := func() string { return token }

	api := chatclient.NewAPI(baseURL, tokenSource)
	wsURL := strings.Replace(baseURL, "http", "ws", 1) + "/ws"
	tr := chatclient.NewTransport(wsURL, tokenSource, log)
	client := chatclient.New(api, tr, userID, log)
	tr.Connect()
	defer tr.Disconnect()

	ctx := context.Background()
	if err := client.Refresh(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "refresh failed: %v\n", err)
	}
	fmt.Printf("signed in as user %d, %d unread\n", userID, client.TotalUnread())

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		cmd, arg, _ := strings.Cut(line, " ")
		switch cmd {
		case "list":
			for _, conv := range client.Conversations() {
				printConversation(conv)
			}
		case "open":
			id, err := strconv.ParseInt(arg, 10, 64)
			if err != nil {
				fmt.Println("usage: open <chat-id>")
				break
			}
			if err := client.Open(ctx, id); err != nil {
				fmt.Printf("open failed: %v\n", err)
				break
			}
			for _, m := range client.Messages() {
				printMessage(userID, m)
			}
		case "send":
			if arg == "" {
				fmt.Println("usage: send <text>")
				break
			}
			msg, err := client.Send(ctx, arg, model.MessageTypeText, "")
			if err != nil {
				fmt.Printf("send failed: %v\n", err)
				break
			}
			printMessage(userID, *msg)
		case "start":
			sellerID, err := strconv.ParseInt(arg, 10, 64)
			if err != nil {
				fmt.Println("usage: start <seller-id>")
				break
			}
			conv, err := client.StartConversation(ctx, sellerID, 0)
			if err != nil {
				fmt.Printf("start failed: %v\n", err)
				break
			}
			printConversation(*conv)
		case "close":
			client.Close()
		case "quit", "exit":
			return
		case "":
		default:
			fmt.Printf("unknown command %q\n", cmd)
		}
		fmt.Print("> ")
	}
}

func printConversation(conv model.Conversation) {
	peer := "?"
	if conv.OtherUser != nil {
		peer = strings.TrimSpace(conv.OtherUser.FirstName + " " + conv.OtherUser.LastName)
	}
	last := ""
	if conv.LastMessage != nil {
		last = conv.LastMessage.Content
	}
	fmt.Printf("[%d] %-20s unread=%-3d %s\n", conv.ID, peer, conv.UnreadCount, last)
}

func printMessage(selfID int64, m model.Message) {
	who := "them"
	if m.SenderID == selfID {
		who = "me"
	}
	body := m.Content
	if m.MediaURL != "" {
		body = body + " <" + m.MediaURL + ">"
	}
	fmt.Printf("%s %-4s %s\n", m.CreatedAt.Local().Format(time.Kitchen), who, body)
}

// subjectOf extracts the user id from the token without verifying it;
// the server does the verification.
func subjectOf(token string) (int64, error) {
	claims := jwt.MapClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(token, claims)
	if err != nil {
		return 0, err
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(sub, 10, 64)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
