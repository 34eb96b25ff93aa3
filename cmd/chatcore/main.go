// Command chatcore is a line-oriented terminal client for a chatcore
// server. It prints incoming room events and sends each typed line as
// a message; a few slash commands cover the rest of the protocol.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/uaroundserver/chatcore/client"
	"github.com/uaroundserver/chatcore/internal/protocol"
)

func main() {
	addr := flag.String("addr", "ws://localhost:3000/ws", "server websocket URL")
	token := flag.String("token", os.Getenv("CHATCORE_TOKEN"), "bearer token")
	flag.Parse()

	if *token == "" {
		fmt.Fprintln(os.Stderr, "a token is required (-token or CHATCORE_TOKEN)")
		os.Exit(1)
	}

	ctx := context.Background()
	conn, err := client.Dial(ctx, *addr, *token)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	go printEvents(conn)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := dispatch(conn, line); err != nil {
			fmt.Fprintf(os.Stderr, "! %v\n", err)
		}
	}
}

func dispatch(conn *client.Conn, line string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if !strings.HasPrefix(line, "/") {
		_, err := conn.Send(ctx, line, nil, "")
		return err
	}

	cmd, rest, _ := strings.Cut(line[1:], " ")
	switch cmd {
	case "reply":
		id, text, ok := strings.Cut(rest, " ")
		if !ok {
			return fmt.Errorf("usage: /reply <id> <text>")
		}
		_, err := conn.Send(ctx, text, nil, id)
		return err
	case "edit":
		id, text, ok := strings.Cut(rest, " ")
		if !ok {
			return fmt.Errorf("usage: /edit <id> <text>")
		}
		return conn.Edit(ctx, id, text)
	case "delete":
		return conn.Delete(ctx, rest)
	case "react":
		id, emoji, ok := strings.Cut(rest, " ")
		if !ok {
			return fmt.Errorf("usage: /react <id> <emoji>")
		}
		return conn.React(ctx, id, emoji)
	case "read":
		return conn.MarkRead(ctx, strings.Fields(rest))
	case "ban":
		return conn.Admin(ctx, protocol.TypeAdminBan, rest)
	case "unban":
		return conn.Admin(ctx, protocol.TypeAdminUnban, rest)
	case "mute":
		return conn.Admin(ctx, protocol.TypeAdminMute, rest)
	case "unmute":
		return conn.Admin(ctx, protocol.TypeAdminUnmute, rest)
	default:
		return fmt.Errorf("unknown command /%s", cmd)
	}
}

func printEvents(conn *client.Conn) {
	for env := range conn.Events() {
		switch env.Type {
		case protocol.TypeAuthOK:
			var ok protocol.AuthOK
			if json.Unmarshal(env.Data, &ok) == nil {
				fmt.Printf("* connected as %s to %s\n", ok.User.Name, ok.Room.Title)
			}
		case protocol.TypeMessageNew:
			var ev protocol.MessageNew
			if json.Unmarshal(env.Data, &ev) == nil {
				m := ev.Message
				if m.Preview != nil {
					fmt.Printf("[%s] %s (re %s: %q): %s\n",
						m.ID, m.SenderName, m.Preview.SenderName, m.Preview.Text, m.Text)
				} else {
					fmt.Printf("[%s] %s: %s\n", m.ID, m.SenderName, m.Text)
				}
			}
		case protocol.TypeMessageEdited:
			var ev protocol.MessageEdited
			if json.Unmarshal(env.Data, &ev) == nil {
				fmt.Printf("* %s edited: %s\n", ev.ID, ev.Text)
			}
		case protocol.TypeMessageDeleted:
			var ev protocol.MessageDeleted
			if json.Unmarshal(env.Data, &ev) == nil {
				fmt.Printf("* %s deleted\n", ev.ID)
			}
		case protocol.TypeReactions:
			var ev protocol.ReactionsUpdate
			if json.Unmarshal(env.Data, &ev) == nil {
				parts := make([]string, 0, len(ev.Reactions))
				for _, rc := range ev.Reactions {
					parts = append(parts, fmt.Sprintf("%s %d", rc.Emoji, rc.Count))
				}
				fmt.Printf("* %s reactions: %s\n", ev.ID, strings.Join(parts, ", "))
			}
		case protocol.TypePresence:
			var ev protocol.PresenceUpdate
			if json.Unmarshal(env.Data, &ev) == nil {
				state := "offline"
				if ev.Online {
					state = "online"
				}
				fmt.Printf("* %s is %s\n", ev.UserID, state)
			}
		case protocol.TypeNotifyReply:
			var ev protocol.NotifyReply
			if json.Unmarshal(env.Data, &ev) == nil {
				fmt.Printf("! reply from %s: %s\n", ev.Message.SenderName, ev.Message.Text)
			}
		case protocol.TypeUserBanned, protocol.TypeUserUnbanned, protocol.TypeUserMuted, protocol.TypeUserUnmuted:
			var ev protocol.ModerationUpdate
			if json.Unmarshal(env.Data, &ev) == nil {
				fmt.Printf("* %s: %s\n", env.Type, ev.UserID)
			}
		}
	}
	fmt.Println("* disconnected")
}
