// chatcli is a terminal client for the chat service: it registers an
// identity, opens a direct conversation and keeps it in sync while the
// connection comes and goes.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/client"
	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/client/session"
	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/client/storage"
	"github.com/darshanvirani09/Real-Time-Chat-Module/internal/models"
)

func main() {
	server := flag.String("server", "", "server endpoint, e.g. http://192.168.1.4:3000")
	name := flag.String("name", "", "display name (first run)")
	mobile := flag.String("mobile", "", "mobile number, doubles as identity (first run)")
	peer := flag.String("peer", "", "peer mobile number to chat with")
	dataDir := flag.String("data", "", "pebble data directory; empty for in-memory")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	logger := newLogger(*verbose)
	defer func() { _ = logger.Sync() }()
	log := logger.Sugar()

	store, err := openStore(*dataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open store:", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	sess := session.NewManager(log)
	c := client.New(log, sess, store)
	defer c.Close()

	if err := bootstrap(c, *server, *name, *mobile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	self := c.Self()
	fmt.Printf("connected as %s (%s) via %s\n", self.SelfName, self.SelfID, self.Endpoint)

	if *peer == "" {
		fmt.Fprintln(os.Stderr, "no -peer given; use -peer to open a conversation")
		os.Exit(1)
	}
	conv := c.ConversationWith(models.NormalizeMobile(*peer))
	if err := c.Hydrate(conv); err != nil {
		log.Warnw("hydrate failed", "err", err)
	}
	c.JoinConversation(conv)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := c.History.LoadLatest(ctx, conv); err != nil {
			log.Debugw("history load failed", "err", err)
		}
		if _, err := c.MarkConversationRead(ctx, conv); err != nil {
			log.Debugw("mark read failed", "err", err)
		}
		render(c, conv)
	}()

	c.OnChange(func() { render(c, conv) })
	render(c, conv)
	repl(c, conv)
}

func newLogger(verbose bool) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}

func openStore(dir string) (storage.Store, error) {
	if dir == "" {
		return storage.NewMemory(), nil
	}
	return storage.OpenPebble(dir)
}

// bootstrap restores the saved profile or runs first-time setup from the
// flags.
func bootstrap(c *client.Client, server, name, mobile string) error {
	err := c.Start()
	if err == nil {
		if server != "" {
			return c.SetEndpoint(server)
		}
		return nil
	}
	if err != client.ErrNoProfile {
		return err
	}
	if server == "" || name == "" || mobile == "" {
		return fmt.Errorf("first run needs -server, -name and -mobile")
	}
	if err := c.SetEndpoint(server); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := c.Register(ctx, name, mobile); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	return nil
}

func repl(c *client.Client, conv string) {
	fmt.Println(`commands: /users /older /read /retry <id> /clear /quit; anything else sends`)
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		switch {
		case line == "/quit":
			cancel()
			return
		case line == "/users":
			users, err := c.ListUsers(ctx)
			if err != nil {
				fmt.Println("users:", err)
				break
			}
			for _, u := range users {
				fmt.Printf("  %s  %s\n", u.Mobile, u.Name)
			}
		case line == "/older":
			n, err := c.History.LoadOlder(ctx, conv)
			if err != nil {
				fmt.Println("older:", err)
			} else {
				fmt.Printf("loaded %d older\n", n)
			}
		case line == "/read":
			n, err := c.MarkConversationRead(ctx, conv)
			if err != nil {
				fmt.Println("read:", err)
			} else {
				fmt.Printf("marked %d read\n", n)
			}
		case strings.HasPrefix(line, "/retry "):
			id := strings.TrimSpace(strings.TrimPrefix(line, "/retry "))
			if err := c.RetryMessage(ctx, id); err != nil {
				fmt.Println("retry:", err)
			}
		case line == "/clear":
			if err := c.ClearConversation(conv); err != nil {
				fmt.Println("clear:", err)
			}
		default:
			if !c.ServiceWindowOpen(conv) {
				fmt.Println("service window closed; wait for the peer to write first")
				break
			}
			if _, err := c.SendMessage(ctx, conv, line); err != nil {
				fmt.Println("send:", err)
			}
		}
		cancel()
	}
}

func render(c *client.Client, conv string) {
	self := c.Self().SelfID
	msgs := c.Messages(conv)
	fmt.Print("\033[2J\033[H")
	for _, m := range msgs {
		who := "them"
		if m.UserID == self {
			who = "  me"
		}
		ts := time.UnixMilli(m.CreatedAt).Format("15:04:05")
		fmt.Printf("%s %s [%s] %s\n", ts, who, statusMark(m.Status), m.Body)
	}
	if c.IsConnected() {
		fmt.Println("-- online --")
	} else {
		fmt.Println("-- offline, queueing --")
	}
	fmt.Print("> ")
}

func statusMark(s models.Status) string {
	switch s {
	case models.StatusQueued:
		return "…"
	case models.StatusSending:
		return "→"
	case models.StatusSent:
		return "✓"
	case models.StatusDelivered:
		return "✓✓"
	case models.StatusRead:
		return "✓✓*"
	case models.StatusFailed:
		return "!"
	default:
		return "?"
	}
}
