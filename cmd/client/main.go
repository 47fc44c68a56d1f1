// Command client is a headless console host for the conversation layer. It
// connects to a relay, reads commands from stdin and logs call, typing and
// timeline changes.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"zchat_go/internal/api"
	"zchat_go/internal/call"
	"zchat_go/internal/channel"
	"zchat_go/internal/config"
	"zchat_go/internal/conversation"
	"zchat_go/internal/domain"
	"zchat_go/internal/timeline"
	"zchat_go/pkg/logger"
)

const usage = `commands:
  open <identity>          open the direct conversation with identity
  say <text>               send a text message
  del <message id>         delete one of your messages
  older                    load the next older history page
  show                     print the timeline
  media <image|video|file> open a shared media section
  more                     load more media
  typing <on|off>          report typing state
  call <identity> | redial | accept | reject | cancel | end | dismiss
  who                      list online identities
  quit`

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	l := logger.NewWithWriter(os.Stderr, cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rest := api.NewClient(cfg.APIBaseURL, cfg.Token)
	rest.PageSize = cfg.PageSize

	session := channel.New(cfg.WSURL, cfg.Token,
		channel.WithPingInterval(cfg.PingInterval),
		channel.WithLogger(l),
	)
	if err := session.Connect(ctx); err != nil {
		l.Error("connect failed", "url", cfg.WSURL, "err", err)
		os.Exit(1)
	}
	defer session.Disconnect()

	client := conversation.New(session, rest,
		conversation.WithLogger(l),
		conversation.WithCallOptions(call.WithRingTimeout(cfg.RingTimeout)),
		conversation.WithTimelineOptions(timeline.WithRule(timeline.Rule{
			Proximity: cfg.GroupProximity,
			Location:  cfg.DayLocation,
		})),
	)
	defer client.Close()

	go func() {
		if err := client.Run(ctx); err != nil && ctx.Err() == nil {
			l.Error("dispatch loop stopped", "err", err)
		}
	}()
	go watch(ctx, client, l)

	fmt.Fprintln(os.Stderr, usage)
	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	h := &host{client: client, rest: rest, session: session, l: l}
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := h.exec(ctx, line); quit {
				return
			}
		}
	}
}

// watch logs call and typing changes until ctx ends.
func watch(ctx context.Context, c *conversation.Client, l *slog.Logger) {
	calls, cancelCalls := c.Calls().Subscribe()
	defer cancelCalls()
	typingCh, cancelTyping := c.Typing().Subscribe()
	defer cancelTyping()

	last := ""
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-calls:
			if !ok {
				return
			}
			if state := snap.State(); state != last {
				last = state
				l.Info("call", "state", state)
			}
		case peerTyping, ok := <-typingCh:
			if !ok {
				return
			}
			_, peer := c.Conversation()
			l.Info("typing", "peer", peer, "typing", peerTyping)
		}
	}
}

type host struct {
	client  *conversation.Client
	rest    *api.Client
	session *channel.Session
	l       *slog.Logger
}

func (h *host) exec(ctx context.Context, line string) bool {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)
	calls := h.client.Calls()

	var err error
	switch cmd {
	case "":
	case "quit", "exit":
		return true
	case "open":
		err = h.open(ctx, arg)
	case "say":
		convID, _ := h.client.Conversation()
		if convID == 0 {
			err = conversation.ErrNoConversation
			break
		}
		// The relay echoes the message back over the channel.
		_, err = h.rest.SendMessage(ctx, convID, api.SendMessageInput{Content: arg})
	case "del":
		convID, _ := h.client.Conversation()
		var id int64
		id, err = strconv.ParseInt(arg, 10, 64)
		if err == nil {
			err = h.rest.DeleteMessage(ctx, convID, id)
		}
	case "older":
		var fetched bool
		fetched, err = h.client.Scrolled(ctx, timeline.Viewport{DistanceFromTop: 0})
		if err == nil && !fetched {
			fmt.Println("nothing to load")
		}
	case "show":
		h.show()
	case "media":
		var kind domain.MediaKind
		kind, err = domain.ParseMediaKind(arg)
		if err == nil {
			err = h.client.OpenMedia(ctx, kind)
		}
		h.showMedia()
	case "more":
		_, err = h.client.Media().LoadMore(ctx)
		h.showMedia()
	case "typing":
		err = h.client.SetTyping(ctx, arg == "on")
	case "call":
		err = calls.Call(arg)
	case "redial":
		err = calls.Redial()
	case "accept":
		err = calls.Accept()
	case "reject":
		err = calls.Reject()
	case "cancel":
		err = calls.Cancel()
	case "end":
		err = calls.End()
	case "dismiss":
		err = calls.Dismiss()
	case "who":
		fmt.Println(strings.Join(h.session.Roster(), "\n"))
	default:
		fmt.Println(usage)
	}
	if err != nil {
		h.l.Warn("command failed", "cmd", cmd, "err", err)
	}
	return false
}

func (h *host) open(ctx context.Context, peer string) error {
	if peer == "" {
		return fmt.Errorf("open needs an identity")
	}
	conv, err := h.rest.OpenDirect(ctx, peer)
	if err != nil {
		return err
	}
	if err := h.client.Open(ctx, conv.ID, peer); err != nil {
		return err
	}
	// The first viewport report only arms older-page loading.
	if _, err := h.client.Scrolled(ctx, timeline.Viewport{DistanceFromTop: 1 << 20}); err != nil {
		return err
	}
	h.show()
	return nil
}

func (h *host) show() {
	for _, g := range h.client.Timeline().Render() {
		fmt.Printf("── %s\n", g.SenderIdentity)
		for _, m := range g.Messages {
			fmt.Printf("  [%d %s] %s\n", m.ID, m.SentAt.Local().Format("Jan 2 15:04"), m.Content)
		}
	}
	if h.client.Timeline().HasMore() {
		fmt.Println("(older messages available)")
	}
}

func (h *host) showMedia() {
	for _, it := range h.client.Media().Items() {
		fmt.Printf("  %s %s (%d bytes) from %s\n", it.MimeType, it.Name, it.Size, it.Sender.Identity)
	}
}
