package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"go-smarttalk/internal/apiclient"
	"go-smarttalk/internal/chat"
	"go-smarttalk/internal/feed"
	"go-smarttalk/internal/identity"
	"go-smarttalk/internal/logger"
	"go-smarttalk/internal/markup"
	"go-smarttalk/internal/reconciler"
	"go-smarttalk/internal/session"

	"github.com/dustin/go-humanize"
)

const help = `commands:
  <text>               send a message
  /list                show the conversation
  /pinned              show pinned messages
  /reply <id> <text>   answer a message
  /edit <id> <text>    change one of your messages
  /delete <id>         delete one of your messages
  /pin <id>, /unpin <id>
  /attach <path> [text]
  /preview <url>
  /signout, /quit`

func main() {
	apiURL := flag.String("api", "http://localhost:8080", "chat API base URL")
	sessionDir := flag.String("session", "", "session directory (empty keeps it in memory)")
	name := flag.String("name", "", "display name for a demo sign-in")
	email := flag.String("email", "", "email for a demo sign-in")
	token := flag.String("token", "", "bearer token for a managed sign-in (needs -name and -email)")
	author := flag.String("author", os.Getenv("AUTHOR_EMAIL"), "email of the conversation author")
	debug := flag.Bool("debug", false, "verbose logs")
	flag.Parse()

	level := slog.LevelWarn
	if *debug {
		level = slog.LevelDebug
	}
	// Logs go to stderr so they do not interleave with the conversation.
	slog.SetDefault(logger.New(logger.Config{
		Service: "chatcli",
		Env:     logger.EnvDev,
		Backend: logger.BackendStd,
		Level:   level,
	}, os.Stderr))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := session.OpenPebble(*sessionDir)
	if err != nil {
		log.Fatalf("open session: %v", err)
	}
	defer store.Close()

	sess, err := session.Open(store)
	if err != nil {
		log.Fatalf("restore session: %v", err)
	}
	if err := signIn(sess, *name, *email, *token); err != nil {
		log.Fatalf("sign in: %v", err)
	}

	if err := run(ctx, os.Stdin, os.Stdout, *apiURL, sess, chat.Policy{Author: *author}); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
}

func signIn(sess *session.Session, name, email, token string) error {
	switch {
	case token != "":
		return sess.SignInManaged(identity.Actor{Name: name, Email: email}, token)
	case name != "" || email != "":
		_, err := sess.SignInDemo(name, email, "")
		return err
	}
	return nil
}

// console serializes output from the prompt, the reconciler and previews.
type console struct {
	mu sync.Mutex
	w  io.Writer
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, format, args...)
}

func (c *console) message(m chat.Message, tag string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	header := fmt.Sprintf("[%s] %s", shortID(m.ID), m.Name)
	if m.IsPinned {
		header += " (pinned)"
	}
	if m.IsReply && m.ReplyTo != "" {
		header += " -> " + m.ReplyTo
	}
	fmt.Fprintf(c.w, "%s%s, %s\n  ", tag, header, humanize.Time(m.CreatedAt))
	if err := markup.WriteANSI(c.w, markup.Parse(m.Body)); err != nil {
		return
	}
	fmt.Fprintln(c.w)
	for _, a := range m.Attachments {
		fmt.Fprintf(c.w, "  + %s %s (%s) %s\n", a.Type, a.FileName, humanize.Bytes(uint64(a.FileSize)), a.Source())
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

type shell struct {
	out    *console
	client *apiclient.Client
	rec    *reconciler.Reconciler
	sess   *session.Session
}

func run(ctx context.Context, in io.Reader, w io.Writer, apiURL string, sess *session.Session, policy chat.Policy) error {
	out := &console{w: w}

	client, err := apiclient.New(apiURL, sess)
	if err != nil {
		return err
	}

	var events <-chan feed.Event
	if _, ok := sess.Actor(); ok {
		events, err = client.DialFeed(ctx)
		if err != nil {
			out.printf("live updates unavailable: %v\n", err)
		}
	}

	rec := reconciler.New(client, sess, policy,
		reconciler.WithNotifier(reconciler.NotifyFunc(func(msg string) { out.printf("* %s\n", msg) })),
		reconciler.WithObserver(func(c reconciler.Change) {
			switch c.Op {
			case reconciler.ChangeInsert:
				out.message(c.Message, "+ ")
			case reconciler.ChangeUpdate:
				out.message(c.Message, "~ ")
			case reconciler.ChangeDelete, reconciler.ChangeRollback:
				out.printf("- [%s] removed\n", shortID(c.ID))
			}
		}),
	)
	runErr := make(chan error, 1)
	go func() { runErr <- rec.Run(ctx, events) }()

	sh := &shell{out: out, client: client, rec: rec, sess: sess}
	sh.welcome()
	if _, err := rec.Load(ctx); err != nil {
		out.printf("could not load messages: %v\n", err)
	}
	sh.list(ctx, false)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return <-runErr
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := sh.exec(ctx, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

func (sh *shell) welcome() {
	a, ok := sh.sess.Actor()
	if !sh.sess.Once(session.WelcomeKey(a, ok)) {
		return
	}
	if ok {
		sh.out.printf("Welcome, %s! Type /help for commands.\n", a.Name)
	} else {
		sh.out.printf("Welcome! You are reading anonymously; start with -name and -email to post.\n")
	}
}

func (sh *shell) exec(ctx context.Context, line string) (quit bool) {
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		sh.send(ctx, reconciler.SendInput{Body: line})
		return false
	}

	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	arg, text, _ := strings.Cut(rest, " ")
	text = strings.TrimSpace(text)

	switch cmd {
	case "/help":
		sh.out.printf("%s\n", help)
	case "/list":
		sh.list(ctx, false)
	case "/pinned":
		sh.list(ctx, true)
	case "/reply":
		target, ok := sh.resolve(ctx, arg)
		if !ok {
			return false
		}
		sh.send(ctx, reconciler.SendInput{Body: text, ReplyTo: target.Name, ReplyToID: target.ID})
	case "/edit":
		if target, ok := sh.resolve(ctx, arg); ok {
			sh.report(sh.rec.Edit(ctx, target.ID, text))
		}
	case "/delete":
		if target, ok := sh.resolve(ctx, arg); ok {
			sh.report(nil, sh.rec.Delete(ctx, target.ID))
		}
	case "/pin", "/unpin":
		if target, ok := sh.resolve(ctx, arg); ok {
			sh.report(sh.rec.SetPinned(ctx, target.ID, cmd == "/pin"))
		}
	case "/attach":
		sh.attach(ctx, arg, text)
	case "/preview":
		sh.preview(ctx, arg)
	case "/signout":
		if err := sh.sess.SignOut(); err != nil {
			sh.out.printf("sign out: %v\n", err)
			return false
		}
		sh.out.printf("signed out\n")
		return true
	case "/quit", "/exit":
		return true
	default:
		sh.out.printf("unknown command %s, try /help\n", cmd)
	}
	return false
}

func (sh *shell) send(ctx context.Context, in reconciler.SendInput) {
	m, err := sh.rec.Send(ctx, in)
	if err != nil {
		sh.out.printf("send: %v\n", err)
		return
	}
	if id, ok := sh.rec.FirstMessageID(ctx); ok && id == m.ID {
		sh.out.printf("That was your first message here.\n")
	}
	for _, u := range markup.URLs(markup.Parse(m.Body)) {
		go sh.preview(ctx, u)
	}
}

func (sh *shell) report(_ *chat.Message, err error) {
	if err != nil {
		sh.out.printf("%v\n", err)
	}
}

// resolve finds a message by id or unique id prefix.
func (sh *shell) resolve(ctx context.Context, prefix string) (chat.Message, bool) {
	if prefix == "" {
		sh.out.printf("which message? give an id\n")
		return chat.Message{}, false
	}
	msgs, err := sh.rec.Messages(ctx)
	if err != nil {
		sh.out.printf("%v\n", err)
		return chat.Message{}, false
	}
	var found []chat.Message
	for _, m := range msgs {
		if m.ID == prefix {
			return m, true
		}
		if strings.HasPrefix(m.ID, prefix) {
			found = append(found, m)
		}
	}
	switch len(found) {
	case 1:
		return found[0], true
	case 0:
		sh.out.printf("no message %s\n", prefix)
	default:
		sh.out.printf("%s matches %d messages\n", prefix, len(found))
	}
	return chat.Message{}, false
}

func (sh *shell) list(ctx context.Context, pinnedOnly bool) {
	var (
		msgs []chat.Message
		err  error
	)
	if pinnedOnly {
		msgs, err = sh.rec.Pinned(ctx)
	} else {
		msgs, err = sh.rec.Messages(ctx)
	}
	if err != nil {
		sh.out.printf("%v\n", err)
		return
	}
	if len(msgs) == 0 {
		sh.out.printf("(no messages)\n")
		return
	}
	for _, m := range msgs {
		sh.out.message(m, "")
	}
}

func (sh *shell) attach(ctx context.Context, path, text string) {
	if path == "" {
		sh.out.printf("usage: /attach <path> [text]\n")
		return
	}
	f, err := os.Open(path)
	if err != nil {
		sh.out.printf("%v\n", err)
		return
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		sh.out.printf("%v\n", err)
		return
	}

	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	up, err := sh.client.Upload(ctx, filepath.Base(path), mimeType, st.Size(), f, func(p int) {
		sh.out.printf("uploading %s: %d%%\n", filepath.Base(path), p)
	})
	if err != nil {
		sh.out.printf("upload failed: %v\n", err)
		return
	}
	sh.out.printf("uploaded %s\n", humanize.Bytes(uint64(up.FileSize)))
	sh.send(ctx, reconciler.SendInput{Body: text, Attachments: []chat.Attachment{apiclient.Attachment(up)}})
}

func (sh *shell) preview(ctx context.Context, link string) {
	p, err := sh.client.Preview(ctx, link)
	if err != nil || p.Empty() {
		return
	}
	title := p.Title
	if p.SiteName != "" {
		title = p.SiteName + ": " + title
	}
	sh.out.printf("  %s\n", title)
	if p.Description != "" {
		sh.out.printf("  %s\n", p.Description)
	}
}
