package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"saytruth/internal/domain"
	"saytruth/internal/service"
)

const helpText = `Commands:
/newlink <duration> [name] - create a link (durations: %s)
/mylinks - list your links
/inbox <private token> - read a link's inbox
/deletelink <id> - delete one of your links
/send <handle> <text> - send an anonymous direct message
/dms [section] [page] - read your direct messages (sections: inbox, public, favorite)
/movedm <id> <section> - move a direct message to another section
/deletedm <id> - delete a direct message
/cleardms <section> - delete every direct message in a section`

// Sender is who issued a command.
type Sender struct {
	ID       int64
	Username string
}

func (s Sender) identity() domain.Identity {
	return domain.Identity{ID: fmt.Sprintf("tg:%d", s.ID), Handle: s.Username}
}

// Commands turns chat commands into service calls and reply text.
type Commands struct {
	registry  *service.Registry
	messages  *service.Messages
	publicURL string
	log       logrus.FieldLogger
}

// NewCommands creates the command set. publicURL prefixes shared links
// when it is set.
func NewCommands(registry *service.Registry, messages *service.Messages, publicURL string, logger logrus.FieldLogger) *Commands {
	return &Commands{
		registry:  registry,
		messages:  messages,
		publicURL: strings.TrimRight(publicURL, "/"),
		log:       logger.WithField("component", "bot_commands"),
	}
}

// Handle runs one command line and returns the reply.
func (c *Commands) Handle(ctx context.Context, from Sender, text string) string {
	word, rest := splitWord(text)
	if word == "" {
		return c.help()
	}
	cmd, _, _ := strings.Cut(word, "@")
	args := strings.Fields(rest)

	log := c.log.WithFields(logrus.Fields{
		"user_id": from.ID,
		"command": cmd,
	})
	log.Debug("Received command")

	var (
		reply string
		err   error
	)
	switch cmd {
	case "/start":
		reply, err = c.start(ctx, from)
	case "/help":
		reply = c.help()
	case "/newlink":
		reply, err = c.newLink(ctx, from, args)
	case "/mylinks":
		reply, err = c.myLinks(ctx, from)
	case "/inbox":
		reply, err = c.inbox(ctx, args)
	case "/deletelink":
		reply, err = c.deleteLink(ctx, from, args)
	case "/send":
		reply, err = c.send(ctx, from, rest)
	case "/dms":
		reply, err = c.directMessages(ctx, from, args)
	case "/movedm":
		reply, err = c.moveDirect(ctx, from, args)
	case "/deletedm":
		reply, err = c.deleteDirect(ctx, from, args)
	case "/cleardms":
		reply, err = c.clearDirect(ctx, from, args)
	default:
		reply = "Unknown command.\n\n" + c.help()
	}
	if err != nil {
		return c.failure(log, err)
	}
	return reply
}

func (c *Commands) help() string {
	names := lo.Map(domain.AllDurations(), func(d domain.DurationToken, _ int) string { return string(d) })
	return fmt.Sprintf(helpText, strings.Join(names, ", "))
}

func (c *Commands) start(ctx context.Context, from Sender) (string, error) {
	if from.Username == "" {
		return "Welcome to SayTruth! Set a Telegram username to receive direct messages.\n\n" + c.help(), nil
	}
	if err := c.messages.RegisterIdentity(ctx, from.identity()); err != nil {
		return "", err
	}
	return fmt.Sprintf("Welcome to SayTruth, @%s! People can now message you anonymously.\n\n%s", from.Username, c.help()), nil
}

func (c *Commands) newLink(ctx context.Context, from Sender, args []string) (string, error) {
	if len(args) == 0 {
		return "Usage: /newlink <duration> [name]\n\n" + c.help(), nil
	}
	owner := domain.Authenticated(from.identity())
	link, err := c.registry.CreateLink(ctx, owner, strings.Join(args[1:], " "), args[0], rateActor(from))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Link %q created, expires %s.\nShare: %s\nInbox token (keep it secret): %s",
		link.DisplayName, formatTime(link.ExpiresAt), c.shareURL(link.PublicToken), link.PrivateToken), nil
}

func (c *Commands) myLinks(ctx context.Context, from Sender) (string, error) {
	links, err := c.registry.ListOwned(ctx, from.identity())
	if err != nil {
		return "", err
	}
	if len(links) == 0 {
		return "You have no links yet. Create one with /newlink.", nil
	}
	lines := lo.Map(links, func(l domain.Link, _ int) string {
		return fmt.Sprintf("%s  %q  %s until %s", l.ID, l.DisplayName, l.Status, formatTime(l.ExpiresAt))
	})
	return strings.Join(lines, "\n"), nil
}

func (c *Commands) inbox(ctx context.Context, args []string) (string, error) {
	if len(args) != 1 {
		return "Usage: /inbox <private token>", nil
	}
	page, err := c.messages.ListPage(ctx, args[0], 0, service.DefaultPageSize)
	if err != nil {
		return "", err
	}
	if page.Total == 0 {
		return fmt.Sprintf("No messages for %q yet.", page.Link.DisplayName), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%q: %d message(s)\n", page.Link.DisplayName, page.Total)
	for _, m := range page.Messages {
		fmt.Fprintf(&b, "\n[%s] %s\n%s\n", formatTime(m.CreatedAt), m.ID, m.Content)
	}
	if page.HasMore {
		fmt.Fprintf(&b, "\nShowing the first %d.", len(page.Messages))
	}
	return b.String(), nil
}

func (c *Commands) deleteLink(ctx context.Context, from Sender, args []string) (string, error) {
	if len(args) != 1 {
		return "Usage: /deletelink <id>", nil
	}
	if err := c.registry.DeleteLink(ctx, domain.Authenticated(from.identity()), args[0]); err != nil {
		return "", err
	}
	return "Link deleted.", nil
}

// send keeps the message text exactly as typed, line breaks included.
func (c *Commands) send(ctx context.Context, from Sender, rest string) (string, error) {
	handle, content := splitWord(rest)
	if handle == "" || strings.TrimSpace(content) == "" {
		return "Usage: /send <handle> <text>", nil
	}
	_, err := c.messages.SendDirect(ctx, domain.Guest(), handle, content, rateActor(from))
	if err != nil {
		return "", err
	}
	return "Sent anonymously.", nil
}

func (c *Commands) directMessages(ctx context.Context, from Sender, args []string) (string, error) {
	if len(args) == 0 {
		return c.directOverview(ctx, from)
	}
	if len(args) > 2 {
		return "Usage: /dms [section] [page]", nil
	}
	section, err := domain.ParseSection(args[0])
	if err != nil {
		return "", err
	}
	page := 1
	if len(args) == 2 {
		if page, err = strconv.Atoi(args[1]); err != nil || page < 1 {
			return "Usage: /dms [section] [page]", nil
		}
	}

	limit := service.DefaultPageSize
	p, err := c.messages.ListDirectPage(ctx, from.identity(), section, (page-1)*limit, limit)
	if err != nil {
		return "", err
	}
	if p.Total == 0 {
		return fmt.Sprintf("No messages in %s.", section), nil
	}
	if len(p.Messages) == 0 {
		return fmt.Sprintf("%s has only %d message(s).", section, p.Total), nil
	}
	var b strings.Builder
	writeDirectPage(&b, p)
	if p.HasMore {
		fmt.Fprintf(&b, "\nMore: /dms %s %d", section, page+1)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (c *Commands) directOverview(ctx context.Context, from Sender) (string, error) {
	sections, err := c.messages.ListDirectSections(ctx, from.identity(), 0, directPreview)
	if err != nil {
		return "", err
	}
	pages := []service.DirectPage{sections.Inbox, sections.Public, sections.Favorite}
	if lo.SumBy(pages, func(p service.DirectPage) int { return p.Total }) == 0 {
		return "No direct messages.", nil
	}
	var b strings.Builder
	for _, p := range pages {
		if p.Total == 0 {
			continue
		}
		writeDirectPage(&b, p)
		if p.HasMore {
			fmt.Fprintf(&b, "\nMore: /dms %s", p.Section)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// directPreview is how many messages per section /dms shows without
// arguments.
const directPreview = 5

func writeDirectPage(b *strings.Builder, p service.DirectPage) {
	fmt.Fprintf(b, "%s: %d message(s)\n", p.Section, p.Total)
	for _, m := range p.Messages {
		fmt.Fprintf(b, "\n[%s] %s\n%s\n", formatTime(m.CreatedAt), m.ID, m.Content)
	}
}

func (c *Commands) moveDirect(ctx context.Context, from Sender, args []string) (string, error) {
	if len(args) != 2 {
		return "Usage: /movedm <id> <inbox|public|favorite>", nil
	}
	section, err := domain.ParseSection(args[1])
	if err != nil {
		return "", err
	}
	if err := c.messages.MoveDirect(ctx, from.identity(), args[0], section); err != nil {
		return "", err
	}
	return fmt.Sprintf("Moved to %s.", section), nil
}

func (c *Commands) deleteDirect(ctx context.Context, from Sender, args []string) (string, error) {
	if len(args) != 1 {
		return "Usage: /deletedm <id>", nil
	}
	if err := c.messages.DeleteDirect(ctx, from.identity(), args[0]); err != nil {
		return "", err
	}
	return "Message deleted.", nil
}

func (c *Commands) clearDirect(ctx context.Context, from Sender, args []string) (string, error) {
	if len(args) != 1 {
		return "Usage: /cleardms <inbox|public|favorite>", nil
	}
	section, err := domain.ParseSection(args[0])
	if err != nil {
		return "", err
	}
	n, err := c.messages.ClearDirectSection(ctx, from.identity(), section)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Deleted %d message(s) from %s.", n, section), nil
}

// failure maps service errors onto user-facing text.
func (c *Commands) failure(log logrus.FieldLogger, err error) string {
	if ve, ok := domain.IsValidation(err); ok {
		switch ve.Reason {
		case domain.ReasonInvalidDuration, domain.ReasonDisallowedDuration:
			return "That duration is not available.\n\n" + c.help()
		case domain.ReasonEmptyContent:
			return "The message is empty."
		case domain.ReasonContentTooLong:
			return "The message is too long."
		case domain.ReasonHandleTaken:
			return "That username is already registered to someone else."
		case domain.ReasonInvalidSection:
			return "Unknown section. Use inbox, public or favorite."
		}
		return "Invalid input."
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "Not found."
	case errors.Is(err, domain.ErrExpired):
		return "That link has expired."
	case errors.Is(err, domain.ErrForbidden):
		return "That does not belong to you."
	case errors.Is(err, domain.ErrRateLimited):
		return "Slow down, try again in a little while."
	}
	log.WithError(err).Error("Command failed")
	return "Something went wrong, please try again later."
}

func (c *Commands) shareURL(publicToken string) string {
	if c.publicURL == "" {
		return publicToken
	}
	return c.publicURL + "/api/links/public/" + publicToken
}

// splitWord cuts s after its first word. Only the single whitespace rune
// after the word is dropped; the rest is returned untouched.
func splitWord(s string) (word, rest string) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return s, ""
	}
	_, size := utf8.DecodeRuneInString(s[i:])
	return s[:i], s[i+size:]
}

func rateActor(from Sender) string {
	return "user:" + from.identity().ID
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04 MST")
}
