package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"saytruth/internal/cipher"
	"saytruth/internal/domain"
	"saytruth/internal/ratelimit"
)

// Policy holds the tunable rules for link creation and message content.
type Policy struct {
	// GuestDurations are the lifetimes a guest may pick.
	GuestDurations []domain.DurationToken
	// DisplayNameMax caps display names in characters; longer names are
	// truncated.
	DisplayNameMax int
	// MaxContentLength caps plaintext message bodies in characters.
	MaxContentLength int
	// TokenAttempts bounds how often link creation redraws tokens after a
	// collision.
	TokenAttempts int
}

// DefaultPolicy returns the production policy.
func DefaultPolicy() Policy {
	return Policy{
		GuestDurations:   []domain.DurationToken{domain.Duration6h, domain.Duration12h},
		DisplayNameMax:   50,
		MaxContentLength: domain.MaxContentLength,
		TokenAttempts:    5,
	}
}

func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.GuestDurations == nil {
		p.GuestDurations = def.GuestDurations
	}
	if p.DisplayNameMax <= 0 {
		p.DisplayNameMax = def.DisplayNameMax
	}
	if p.MaxContentLength <= 0 {
		p.MaxContentLength = def.MaxContentLength
	}
	if p.TokenAttempts <= 0 {
		p.TokenAttempts = def.TokenAttempts
	}
	return p
}

func (p Policy) guestAllowed(d domain.DurationToken) bool {
	return lo.Contains(p.GuestDurations, d)
}

// displayName trims name, substitutes the placeholder for an empty one and
// truncates to DisplayNameMax characters.
func (p Policy) displayName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.DefaultDisplayName
	}
	if utf8.RuneCountInString(name) > p.DisplayNameMax {
		name = strings.TrimSpace(string([]rune(name)[:p.DisplayNameMax]))
	}
	return name
}

// Recorder receives service events for metrics.
type Recorder interface {
	LinkCreated(guest bool)
	MessageStored(kind string)
	RateLimited(kind ratelimit.Kind)
}

type nopRecorder struct{}

func (nopRecorder) LinkCreated(bool) {}
func (nopRecorder) MessageStored(string) {}
func (nopRecorder) RateLimited(ratelimit.Kind) {}

// Message kinds reported to the Recorder.
const (
	KindLinkMessage   = "link"
	KindDirectMessage = "direct"
)

// gate is the content policy shared by link submissions and direct
// messages: validation, throttling and sealing.
type gate struct {
	cipher  *cipher.Cipher
	limiter *ratelimit.Limiter
	maxLen  int
	metrics Recorder
	log     logrus.FieldLogger
}

// validate rejects blank and over-long bodies. Length is counted in
// characters on the body as given.
func (g *gate) validate(content string) error {
	if strings.TrimSpace(content) == "" {
		return domain.NewValidationError(domain.ReasonEmptyContent, "message is empty")
	}
	if n := utf8.RuneCountInString(content); n > g.maxLen {
		return domain.NewValidationError(domain.ReasonContentTooLong,
			fmt.Sprintf("%d characters, at most %d allowed", n, g.maxLen))
	}
	return nil
}

// admit consumes one unit of the actor's budget for kind.
func (g *gate) admit(ctx context.Context, actor string, kind ratelimit.Kind) error {
	return throttle(ctx, g.limiter, g.metrics, actor, kind)
}

// throttle maps a limiter decision onto ErrRateLimited. A nil limiter
// allows everything.
func throttle(ctx context.Context, l *ratelimit.Limiter, metrics Recorder, actor string, kind ratelimit.Kind) error {
	if l == nil {
		return nil
	}
	decision, err := l.Check(ctx, actor, kind)
	if err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	if decision == ratelimit.Denied {
		metrics.RateLimited(kind)
		return domain.ErrRateLimited
	}
	return nil
}

func (g *gate) seal(content, binding string) ([]byte, error) {
	sealed, err := g.cipher.Seal([]byte(content), binding)
	if err != nil {
		g.log.WithError(err).Error("Failed to encrypt message body")
		return nil, fmt.Errorf("encrypt message: %w", err)
	}
	return sealed, nil
}

func (g *gate) open(sealed []byte, binding string) (string, error) {
	plain, err := g.cipher.Open(sealed, binding)
	if err != nil {
		g.log.WithError(err).Error("Failed to decrypt message body")
		return "", fmt.Errorf("decrypt message: %w", err)
	}
	return string(plain), nil
}

// Bindings tie a ciphertext to the record it belongs to, so bodies cannot
// be moved between messages or links.
func linkBinding(linkID, messageID string) string {
	return "link:" + linkID + ":" + messageID
}

func directBinding(recipientID, messageID string) string {
	return "direct:" + recipientID + ":" + messageID
}
