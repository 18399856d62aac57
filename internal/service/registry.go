package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"saytruth/internal/clock"
	"saytruth/internal/domain"
	"saytruth/internal/idgen"
	"saytruth/internal/ratelimit"
	"saytruth/internal/storage"
)

// Option configures a Registry or Messages service.
type Option func(*options)

type options struct {
	limiter *ratelimit.Limiter
	metrics Recorder
}

// WithLimiter throttles creation and submission through l.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(o *options) { o.limiter = l }
}

// WithRecorder reports service events to r.
func WithRecorder(r Recorder) Option {
	return func(o *options) { o.metrics = r }
}

func applyOptions(opts []Option) options {
	o := options{metrics: nopRecorder{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = nopRecorder{}
	}
	return o
}

// LinkInfo is what a sender may learn about a link from its public token.
type LinkInfo struct {
	DisplayName string    `json:"display_name"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Registry issues, resolves and removes links.
type Registry struct {
	links   storage.LinkStore
	ids     idgen.Generator
	clock   clock.Clock
	policy  Policy
	limiter *ratelimit.Limiter
	metrics Recorder
	log     logrus.FieldLogger
}

// NewRegistry creates a link registry.
func NewRegistry(links storage.LinkStore, ids idgen.Generator, clk clock.Clock, policy Policy, logger logrus.FieldLogger, opts ...Option) *Registry {
	o := applyOptions(opts)
	return &Registry{
		links:   links,
		ids:     ids,
		clock:   clk,
		policy:  policy.withDefaults(),
		limiter: o.limiter,
		metrics: o.metrics,
		log:     logger.WithField("component", "registry"),
	}
}

// CreateLink mints a link for owner. Guests are limited to the policy's
// guest durations. actor is the rate-limit key of the caller.
func (r *Registry) CreateLink(ctx context.Context, owner domain.OptionalIdentity, displayName, duration, actor string) (domain.Link, error) {
	token, err := domain.ParseDurationToken(duration)
	if err != nil {
		return domain.Link{}, err
	}
	if owner.IsGuest() && !r.policy.guestAllowed(token) {
		return domain.Link{}, domain.NewValidationError(domain.ReasonDisallowedDuration,
			fmt.Sprintf("guests may not create %s links", token))
	}
	lifetime, _ := token.Duration()

	if err := throttle(ctx, r.limiter, r.metrics, actor, ratelimit.KindCreateLink); err != nil {
		return domain.Link{}, err
	}

	name := r.policy.displayName(displayName)
	log := r.log.WithFields(logrus.Fields{
		"guest":    owner.IsGuest(),
		"duration": token,
	})

	for attempt := 1; attempt <= r.policy.TokenAttempts; attempt++ {
		pub, priv, err := idgen.TokenPair(r.ids)
		if err != nil {
			log.WithError(err).Error("Failed to generate link tokens")
			return domain.Link{}, fmt.Errorf("generate tokens: %w", err)
		}
		now := r.clock.Now()
		link := domain.Link{
			ID:           r.ids.NewID(),
			PublicToken:  pub,
			PrivateToken: priv,
			OwnerID:      owner.ID(),
			DisplayName:  name,
			CreatedAt:    now,
			ExpiresAt:    now.Add(lifetime),
			Status:       domain.LinkActive,
		}

		err = r.links.CreateLink(ctx, link)
		if errors.Is(err, storage.ErrDuplicate) {
			log.WithField("attempt", attempt).Warn("Link token collision, retrying")
			continue
		}
		if err != nil {
			return domain.Link{}, fmt.Errorf("create link: %w", err)
		}

		r.metrics.LinkCreated(owner.IsGuest())
		log.WithField("link_id", link.ID).Info("Link created")
		return link, nil
	}
	return domain.Link{}, fmt.Errorf("create link: no unique tokens after %d attempts", r.policy.TokenAttempts)
}

// ResolveByPublicToken returns the live link for a public token.
func (r *Registry) ResolveByPublicToken(ctx context.Context, token string) (domain.Link, error) {
	link, err := r.links.GetLinkByPublicToken(ctx, token)
	return r.live(link, err)
}

// ResolveByPrivateToken returns the live link for a private token.
func (r *Registry) ResolveByPrivateToken(ctx context.Context, token string) (domain.Link, error) {
	link, err := r.links.GetLinkByPrivateToken(ctx, token)
	return r.live(link, err)
}

func (r *Registry) live(link domain.Link, err error) (domain.Link, error) {
	if errors.Is(err, storage.ErrNotFound) {
		return domain.Link{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Link{}, fmt.Errorf("resolve link: %w", err)
	}
	if link.ExpiredAt(r.clock.Now()) {
		return domain.Link{}, domain.ErrExpired
	}
	return link, nil
}

// LinkInfo describes the link behind a public token.
func (r *Registry) LinkInfo(ctx context.Context, publicToken string) (LinkInfo, error) {
	link, err := r.ResolveByPublicToken(ctx, publicToken)
	if err != nil {
		return LinkInfo{}, err
	}
	return LinkInfo{DisplayName: link.DisplayName, ExpiresAt: link.ExpiresAt}, nil
}

// DeleteLink removes a link and its messages. Only the authenticated owner
// may do so; guest links can only expire.
func (r *Registry) DeleteLink(ctx context.Context, requester domain.OptionalIdentity, linkID string) error {
	if requester.IsGuest() {
		return domain.ErrForbidden
	}
	log := r.log.WithFields(logrus.Fields{
		"link_id":      linkID,
		"requester_id": requester.ID(),
	})

	link, err := r.links.GetLink(ctx, linkID)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load link: %w", err)
	}
	if link.IsGuest() || link.OwnerID != requester.ID() {
		log.Warn("Refused to delete link not owned by requester")
		return domain.ErrForbidden
	}

	err = r.links.DeleteLink(ctx, linkID)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete link: %w", err)
	}
	log.Info("Link deleted by owner")
	return nil
}

// ListOwned returns every stored link of owner, newest first, with the
// status a reader sees now.
func (r *Registry) ListOwned(ctx context.Context, owner domain.Identity) ([]domain.Link, error) {
	links, err := r.links.ListLinksByOwner(ctx, owner.ID)
	if err != nil {
		return nil, fmt.Errorf("list owned links: %w", err)
	}
	now := r.clock.Now()
	for i := range links {
		links[i].Status = links[i].EffectiveStatus(now)
	}
	return links, nil
}
