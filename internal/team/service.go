// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flow Contributors

// Package team serves the public team profiles, enriched from Discord when
// a bot token is available.
package team

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"golang.org/x/sync/errgroup"

	"github.com/flowscripts/flow/internal/cache"
	"github.com/flowscripts/flow/internal/discord"
)

// Payload sources.
const (
	SourceDiscord  = "discord"
	SourceFallback = "discord-fallback"
)

const cacheKey = "profiles"

// Profile is one rendered team member.
type Profile struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Username    *string `json:"username"`
	GlobalName  *string `json:"global_name"`
	AvatarURL   string  `json:"avatar_url"`
	Unavailable bool    `json:"unavailable"`
}

// Payload is the public team profiles document.
type Payload struct {
	Success     bool      `json:"success"`
	Source      string    `json:"source"`
	RefreshedAt time.Time `json:"refreshed_at"`
	// Live is only set, to false, on the fallback payload.
	Live     *bool     `json:"live,omitempty"`
	Profiles []Profile `json:"profiles"`
	Cached   bool      `json:"cached,omitempty"`
}

// UserFetcher looks up Discord users.
type UserFetcher interface {
	FetchUser(ctx context.Context, id, botToken string) (*discord.User, error)
}

// TokenSource yields the current bot token, "" when none is configured.
type TokenSource interface {
	Resolve() string
}

// Service builds team payloads.
type Service struct {
	roster Roster
	users  UserFetcher
	tokens TokenSource
	cache  *cache.Cache[Payload]
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the refresh timestamp clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService creates a Service.
func NewService(roster Roster, users UserFetcher, tokens TokenSource, c *cache.Cache[Payload], opts ...Option) (*Service, error) {
	if len(roster.Members) == 0 {
		return nil, oops.Errorf("roster has no members")
	}
	if users == nil {
		return nil, oops.Errorf("user fetcher is required")
	}
	if tokens == nil {
		return nil, oops.Errorf("token source is required")
	}
	if c == nil {
		return nil, oops.Errorf("cache is required")
	}
	s := &Service{roster: roster, users: users, tokens: tokens, cache: c, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Profiles returns the team payload. Without a bot token the fallback
// payload is built fresh on every call. With a token, members are looked
// up concurrently; a failed lookup degrades that member to its fallback
// entry, and the aggregate is cached.
func (s *Service) Profiles(ctx context.Context) (*Payload, error) {
	token := s.tokens.Resolve()
	if token == "" {
		live := false
		return &Payload{
			Success:     true,
			Source:      SourceFallback,
			RefreshedAt: s.now().UTC(),
			Live:        &live,
			Profiles:    s.fallbackProfiles(),
		}, nil
	}

	payload, hit, err := s.cache.GetOrFetch(ctx, cacheKey, func(ctx context.Context) (Payload, error) {
		return s.fetchLive(ctx, token)
	})
	if err != nil {
		return nil, err
	}
	payload.Cached = hit
	return &payload, nil
}

func (s *Service) fetchLive(ctx context.Context, token string) (Payload, error) {
	profiles := make([]Profile, len(s.roster.Members))

	var g errgroup.Group
	for i, m := range s.roster.Members {
		g.Go(func() error {
			u, err := s.users.FetchUser(ctx, m.ID, token)
			if err != nil {
				s.logger.WarnContext(ctx, "discord profile fetch failed",
					"member", m.Name, "user_id", m.ID, "error", err)
				profiles[i] = fallbackProfile(m)
				return nil
			}
			profiles[i] = liveProfile(m, u)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Payload{}, err
	}

	return Payload{
		Success:     true,
		Source:      SourceDiscord,
		RefreshedAt: s.now().UTC(),
		Profiles:    profiles,
	}, nil
}

func (s *Service) fallbackProfiles() []Profile {
	profiles := make([]Profile, len(s.roster.Members))
	for i, m := range s.roster.Members {
		profiles[i] = fallbackProfile(m)
	}
	return profiles
}

func fallbackProfile(m Member) Profile {
	return Profile{
		ID:          m.ID,
		Name:        m.Name,
		AvatarURL:   discord.DefaultAvatarURL(m.ID, "0"),
		Unavailable: true,
	}
}

func liveProfile(m Member, u *discord.User) Profile {
	p := Profile{
		ID:        u.ID,
		Name:      m.Name,
		Username:  &u.Username,
		AvatarURL: discord.AvatarURL(*u),
	}
	if u.GlobalName != "" {
		p.GlobalName = &u.GlobalName
	}
	return p
}
