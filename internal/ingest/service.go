// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package ingest implements the write path: event validation, session
// stitching, enrichment and the transactional store write, with realtime
// publish strictly after commit.
package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/linkfolio/analytics/internal/apperr"
	"github.com/linkfolio/analytics/internal/chain"
	"github.com/linkfolio/analytics/internal/enrich"
	"github.com/linkfolio/analytics/internal/store"
)

// Publisher receives post-commit event notifications; implemented by the
// realtime hub.
type Publisher interface {
	PublishEvent(kind, profileID string, data any)
}

// nopPublisher is used when no hub is wired (tests, batch tools).
type nopPublisher struct{}

func (nopPublisher) PublishEvent(string, string, any) {}

// Options tune the ingest service.
type Options struct {
	// CheckProfiles gates ingest on chain existence. Probe failures are
	// fail-open: events are accepted when the chain cannot answer.
	CheckProfiles bool

	// Durable enqueues a realtime_events bus row inside the tracking
	// transaction, for multi-process fan-out.
	Durable bool
}

// Service accepts tracking events and hands them to the store.
type Service struct {
	store    *store.Store
	enricher *enrich.Enricher
	chain    chain.Client
	pub      Publisher
	logger   *slog.Logger
	opts     Options
	now      func() time.Time
}

// NewService creates the ingest service. pub may be nil.
func NewService(st *store.Store, enricher *enrich.Enricher, chainClient chain.Client, pub Publisher, logger *slog.Logger, opts Options) *Service {
	if pub == nil {
		pub = nopPublisher{}
	}
	if chainClient == nil {
		chainClient = chain.NopClient{}
	}
	return &Service{
		store:    st,
		enricher: enricher,
		chain:    chainClient,
		pub:      pub,
		logger:   logger,
		opts:     opts,
		now:      time.Now,
	}
}

// ViewRequest is one incoming view event. Timestamp is optional epoch
// millis for backfilled events; zero means "now".
type ViewRequest struct {
	ProfileID string `json:"profileId"`
	SessionID string `json:"sessionId"`
	VisitorIP string `json:"-"`
	UserAgent string `json:"-"`
	Referrer  string `json:"referrer"`
	Timestamp int64  `json:"timestamp"`
}

// ClickRequest is one incoming click event.
type ClickRequest struct {
	ProfileID string `json:"profileId"`
	SessionID string `json:"sessionId"`
	LinkIndex int    `json:"linkIndex"`
	LinkTitle string `json:"linkTitle"`
	LinkURL   string `json:"linkUrl"`
	VisitorIP string `json:"-"`
	UserAgent string `json:"-"`
	Referrer  string `json:"referrer"`
	Timestamp int64  `json:"timestamp"`
}

// TrackResult reports the stored event id and the session it stitched into.
type TrackResult struct {
	ID        int64  `json:"id"`
	SessionID string `json:"sessionId"`
}

// eventNotice is the payload pushed to realtime subscribers after commit.
type eventNotice struct {
	ID         int64  `json:"id"`
	SessionID  string `json:"sessionId"`
	Country    string `json:"country,omitempty"`
	City       string `json:"city,omitempty"`
	DeviceType string `json:"deviceType,omitempty"`
	Referrer   string `json:"referrer,omitempty"`
	LinkIndex  int    `json:"linkIndex,omitempty"`
	LinkTitle  string `json:"linkTitle,omitempty"`
	Timestamp  int64  `json:"timestamp"`
}

// resolveSession validates a caller-provided session id or mints a fresh
// one. The id grammar is the UUID grammar; anything else is rejected so
// junk cannot become a session key.
func resolveSession(sessionID string) (string, error) {
	if sessionID == "" {
		return uuid.NewString(), nil
	}
	if _, err := uuid.Parse(sessionID); err != nil {
		return "", apperr.Invalidf([]string{"sessionId"}, "invalid sessionId %q", sessionID)
	}
	return sessionID, nil
}

// eventTime resolves the optional client timestamp. Future timestamps are
// rejected (small clock skew aside) so rollups for closed days stay closed.
func (s *Service) eventTime(ms int64) (time.Time, error) {
	if ms == 0 {
		return s.now(), nil
	}
	if ms < 0 {
		return time.Time{}, apperr.Invalidf([]string{"timestamp"}, "timestamp must be epoch milliseconds")
	}
	at := time.UnixMilli(ms).UTC()
	if at.After(s.now().Add(time.Minute)) {
		return time.Time{}, apperr.Invalidf([]string{"timestamp"}, "timestamp is in the future")
	}
	return at, nil
}

// checkProfile applies the optional chain gate. Only a definite "does not
// exist" rejects; probe errors accept the event.
func (s *Service) checkProfile(ctx context.Context, profileID string) error {
	if !s.opts.CheckProfiles {
		return nil
	}
	exists, err := s.chain.ProfileExists(ctx, profileID)
	if err != nil {
		s.logger.Warn("profile probe failed, accepting event", "profile_id", profileID, "error", err)
		return nil
	}
	if !exists {
		return apperr.New(apperr.NotFound, "profile not found: "+profileID)
	}
	return nil
}

// TrackView validates, enriches and stores one view event.
func (s *Service) TrackView(ctx context.Context, req ViewRequest) (*TrackResult, error) {
	if req.ProfileID == "" {
		return nil, apperr.Invalidf([]string{"profileId"}, "profileId is required")
	}
	sessionID, err := resolveSession(req.SessionID)
	if err != nil {
		return nil, err
	}
	if err := s.checkProfile(ctx, req.ProfileID); err != nil {
		return nil, err
	}

	now, err := s.eventTime(req.Timestamp)
	if err != nil {
		return nil, err
	}
	geo := s.enricher.GeoOf(req.VisitorIP)
	device := s.enricher.DeviceOf(req.UserAgent)

	view := &store.ProfileView{
		ProfileID:  req.ProfileID,
		SessionID:  sessionID,
		VisitorIP:  req.VisitorIP,
		UserAgent:  req.UserAgent,
		Referrer:   req.Referrer,
		Country:    geo.Country,
		Region:     geo.Region,
		City:       geo.City,
		DeviceType: device.Type,
		Browser:    device.Browser,
		OS:         device.OS,
		CreatedAt:  now,
	}

	var id int64
	err = s.withRetry(ctx, func() error {
		var err error
		id, err = s.store.TrackView(ctx, view, s.durablePayload("view", view.ProfileID, eventNotice{
			SessionID:  sessionID,
			Country:    geo.Country,
			City:       geo.City,
			DeviceType: device.Type,
			Referrer:   req.Referrer,
			Timestamp:  now.UnixMilli(),
		}))
		return err
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.Unavailable, "storing view event", err)
	}

	s.pub.PublishEvent("view", req.ProfileID, eventNotice{
		ID:         id,
		SessionID:  sessionID,
		Country:    geo.Country,
		City:       geo.City,
		DeviceType: device.Type,
		Referrer:   req.Referrer,
		Timestamp:  now.UnixMilli(),
	})
	return &TrackResult{ID: id, SessionID: sessionID}, nil
}

// TrackClick validates, enriches and stores one click event.
func (s *Service) TrackClick(ctx context.Context, req ClickRequest) (*TrackResult, error) {
	if req.ProfileID == "" {
		return nil, apperr.Invalidf([]string{"profileId"}, "profileId is required")
	}
	if req.LinkIndex < 0 {
		return nil, apperr.Invalidf([]string{"linkIndex"}, "linkIndex must be non-negative")
	}
	sessionID, err := resolveSession(req.SessionID)
	if err != nil {
		return nil, err
	}
	if err := s.checkProfile(ctx, req.ProfileID); err != nil {
		return nil, err
	}

	now, err := s.eventTime(req.Timestamp)
	if err != nil {
		return nil, err
	}
	geo := s.enricher.GeoOf(req.VisitorIP)
	device := s.enricher.DeviceOf(req.UserAgent)

	click := &store.LinkClick{
		ProfileID:  req.ProfileID,
		LinkIndex:  req.LinkIndex,
		LinkTitle:  req.LinkTitle,
		LinkURL:    req.LinkURL,
		SessionID:  sessionID,
		VisitorIP:  req.VisitorIP,
		UserAgent:  req.UserAgent,
		Referrer:   req.Referrer,
		Country:    geo.Country,
		Region:     geo.Region,
		City:       geo.City,
		DeviceType: device.Type,
		Browser:    device.Browser,
		OS:         device.OS,
		CreatedAt:  now,
	}

	var id int64
	err = s.withRetry(ctx, func() error {
		var err error
		id, err = s.store.TrackClick(ctx, click, s.durablePayload("click", click.ProfileID, eventNotice{
			SessionID:  sessionID,
			Country:    geo.Country,
			City:       geo.City,
			DeviceType: device.Type,
			LinkIndex:  req.LinkIndex,
			LinkTitle:  req.LinkTitle,
			Timestamp:  now.UnixMilli(),
		}))
		return err
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.Unavailable, "storing click event", err)
	}

	s.pub.PublishEvent("click", req.ProfileID, eventNotice{
		ID:         id,
		SessionID:  sessionID,
		Country:    geo.Country,
		City:       geo.City,
		DeviceType: device.Type,
		LinkIndex:  req.LinkIndex,
		LinkTitle:  req.LinkTitle,
		Timestamp:  now.UnixMilli(),
	})
	return &TrackResult{ID: id, SessionID: sessionID}, nil
}

// maxBatchSize caps one batch request.
const maxBatchSize = 100

// BatchTrackViews stores up to maxBatchSize view events atomically: either
// the whole batch commits or none of it does. No realtime publish happens
// for batch ingest; it exists for backfill tooling, not live dashboards.
func (s *Service) BatchTrackViews(ctx context.Context, reqs []ViewRequest) ([]TrackResult, error) {
	if len(reqs) == 0 {
		return nil, apperr.Invalidf([]string{"views"}, "batch must not be empty")
	}
	if len(reqs) > maxBatchSize {
		return nil, apperr.Invalidf([]string{"views"}, "batch exceeds %d events", maxBatchSize)
	}

	views := make([]*store.ProfileView, 0, len(reqs))
	sessionIDs := make([]string, 0, len(reqs))
	for i := range reqs {
		req := &reqs[i]
		if req.ProfileID == "" {
			return nil, apperr.Invalidf([]string{"profileId"}, "batch item %d: profileId is required", i)
		}
		sessionID, err := resolveSession(req.SessionID)
		if err != nil {
			return nil, apperr.Invalidf([]string{"sessionId"}, "batch item %d: invalid sessionId", i)
		}
		// Per-item timestamps let a backfill batch carry historical events.
		at, err := s.eventTime(req.Timestamp)
		if err != nil {
			return nil, apperr.Invalidf([]string{"timestamp"}, "batch item %d: invalid timestamp", i)
		}
		if err := s.checkProfile(ctx, req.ProfileID); err != nil {
			return nil, err
		}
		geo := s.enricher.GeoOf(req.VisitorIP)
		device := s.enricher.DeviceOf(req.UserAgent)
		views = append(views, &store.ProfileView{
			ProfileID:  req.ProfileID,
			SessionID:  sessionID,
			VisitorIP:  req.VisitorIP,
			UserAgent:  req.UserAgent,
			Referrer:   req.Referrer,
			Country:    geo.Country,
			Region:     geo.Region,
			City:       geo.City,
			DeviceType: device.Type,
			Browser:    device.Browser,
			OS:         device.OS,
			CreatedAt:  at,
		})
		sessionIDs = append(sessionIDs, sessionID)
	}

	var ids []int64
	err := s.withRetry(ctx, func() error {
		var err error
		ids, err = s.store.TrackViewBatch(ctx, views)
		return err
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.Unavailable, "storing view batch", err)
	}

	results := make([]TrackResult, len(ids))
	for i, id := range ids {
		results[i] = TrackResult{ID: id, SessionID: sessionIDs[i]}
	}
	return results, nil
}

// SessionSummary is the read shape of a session for the API.
type SessionSummary struct {
	SessionID  string `json:"sessionId"`
	ProfileID  string `json:"profileId"`
	StartTime  int64  `json:"startTime"`
	EndTime    *int64 `json:"endTime,omitempty"`
	Duration   *int64 `json:"duration,omitempty"`
	PageViews  int64  `json:"pageViews"`
	LinkClicks int64  `json:"linkClicks"`
	Country    string `json:"country,omitempty"`
	City       string `json:"city,omitempty"`
	DeviceType string `json:"deviceType,omitempty"`
	Browser    string `json:"browser,omitempty"`
	OS         string `json:"os,omitempty"`
}

// GetSession returns a session by id.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*SessionSummary, error) {
	if _, err := uuid.Parse(sessionID); err != nil {
		return nil, apperr.Invalidf([]string{"sessionId"}, "invalid sessionId %q", sessionID)
	}
	sess, err := s.store.GetSession(ctx, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "session not found: "+sessionID)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "loading session", err)
	}

	summary := &SessionSummary{
		SessionID:  sess.SessionID,
		ProfileID:  sess.ProfileID,
		StartTime:  sess.StartTime.UnixMilli(),
		Duration:   sess.Duration,
		PageViews:  sess.PageViews,
		LinkClicks: sess.LinkClicks,
		Country:    sess.Country,
		City:       sess.City,
		DeviceType: sess.DeviceType,
		Browser:    sess.Browser,
		OS:         sess.OS,
	}
	if sess.EndTime != nil {
		end := sess.EndTime.UnixMilli()
		summary.EndTime = &end
	}
	return summary, nil
}

// EndSession closes a session explicitly. Ending an unknown session is
// NotFound; ending an already-closed session is a no-op success.
func (s *Service) EndSession(ctx context.Context, sessionID string) error {
	if _, err := uuid.Parse(sessionID); err != nil {
		return apperr.Invalidf([]string{"sessionId"}, "invalid sessionId %q", sessionID)
	}
	found, err := s.store.EndSession(ctx, sessionID, s.now())
	if err != nil {
		return apperr.Wrap(apperr.Internal, "ending session", err)
	}
	if !found {
		return apperr.New(apperr.NotFound, "session not found: "+sessionID)
	}
	return nil
}

// durablePayload renders the bus row payload when durable fan-out is on,
// or "" to skip the row.
func (s *Service) durablePayload(kind, profileID string, notice eventNotice) string {
	if !s.opts.Durable {
		return ""
	}
	payload, err := json.Marshal(struct {
		Kind      string      `json:"kind"`
		ProfileID string      `json:"profileId"`
		Event     eventNotice `json:"event"`
	}{Kind: kind, ProfileID: profileID, Event: notice})
	if err != nil {
		s.logger.Error("marshal durable payload", "error", err)
		return ""
	}
	return string(payload)
}

const (
	retryAttempts = 3
	retryBaseWait = 25 * time.Millisecond
)

// withRetry retries transient write contention (sqlite busy/locked) with a
// short jittered backoff. Other errors fail immediately.
func (s *Service) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			wait := retryBaseWait<<uint(attempt-1) + time.Duration(rand.Int63n(int64(retryBaseWait)))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
		if err = fn(); err == nil {
			return nil
		}
		if !isTransient(err) {
			return err
		}
		s.logger.Debug("transient store error, retrying", "attempt", attempt+1, "error", err)
	}
	return err
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}
