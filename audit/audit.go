// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package audit records who uploaded, queried, previewed or removed which
// document. Recording never fails the operation being audited: storage
// errors are logged and dropped.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/ragchat/core"
	"github.com/poiesic/ragchat/storage"
)

// DefaultListLimit is the number of events List returns when asked for none.
const DefaultListLimit = 100

// ErrLogRequired is returned when no audit storage is given.
var ErrLogRequired = errors.New("audit log required")

// Recorder writes audit events to a storage.AuditLog.
type Recorder struct {
	log    storage.AuditLog
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Recorder.
type Option func(*Recorder) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger.With("component", "audit")
		return nil
	}
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) error {
		if now != nil {
			r.now = now
		}
		return nil
	}
}

// NewRecorder creates a Recorder.
func NewRecorder(log storage.AuditLog, opts ...Option) (*Recorder, error) {
	if log == nil {
		return nil, ErrLogRequired
	}
	r := &Recorder{
		log:    log,
		now:    time.Now,
		logger: slog.Default().With("component", "audit"),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Record stores an event and returns it. A storage failure is logged.
func (r *Recorder) Record(ctx context.Context, actor string, action core.AuditAction, target string) *core.AuditEvent {
	event := &core.AuditEvent{
		ID:         uuid.NewString(),
		Actor:      actor,
		Action:     action,
		Target:     target,
		OccurredAt: r.now().UTC(),
	}
	// Audit writes outlive a cancelled request
	if err := r.log.Append(context.WithoutCancel(ctx), event); err != nil {
		r.logger.Error("failed to record audit event", "action", action, "actor", actor, "target", target, "err", err)
	}
	return event
}

// List returns up to limit events, most recent first. A limit <= 0 uses
// DefaultListLimit.
func (r *Recorder) List(ctx context.Context, limit int) ([]*core.AuditEvent, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	events, err := r.log.Recent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrStoreUnavailable, err)
	}
	return events, nil
}

// Close closes the underlying log.
func (r *Recorder) Close() error {
	return r.log.Close()
}
