// Copyright 2026 The Ratchet Authors
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

package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ratchetworks/ratchet/internal/log"
	"github.com/ratchetworks/ratchet/internal/manager"
	"github.com/ratchetworks/ratchet/pkg/model"
	"github.com/ratchetworks/ratchet/pkg/state"
)

// TimeoutConfig maps each state to its maximum dwell time. States without an
// explicit entry use the default TTL.
type TimeoutConfig struct {
	ttls       map[state.State]time.Duration
	defaultTTL time.Duration
}

// NewTimeoutConfig builds a TimeoutConfig from a per-state table and a
// default for states the table omits.
func NewTimeoutConfig(defaultTTL time.Duration, ttls map[state.State]time.Duration) TimeoutConfig {
	copied := make(map[state.State]time.Duration, len(ttls))
	for st, ttl := range ttls {
		copied[st] = ttl
	}
	return TimeoutConfig{ttls: copied, defaultTTL: defaultTTL}
}

// TTL returns the dwell limit for a state.
func (c TimeoutConfig) TTL(st state.State) time.Duration {
	if ttl, ok := c.ttls[st]; ok {
		return ttl
	}
	return c.defaultTTL
}

// TimeoutHandler fails runs that dwell too long in one state. It runs on
// every state entry and on the scheduler's periodic sweep over active
// snapshots, so a run times out even when no event ever arrives for it.
//
// Posts are tagged with the counter observed on the snapshot: if the run
// advanced in the meantime the post is stale and dropped, and the sweep will
// re-evaluate the newer state on its next pass.
type TimeoutHandler struct {
	config    TimeoutConfig
	workflows WorkflowSupplier
	events    EventSink
	clock     state.Clock
	logger    *slog.Logger
}

// NewTimeoutHandler creates a TimeoutHandler. The clock is injected so tests
// can move time.
func NewTimeoutHandler(config TimeoutConfig, workflows WorkflowSupplier, events EventSink, clock state.Clock, logger *slog.Logger) *TimeoutHandler {
	return &TimeoutHandler{
		config:    config,
		workflows: workflows,
		events:    events,
		clock:     clock,
		logger:    log.WithComponent(logger, "timeout"),
	}
}

// TransitionInto posts a Timeout event if the run has exceeded its TTL.
func (h *TimeoutHandler) TransitionInto(ctx context.Context, rs state.RunState) error {
	if !h.hasTimedOut(rs) {
		return nil
	}

	event := model.Timeout{WorkflowInstance: rs.Instance()}
	err := h.events.ReceiveIgnoreClosed(ctx, event, rs.Counter())
	if err != nil {
		if manager.IsStaleEvent(err) {
			// Another event won the race; the run is no longer the one
			// we measured.
			h.logger.Debug("timeout superseded by newer event",
				log.String(log.InstanceKey, rs.Instance().String()),
				log.Int64(log.CounterKey, rs.Counter()),
			)
			return nil
		}
		return fmt.Errorf("failed to post timeout: %w", err)
	}

	h.logger.Info("run timed out",
		log.String(log.InstanceKey, rs.Instance().String()),
		log.String(log.StateKey, string(rs.State())),
		log.Duration("dwell", h.clock().UnixMilli()-rs.TimestampMillis()),
	)
	recordTimeout(string(rs.State()))
	return nil
}

// hasTimedOut applies the TTL table to one snapshot. RUNNING runs use the
// workflow's own running timeout when one is configured.
func (h *TimeoutHandler) hasTimedOut(rs state.RunState) bool {
	if rs.State().Terminal() {
		return false
	}

	ttl := h.config.TTL(rs.State())
	if rs.State() == state.StateRunning {
		if wf, ok := h.workflows()[rs.Instance().WorkflowID]; ok {
			if override := wf.Configuration.RunningTimeout; override != nil {
				ttl = *override
			}
		}
	}

	deadline := rs.TimestampMillis() + ttl.Milliseconds()
	return deadline <= h.clock().UnixMilli()
}
