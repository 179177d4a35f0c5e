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
	"log/slog"

	"github.com/ratchetworks/ratchet/internal/log"
	"github.com/ratchetworks/ratchet/pkg/state"
)

// LoggingHandler writes one structured line per transition. It is the
// operator's flight recorder; everything else about a run can be pieced
// together from these lines.
type LoggingHandler struct {
	logger *slog.Logger
}

// NewLoggingHandler creates a LoggingHandler.
func NewLoggingHandler(logger *slog.Logger) *LoggingHandler {
	return &LoggingHandler{logger: log.WithComponent(logger, "transitions")}
}

// TransitionInto logs the entered state.
func (h *LoggingHandler) TransitionInto(ctx context.Context, rs state.RunState) error {
	data := rs.Data()

	attrs := []any{
		log.String(log.InstanceKey, rs.Instance().String()),
		log.String(log.StateKey, string(rs.State())),
		log.Int64(log.CounterKey, rs.Counter()),
		log.Int("tries", data.Tries),
	}
	if data.ExecutionID != "" {
		attrs = append(attrs, log.String(log.ExecutionIDKey, data.ExecutionID))
	}
	if rs.State() == state.StateTerminated || rs.State() == state.StateFailed {
		attrs = append(attrs,
			log.Int("consecutive_failures", data.ConsecutiveFailures),
			slog.Float64("retry_cost", data.RetryCost),
		)
	}

	h.logger.Info("state entered", attrs...)
	return nil
}
