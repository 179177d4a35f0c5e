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

	"github.com/ratchetworks/ratchet/pkg/state"
)

// MonitoringHandler counts state entries, giving dashboards the flow rate
// through each state without touching the persisted log.
type MonitoringHandler struct{}

// NewMonitoringHandler creates a MonitoringHandler.
func NewMonitoringHandler() *MonitoringHandler {
	return &MonitoringHandler{}
}

// TransitionInto counts the entered state.
func (h *MonitoringHandler) TransitionInto(ctx context.Context, rs state.RunState) error {
	recordStateEntry(string(rs.State()))
	return nil
}
