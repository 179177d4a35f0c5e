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

package scheduler

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/ratchetworks/ratchet/internal/log"
	"github.com/ratchetworks/ratchet/pkg/model"
	"github.com/ratchetworks/ratchet/pkg/state"
)

// WorkflowResourcePrefix names the implicit per-workflow concurrency
// resource. A workflow with concurrency n holds one unit of
// "workflow:<component>#<id>", limited to n.
const WorkflowResourcePrefix = "workflow:"

func defaultShuffle(n int, swap func(i, j int)) {
	rand.Shuffle(n, swap)
}

// sweepDequeue moves eligible QUEUED runs into PREPARE. A run is eligible
// once its retry delay (if any) has elapsed; it is dequeued if every
// resource it needs has headroom and the global rate limiter admits it.
// Candidates are shuffled each sweep so no instance starves behind an
// alphabetically earlier one that is blocked on resources.
func (s *Scheduler) sweepDequeue(ctx context.Context, now time.Time) {
	start := time.Now()
	defer func() { recordSweep("dequeue", time.Since(start)) }()

	active := s.manager.ActiveStates()

	var queued []state.RunState
	for _, rs := range active {
		if rs.State() == state.StateQueued {
			queued = append(queued, rs)
		}
	}
	recordQueueDepth(len(queued))
	if len(queued) == 0 {
		return
	}

	workflows, err := s.workflowIndex(ctx)
	if err != nil {
		s.logger.Error("dequeue sweep failed to list workflows", log.Error(err))
		return
	}

	// Current holds, counted from every active run's recorded resource ids.
	usage := make(map[string]int)
	for _, rs := range active {
		for _, id := range rs.Data().ResourceIDs {
			usage[id]++
		}
	}

	s.shuffle(len(queued), func(i, j int) {
		queued[i], queued[j] = queued[j], queued[i]
	})

	for _, rs := range queued {
		if !eligible(rs, now) {
			recordDequeueSkip("waiting_delay")
			continue
		}

		wf, ok := workflows[rs.Instance().WorkflowID]
		if !ok {
			// The definition is gone; fail the run rather than leaving it
			// parked in the queue forever.
			s.postRunError(ctx, rs, "workflow not registered")
			continue
		}

		resources, limits := requiredResources(wf, s.cfg.Resources)
		if blocked, resource := exhausted(resources, limits, usage); blocked {
			s.logger.Debug("dequeue blocked on resource",
				log.String(log.InstanceKey, rs.Instance().String()),
				log.String("resource", resource),
			)
			recordDequeueSkip("resource_exhausted")
			continue
		}

		if !s.limiter.Allow() {
			// Global dequeue budget for this tick is spent; remaining
			// candidates wait for the next sweep.
			recordDequeueSkip("rate_limited")
			return
		}

		event := model.Dequeue{WorkflowInstance: rs.Instance(), ResourceIDs: resources}
		if err := s.manager.ReceiveIgnoreClosed(ctx, event, rs.Counter()); err != nil {
			// Stale or failed; holds were not taken.
			s.logger.Debug("dequeue superseded or failed",
				log.String(log.InstanceKey, rs.Instance().String()),
				log.Error(err),
			)
			recordDequeueSkip("superseded")
			continue
		}

		for _, id := range resources {
			usage[id]++
		}
		recordDequeue()
	}
}

// workflowIndex loads the registered workflows keyed by id.
func (s *Scheduler) workflowIndex(ctx context.Context) (map[model.WorkflowID]model.Workflow, error) {
	records, err := s.store.ListWorkflows(ctx)
	if err != nil {
		return nil, err
	}
	index := make(map[model.WorkflowID]model.Workflow, len(records))
	for _, record := range records {
		index[record.Workflow.ID] = record.Workflow
	}
	return index, nil
}

// eligible reports whether a queued run's retry delay has elapsed. A run
// with no delay is immediately eligible.
func eligible(rs state.RunState, now time.Time) bool {
	delay := rs.Data().RetryDelayMillis
	if delay == nil {
		return true
	}
	return rs.TimestampMillis()+*delay <= now.UnixMilli()
}

// requiredResources returns the resource ids a run will hold plus the
// limits that apply to them. Named resources take their limits from the
// scheduler config; the implicit workflow resource takes its limit from the
// workflow's concurrency setting.
func requiredResources(wf model.Workflow, declared map[string]int) ([]string, map[string]int) {
	cfg := wf.Configuration

	resources := make([]string, 0, len(cfg.Resources)+1)
	limits := make(map[string]int)

	for _, name := range cfg.Resources {
		resources = append(resources, name)
		if limit, ok := declared[name]; ok {
			limits[name] = limit
		}
	}
	if cfg.Concurrency != nil {
		id := WorkflowResourcePrefix + wf.ID.String()
		resources = append(resources, id)
		limits[id] = *cfg.Concurrency
	}
	return resources, limits
}

// exhausted reports whether any required resource is at its limit, and
// which one.
func exhausted(resources []string, limits map[string]int, usage map[string]int) (bool, string) {
	for _, id := range resources {
		limit, limited := limits[id]
		if limited && usage[id] >= limit {
			return true, id
		}
	}
	return false, ""
}

// postRunError fails a queued run that can no longer be prepared.
func (s *Scheduler) postRunError(ctx context.Context, rs state.RunState, message string) {
	event := model.RunError{WorkflowInstance: rs.Instance(), Message: message}
	if err := s.manager.ReceiveIgnoreClosed(ctx, event, rs.Counter()); err != nil {
		s.logger.Debug("run error post superseded or failed",
			log.String(log.InstanceKey, rs.Instance().String()),
			log.Error(err),
		)
		return
	}
	s.logger.Warn("queued run failed",
		log.String(log.InstanceKey, rs.Instance().String()),
		log.String("reason", message),
	)
	recordDequeueSkip("workflow_missing")
}
