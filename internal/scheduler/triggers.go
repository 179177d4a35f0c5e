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
	"errors"
	"time"

	"github.com/ratchetworks/ratchet/internal/log"
	"github.com/ratchetworks/ratchet/internal/manager"
	"github.com/ratchetworks/ratchet/internal/storage"
	"github.com/ratchetworks/ratchet/pkg/model"
)

// sweepTriggers fires natural triggers for due partitions. The stored
// trigger cursor names the next partition to run; a partition is due once
// its fire time plus the workflow offset has passed.
//
// At most one partition fires per workflow per tick, so a workflow that was
// paused for a while catches up one instance per tick instead of flooding
// the queue.
func (s *Scheduler) sweepTriggers(ctx context.Context, now time.Time) {
	start := time.Now()
	defer func() { recordSweep("triggers", time.Since(start)) }()

	records, err := s.store.ListWorkflows(ctx)
	if err != nil {
		s.logger.Error("trigger sweep failed to list workflows", log.Error(err))
		return
	}

	for _, record := range records {
		s.triggerWorkflow(ctx, record, now)
	}
}

// triggerWorkflow advances one workflow's trigger cursor by at most one
// partition.
func (s *Scheduler) triggerWorkflow(ctx context.Context, record storage.WorkflowRecord, now time.Time) {
	cfg := record.Workflow.Configuration
	if cfg.Schedule == "" || !cfg.IsEnabled() {
		return
	}

	id := record.Workflow.ID

	// First sight of this workflow: initialize the cursor to the partition
	// in progress and let the next tick evaluate it.
	if record.NextTrigger == nil {
		partition, err := cfg.Schedule.InitialPartition(now)
		if err != nil {
			s.logger.Error("failed to compute initial partition",
				log.String(log.WorkflowKey, id.String()),
				log.Error(err),
			)
			return
		}
		if err := s.store.SetNextTrigger(ctx, id, partition); err != nil {
			s.logger.Error("failed to initialize trigger cursor",
				log.String(log.WorkflowKey, id.String()),
				log.Error(err),
			)
		}
		return
	}

	partition := *record.NextTrigger
	fire, err := cfg.Schedule.FireTime(partition)
	if err != nil {
		s.logger.Error("failed to compute fire time",
			log.String(log.WorkflowKey, id.String()),
			log.Error(err),
		)
		return
	}
	if now.Before(fire.Add(cfg.Offset)) {
		return
	}

	instance := model.WorkflowInstance{
		WorkflowID: id,
		Parameter:  cfg.Schedule.AlignedParameter(partition),
	}

	err = s.manager.Trigger(ctx, instance, model.NaturalTrigger(), model.TriggerParameters{})
	switch {
	case err == nil:
		s.logger.Info("natural trigger fired",
			log.String(log.InstanceKey, instance.String()),
		)
		recordTrigger("fired")
	case errors.Is(err, manager.ErrAlreadyActive):
		// A previous run of this partition is still going; the partition
		// is consumed either way.
		s.logger.Warn("natural trigger skipped, instance still active",
			log.String(log.InstanceKey, instance.String()),
		)
		recordTrigger("skipped_active")
	default:
		// Leave the cursor in place so the partition is retried next tick.
		s.logger.Error("natural trigger failed",
			log.String(log.InstanceKey, instance.String()),
			log.Error(err),
		)
		recordTrigger("error")
		return
	}

	next, err := cfg.Schedule.NextPartition(partition)
	if err != nil {
		s.logger.Error("failed to compute next partition",
			log.String(log.WorkflowKey, id.String()),
			log.Error(err),
		)
		return
	}
	if err := s.store.SetNextTrigger(ctx, id, next); err != nil {
		s.logger.Error("failed to advance trigger cursor",
			log.String(log.WorkflowKey, id.String()),
			log.Error(err),
		)
	}
}
