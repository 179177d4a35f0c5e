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

package model

import (
	"encoding/json"
	"fmt"
)

// TriggerType distinguishes how a workflow instance came to run.
type TriggerType string

const (
	TriggerTypeNatural  TriggerType = "natural"
	TriggerTypeAdhoc    TriggerType = "adhoc"
	TriggerTypeBackfill TriggerType = "backfill"
	TriggerTypeUnknown  TriggerType = "unknown"
)

// NaturalTriggerID is the flat identifier shared by all schedule-driven
// triggers. Kept stable for legacy consumers that only see the flat form.
const NaturalTriggerID = "natural-trigger"

// Trigger is a tagged descriptor of a run's origin. Natural triggers carry
// no identifier of their own; the other kinds carry the identifier they were
// created with.
type Trigger struct {
	typ TriggerType
	id  string
}

// NaturalTrigger is a schedule-driven trigger.
func NaturalTrigger() Trigger {
	return Trigger{typ: TriggerTypeNatural}
}

// AdhocTrigger is an operator-requested one-off trigger.
func AdhocTrigger(id string) Trigger {
	return Trigger{typ: TriggerTypeAdhoc, id: id}
}

// BackfillTrigger is a trigger issued while re-running historical partitions.
func BackfillTrigger(id string) Trigger {
	return Trigger{typ: TriggerTypeBackfill, id: id}
}

// UnknownTrigger is a trigger whose origin was not recorded. Replay of
// legacy event logs produces these.
func UnknownTrigger(id string) Trigger {
	return Trigger{typ: TriggerTypeUnknown, id: id}
}

// Type returns the trigger's kind.
func (t Trigger) Type() TriggerType {
	return t.typ
}

// ID returns the flat string form of the trigger. Natural triggers all share
// NaturalTriggerID.
func (t Trigger) ID() string {
	if t.typ == TriggerTypeNatural {
		return NaturalTriggerID
	}
	return t.id
}

// IsZero reports whether the trigger is the uninitialized value.
func (t Trigger) IsZero() bool {
	return t.typ == ""
}

func (t Trigger) String() string {
	if t.typ == TriggerTypeNatural {
		return string(t.typ)
	}
	return fmt.Sprintf("%s(%s)", t.typ, t.id)
}

type triggerJSON struct {
	Type      TriggerType `json:"@type"`
	TriggerID string      `json:"trigger_id,omitempty"`
}

// MarshalJSON encodes the trigger as a tagged object.
func (t Trigger) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return nil, fmt.Errorf("cannot marshal zero trigger")
	}
	return json.Marshal(triggerJSON{Type: t.typ, TriggerID: t.id})
}

// UnmarshalJSON decodes a tagged trigger object.
func (t *Trigger) UnmarshalJSON(data []byte) error {
	var raw triggerJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.Type {
	case TriggerTypeNatural:
		*t = NaturalTrigger()
	case TriggerTypeAdhoc:
		*t = AdhocTrigger(raw.TriggerID)
	case TriggerTypeBackfill:
		*t = BackfillTrigger(raw.TriggerID)
	case TriggerTypeUnknown:
		*t = UnknownTrigger(raw.TriggerID)
	default:
		return fmt.Errorf("unknown trigger type %q", raw.Type)
	}
	return nil
}
