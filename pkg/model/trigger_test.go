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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriggerFlattening(t *testing.T) {
	assert.Equal(t, NaturalTriggerID, NaturalTrigger().ID())
	assert.Equal(t, TriggerTypeNatural, NaturalTrigger().Type())

	assert.Equal(t, "bf-1", BackfillTrigger("bf-1").ID())
	assert.Equal(t, "manual", AdhocTrigger("manual").ID())
	assert.Equal(t, "UNKNOWN", UnknownTrigger("UNKNOWN").ID())
}

func TestTriggerJSONRoundTrip(t *testing.T) {
	for _, trigger := range []Trigger{
		NaturalTrigger(),
		AdhocTrigger("manual-1"),
		BackfillTrigger("bf-7"),
		UnknownTrigger("UNKNOWN"),
	} {
		encoded, err := json.Marshal(trigger)
		require.NoError(t, err)

		var decoded Trigger
		require.NoError(t, json.Unmarshal(encoded, &decoded))
		assert.Equal(t, trigger, decoded)
	}
}

func TestTriggerJSONRejectsUnknownType(t *testing.T) {
	var decoded Trigger
	assert.Error(t, json.Unmarshal([]byte(`{"@type":"cosmic"}`), &decoded))
}

func TestZeroTriggerDoesNotMarshal(t *testing.T) {
	var zero Trigger
	assert.True(t, zero.IsZero())
	_, err := json.Marshal(zero)
	assert.Error(t, err)
}
