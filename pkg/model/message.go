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

// MessageLevel is the severity of a run-state message.
type MessageLevel string

const (
	MessageLevelInfo    MessageLevel = "INFO"
	MessageLevelWarning MessageLevel = "WARNING"
	MessageLevelError   MessageLevel = "ERROR"
)

// Message is one line of operator-visible history attached to a run.
type Message struct {
	Level MessageLevel `json:"level"`
	Line  string       `json:"line"`
}

// InfoMessage builds an INFO-level message.
func InfoMessage(line string) Message {
	return Message{Level: MessageLevelInfo, Line: line}
}

// WarningMessage builds a WARNING-level message.
func WarningMessage(line string) Message {
	return Message{Level: MessageLevelWarning, Line: line}
}

// ErrorMessage builds an ERROR-level message.
func ErrorMessage(line string) Message {
	return Message{Level: MessageLevelError, Line: line}
}
