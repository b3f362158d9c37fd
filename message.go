// Copyright 2020 The NATS Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package jscore

import (
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
)

// Msg wraps a delivered *nats.Msg with the bookkeeping the ack API
// needs on every delivered message: an
// "already acked" flag and a back-pointer to the owning subscription.
// nats.go's *nats.Msg has neither, so every message handed to a user
// callback or returned from Fetch/NextMsg is wrapped in one of these.
type Msg struct {
	*nats.Msg

	mu    sync.Mutex
	acked bool
	sub   *Subscription
}

func newMsg(m *nats.Msg, sub *Subscription) *Msg {
	return &Msg{Msg: m, sub: sub}
}

// setAcked marks the message acked, returning false if it already was so
// that repeat acks stay no-ops.
func (m *Msg) setAcked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.acked {
		return false
	}
	m.acked = true
	return true
}

// isJSControlMessage reports whether m is a heartbeat or flow-control
// message rather than a user message: zero-length body with a Status
// header of 100, distinguished by the Description.
func (m *Msg) isJSControlMessage() (isControl bool, isFlowControl bool) {
	if len(m.Data) != 0 {
		return false, false
	}
	status := m.Header.Get("Status")
	if status != "100" {
		return false, false
	}
	desc := strings.ToLower(m.Header.Get("Description"))
	return true, strings.Contains(desc, "flow control")
}
