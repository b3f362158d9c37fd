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

import "github.com/nats-io/nats.go"

// Ack payloads, octet-for-octet.
var (
	ackAckPayload      = []byte("+ACK")
	ackNakPayload      = []byte("-NAK")
	ackProgressPayload = []byte("+WPI")
	ackTermPayload     = []byte("+TERM")
)

// Ack acknowledges successful processing of m. A no-op if m was already
// acked.
func (m *Msg) Ack() error { return m.ackMsg(ackAckPayload, false) }

// AckSync acknowledges m and waits for the server's confirmation, using
// the owning context's default Wait.
func (m *Msg) AckSync() error { return m.ackMsg(ackAckPayload, true) }

// Nak signals that processing failed and the message should be
// redelivered.
func (m *Msg) Nak() error { return m.ackMsg(ackNakPayload, false) }

// Term signals that the message should not be redelivered, without
// acknowledging it as processed.
func (m *Msg) Term() error { return m.ackMsg(ackTermPayload, false) }

// InProgress extends the server's ack-wait window without marking m
// acked; repeatable on an already-acked message (it is simply ignored by
// the server at that point) but never itself sets the acked flag.
func (m *Msg) InProgress() error {
	if m.sub == nil {
		return ErrNotBound
	}
	if m.Reply == "" {
		return ErrNotJSMessage
	}
	return m.sub.ctx.nc.PublishMsg(&nats.Msg{Subject: m.Reply, Data: ackProgressPayload})
}

func (m *Msg) ackMsg(payload []byte, sync bool) error {
	if m.sub == nil {
		return ErrNotBound
	}
	if m.Reply == "" {
		return ErrNotJSMessage
	}
	if !m.setAcked() {
		return nil
	}
	if sync {
		_, err := m.sub.ctx.nc.RequestMsg(&nats.Msg{Subject: m.Reply, Data: payload}, m.sub.ctx.opts.Wait)
		if err != nil {
			if isNoResponders(err) {
				return ErrNoResponders
			}
			return classifyTransportErr(err)
		}
		return nil
	}
	return m.sub.ctx.nc.PublishMsg(&nats.Msg{Subject: m.Reply, Data: payload})
}
