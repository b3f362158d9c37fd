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
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/jscore/api"
	"github.com/nats-io/nats.go"
)

const (
	msgIDHeader               = "Nats-Msg-Id"
	expectedLastMsgIDHeader   = "Nats-Expected-Last-Msg-Id"
	expectedStreamHeader      = "Nats-Expected-Stream"
	expectedLastSeqHeader     = "Nats-Expected-Last-Sequence"
	expectedLastSubjSeqHeader = "Nats-Expected-Last-Subject-Sequence"

	tokenAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	tokenLen      = 8
	tokenBase     = 62
)

// PubOpt applies a publish header to an outgoing message.
type PubOpt func(*nats.Msg)

// MsgID sets the Nats-Msg-Id header used by the server for duplicate
// detection within a stream's dedupe window.
func MsgID(id string) PubOpt {
	return func(m *nats.Msg) { m.Header.Set(msgIDHeader, id) }
}

// ExpectLastMsgID asserts the last message published to the stream
// carried this Msg-Id.
func ExpectLastMsgID(id string) PubOpt {
	return func(m *nats.Msg) { m.Header.Set(expectedLastMsgIDHeader, id) }
}

// ExpectStream asserts the publish lands in the named stream.
func ExpectStream(stream string) PubOpt {
	return func(m *nats.Msg) { m.Header.Set(expectedStreamHeader, stream) }
}

// ExpectLastSequence asserts the stream's last sequence number.
func ExpectLastSequence(seq uint64) PubOpt {
	return func(m *nats.Msg) { m.Header.Set(expectedLastSeqHeader, strconv.FormatUint(seq, 10)) }
}

// ExpectLastSubjectSequence asserts the last sequence number for messages
// matching this subject specifically.
func ExpectLastSubjectSequence(seq uint64) PubOpt {
	return func(m *nats.Msg) {
		m.Header.Set(expectedLastSubjSeqHeader, strconv.FormatUint(seq, 10))
	}
}

func applyPubOpts(m *nats.Msg, opts []PubOpt) {
	if m.Header == nil {
		m.Header = nats.Header{}
	}
	for _, opt := range opts {
		opt(m)
	}
}

// PubAck is the server's acknowledgement of a successful publish.
type PubAck struct {
	Stream    string `json:"stream"`
	Sequence  uint64 `json:"seq"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Domain    string `json:"domain,omitempty"`
}

type pubAckResponse struct {
	api.JSApiResponse
	PubAck
}

// newToken draws a 64-bit random value and emits it as 8 base-62 digits
// by repeated modulo/divide. Must be called with mu held; the
// context's rand.Rand is not otherwise safe for concurrent use.
func (c *Context) newToken() string {
	n := c.rng.Uint64()
	var buf [tokenLen]byte
	for i := tokenLen - 1; i >= 0; i-- {
		buf[i] = tokenAlphabet[n%tokenBase]
		n /= tokenBase
	}
	return string(buf[:])
}

// ensureAsyncPublishInit lazily creates the reply prefix, inflight map and
// dispatch subscription on first async publish. Safe to call
// repeatedly and concurrently; only the first caller's work sticks.
func (c *Context) ensureAsyncPublishInit() error {
	c.mu.Lock()
	if c.inflight != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	inbox := c.nc.NewInbox()
	inboxPrefix := inbox + "."
	if idx := strings.LastIndex(inbox, "."); idx >= 0 {
		inboxPrefix = inbox[:idx+1]
	}

	c.mu.Lock()
	if c.inflight != nil {
		c.mu.Unlock()
		return nil
	}
	replyPrefix := inboxPrefix + c.newToken() + "."
	c.mu.Unlock()

	sub, err := c.nc.Subscribe(replyPrefix+"*", c.handleAsyncReply)
	if err != nil {
		return wrapError(KindNoMemory, err)
	}

	c.mu.Lock()
	if c.inflight != nil {
		c.mu.Unlock()
		_ = sub.Unsubscribe()
		return nil
	}
	c.replyPrefix = replyPrefix
	c.replySub = sub
	c.inflight = make(map[string]*Msg)
	c.mu.Unlock()
	return nil
}

// waitUntil waits on c.cond until woken or deadline passes. Must be
// called with mu held; sync.Cond has no timed wait, so a one-shot timer
// supplies the deadline wakeup.
func (c *Context) waitUntil(deadline time.Time) {
	timer := time.AfterFunc(time.Until(deadline), func() {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	})
	c.cond.Wait()
	timer.Stop()
}

// PublishMsgAsync publishes msg asynchronously, correlating its eventual
// ack (or lack thereof) via a reply-token allocated from the context's
// inflight map. On success the library owns msg; the caller
// must not mutate it further.
func (c *Context) PublishMsgAsync(msg *nats.Msg, opts ...PubOpt) error {
	if msg == nil || msg.Subject == "" {
		return newError(KindInvalidArgument, "message subject required")
	}
	applyPubOpts(msg, opts)

	if err := c.ensureAsyncPublishInit(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return newError(KindIllegalState, "context is closed")
	}

	c.pending++
	max := c.opts.PublishAsync.MaxPending
	if max > 0 && c.pending > max {
		c.stalled++
		deadline := time.Now().Add(c.opts.PublishAsync.StallWait)
		timedOut := false
		for c.pending > max {
			if !time.Now().Before(deadline) {
				timedOut = true
				break
			}
			c.waitUntil(deadline)
		}
		c.stalled--
		if timedOut && c.pending > max {
			stalledAt := c.pending
			c.pending--
			wait := c.opts.PublishAsync.StallWait
			c.mu.Unlock()
			return errStalled(stalledAt, max, wait)
		}
	}

	token := c.newToken()
	c.inflight[token] = newMsg(msg, nil)
	replySubject := c.replyPrefix + token
	c.mu.Unlock()

	msg.Reply = replySubject
	if err := c.nc.PublishMsg(msg); err != nil {
		c.mu.Lock()
		if _, ok := c.inflight[token]; ok {
			delete(c.inflight, token)
			c.pending--
			c.mu.Unlock()
			return wrapError(KindInvalidArgument, err)
		}
		// The ack already raced in and removed the entry; treat as success.
		c.mu.Unlock()
	}
	return nil
}

// PublishAsync is the subject/data convenience form of PublishMsgAsync.
func (c *Context) PublishAsync(subject string, data []byte, opts ...PubOpt) error {
	return c.PublishMsgAsync(&nats.Msg{Subject: subject, Data: data}, opts...)
}

// PublishAsyncComplete blocks until all outstanding async publishes have
// been acked (pending reaches zero) or timeout elapses. timeout<=0 waits
// indefinitely. A pending count of zero at the moment of timeout is
// reported as success, not Timeout.
func (c *Context) PublishAsyncComplete(timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending == 0 {
		return nil
	}
	c.pacw++
	defer func() { c.pacw-- }()

	if timeout <= 0 {
		for c.pending > 0 {
			c.cond.Wait()
		}
		return nil
	}

	deadline := time.Now().Add(timeout)
	for c.pending > 0 {
		if !time.Now().Before(deadline) {
			if c.pending == 0 {
				return nil
			}
			return ErrTimeout
		}
		c.waitUntil(deadline)
	}
	return nil
}

// PublishAsyncGetPendingList drains the entire inflight map, returning the
// still-unacked messages and resetting pending to zero. Callers assume
// ownership of the returned messages. Returns ErrPubAckNotFound if there
// is nothing pending.
func (c *Context) PublishAsyncGetPendingList() ([]*nats.Msg, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.inflight) == 0 {
		return nil, ErrPubAckNotFound
	}
	list := make([]*nats.Msg, 0, len(c.inflight))
	for _, m := range c.inflight {
		list = append(list, m.Msg)
	}
	c.inflight = make(map[string]*Msg)
	c.pending = 0
	return list, nil
}

// handleAsyncReply is the dispatch callback installed on the context's
// reply subscription, invoked for every message matching
// "<reply-prefix>*".
func (c *Context) handleAsyncReply(reply *nats.Msg) {
	c.mu.Lock()
	prefix := c.replyPrefix
	if prefix == "" || len(reply.Subject) <= len(prefix) {
		c.mu.Unlock()
		return
	}
	token := reply.Subject[len(prefix):]
	entry, ok := c.inflight[token]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.inflight, token)
	c.mu.Unlock()

	var ackErr error
	if reply.Header.Get("Status") == "503" {
		ackErr = ErrNoResponders
	} else if len(reply.Data) > 0 {
		var wire struct {
			Error *api.ApiError `json:"error,omitempty"`
		}
		if err := json.Unmarshal(reply.Data, &wire); err == nil && wire.Error != nil {
			ackErr = errServer(wire.Error.Code, wire.Error.Description)
		}
	}

	if ackErr != nil {
		if handler := c.opts.PublishAsync.ErrHandler; handler != nil {
			handler(c, entry.Msg, ackErr)
		}
	}

	c.mu.Lock()
	c.pending--
	max := c.opts.PublishAsync.MaxPending
	drainWaiter := c.pacw > 0 && c.pending == 0
	stalledCanProceed := c.stalled > 0 && (max <= 0 || c.pending <= max)
	if drainWaiter || stalledCanProceed {
		c.cond.Broadcast()
	}
	c.mu.Unlock()
}

// PublishMsg publishes msg synchronously and waits for the server's
// PubAck, using the context's default Wait unless overridden by a future
// per-call option.
func (c *Context) PublishMsg(msg *nats.Msg, opts ...PubOpt) (*PubAck, error) {
	if msg == nil || msg.Subject == "" {
		return nil, newError(KindInvalidArgument, "message subject required")
	}
	applyPubOpts(msg, opts)

	resp, err := c.nc.RequestMsg(msg, c.opts.Wait)
	if err != nil {
		if isNoResponders(err) {
			return nil, ErrNoResponders
		}
		return nil, classifyTransportErr(err)
	}

	var ack pubAckResponse
	if err := json.Unmarshal(resp.Data, &ack); err != nil {
		return nil, wrapError(KindServerError, err)
	}
	if ack.Error != nil {
		return nil, errServer(ack.Error.Code, ack.Error.Description)
	}
	return &ack.PubAck, nil
}

// Publish is the subject/data convenience form of PublishMsg.
func (c *Context) Publish(subject string, data []byte, opts ...PubOpt) (*PubAck, error) {
	return c.PublishMsg(&nats.Msg{Subject: subject, Data: data}, opts...)
}
