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

// Package jscore implements the client-side context of a JetStream-style
// streaming layer over a publish/subscribe message bus: an asynchronous
// publish pipeline with ack correlation, and a subscription lifecycle with
// consumer binding, config diffing, heartbeat/flow-control handling and
// pull-mode batch fetch.
package jscore

import (
	"math/rand"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Context is the top-level handle. It exclusively owns its options and
// async-publish state, and shares ownership of the underlying connection
// with the caller. Construct with NewContext; release with
// Close when done.
type Context struct {
	mu   sync.Mutex
	cond *sync.Cond

	refs   int
	closed bool

	nc     Conn
	opts   Options
	prefix string

	rng *rand.Rand

	// Async publish state. All lazily initialized on first async
	// publish and guarded by mu.
	replyPrefix string
	replySub    *nats.Subscription
	inflight    map[string]*Msg
	pending     int
	stalled     int
	pacw        int
}

// NewContext builds a Context layered over nc. It validates Wait >= 0 and
// PublishAsync.StallWait >= 0, and retains nc for the Context's lifetime;
// Close releases that reference.
func NewContext(nc Conn, opts Options) (*Context, error) {
	resolved, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}

	ctx := &Context{
		nc:     nc,
		opts:   resolved,
		prefix: resolved.resolvedPrefix(),
		refs:   1,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	ctx.cond = sync.NewCond(&ctx.mu)
	return ctx, nil
}

// New is a convenience constructor over a *nats.Conn, using the default
// Conn adapter (see conn.go).
func New(nc *nats.Conn, opts Options) (*Context, error) {
	return NewContext(newNatsConn(nc), opts)
}

// retain increments the reference count. Every holder that can outlive
// the caller (a Subscription, most notably) takes one and releases it when
// it is done with the context.
func (c *Context) retain() {
	c.mu.Lock()
	c.refs++
	c.mu.Unlock()
}

// release decrements the reference count, destroying the context's
// reply subscription and draining any still-pending inflight messages
// when it reaches zero.
func (c *Context) release() {
	c.mu.Lock()
	c.refs--
	if c.refs > 0 {
		c.mu.Unlock()
		return
	}
	c.closed = true
	sub := c.replySub
	c.inflight = nil
	c.mu.Unlock()

	if sub != nil {
		_ = sub.Unsubscribe()
	}
}

// Close releases the caller's reference to ctx. The context fully tears
// down once every outstanding Subscription has been unsubscribed as well.
func (c *Context) Close() {
	c.release()
}
