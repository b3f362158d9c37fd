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
	"context"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
)

// Conn is the publish/subscribe transport jscore is layered over. It is
// satisfied directly by *nats.Conn; tests may supply a fake.
type Conn interface {
	PublishMsg(m *nats.Msg) error
	RequestMsg(m *nats.Msg, timeout time.Duration) (*nats.Msg, error)
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
	QueueSubscribe(subj, queue string, cb nats.MsgHandler) (*nats.Subscription, error)
	SubscribeSync(subj string) (*nats.Subscription, error)
	NewInbox() string
}

// natsConn adapts *nats.Conn to Conn. It is the only place this module
// imports *nats.Conn directly; everything else goes through Conn.
type natsConn struct {
	*nats.Conn
}

func (c natsConn) NewInbox() string { return nats.NewInbox() }

// newNatsConn wraps an established connection for use as a jscore Conn.
func newNatsConn(nc *nats.Conn) Conn {
	return natsConn{nc}
}

// isNoResponders reports whether err is nats.go's no-responders sentinel,
// the transport-level signal the ack dispatcher classifies as
// KindNoResponders.
func isNoResponders(err error) bool {
	return errors.Is(err, nats.ErrNoResponders)
}

// classifyTransportErr maps a failed transport request to an error Kind:
// only a genuine timeout becomes KindTimeout; anything else (connection
// closed, draining, invalid state) is a connection error, so callers
// branching on ErrTimeout never mistake a dead connection for a slow one.
func classifyTransportErr(err error) *Error {
	if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return wrapError(KindTimeout, err)
	}
	return wrapError(KindConnectionError, err)
}
