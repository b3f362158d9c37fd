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
	"time"

	"github.com/nats-io/jscore/api"
	"github.com/nats-io/nats.go"
)

// nonBlockingPoll is the timeout used to drain already-buffered local
// messages without truly blocking (nats.go's NextMsg requires a positive
// timeout; there is no zero-wait poll).
const nonBlockingPoll = time.Microsecond

// Fetch performs a single batch pull against sub. It first
// drains any messages already queued locally, then issues pull requests
// as needed until batch messages are collected or timeout elapses. If at
// least one message was collected, Fetch returns it with a nil error even
// if the remaining budget expired or the final status was an error.
func (c *Context) Fetch(sub *Subscription, batch int, timeout time.Duration) ([]*Msg, error) {
	if !sub.pull {
		return nil, ErrNotPullSubscription
	}
	if batch <= 0 {
		return nil, newError(KindInvalidArgument, "batch must be > 0")
	}
	if timeout <= 0 {
		return nil, newError(KindInvalidArgument, "timeout must be > 0")
	}

	start := time.Now()
	deadline := start.Add(timeout)

	out := make([]*Msg, 0, batch)
	for len(out) < batch {
		m, err := sub.nsub.NextMsg(nonBlockingPoll)
		if err != nil {
			break
		}
		if m.Header.Get("Status") != "" {
			continue
		}
		out = append(out, newMsg(m, sub))
	}
	if len(out) >= batch {
		return out, nil
	}

	noWait := batch-len(out) > 1

requestLoop:
	for len(out) < batch {
		left := time.Until(deadline)
		if left <= 0 {
			break
		}

		expires := left
		if ms := expires.Milliseconds(); ms >= 20 {
			expires = time.Duration(ms-10) * time.Millisecond
		}

		req := api.JSApiConsumerGetNextRequest{
			Batch:   batch - len(out),
			Expires: expires,
			NoWait:  noWait,
		}
		data, err := json.Marshal(req)
		if err != nil {
			if len(out) > 0 {
				return out, nil
			}
			return nil, wrapError(KindInvalidArgument, err)
		}

		if err := c.nc.PublishMsg(&nats.Msg{Subject: sub.nextSubject, Reply: sub.nsub.Subject, Data: data}); err != nil {
			if len(out) > 0 {
				return out, nil
			}
			return nil, wrapError(KindConnectionError, err)
		}

		for len(out) < batch {
			left = time.Until(deadline)
			if left <= 0 {
				break requestLoop
			}
			m, err := sub.nsub.NextMsg(left)
			if err != nil {
				if len(out) > 0 {
					return out, nil
				}
				return nil, ErrTimeout
			}

			switch m.Header.Get("Status") {
			case "":
				out = append(out, newMsg(m, sub))
			case "404":
				// Empty stream. If we asked no_wait and still have
				// nothing, resend as a long-poll.
				if noWait && len(out) == 0 {
					noWait = false
					continue requestLoop
				}
			case "408":
				// Request-scoped timeout; keep waiting on our own budget.
			case "503":
				if len(out) > 0 {
					return out, nil
				}
				return nil, ErrNoResponders
			default:
				if len(out) > 0 {
					return out, nil
				}
				return nil, newError(KindServerError, "%s", m.Header.Get("Description"))
			}
		}
	}

	if len(out) > 0 {
		return out, nil
	}
	return nil, ErrTimeout
}
