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
	"errors"
	"testing"
	"time"

	"github.com/nats-io/jscore/api"
	"github.com/nats-io/nats.go"
)

func newTestSubscription(t *testing.T, errHandler func(*Subscription, error)) (*Subscription, *fakeConn) {
	t.Helper()
	nc := newFakeConn()
	ctx, err := NewContext(nc, Options{})
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	sub := &Subscription{
		ctx:        ctx,
		ackPolicy:  api.AckExplicit,
		errHandler: errHandler,
	}
	return sub, nc
}

func TestDispatchAutoAcksAfterCallback(t *testing.T) {
	sub, nc := newTestSubscription(t, nil)
	handler := sub.dispatch(func(m *Msg) {})

	handler(&nats.Msg{Subject: "orders.new", Reply: "$JS.ACK.ORDERS.cons.1.1.1.0.0", Data: []byte("x")})

	sent := nc.lastPublished()
	if sent == nil {
		t.Fatalf("expected an ack to be published")
	}
	if sent.Subject != "$JS.ACK.ORDERS.cons.1.1.1.0.0" {
		t.Fatalf("ack published to unexpected subject %q", sent.Subject)
	}
	if string(sent.Data) != string(ackAckPayload) {
		t.Fatalf("expected +ACK payload, got %q", sent.Data)
	}
}

func TestDispatchManualAckSkipsAutoAck(t *testing.T) {
	sub, nc := newTestSubscription(t, nil)
	sub.manualAck = true
	handler := sub.dispatch(func(m *Msg) {})

	handler(&nats.Msg{Subject: "orders.new", Reply: "$JS.ACK.ORDERS.cons.1.1.1.0.0", Data: []byte("x")})

	if sent := nc.lastPublished(); sent != nil {
		t.Fatalf("expected no auto-ack publish with ManualAck, got %+v", sent)
	}
}

func TestDispatchFlowControlRepliesEmpty(t *testing.T) {
	sub, nc := newTestSubscription(t, nil)
	called := false
	handler := sub.dispatch(func(m *Msg) { called = true })

	fc := &nats.Msg{Subject: "orders.new", Reply: "_INBOX.fc.reply", Header: nats.Header{}}
	fc.Header.Set("Status", "100")
	fc.Header.Set("Description", "Flow Control Request")
	handler(fc)

	if called {
		t.Fatalf("flow control message must not reach the user callback")
	}
	if sent := nc.lastPublished(); sent != nil {
		t.Fatalf("flow control ack must wait for the scheduled delivery count, got early reply %+v", sent)
	}

	// With no subscription backlog (sub.nsub is nil in this unit test, so
	// pending is treated as 0), the schedule threshold is the next
	// delivered user message.
	handler(&nats.Msg{Subject: "orders.new", Reply: "$JS.ACK.ORDERS.cons.1.1.1.0.0", Data: []byte("x")})

	var fcAck *nats.Msg
	for _, m := range nc.published {
		if m.Subject == "_INBOX.fc.reply" {
			fcAck = m
		}
	}
	if fcAck == nil {
		t.Fatalf("expected an empty reply to the flow control subject once the threshold delivery arrived")
	}
	if len(fcAck.Data) != 0 {
		t.Fatalf("flow control reply must carry no payload, got %q", fcAck.Data)
	}
}

func TestDispatchHeartbeatDoesNotReachCallback(t *testing.T) {
	sub, _ := newTestSubscription(t, nil)
	called := false
	handler := sub.dispatch(func(m *Msg) { called = true })

	hb := &nats.Msg{Subject: "orders.new", Header: nats.Header{}}
	hb.Header.Set("Status", "100")
	hb.Header.Set("Description", "Idle Heartbeat")
	handler(hb)

	if called {
		t.Fatalf("heartbeat message must not reach the user callback")
	}
}

func TestProcessHeartbeatDetectsMismatch(t *testing.T) {
	mismatches := make(chan error, 1)
	sub, _ := newTestSubscription(t, func(s *Subscription, err error) { mismatches <- err })
	sub.hbInterval = time.Second

	// cmeta is the ack-reply suffix after "$JS.ACK."; NumDelivered=1,
	// stream seq=5, consumer seq=6.
	sub.cmeta = "ORDERS.cons.1.5.6.0.0"

	hb := &nats.Msg{Header: nats.Header{}}
	hb.Header.Set(lastConsumerSeqHeader, "9")

	sub.processHeartbeat(hb)

	select {
	case err := <-mismatches:
		if !errors.Is(err, ErrMismatch) {
			t.Fatalf("expected ErrMismatch, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected the error handler to be invoked")
	}

	mm, ok := sub.SequenceMismatch()
	if !ok {
		t.Fatalf("expected a recorded sequence mismatch")
	}
	if mm.Stream != 5 || mm.ConsumerClient != 6 || mm.ConsumerServer != 9 {
		t.Fatalf("unexpected mismatch contents: %+v", mm)
	}
}

func TestProcessHeartbeatNoMismatchWhenSequencesAgree(t *testing.T) {
	sub, _ := newTestSubscription(t, func(s *Subscription, err error) {
		t.Fatalf("error handler should not fire when sequences agree")
	})
	sub.cmeta = "ORDERS.cons.1.5.6.0.0"

	hb := &nats.Msg{Header: nats.Header{}}
	hb.Header.Set(lastConsumerSeqHeader, "6")
	sub.processHeartbeat(hb)

	if _, ok := sub.SequenceMismatch(); ok {
		t.Fatalf("expected no recorded mismatch")
	}
}

func TestProcessConsumerInfoRejectsFilterSubjectMismatch(t *testing.T) {
	info := &api.ConsumerInfo{Config: api.ConsumerConfig{FilterSubject: "orders.new"}}
	err := processConsumerInfo(&Subscription{}, info, "orders.updated", defaultSubOpts(), false)
	if !errors.Is(err, ErrMismatch) {
		t.Fatalf("expected ErrMismatch, got %v", err)
	}
}

func TestProcessConsumerInfoRejectsPullOnPushConsumer(t *testing.T) {
	info := &api.ConsumerInfo{Config: api.ConsumerConfig{DeliverSubject: "_INBOX.x"}}
	err := processConsumerInfo(&Subscription{}, info, "", defaultSubOpts(), true)
	if !errors.Is(err, ErrNotPullSubscription) {
		t.Fatalf("expected ErrNotPullSubscription, got %v", err)
	}
}

func TestProcessConsumerInfoRejectsPushOnPullConsumer(t *testing.T) {
	info := &api.ConsumerInfo{Config: api.ConsumerConfig{}}
	err := processConsumerInfo(&Subscription{}, info, "", defaultSubOpts(), false)
	if !errors.Is(err, ErrInvalidSubscription) {
		t.Fatalf("expected ErrInvalidSubscription, got %v", err)
	}
}

func TestSubscribeRejectsFlowControlOnQueue(t *testing.T) {
	nc := newFakeConn()
	ctx, err := NewContext(nc, Options{})
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	_, err = ctx.QueueSubscribe("orders.new", "workers", func(*Msg) {}, EnableFlowControl())
	if !errors.Is(err, ErrQueueNoFlowControl) {
		t.Fatalf("expected ErrQueueNoFlowControl, got %v", err)
	}
}

func TestSubscribeRejectsNilCallback(t *testing.T) {
	nc := newFakeConn()
	ctx, err := NewContext(nc, Options{})
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	if _, err := ctx.Subscribe("orders.new", nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}
