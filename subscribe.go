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
	"strings"
	"sync"
	"time"

	"github.com/nats-io/jscore/api"
	"github.com/nats-io/nats.go"
)

// defaultMaxAckPending is applied when a consumer requires acks but the
// caller left MaxAckPending at zero.
const defaultMaxAckPending = 20000

const lastConsumerSeqHeader = "Nats-Last-Consumer"

// SequenceMismatch reports a detected gap between the delivery sequence
// this client has observed and the one the server's heartbeat advertises.
type SequenceMismatch struct {
	Stream         uint64
	ConsumerClient uint64
	ConsumerServer uint64
}

// Subscription is the per-subscription handle returned by Subscribe,
// QueueSubscribe and PullSubscribe.
type Subscription struct {
	ctx *Context

	mu        sync.Mutex
	stream    string
	consumer  string
	pull      bool
	queue     string
	manualAck bool
	ackPolicy api.AckPolicy

	deliverSubject        string
	deleteConsumerOnUnsub bool
	stopped               bool

	nsub *nats.Subscription

	// nextSubject is the pull-mode batch request target.
	nextSubject string

	// Sequence-mismatch / heartbeat / flow-control bookkeeping.
	cmeta      string
	active     bool
	sm, ssmn   bool
	sseq, dseq uint64
	ldseq      uint64

	// fcReply/fcDelivered implement the flow-control scheduling rule:
	// once sub.delivered reaches fcDelivered, an empty ack is published
	// to fcReply and both are cleared.
	fcReply     string
	fcDelivered uint64

	hbInterval time.Duration
	hbTimer    *time.Timer
	errHandler func(*Subscription, error)

	delivered uint64
}

// subOpts accumulates SubOpt mutations before Subscribe builds a
// ConsumerConfig from them.
type subOpts struct {
	stream    string
	consumer  string
	durable   string
	queue     string
	manualAck bool
	cfg       api.ConsumerConfig

	errHandler func(*Subscription, error)
}

func defaultSubOpts() subOpts {
	return subOpts{
		cfg: api.ConsumerConfig{
			DeliverPolicy: api.DeliverPolicyUnset,
			AckPolicy:     api.AckPolicyUnset,
			ReplayPolicy:  api.ReplayPolicyUnset,
		},
	}
}

// SubOpt configures a Subscribe/QueueSubscribe/PullSubscribe call.
type SubOpt func(*subOpts) error

// BindStream pins the subscription to an explicit stream rather than
// resolving one by subject.
func BindStream(stream string) SubOpt {
	return func(o *subOpts) error { o.stream = stream; return nil }
}

// ConsumerName names the consumer to attach to. Combined with BindStream
// the subscription is consumer-bound: a lookup miss is then a hard error
// rather than falling through to create.
func ConsumerName(name string) SubOpt {
	return func(o *subOpts) error { o.consumer = name; return nil }
}

// Durable names the consumer to create-or-attach-to; it survives client
// restarts.
func Durable(name string) SubOpt {
	return func(o *subOpts) error { o.durable = name; return nil }
}

// ManualAck disables the push-mode auto-ack wrapper.
func ManualAck() SubOpt {
	return func(o *subOpts) error { o.manualAck = true; return nil }
}

func AckNonePolicy() SubOpt     { return func(o *subOpts) error { o.cfg.AckPolicy = api.AckNone; return nil } }
func AckAllPolicy() SubOpt      { return func(o *subOpts) error { o.cfg.AckPolicy = api.AckAll; return nil } }
func AckExplicitPolicy() SubOpt {
	return func(o *subOpts) error { o.cfg.AckPolicy = api.AckExplicit; return nil }
}

func DeliverAllAvailable() SubOpt {
	return func(o *subOpts) error { o.cfg.DeliverPolicy = api.DeliverAll; return nil }
}
func DeliverLastAvailable() SubOpt {
	return func(o *subOpts) error { o.cfg.DeliverPolicy = api.DeliverLast; return nil }
}
func DeliverNewMessages() SubOpt {
	return func(o *subOpts) error { o.cfg.DeliverPolicy = api.DeliverNew; return nil }
}
func DeliverLastPerSubject() SubOpt {
	return func(o *subOpts) error { o.cfg.DeliverPolicy = api.DeliverLastPerSubject; return nil }
}

// StartSequence requests delivery starting at seq; Subscribe forces
// DeliverPolicy to by-start-sequence whenever this is set, so callers need
// not also call a Deliver* option.
func StartSequence(seq uint64) SubOpt {
	return func(o *subOpts) error { o.cfg.OptStartSeq = seq; return nil }
}

// StartTime requests delivery starting at t.
func StartTime(t time.Time) SubOpt {
	return func(o *subOpts) error { o.cfg.OptStartTime = &t; return nil }
}

func AckWait(d time.Duration) SubOpt {
	return func(o *subOpts) error { o.cfg.AckWait = d; return nil }
}
func MaxDeliver(n int) SubOpt {
	return func(o *subOpts) error { o.cfg.MaxDeliver = n; return nil }
}
func RateLimitBitsPerSecond(bps uint64) SubOpt {
	return func(o *subOpts) error { o.cfg.RateLimit = bps; return nil }
}
func ReplayInstant() SubOpt {
	return func(o *subOpts) error { o.cfg.ReplayPolicy = api.ReplayInstant; return nil }
}
func ReplayOriginal() SubOpt {
	return func(o *subOpts) error { o.cfg.ReplayPolicy = api.ReplayOriginal; return nil }
}
func SamplePercent(pct string) SubOpt {
	return func(o *subOpts) error { o.cfg.SampleFrequency = pct; return nil }
}
func MaxWaiting(n int) SubOpt {
	return func(o *subOpts) error { o.cfg.MaxWaiting = n; return nil }
}
func MaxAckPending(n int) SubOpt {
	return func(o *subOpts) error { o.cfg.MaxAckPending = n; return nil }
}

// IdleHeartbeat requests periodic liveness heartbeats on the delivery
// subject. Rejected at options time for queue subscriptions.
func IdleHeartbeat(d time.Duration) SubOpt {
	return func(o *subOpts) error { o.cfg.Heartbeat = d; return nil }
}

// EnableFlowControl requests server-managed flow control. Rejected at
// options time for queue subscriptions.
func EnableFlowControl() SubOpt {
	return func(o *subOpts) error { o.cfg.FlowControl = true; return nil }
}

func ConsumerDescription(s string) SubOpt {
	return func(o *subOpts) error { o.cfg.Description = s; return nil }
}

// ErrorHandler registers the async handler that receives heartbeat-miss
// and sequence-mismatch notifications; its presence at subscribe time is
// also what gates heartbeat timer creation.
func ErrorHandler(h func(*Subscription, error)) SubOpt {
	return func(o *subOpts) error { o.errHandler = h; return nil }
}

// FromConsumerConfig seeds the subscription's requested configuration
// from a fully built api.ConsumerConfig, e.g. one produced by
// jsadmin.NewConsumerConfiguration with its discoverable ConsumerOption
// builders. Later SubOpts in the same call still apply on top of it.
func FromConsumerConfig(cfg api.ConsumerConfig) SubOpt {
	return func(o *subOpts) error {
		o.cfg = cfg
		if cfg.Durable != "" {
			o.durable = cfg.Durable
		}
		return nil
	}
}

// Subscribe creates a push subscription delivering to cb, resolving or
// creating a consumer as needed.
func (c *Context) Subscribe(subject string, cb func(*Msg), opts ...SubOpt) (*Subscription, error) {
	if cb == nil {
		return nil, newError(KindInvalidArgument, "message callback required")
	}
	return c.subscribe(subject, cb, false, opts)
}

// QueueSubscribe creates a push subscription in queue group queue.
func (c *Context) QueueSubscribe(subject, queue string, cb func(*Msg), opts ...SubOpt) (*Subscription, error) {
	if cb == nil {
		return nil, newError(KindInvalidArgument, "message callback required")
	}
	opts = append(append([]SubOpt{}, opts...), func(o *subOpts) error { o.queue = queue; return nil })
	return c.subscribe(subject, cb, false, opts)
}

// PullSubscribe creates a pull subscription; messages are retrieved with
// Fetch rather than delivered to a callback.
func (c *Context) PullSubscribe(subject string, opts ...SubOpt) (*Subscription, error) {
	return c.subscribe(subject, nil, true, opts)
}

func (c *Context) subscribe(subject string, cb func(*Msg), pull bool, optFns []SubOpt) (*Subscription, error) {
	if subject == "" {
		return nil, newError(KindInvalidArgument, "subject required")
	}
	o := defaultSubOpts()
	for _, fn := range optFns {
		if err := fn(&o); err != nil {
			return nil, err
		}
	}

	if o.queue != "" && (o.cfg.FlowControl || o.cfg.Heartbeat > 0) {
		return nil, ErrQueueNoFlowControl
	}
	if pull && (o.cfg.AckPolicy == api.AckNone || o.cfg.AckPolicy == api.AckAll) {
		return nil, newError(KindInvalidArgument, "pull subscriptions require explicit ack policy")
	}

	if o.cfg.OptStartSeq > 0 {
		o.cfg.DeliverPolicy = api.DeliverByStartSequence
	}
	if o.cfg.OptStartTime != nil {
		o.cfg.DeliverPolicy = api.DeliverByStartTime
	}

	consumerName := o.consumer
	// A subscription is consumer-bound only when both the stream and the
	// consumer were given explicitly; a consumer name alone still falls
	// through to create when the lookup misses.
	bound := o.consumer != "" && o.stream != ""
	if consumerName == "" {
		consumerName = o.durable
	}
	if consumerName == "" && o.queue != "" {
		consumerName = o.queue
		o.durable = o.queue
	}

	stream := o.stream
	if stream == "" {
		s, err := c.lookupStreamBySubject(subject)
		if err != nil {
			return nil, err
		}
		stream = s
	}

	var info *api.ConsumerInfo
	skipCreate := false
	if consumerName != "" {
		i, err := c.getConsumerInfo(stream, consumerName)
		switch {
		case err == nil:
			info = i
		case IsNotFoundErr(err):
			if bound {
				return nil, err
			}
		default:
			// Timeout or "not enabled" on lookup: a consumer-bound pull
			// subscription proceeds on the assumption that the consumer
			// exists and will be reachable once the lookup path recovers.
			// Everything else treats the failed lookup as fatal.
			lookupErr := errors.Is(err, ErrTimeout) || isNotEnabledErr(err)
			if !(pull && bound && lookupErr) {
				return nil, err
			}
			skipCreate = true
		}
	}

	sub := &Subscription{
		ctx:        c,
		stream:     stream,
		pull:       pull,
		queue:      o.queue,
		manualAck:  o.manualAck,
		errHandler: o.errHandler,
	}

	const maxCreateAttempts = 2
	if skipCreate {
		sub.consumer = consumerName
		sub.ackPolicy = o.cfg.AckPolicy
	}
	for attempt := 0; !skipCreate && attempt < maxCreateAttempts; attempt++ {
		if info != nil {
			if err := processConsumerInfo(sub, info, subject, o, pull); err != nil {
				return nil, err
			}
			sub.consumer = info.Name
			sub.deleteConsumerOnUnsub = false
			sub.ackPolicy = info.Config.AckPolicy
			sub.hbInterval = info.Config.Heartbeat
			sub.deliverSubject = info.Config.DeliverSubject
			break
		}

		cfg := o.cfg
		cfg.Durable = o.durable
		cfg.DeliverGroup = o.queue
		cfg.FilterSubject = subject
		if cfg.AckPolicy == api.AckPolicyUnset {
			cfg.AckPolicy = api.AckExplicit
		}
		if !pull {
			cfg.DeliverSubject = c.nc.NewInbox()
		}
		if cfg.AckPolicy != api.AckNone && cfg.MaxAckPending == 0 {
			cfg.MaxAckPending = defaultMaxAckPending
		}

		created, err := c.addConsumer(stream, cfg)
		if err != nil {
			if isConsumerExistsErr(err) && attempt+1 < maxCreateAttempts {
				lookupName := cfg.Durable
				i, ierr := c.getConsumerInfo(stream, lookupName)
				if ierr != nil {
					return nil, ierr
				}
				info = i
				continue
			}
			return nil, err
		}
		sub.consumer = created.Name
		sub.deleteConsumerOnUnsub = true
		sub.ackPolicy = created.Config.AckPolicy
		sub.hbInterval = created.Config.Heartbeat
		sub.deliverSubject = created.Config.DeliverSubject
		break
	}

	if pull {
		nsub, err := c.nc.SubscribeSync(c.nc.NewInbox())
		if err != nil {
			return nil, wrapError(KindNoMemory, err)
		}
		sub.nsub = nsub
		sub.nextSubject = c.prefix + ".CONSUMER.MSG.NEXT." + stream + "." + sub.consumer
		c.retain()
		return sub, nil
	}

	handler := sub.dispatch(cb)
	var nsub *nats.Subscription
	var err error
	if o.queue != "" {
		nsub, err = c.nc.QueueSubscribe(sub.deliverSubject, o.queue, handler)
	} else {
		nsub, err = c.nc.Subscribe(sub.deliverSubject, handler)
	}
	if err != nil {
		return nil, wrapError(KindNoMemory, err)
	}
	sub.nsub = nsub
	sub.startHeartbeatTimer()
	c.retain()
	return sub, nil
}

// processConsumerInfo validates compatibility between server-reported
// info and the user's requested options.
func processConsumerInfo(sub *Subscription, info *api.ConsumerInfo, subject string, o subOpts, pull bool) error {
	if info.Config.FilterSubject != "" && info.Config.FilterSubject != subject {
		return newError(KindMismatch, "subject %q doesn't match consumer filter %q", subject, info.Config.FilterSubject)
	}
	if o.queue != "" {
		if info.Config.DeliverGroup != o.queue {
			return newError(KindMismatch, "cannot create queue subscription %q for consumer %q which is already bound to deliver group %q",
				o.queue, info.Name, info.Config.DeliverGroup)
		}
	} else {
		if info.Config.DeliverGroup != "" {
			return newError(KindMismatch, "cannot create a subscription for consumer %q which is already bound to deliver group %q",
				info.Name, info.Config.DeliverGroup)
		}
		if info.PushBound {
			return newError(KindMismatch, "consumer %q is already push-bound to a subscription", info.Name)
		}
	}
	if pull && info.Config.DeliverSubject != "" {
		return ErrNotPullSubscription
	}
	if !pull && info.Config.DeliverSubject == "" {
		return newError(KindInvalidSubscription, "consumer %q is a pull consumer", info.Name)
	}
	return CheckConsumerConfig(o.cfg, info.Config)
}

// startHeartbeatTimer starts the 2x-heartbeat-interval liveness timer,
// but only when an async error handler was registered at subscribe time;
// installing one later never retroactively starts it.
func (sub *Subscription) startHeartbeatTimer() {
	if sub.hbInterval <= 0 || sub.errHandler == nil {
		return
	}
	sub.mu.Lock()
	sub.hbTimer = time.AfterFunc(2*sub.hbInterval, sub.hbTick)
	sub.mu.Unlock()
}

func (sub *Subscription) hbTick() {
	sub.mu.Lock()
	if sub.stopped {
		sub.mu.Unlock()
		return
	}
	wasActive := sub.active
	sub.active = false
	handler := sub.errHandler
	sub.hbTimer = time.AfterFunc(2*sub.hbInterval, sub.hbTick)
	sub.mu.Unlock()

	if !wasActive && handler != nil {
		handler(sub, ErrMissedHeartbeat)
	}
}

// SequenceMismatch returns the last detected sequence mismatch, if any.
func (sub *Subscription) SequenceMismatch() (SequenceMismatch, bool) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if !sub.sm {
		return SequenceMismatch{}, false
	}
	return SequenceMismatch{
		Stream:         sub.sseq,
		ConsumerClient: sub.dseq,
		ConsumerServer: sub.ldseq,
	}, true
}

// dispatch wraps cb with delivery tracking, control-message handling and
// (unless ManualAck was requested) the auto-ack wrapper.
func (sub *Subscription) dispatch(cb func(*Msg)) nats.MsgHandler {
	autoAck := !sub.manualAck && sub.ackPolicy != api.AckNone
	return func(m *nats.Msg) {
		msg := newMsg(m, sub)

		isControl, isFC := msg.isJSControlMessage()

		sub.mu.Lock()
		sub.active = true
		var fcReply string
		if !isControl {
			sub.delivered++
			if strings.HasPrefix(m.Reply, ackPrefix) {
				sub.cmeta = m.Reply[len(ackPrefix):]
			}
			if sub.fcReply != "" && sub.delivered >= sub.fcDelivered {
				fcReply = sub.fcReply
				sub.fcReply = ""
			}
		}
		sub.mu.Unlock()

		if fcReply != "" {
			_ = sub.ctx.nc.PublishMsg(&nats.Msg{Subject: fcReply})
		}

		if isControl {
			if isFC {
				sub.scheduleFlowControlResponse(m.Reply)
			} else {
				sub.processHeartbeat(m)
			}
			return
		}

		// Snapshot the reply subject before invoking user code, in case
		// the callback mutates or drops the message.
		replySubject := m.Reply
		cb(msg)
		if autoAck && replySubject != "" {
			if msg.setAcked() {
				_ = sub.ctx.nc.PublishMsg(&nats.Msg{Subject: replySubject, Data: ackAckPayload})
			}
		}
	}
}

// scheduleFlowControlResponse records reply as the subject to ack once
// sub.delivered reaches the current delivery count plus whatever is
// already queued locally. If nothing is queued the threshold
// is the next message, so the ack may fire immediately on the following
// delivery rather than for this control message itself.
func (sub *Subscription) scheduleFlowControlResponse(reply string) {
	var pending int
	if sub.nsub != nil {
		pending, _, _ = sub.nsub.Pending()
	}

	sub.mu.Lock()
	sub.fcReply = reply
	sub.fcDelivered = sub.delivered + uint64(pending)
	sub.mu.Unlock()
}

// processHeartbeat updates sequence-mismatch state from a heartbeat
// control message.
func (sub *Subscription) processHeartbeat(m *nats.Msg) {
	sub.mu.Lock()
	cmeta := sub.cmeta
	ssmn := sub.ssmn
	sub.mu.Unlock()

	var dseq uint64
	var sseq uint64
	if cmeta != "" {
		if md, err := parseAckMetadata(ackPrefix+cmeta, 6); err == nil {
			sseq = md.Sequence.Stream
			dseq = md.Sequence.Consumer
		}
	}

	ldseqStr := m.Header.Get(lastConsumerSeqHeader)
	if ldseqStr == "" {
		return
	}
	ldseq := parseNum(ldseqStr)
	if ldseq < 0 {
		return
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()
	sub.ldseq = uint64(ldseq)
	if uint64(ldseq) == dseq {
		sub.sm = false
		sub.ssmn = false
		return
	}
	if ssmn {
		return
	}
	sub.sm = true
	sub.ssmn = true
	sub.sseq = sseq
	sub.dseq = dseq
	handler := sub.errHandler
	if handler != nil {
		go handler(sub, ErrMismatch)
	}
}

// Unsubscribe stops delivery, stops the heartbeat timer, and deletes the
// consumer if this subscription created it.
func (sub *Subscription) Unsubscribe() error {
	sub.mu.Lock()
	if sub.stopped {
		sub.mu.Unlock()
		return ErrInvalidSubscription
	}
	sub.stopped = true
	timer := sub.hbTimer
	nsub := sub.nsub
	deleteOnUnsub := sub.deleteConsumerOnUnsub
	stream, consumer := sub.stream, sub.consumer
	sub.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	var err error
	if nsub != nil {
		err = nsub.Unsubscribe()
	}
	if deleteOnUnsub {
		_ = sub.ctx.deleteConsumer(stream, consumer)
	}
	sub.ctx.release()
	return err
}

// ConsumerInfo returns the latest server-reported state for sub's
// consumer.
func (sub *Subscription) ConsumerInfo() (*api.ConsumerInfo, error) {
	sub.mu.Lock()
	stream, consumer := sub.stream, sub.consumer
	sub.mu.Unlock()
	return sub.ctx.getConsumerInfo(stream, consumer)
}
