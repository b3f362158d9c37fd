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

// Package jsadmin is the discoverable, option-driven consumer
// administration surface layered on top of the wire types in package api.
// jscore's own subscribe path treats consumer create/lookup/delete as
// opaque request/reply calls (see jscore/admin.go); jsadmin is for callers
// who want to build a api.ConsumerConfig field-by-field with named,
// validated options, or manage a consumer's lifecycle independently of any
// particular Subscribe call.
package jsadmin

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/jscore/api"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nuid"
)

// DefaultConsumer is the configuration template NewConsumerConfiguration
// starts from when no other template is given.
var DefaultConsumer = api.ConsumerConfig{
	DeliverPolicy: api.DeliverAll,
	AckPolicy:     api.AckExplicit,
	AckWait:       30 * time.Second,
	ReplayPolicy:  api.ReplayInstant,
}

// SampledDefaultConsumer additionally samples 100% of acks for metrics.
var SampledDefaultConsumer = api.ConsumerConfig{
	DeliverPolicy:   api.DeliverAll,
	AckPolicy:       api.AckExplicit,
	AckWait:         30 * time.Second,
	ReplayPolicy:    api.ReplayInstant,
	SampleFrequency: "100%",
}

// ConsumerOption mutates a configuration under construction.
type ConsumerOption func(o *api.ConsumerConfig) error

// NewConsumerConfiguration builds a ConsumerConfig from a template
// modified by opts, generating a random ephemeral name when neither a
// durable nor an explicit name was given.
func NewConsumerConfiguration(dflt api.ConsumerConfig, opts ...ConsumerOption) (*api.ConsumerConfig, error) {
	cfg := dflt
	for _, o := range opts {
		if err := o(&cfg); err != nil {
			return nil, err
		}
	}

	if cfg.Durable != "" {
		cfg.Name = cfg.Durable
	}
	if cfg.Name == "" {
		cfg.Name = generateConsumerName()
	}
	return &cfg, nil
}

const nameAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
const nameBase = 62

// generateConsumerName mints an 8-character random name from a nuid seed:
// hash the nuid, then map each of the first 8 hash bytes into the base-62
// alphabet.
func generateConsumerName() string {
	sum := sha256.Sum256([]byte(nuid.Next()))
	var buf [8]byte
	for i := range buf {
		buf[i] = nameAlphabet[int(sum[i])%nameBase]
	}
	return string(buf[:])
}

// Client is a thin administrative handle over the consumer management
// subjects of a single account/domain, independent of any Subscribe call.
type Client struct {
	nc      *nats.Conn
	prefix  string
	timeout time.Duration
}

// NewClient builds a Client. An empty prefix defaults to "$JS.API"; a
// zero timeout defaults to 5s.
func NewClient(nc *nats.Conn, prefix string, timeout time.Duration) *Client {
	if prefix == "" {
		prefix = "$JS.API"
	}
	prefix = strings.TrimSuffix(prefix, ".")
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{nc: nc, prefix: prefix, timeout: timeout}
}

func (cl *Client) jsonRequest(subject string, req any) (*nats.Msg, error) {
	var data []byte
	var err error
	if req != nil {
		data, err = json.Marshal(req)
		if err != nil {
			return nil, err
		}
	}
	return cl.nc.Request(subject, data, cl.timeout)
}

// CreateConsumer creates (or, for a durable with matching config,
// idempotently attaches to) a consumer on stream.
func (cl *Client) CreateConsumer(stream string, cfg api.ConsumerConfig) (*api.ConsumerInfo, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("consumer configuration requires a name")
	}

	subject := fmt.Sprintf("%s.CONSUMER.CREATE.%s", cl.prefix, stream)
	if cfg.Durable != "" {
		subject = fmt.Sprintf("%s.CONSUMER.DURABLE.CREATE.%s.%s", cl.prefix, stream, cfg.Durable)
	}

	resp, err := cl.jsonRequest(subject, api.JSApiConsumerCreateRequest{Stream: stream, Config: cfg})
	if err != nil {
		return nil, err
	}
	var out api.JSApiConsumerInfoResponse
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return nil, err
	}
	if out.IsError() {
		return nil, out.Error
	}
	return out.ConsumerInfo, nil
}

// ConsumerInfo fetches the current server state for an existing consumer.
func (cl *Client) ConsumerInfo(stream, name string) (*api.ConsumerInfo, error) {
	subject := fmt.Sprintf("%s.CONSUMER.INFO.%s.%s", cl.prefix, stream, name)
	resp, err := cl.jsonRequest(subject, nil)
	if err != nil {
		return nil, err
	}
	var out api.JSApiConsumerInfoResponse
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return nil, err
	}
	if out.IsError() {
		return nil, out.Error
	}
	return out.ConsumerInfo, nil
}

// DeleteConsumer removes a consumer from stream.
func (cl *Client) DeleteConsumer(stream, name string) error {
	subject := fmt.Sprintf("%s.CONSUMER.DELETE.%s.%s", cl.prefix, stream, name)
	resp, err := cl.jsonRequest(subject, nil)
	if err != nil {
		return err
	}
	var out api.JSApiConsumerDeleteResponse
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return err
	}
	if out.IsError() {
		return out.Error
	}
	if !out.Success {
		return fmt.Errorf("unknown response removing consumer %s", name)
	}
	return nil
}

// Consumer is a long-lived handle around a created-or-loaded consumer,
// caching its last known server state.
type Consumer struct {
	cl     *Client
	stream string
	name   string
	cfg    *api.ConsumerConfig
	last   *api.ConsumerInfo
}

// NewConsumerFromDefault creates a consumer from a template config
// modified by opts.
func (cl *Client) NewConsumerFromDefault(stream string, dflt api.ConsumerConfig, opts ...ConsumerOption) (*Consumer, error) {
	cfg, err := NewConsumerConfiguration(dflt, opts...)
	if err != nil {
		return nil, err
	}
	info, err := cl.CreateConsumer(stream, *cfg)
	if err != nil {
		return nil, err
	}
	return &Consumer{cl: cl, stream: stream, name: info.Name, cfg: &info.Config, last: info}, nil
}

// NewConsumer creates a consumer from DefaultConsumer modified by opts.
func (cl *Client) NewConsumer(stream string, opts ...ConsumerOption) (*Consumer, error) {
	return cl.NewConsumerFromDefault(stream, DefaultConsumer, opts...)
}

// LoadConsumer loads an existing named consumer into a handle.
func (cl *Client) LoadConsumer(stream, name string) (*Consumer, error) {
	info, err := cl.ConsumerInfo(stream, name)
	if err != nil {
		return nil, err
	}
	return &Consumer{cl: cl, stream: stream, name: name, cfg: &info.Config, last: info}, nil
}

// State refreshes and returns the consumer's current server-reported info.
func (c *Consumer) State() (api.ConsumerInfo, error) {
	info, err := c.cl.ConsumerInfo(c.stream, c.name)
	if err != nil {
		return api.ConsumerInfo{}, err
	}
	c.last = info
	c.cfg = &info.Config
	return *info, nil
}

// Delete removes the consumer; the handle should be discarded afterward.
func (c *Consumer) Delete() error {
	return c.cl.DeleteConsumer(c.stream, c.name)
}

// Configuration returns the last loaded or created configuration.
func (c *Consumer) Configuration() api.ConsumerConfig { return *c.cfg }

func (c *Consumer) Name() string                     { return c.name }
func (c *Consumer) StreamName() string               { return c.stream }
func (c *Consumer) IsPullMode() bool                 { return c.cfg.DeliverSubject == "" }
func (c *Consumer) IsPushMode() bool                 { return !c.IsPullMode() }
func (c *Consumer) IsDurable() bool                  { return c.cfg.Durable != "" }
func (c *Consumer) IsEphemeral() bool                { return !c.IsDurable() }
func (c *Consumer) IsSampled() bool                  { return c.cfg.SampleFrequency != "" }
func (c *Consumer) DurableName() string              { return c.cfg.Durable }
func (c *Consumer) DeliverPolicy() api.DeliverPolicy { return c.cfg.DeliverPolicy }
func (c *Consumer) AckPolicy() api.AckPolicy         { return c.cfg.AckPolicy }
func (c *Consumer) AckWait() time.Duration           { return c.cfg.AckWait }
func (c *Consumer) MaxDeliver() int                  { return c.cfg.MaxDeliver }
func (c *Consumer) FilterSubject() string            { return c.cfg.FilterSubject }
func (c *Consumer) FilterSubjects() []string         { return c.cfg.FilterSubjects }
func (c *Consumer) ReplayPolicy() api.ReplayPolicy   { return c.cfg.ReplayPolicy }
func (c *Consumer) SampleFrequency() string          { return c.cfg.SampleFrequency }

// UpdateConfiguration re-creates a durable consumer with opts applied on
// top of its current configuration, then reloads the handle's state.
func (c *Consumer) UpdateConfiguration(opts ...ConsumerOption) error {
	if !c.IsDurable() {
		return fmt.Errorf("only durable consumers can be updated")
	}
	ncfg, err := NewConsumerConfiguration(*c.cfg, opts...)
	if err != nil {
		return err
	}
	if _, err := c.cl.CreateConsumer(c.stream, *ncfg); err != nil {
		return err
	}
	_, err = c.State()
	return err
}

// --- Option constructors ---

func resetDeliverPolicy(o *api.ConsumerConfig) {
	o.DeliverPolicy = api.DeliverAll
	o.OptStartSeq = 0
	o.OptStartTime = nil
}

// ConsumerDescription sets a free-text description.
func ConsumerDescription(d string) ConsumerOption {
	return func(o *api.ConsumerConfig) error { o.Description = d; return nil }
}

// ConsumerName sets an explicit name for a named ephemeral consumer; use
// DurableName instead for a durable one.
func ConsumerName(s string) ConsumerOption {
	return func(o *api.ConsumerConfig) error { o.Name = s; return nil }
}

// DurableName makes the consumer durable under name.
func DurableName(s string) ConsumerOption {
	return func(o *api.ConsumerConfig) error { o.Durable = s; return nil }
}

// StartAtSequence starts delivery at a specific stream sequence.
func StartAtSequence(seq uint64) ConsumerOption {
	return func(o *api.ConsumerConfig) error {
		resetDeliverPolicy(o)
		o.DeliverPolicy = api.DeliverByStartSequence
		o.OptStartSeq = seq
		return nil
	}
}

// StartAtTime starts delivery at a specific point in time.
func StartAtTime(t time.Time) ConsumerOption {
	return func(o *api.ConsumerConfig) error {
		resetDeliverPolicy(o)
		o.DeliverPolicy = api.DeliverByStartTime
		ut := t.UTC()
		o.OptStartTime = &ut
		return nil
	}
}

// StartAtTimeDelta starts delivery d in the past.
func StartAtTimeDelta(d time.Duration) ConsumerOption {
	return func(o *api.ConsumerConfig) error {
		resetDeliverPolicy(o)
		t := time.Now().UTC().Add(-d)
		o.DeliverPolicy = api.DeliverByStartTime
		o.OptStartTime = &t
		return nil
	}
}

func DeliverAllAvailable() ConsumerOption {
	return func(o *api.ConsumerConfig) error { resetDeliverPolicy(o); o.DeliverPolicy = api.DeliverAll; return nil }
}
func DeliverLastPerSubject() ConsumerOption {
	return func(o *api.ConsumerConfig) error {
		resetDeliverPolicy(o)
		o.DeliverPolicy = api.DeliverLastPerSubject
		return nil
	}
}
func StartWithLastReceived() ConsumerOption {
	return func(o *api.ConsumerConfig) error { resetDeliverPolicy(o); o.DeliverPolicy = api.DeliverLast; return nil }
}
func StartWithNextReceived() ConsumerOption {
	return func(o *api.ConsumerConfig) error { resetDeliverPolicy(o); o.DeliverPolicy = api.DeliverNew; return nil }
}

// DeliverHeadersOnly delivers only headers plus Nats-Msg-Size, no bodies.
func DeliverHeadersOnly() ConsumerOption {
	return func(o *api.ConsumerConfig) error { o.HeadersOnly = true; return nil }
}

func AcknowledgeNone() ConsumerOption {
	return func(o *api.ConsumerConfig) error { o.AckPolicy = api.AckNone; return nil }
}
func AcknowledgeAll() ConsumerOption {
	return func(o *api.ConsumerConfig) error { o.AckPolicy = api.AckAll; return nil }
}
func AcknowledgeExplicit() ConsumerOption {
	return func(o *api.ConsumerConfig) error { o.AckPolicy = api.AckExplicit; return nil }
}

func AckWait(d time.Duration) ConsumerOption {
	return func(o *api.ConsumerConfig) error { o.AckWait = d; return nil }
}

// MaxDeliveryAttempts rejects 0 (which would prevent all deliveries).
func MaxDeliveryAttempts(n int) ConsumerOption {
	return func(o *api.ConsumerConfig) error {
		if n == 0 {
			return fmt.Errorf("configuration would prevent all deliveries")
		}
		o.MaxDeliver = n
		return nil
	}
}

// FilterStreamBySubject sets a single filter subject, or several via the
// multi-filter field when more than one is given.
func FilterStreamBySubject(s ...string) ConsumerOption {
	return func(o *api.ConsumerConfig) error {
		if len(s) == 1 {
			o.FilterSubject = s[0]
		} else {
			o.FilterSubjects = append(o.FilterSubjects, s...)
		}
		return nil
	}
}

func ReplayInstantly() ConsumerOption {
	return func(o *api.ConsumerConfig) error { o.ReplayPolicy = api.ReplayInstant; return nil }
}
func ReplayAsReceived() ConsumerOption {
	return func(o *api.ConsumerConfig) error { o.ReplayPolicy = api.ReplayOriginal; return nil }
}

// SamplePercent configures ack sampling as a percentage, 0-100.
func SamplePercent(pct int) ConsumerOption {
	return func(o *api.ConsumerConfig) error {
		if pct < 0 || pct > 100 {
			return fmt.Errorf("sample percent must be 0-100")
		}
		if pct == 0 {
			o.SampleFrequency = ""
			return nil
		}
		o.SampleFrequency = fmt.Sprintf("%d%%", pct)
		return nil
	}
}

func RateLimitBitsPerSecond(bps uint64) ConsumerOption {
	return func(o *api.ConsumerConfig) error { o.RateLimit = bps; return nil }
}

// MaxWaiting caps outstanding pull requests; excess pulls are discarded.
func MaxWaiting(pulls uint) ConsumerOption {
	return func(o *api.ConsumerConfig) error { o.MaxWaiting = int(pulls); return nil }
}

func MaxAckPending(pending uint) ConsumerOption {
	return func(o *api.ConsumerConfig) error { o.MaxAckPending = int(pending); return nil }
}

func IdleHeartbeat(hb time.Duration) ConsumerOption {
	return func(o *api.ConsumerConfig) error { o.Heartbeat = hb; return nil }
}

func PushFlowControl() ConsumerOption {
	return func(o *api.ConsumerConfig) error { o.FlowControl = true; return nil }
}

func DeliverGroup(g string) ConsumerOption {
	return func(o *api.ConsumerConfig) error { o.DeliverGroup = g; return nil }
}

func MaxRequestMaxBytes(max int) ConsumerOption {
	return func(o *api.ConsumerConfig) error { o.MaxRequestMaxBytes = max; return nil }
}

func MaxRequestBatch(max uint) ConsumerOption {
	return func(o *api.ConsumerConfig) error { o.MaxRequestBatch = int(max); return nil }
}

func MaxRequestExpires(max time.Duration) ConsumerOption {
	return func(o *api.ConsumerConfig) error {
		if max != 0 && max < time.Millisecond {
			return fmt.Errorf("must be larger than 1ms")
		}
		o.MaxRequestExpires = max
		return nil
	}
}

func InactiveThreshold(t time.Duration) ConsumerOption {
	return func(o *api.ConsumerConfig) error {
		if t < 0 {
			return fmt.Errorf("inactive threshold must be positive")
		}
		o.InactiveThreshold = t
		return nil
	}
}

// BackoffIntervals sets an explicit redelivery backoff schedule.
func BackoffIntervals(intervals ...time.Duration) ConsumerOption {
	return func(o *api.ConsumerConfig) error {
		if len(intervals) == 0 {
			return fmt.Errorf("at least one interval is required")
		}
		o.BackOff = intervals
		return nil
	}
}

// LinearBackoffPolicy computes a linearly spaced backoff schedule of
// steps durations between min and max, inclusive.
func LinearBackoffPolicy(steps uint, min, max time.Duration) ConsumerOption {
	return func(o *api.ConsumerConfig) error {
		if steps == 0 {
			return fmt.Errorf("at least one step is required")
		}
		if max < min {
			return fmt.Errorf("max must be >= min")
		}
		periods := make([]time.Duration, steps)
		if steps == 1 {
			periods[0] = min
		} else {
			span := max - min
			for i := uint(0); i < steps; i++ {
				periods[i] = min + time.Duration(int64(span)*int64(i)/int64(steps-1))
			}
		}
		o.BackOff = periods
		return nil
	}
}

func ConsumerOverrideReplicas(r int) ConsumerOption {
	return func(o *api.ConsumerConfig) error { o.Replicas = r; return nil }
}

func ConsumerOverrideMemoryStorage() ConsumerOption {
	return func(o *api.ConsumerConfig) error { o.MemoryStorage = true; return nil }
}

func ConsumerMetadata(meta map[string]string) ConsumerOption {
	return func(o *api.ConsumerConfig) error {
		for k := range meta {
			if k == "" {
				return fmt.Errorf("invalid empty string key in metadata")
			}
		}
		o.Metadata = meta
		return nil
	}
}
