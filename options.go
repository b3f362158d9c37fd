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
	"os"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"gopkg.in/yaml.v3"
)

const (
	defaultAPIPrefix = "$JS.API"
	defaultWait      = 5 * time.Second
	defaultStallWait = 200 * time.Millisecond
)

// PublishAsyncErrHandler is invoked, with the context lock released, for
// every async publish whose ack could not be classified as success.
type PublishAsyncErrHandler func(ctx *Context, msg *nats.Msg, err error)

// PublishAsyncOptions tunes the async publish pipeline.
type PublishAsyncOptions struct {
	// MaxPending caps outstanding unacked async publishes. Zero means
	// unlimited.
	MaxPending int
	// StallWait bounds how long a caller blocks once MaxPending is
	// reached before failing with a stalled-publish timeout.
	StallWait time.Duration
	// ErrHandler receives per-message ack errors. Its presence at
	// subscribe time also gates whether a subscription's heartbeat timer
	// is created (see Subscribe).
	ErrHandler PublishAsyncErrHandler
}

// PurgeDefaults holds the Stream.Purge.{Subject,Sequence,Keep} defaults a
// context applies to a Purge call that doesn't override them. A call-site
// PurgeOptions is taken as a whole in place of these defaults whenever any
// one of its three fields is non-zero; the merge is whole-struct, not
// field-by-field.
type PurgeDefaults struct {
	Subject  string
	Sequence uint64
	Keep     uint64
}

// StreamInfoDefaults holds the Stream.Info.DeletedDetails default.
type StreamInfoDefaults struct {
	DeletedDetails bool
}

// Options configures a Context. All fields are immutable after
// NewContext returns; defaults are applied by NewContext, never mutated
// in place afterward.
type Options struct {
	// Prefix is an explicit API subject prefix, e.g. "$JS.API". Ignored
	// if Domain is set.
	Prefix string
	// Domain expands to "$JS.<domain>.API" and takes precedence over
	// Prefix.
	Domain string
	// Wait is the default request timeout for synchronous operations.
	// Zero is rejected by NewContext validation before the default of
	// 5s is substituted.
	Wait time.Duration

	PublishAsync PublishAsyncOptions

	Stream struct {
		Purge PurgeDefaults
		Info  StreamInfoDefaults
	}
}

// resolvedPrefix resolves the API subject prefix: Domain
// wins over an explicit Prefix, which wins over the hardcoded default.
func (o Options) resolvedPrefix() string {
	switch {
	case o.Domain != "":
		return "$JS." + strings.TrimSuffix(o.Domain, ".") + ".API"
	case o.Prefix != "":
		return strings.TrimSuffix(o.Prefix, ".")
	default:
		return defaultAPIPrefix
	}
}

// withDefaults validates Wait/StallWait and substitutes the defaults,
// applied strictly after copying the caller's values.
func (o Options) withDefaults() (Options, error) {
	if o.Wait < 0 {
		return Options{}, newError(KindInvalidArgument, "Wait must be >= 0")
	}
	if o.PublishAsync.StallWait < 0 {
		return Options{}, newError(KindInvalidArgument, "PublishAsync.StallWait must be >= 0")
	}
	if o.Wait == 0 {
		o.Wait = defaultWait
	}
	if o.PublishAsync.StallWait == 0 {
		o.PublishAsync.StallWait = defaultStallWait
	}
	return o, nil
}

// effectivePurge returns the purge options a single Purge call should use:
// call merges into defaults as a whole struct, not field by field.
func (o Options) effectivePurge(call *PurgeDefaults) PurgeDefaults {
	if call != nil && (call.Subject != "" || call.Sequence != 0 || call.Keep != 0) {
		return *call
	}
	return o.Stream.Purge
}

// LoadOptionsYAML reads a YAML document shaped like Options from path, for
// deployments that keep context defaults in a static config file rather
// than constructing Options in code.
func LoadOptionsYAML(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, err
	}
	var o Options
	if err := yaml.Unmarshal(data, &o); err != nil {
		return Options{}, err
	}
	return o, nil
}
