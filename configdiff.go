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
	"github.com/nats-io/jscore/api"
)

// CheckConsumerConfig compares a user-requested consumer config against
// the server-reported config field by field. It never mutates either
// argument. A returned error identifies the mismatched field and both
// values; the caller MUST NOT proceed to use the subscription when this
// returns non-nil.
func CheckConsumerConfig(user, server api.ConsumerConfig) error {
	if stringDiffers(user.Durable, server.Durable) {
		return cfgMismatch("Durable", user.Durable, server.Durable)
	}
	if stringDiffers(user.Description, server.Description) {
		return cfgMismatch("Description", user.Description, server.Description)
	}
	if stringDiffers(user.SampleFrequency, server.SampleFrequency) {
		return cfgMismatch("SampleFrequency", user.SampleFrequency, server.SampleFrequency)
	}

	if user.DeliverPolicy != api.DeliverPolicyUnset && user.DeliverPolicy != server.DeliverPolicy {
		return cfgMismatch("DeliverPolicy", user.DeliverPolicy, server.DeliverPolicy)
	}
	if user.AckPolicy != api.AckPolicyUnset && user.AckPolicy != server.AckPolicy {
		return cfgMismatch("AckPolicy", user.AckPolicy, server.AckPolicy)
	}
	if user.ReplayPolicy != api.ReplayPolicyUnset && user.ReplayPolicy != server.ReplayPolicy {
		return cfgMismatch("ReplayPolicy", user.ReplayPolicy, server.ReplayPolicy)
	}

	if user.OptStartSeq > 0 && user.OptStartSeq != server.OptStartSeq {
		return cfgMismatch("OptStartSeq", user.OptStartSeq, server.OptStartSeq)
	}
	if user.OptStartTime != nil && (server.OptStartTime == nil || !user.OptStartTime.Equal(*server.OptStartTime)) {
		return cfgMismatch("OptStartTime", user.OptStartTime, server.OptStartTime)
	}
	if user.AckWait > 0 && user.AckWait != server.AckWait {
		return cfgMismatch("AckWait", user.AckWait, server.AckWait)
	}
	if user.MaxDeliver > 0 && user.MaxDeliver != server.MaxDeliver {
		return cfgMismatch("MaxDeliver", user.MaxDeliver, server.MaxDeliver)
	}
	if user.RateLimit > 0 && user.RateLimit != server.RateLimit {
		return cfgMismatch("RateLimit", user.RateLimit, server.RateLimit)
	}
	if user.MaxWaiting > 0 && user.MaxWaiting != server.MaxWaiting {
		return cfgMismatch("MaxWaiting", user.MaxWaiting, server.MaxWaiting)
	}
	if user.MaxAckPending > 0 && user.MaxAckPending != server.MaxAckPending {
		return cfgMismatch("MaxAckPending", user.MaxAckPending, server.MaxAckPending)
	}
	if user.Heartbeat > 0 && user.Heartbeat != server.Heartbeat {
		return cfgMismatch("Heartbeat", user.Heartbeat, server.Heartbeat)
	}

	// FlowControl: enabling it client-side when the server lacks it is an
	// error; disabling is fine, the library handles FC transparently when
	// the server has it regardless of what the user asked for.
	if user.FlowControl && !server.FlowControl {
		return cfgMismatch("FlowControl", user.FlowControl, server.FlowControl)
	}

	return nil
}

func stringDiffers(user, server string) bool {
	return user != "" && user != server
}

func cfgMismatch(field string, user, server any) error {
	return newError(KindMismatch, "configuration requests %s to be %v, but consumer's value is %v", field, user, server)
}
