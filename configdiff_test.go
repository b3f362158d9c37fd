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
	"testing"
	"time"

	"github.com/nats-io/jscore/api"
)

func fullConsumerConfig() api.ConsumerConfig {
	return api.ConsumerConfig{
		Durable:         "dur",
		Description:     "desc",
		DeliverPolicy:   api.DeliverAll,
		AckPolicy:       api.AckExplicit,
		ReplayPolicy:    api.ReplayInstant,
		OptStartSeq:     10,
		AckWait:         30 * time.Second,
		MaxDeliver:      5,
		RateLimit:       1000,
		SampleFrequency: "50%",
		MaxWaiting:      128,
		MaxAckPending:   1000,
		Heartbeat:       5 * time.Second,
		FlowControl:     true,
	}
}

// Round-trip: a fully specified config never mismatches against itself.
func TestCheckConsumerConfigIdempotent(t *testing.T) {
	cfg := fullConsumerConfig()
	if err := CheckConsumerConfig(cfg, cfg); err != nil {
		t.Fatalf("identical configs should not mismatch: %v", err)
	}
}

func TestCheckConsumerConfigUnsetUserFieldsAlwaysMatch(t *testing.T) {
	server := fullConsumerConfig()
	user := api.ConsumerConfig{
		DeliverPolicy: api.DeliverPolicyUnset,
		AckPolicy:     api.AckPolicyUnset,
		ReplayPolicy:  api.ReplayPolicyUnset,
	}
	if err := CheckConsumerConfig(user, server); err != nil {
		t.Fatalf("all-unset user config should never mismatch: %v", err)
	}
}

func TestCheckConsumerConfigStringMismatch(t *testing.T) {
	server := fullConsumerConfig()
	user := fullConsumerConfig()
	user.Description = "other"
	if err := CheckConsumerConfig(user, server); err == nil {
		t.Fatalf("expected mismatch on Description")
	}
}

func TestCheckConsumerConfigEnumMismatch(t *testing.T) {
	server := fullConsumerConfig()
	user := fullConsumerConfig()
	user.AckPolicy = api.AckAll
	if err := CheckConsumerConfig(user, server); err == nil {
		t.Fatalf("expected mismatch on AckPolicy")
	}
}

func TestCheckConsumerConfigNumericZeroNeverMismatches(t *testing.T) {
	server := fullConsumerConfig()
	user := api.ConsumerConfig{
		DeliverPolicy: api.DeliverPolicyUnset,
		AckPolicy:     api.AckPolicyUnset,
		ReplayPolicy:  api.ReplayPolicyUnset,
		MaxDeliver:    0,
		RateLimit:     0,
		MaxWaiting:    0,
		MaxAckPending: 0,
	}
	if err := CheckConsumerConfig(user, server); err != nil {
		t.Fatalf("zero-valued numeric fields should be treated as unset: %v", err)
	}
}

func TestCheckConsumerConfigFlowControlOnlyFailsWhenUserWantsAndServerLacks(t *testing.T) {
	server := fullConsumerConfig()
	server.FlowControl = false
	user := api.ConsumerConfig{
		DeliverPolicy: api.DeliverPolicyUnset,
		AckPolicy:     api.AckPolicyUnset,
		ReplayPolicy:  api.ReplayPolicyUnset,
		FlowControl:   true,
	}
	if err := CheckConsumerConfig(user, server); err == nil {
		t.Fatalf("expected FlowControl mismatch when user wants it and server lacks it")
	}

	user.FlowControl = false
	server.FlowControl = true
	if err := CheckConsumerConfig(user, server); err != nil {
		t.Fatalf("disabling FlowControl client-side should never mismatch: %v", err)
	}
}

func TestCheckConsumerConfigOptStartTimeMismatch(t *testing.T) {
	server := fullConsumerConfig()
	now := time.Now()
	server.OptStartTime = &now
	user := api.ConsumerConfig{
		DeliverPolicy: api.DeliverPolicyUnset,
		AckPolicy:     api.AckPolicyUnset,
		ReplayPolicy:  api.ReplayPolicyUnset,
	}
	other := now.Add(time.Hour)
	user.OptStartTime = &other
	if err := CheckConsumerConfig(user, server); err == nil {
		t.Fatalf("expected mismatch on OptStartTime")
	}

	user.OptStartTime = &now
	if err := CheckConsumerConfig(user, server); err != nil {
		t.Fatalf("equal OptStartTime values should not mismatch: %v", err)
	}
}
