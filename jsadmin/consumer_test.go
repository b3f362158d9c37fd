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

package jsadmin_test

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/nats-io/jscore/jsadmin"
	"github.com/nats-io/jscore/natsdtest"
	"github.com/nats-io/nats.go"
)

func addStream(t *testing.T, nc *nats.Conn, name, subject string) {
	t.Helper()
	js, err := nc.JetStream()
	if err != nil {
		t.Fatalf("JetStream: %v", err)
	}
	if _, err := js.AddStream(&nats.StreamConfig{Name: name, Subjects: []string{subject}}); err != nil {
		t.Fatalf("AddStream: %v", err)
	}
}

func TestNewConsumerConfigurationGeneratesEphemeralName(t *testing.T) {
	cfg, err := jsadmin.NewConsumerConfiguration(jsadmin.DefaultConsumer)
	if err != nil {
		t.Fatalf("NewConsumerConfiguration: %v", err)
	}
	if len(cfg.Name) != 8 {
		t.Fatalf("expected an 8-character generated name, got %q", cfg.Name)
	}
}

func TestNewConsumerConfigurationDurableUsesDurableAsName(t *testing.T) {
	cfg, err := jsadmin.NewConsumerConfiguration(jsadmin.DefaultConsumer, jsadmin.DurableName("orders-worker"))
	if err != nil {
		t.Fatalf("NewConsumerConfiguration: %v", err)
	}
	if cfg.Name != "orders-worker" {
		t.Fatalf("expected Name to mirror Durable, got %q", cfg.Name)
	}
}

func TestMaxDeliveryAttemptsRejectsZero(t *testing.T) {
	if _, err := jsadmin.NewConsumerConfiguration(jsadmin.DefaultConsumer, jsadmin.MaxDeliveryAttempts(0)); err == nil {
		t.Fatalf("expected an error for MaxDeliveryAttempts(0)")
	}
}

func TestLinearBackoffPolicyIsMonotonic(t *testing.T) {
	cfg, err := jsadmin.NewConsumerConfiguration(jsadmin.DefaultConsumer, jsadmin.LinearBackoffPolicy(4, time.Second, 4*time.Second))
	if err != nil {
		t.Fatalf("NewConsumerConfiguration: %v", err)
	}
	if len(cfg.BackOff) != 4 {
		t.Fatalf("expected 4 backoff steps, got %d", len(cfg.BackOff))
	}
	for i := 1; i < len(cfg.BackOff); i++ {
		if cfg.BackOff[i] < cfg.BackOff[i-1] {
			t.Fatalf("expected a non-decreasing backoff schedule, got %v", cfg.BackOff)
		}
	}
	if cfg.BackOff[0] != time.Second || cfg.BackOff[3] != 4*time.Second {
		t.Fatalf("unexpected backoff bounds: %v", cfg.BackOff)
	}
}

func TestClientCreateLoadDeleteConsumer(t *testing.T) {
	_, nc := natsdtest.StartJSServer(t)
	stream := natsdtest.UniqueName("ORDERS")
	addStream(t, nc, stream, "orders.>")

	cl := jsadmin.NewClient(nc, "", 0)

	cfg, err := jsadmin.NewConsumerConfiguration(jsadmin.DefaultConsumer,
		jsadmin.DurableName(natsdtest.UniqueName("dur")), jsadmin.AckWait(15*time.Second))
	if err != nil {
		t.Fatalf("NewConsumerConfiguration: %v", err)
	}

	info, err := cl.CreateConsumer(stream, *cfg)
	if err != nil {
		t.Fatalf("CreateConsumer: %v", err)
	}
	if info.Config.AckWait != 15*time.Second {
		t.Fatalf("unexpected AckWait: %v", info.Config.AckWait)
	}

	loaded, err := cl.ConsumerInfo(stream, cfg.Name)
	if err != nil {
		t.Fatalf("ConsumerInfo: %v", err)
	}
	if loaded.Name != cfg.Name {
		t.Fatalf("unexpected consumer name: %q", loaded.Name)
	}
	if diff := cmp.Diff(info.Config, loaded.Config); diff != "" {
		t.Fatalf("loaded config differs from created config: %s", diff)
	}

	if err := cl.DeleteConsumer(stream, cfg.Name); err != nil {
		t.Fatalf("DeleteConsumer: %v", err)
	}
	if _, err := cl.ConsumerInfo(stream, cfg.Name); err == nil {
		t.Fatalf("expected an error looking up a deleted consumer")
	}
}

func TestConsumerHandleLifecycle(t *testing.T) {
	_, nc := natsdtest.StartJSServer(t)
	stream := natsdtest.UniqueName("ORDERS")
	addStream(t, nc, stream, "orders.>")

	cl := jsadmin.NewClient(nc, "", 0)
	consumer, err := cl.NewConsumer(stream, jsadmin.DurableName(natsdtest.UniqueName("dur")))
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}
	if !consumer.IsDurable() || !consumer.IsPullMode() {
		t.Fatalf("expected a durable pull consumer, got durable=%v pull=%v", consumer.IsDurable(), consumer.IsPullMode())
	}

	if err := consumer.UpdateConfiguration(jsadmin.AckWait(45 * time.Second)); err != nil {
		t.Fatalf("UpdateConfiguration: %v", err)
	}
	if consumer.AckWait() != 45*time.Second {
		t.Fatalf("expected updated AckWait, got %v", consumer.AckWait())
	}

	if err := consumer.Delete(); err != nil {
		t.Fatalf("Delete: %v", err)
	}
}
