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
	"errors"
	"strings"
	"testing"

	"github.com/nats-io/jscore/api"
	"github.com/nats-io/nats.go"
)

func lastRequest(t *testing.T, nc *fakeConn) *nats.Msg {
	t.Helper()
	nc.mu.Lock()
	defer nc.mu.Unlock()
	if len(nc.requests) == 0 {
		t.Fatalf("expected a request to have been sent")
	}
	return nc.requests[len(nc.requests)-1]
}

func TestStreamInfoRequestsDeletedDetailsWhenConfigured(t *testing.T) {
	nc := newFakeConn()
	nc.requestResp = &nats.Msg{Data: []byte(`{"config":{"name":"ORDERS"},"state":{"messages":3,"first_seq":1,"last_seq":3,"consumer_count":1}}`)}

	var opts Options
	opts.Stream.Info.DeletedDetails = true
	ctx, err := NewContext(nc, opts)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}

	info, err := ctx.StreamInfo("ORDERS")
	if err != nil {
		t.Fatalf("StreamInfo: %v", err)
	}
	if info.Config.Name != "ORDERS" || info.State.Msgs != 3 {
		t.Fatalf("unexpected info: %+v", info)
	}

	req := lastRequest(t, nc)
	if req.Subject != "$JS.API.STREAM.INFO.ORDERS" {
		t.Fatalf("unexpected request subject: %q", req.Subject)
	}
	var body api.JSApiStreamInfoRequest
	if err := json.Unmarshal(req.Data, &body); err != nil {
		t.Fatalf("unmarshal request body: %v", err)
	}
	if !body.DeletedDetails {
		t.Fatalf("expected deleted_details to be requested")
	}
}

func TestStreamInfoSendsNoBodyByDefault(t *testing.T) {
	nc := newFakeConn()
	nc.requestResp = &nats.Msg{Data: []byte(`{"config":{"name":"ORDERS"},"state":{}}`)}
	ctx, err := NewContext(nc, Options{})
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	if _, err := ctx.StreamInfo("ORDERS"); err != nil {
		t.Fatalf("StreamInfo: %v", err)
	}
	if req := lastRequest(t, nc); len(req.Data) != 0 {
		t.Fatalf("expected an empty request body, got %q", req.Data)
	}
}

func TestStreamInfoNotFound(t *testing.T) {
	nc := newFakeConn()
	nc.requestResp = &nats.Msg{Data: []byte(`{"error":{"code":404,"description":"stream not found"}}`)}
	ctx, err := NewContext(nc, Options{})
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	if _, err := ctx.StreamInfo("NONE"); !errors.Is(err, ErrStreamNotFound) {
		t.Fatalf("expected ErrStreamNotFound, got %v", err)
	}
}

func TestPurgeStreamUsesContextDefaults(t *testing.T) {
	nc := newFakeConn()
	nc.requestResp = &nats.Msg{Data: []byte(`{"success":true,"purged":7}`)}

	var opts Options
	opts.Stream.Purge.Subject = "orders.shipped"
	ctx, err := NewContext(nc, opts)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}

	purged, err := ctx.PurgeStream("ORDERS", nil)
	if err != nil {
		t.Fatalf("PurgeStream: %v", err)
	}
	if purged != 7 {
		t.Fatalf("expected 7 purged, got %d", purged)
	}

	req := lastRequest(t, nc)
	if req.Subject != "$JS.API.STREAM.PURGE.ORDERS" {
		t.Fatalf("unexpected request subject: %q", req.Subject)
	}
	if !strings.Contains(string(req.Data), `"filter":"orders.shipped"`) {
		t.Fatalf("expected the default purge filter in the request, got %q", req.Data)
	}
}

func TestPurgeStreamCallOptionsReplaceDefaultsWholesale(t *testing.T) {
	nc := newFakeConn()
	nc.requestResp = &nats.Msg{Data: []byte(`{"success":true,"purged":1}`)}

	var opts Options
	opts.Stream.Purge.Subject = "orders.shipped"
	ctx, err := NewContext(nc, opts)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}

	// Any non-zero field in the call-site options replaces the context
	// defaults entirely, so the default Subject must not leak through.
	if _, err := ctx.PurgeStream("ORDERS", &PurgeDefaults{Keep: 5}); err != nil {
		t.Fatalf("PurgeStream: %v", err)
	}
	body := string(lastRequest(t, nc).Data)
	if strings.Contains(body, "filter") {
		t.Fatalf("expected call options to replace the default filter, got %q", body)
	}
	if !strings.Contains(body, `"keep":5`) {
		t.Fatalf("expected keep in the request body, got %q", body)
	}
}

func TestPurgeStreamRejectsSequenceWithKeep(t *testing.T) {
	nc := newFakeConn()
	ctx, err := NewContext(nc, Options{})
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	_, err = ctx.PurgeStream("ORDERS", &PurgeDefaults{Sequence: 3, Keep: 5})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}
