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
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

func TestErrorIsComparesKindOnly(t *testing.T) {
	err := newError(KindTimeout, "stalled for %s", time.Second)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected errors.Is to match on Kind alone")
	}
	if errors.Is(err, ErrNotBound) {
		t.Fatalf("expected no match against a different Kind")
	}
}

func TestErrorWrappingPreservesUnderlyingErr(t *testing.T) {
	cause := fmt.Errorf("boom")
	err := wrapError(KindServerError, cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to reach the wrapped cause via Unwrap")
	}
}

func TestIsNotFoundErr(t *testing.T) {
	if !IsNotFoundErr(ErrConsumerNotFound) {
		t.Fatalf("expected ErrConsumerNotFound to be classified as not-found")
	}
	if IsNotFoundErr(ErrTimeout) {
		t.Fatalf("expected ErrTimeout not to be classified as not-found")
	}
	if IsNotFoundErr(fmt.Errorf("plain error")) {
		t.Fatalf("expected a non-*Error to never be classified as not-found")
	}
}

func TestClassifyTransportErrSeparatesTimeoutFromConnectionFailure(t *testing.T) {
	if err := classifyTransportErr(nats.ErrTimeout); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected a transport timeout to stay Timeout-kind, got %v", err)
	}
	err := classifyTransportErr(nats.ErrConnectionClosed)
	if errors.Is(err, ErrTimeout) {
		t.Fatalf("a closed connection must not be classified as a timeout")
	}
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("expected KindConnectionError, got %v", err)
	}
	if !errors.Is(err, nats.ErrConnectionClosed) {
		t.Fatalf("expected the underlying cause to stay reachable via Unwrap")
	}
}

func TestErrStalledCarriesTimeoutKind(t *testing.T) {
	err := errStalled(42, 10, 200*time.Millisecond)
	if err.Kind != KindTimeout {
		t.Fatalf("expected KindTimeout, got %v", err.Kind)
	}
	if err.Error() == "" {
		t.Fatalf("expected a non-empty error message")
	}
}

func TestErrServerCarriesCode(t *testing.T) {
	err := errServer(404, "consumer not found")
	if err.Kind != KindServerError || err.Code != 404 {
		t.Fatalf("unexpected error: %+v", err)
	}
}
