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

// Package natsdtest starts an embedded JetStream-enabled nats-server for
// integration tests and mints collision-free stream/consumer/subject
// names so parallel test files never collide.
package natsdtest

import (
	"fmt"
	"os"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nuid"
)

// StartJSServer boots an embedded, JetStream-enabled server on a random
// port and returns it along with a connected *nats.Conn. Both are closed
// automatically via t.Cleanup.
func StartJSServer(t *testing.T) (*natsserver.Server, *nats.Conn) {
	t.Helper()

	dir, err := os.MkdirTemp("", "jscore-jsd-")
	if err != nil {
		t.Fatalf("natsdtest: temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	opts := &natsserver.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  dir,
		NoLog:     true,
		NoSigs:    true,
	}

	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("natsdtest: new server: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)

	if !srv.ReadyForConnections(10 * time.Second) {
		t.Fatalf("natsdtest: server did not become ready")
	}

	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("natsdtest: connect: %v", err)
	}
	t.Cleanup(nc.Close)

	return srv, nc
}

// UniqueName returns a nuid-suffixed name for prefix, guaranteeing
// distinct streams/consumers/subjects across concurrently running tests.
func UniqueName(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, nuid.Next())
}
