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
	"time"

	"github.com/dustin/go-humanize"
)

// Kind classifies a jscore error independent of its textual description,
// so callers can branch with errors.Is against the package-level sentinels
// below rather than string matching.
type Kind int

const (
	KindInvalidArgument Kind = iota
	KindNoMemory
	KindTimeout
	KindNoResponders
	KindNotFound
	KindIllegalState
	KindInvalidSubscription
	KindMismatch
	KindServerError
	KindMissedHeartbeat
	KindConnectionError
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid argument"
	case KindNoMemory:
		return "no memory"
	case KindTimeout:
		return "timeout"
	case KindNoResponders:
		return "no responders"
	case KindNotFound:
		return "not found"
	case KindIllegalState:
		return "illegal state"
	case KindInvalidSubscription:
		return "invalid subscription"
	case KindMismatch:
		return "mismatch"
	case KindServerError:
		return "server error"
	case KindMissedHeartbeat:
		return "missed heartbeat"
	case KindConnectionError:
		return "connection error"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned by every jscore operation that
// fails. Code carries the server's numeric err_code when Kind is
// KindServerError; it is zero otherwise.
type Error struct {
	Kind Kind
	Code int
	Text string
	Err  error
}

func (e *Error) Error() string {
	if e.Text != "" {
		return e.Text
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, jscore.ErrTimeout) work even though ErrTimeout is
// a plain Kind sentinel, by comparing kinds rather than identity.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Text: fmt.Sprintf(format, args...)}
}

func wrapError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Sentinels usable with errors.Is for the common cases; each only carries
// a Kind, so the comparison in (*Error).Is ignores Text/Err/Code.
var (
	ErrInvalidArgument     = &Error{Kind: KindInvalidArgument}
	ErrTimeout             = &Error{Kind: KindTimeout}
	ErrNoResponders        = &Error{Kind: KindNoResponders}
	ErrStreamNotFound      = &Error{Kind: KindNotFound, Text: "no stream matches subject"}
	ErrConsumerNotFound    = &Error{Kind: KindNotFound, Text: "consumer not found"}
	ErrNotBound            = &Error{Kind: KindIllegalState, Text: "message is not bound to a subscription"}
	ErrNotJSMessage        = &Error{Kind: KindIllegalState, Text: "message is not a JetStream message"}
	ErrInvalidSubscription = &Error{Kind: KindInvalidSubscription, Text: "invalid subscription"}
	ErrNotPullSubscription = &Error{Kind: KindInvalidSubscription, Text: "subscription is not a pull subscription"}
	ErrMismatch            = &Error{Kind: KindMismatch}
	ErrConnection          = &Error{Kind: KindConnectionError}
	ErrMissedHeartbeat     = &Error{Kind: KindMissedHeartbeat, Text: "missed heartbeat"}
	ErrPubAckNotFound      = &Error{Kind: KindNotFound, Text: "no pending publishes"}
	ErrQueueNoFlowControl  = &Error{Kind: KindInvalidArgument, Text: "queue subscriptions cannot request flow control or heartbeats"}
)

// errStalled describes a publish that timed out waiting for pending
// in-flight publishes to drain below MaxPending.
func errStalled(pending, max int, wait time.Duration) *Error {
	return newError(KindTimeout, "stalled waiting for %s outstanding publishes to drop below %s after %s",
		humanize.Comma(int64(pending)), humanize.Comma(int64(max)), wait)
}

// errServer wraps a server-reported API error, carrying its numeric code.
func errServer(code int, description string) *Error {
	return &Error{Kind: KindServerError, Code: code, Text: description}
}

// IsNotFoundErr reports whether err (however wrapped) represents a
// not-found condition, the one classification subscribe.go and fetch.go
// need to branch on beyond plain errors.Is comparisons.
func IsNotFoundErr(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindNotFound
	}
	return false
}
