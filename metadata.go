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
	"strings"
	"time"
)

const ackPrefix = "$JS.ACK."

// SequencePair pairs a consumer-delivery sequence with its stream
// sequence, as carried by an ack-reply subject.
type SequencePair struct {
	Stream   uint64
	Consumer uint64
}

// MsgMetadata is the decoded form of a delivered message's ack-reply
// subject.
type MsgMetadata struct {
	Domain       string
	Stream       string
	Consumer     string
	NumDelivered uint64
	Sequence     SequencePair
	Timestamp    time.Time
	NumPending   uint64
}

// parseNum parses a non-negative base-10 integer, returning -1 on any
// format error (empty string, non-digit, etc) rather than an error value.
func parseNum(s string) int64 {
	if s == "" {
		return -1
	}
	var n int64
	for _, r := range s {
		if r < '0' || r > '9' {
			return -1
		}
		n = n*10 + int64(r-'0')
	}
	return n
}

// parseAckMetadata parses an ack-reply subject into MsgMetadata, filling
// at most `want` output fields (1-8, in the order Domain, Stream,
// Consumer, NumDelivered, Sequence.Stream, Sequence.Consumer, Timestamp,
// NumPending) and ignoring the rest. want<=0 or want>8 means "fill everything".
func parseAckMetadata(reply string, want int) (*MsgMetadata, error) {
	if !strings.HasPrefix(reply, ackPrefix) {
		return nil, newError(KindIllegalState, "reply subject is not a JetStream ack subject: %q", reply)
	}
	if want <= 0 || want > 8 {
		want = 8
	}

	rest := reply[len(ackPrefix):]
	all := strings.Split(rest, ".")
	n := len(all)
	if n > 9 {
		n = 9
	}
	tokens := all[:n]

	var v2 [9]string
	switch n {
	case 7:
		// v1: promote by prepending two empty tokens (domain, accthash).
		copy(v2[2:], tokens)
	case 9:
		copy(v2[:], tokens)
	default:
		return nil, newError(KindIllegalState, "malformed ack metadata subject (got %d tokens): %q", n, reply)
	}

	md := &MsgMetadata{}
	fill := 0

	next := func() bool { fill++; return fill <= want }

	if !next() {
		return md, nil
	}
	domain := v2[0]
	if domain == "_" {
		domain = ""
	}
	md.Domain = domain

	if !next() {
		return md, nil
	}
	md.Stream = v2[2]

	if !next() {
		return md, nil
	}
	md.Consumer = v2[3]

	if !next() {
		return md, nil
	}
	delivered := parseNum(v2[4])
	if delivered < 0 {
		return nil, newError(KindIllegalState, "invalid delivered count in ack metadata: %q", v2[4])
	}
	md.NumDelivered = uint64(delivered)

	if !next() {
		return md, nil
	}
	sseq := parseNum(v2[5])
	if sseq < 0 {
		return nil, newError(KindIllegalState, "invalid stream sequence in ack metadata: %q", v2[5])
	}
	md.Sequence.Stream = uint64(sseq)

	if !next() {
		return md, nil
	}
	dseq := parseNum(v2[6])
	if dseq < 0 {
		return nil, newError(KindIllegalState, "invalid consumer sequence in ack metadata: %q", v2[6])
	}
	md.Sequence.Consumer = uint64(dseq)

	if !next() {
		return md, nil
	}
	ts := parseNum(v2[7])
	if ts < 0 {
		return nil, newError(KindIllegalState, "invalid timestamp in ack metadata: %q", v2[7])
	}
	md.Timestamp = time.Unix(0, ts)

	if !next() {
		return md, nil
	}
	pending := parseNum(v2[8])
	if pending < 0 {
		return nil, newError(KindIllegalState, "invalid pending count in ack metadata: %q", v2[8])
	}
	md.NumPending = uint64(pending)

	return md, nil
}

// Metadata decodes m's ack-reply subject in full. Returns ErrNotJSMessage
// if m has no reply subject.
func (m *Msg) Metadata() (*MsgMetadata, error) {
	if m.Reply == "" {
		return nil, ErrNotJSMessage
	}
	return parseAckMetadata(m.Reply, 8)
}
