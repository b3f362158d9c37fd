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

// Package api holds the wire types exchanged with the administrative
// request/reply surface (stream/consumer management). The core context
// treats every call through this surface as an opaque JSON request/reply;
// these types exist so both sides of that boundary agree on shape.
package api

import "time"

// ApiError is the error envelope the server embeds in a JSON response
// whenever a request could not be completed.
type ApiError struct {
	Code        int    `json:"code"`
	ErrCode     uint16 `json:"err_code,omitempty"`
	Description string `json:"description,omitempty"`
}

func (e *ApiError) Error() string {
	if e == nil {
		return ""
	}
	return e.Description
}

// JSApiResponse is embedded in every administrative response envelope.
type JSApiResponse struct {
	Type  string    `json:"type,omitempty"`
	Error *ApiError `json:"error,omitempty"`
}

// IsError reports whether the response carries a server-side error object.
func (r JSApiResponse) IsError() bool {
	return r.Error != nil
}

// DeliverPolicy controls where in a stream a consumer starts delivering.
// The zero value is intentionally not "valid"; -1 below is the sentinel
// used by callers to mean "unset / don't care"; enum fields distinguish "not
// provided" from a real value.
type DeliverPolicy int

const (
	DeliverPolicyUnset DeliverPolicy = iota - 1
	DeliverAll
	DeliverLast
	DeliverNew
	DeliverByStartSequence
	DeliverByStartTime
	DeliverLastPerSubject
)

func (p DeliverPolicy) MarshalJSON() ([]byte, error) {
	switch p {
	case DeliverAll:
		return []byte(`"all"`), nil
	case DeliverLast:
		return []byte(`"last"`), nil
	case DeliverNew:
		return []byte(`"new"`), nil
	case DeliverByStartSequence:
		return []byte(`"by_start_sequence"`), nil
	case DeliverByStartTime:
		return []byte(`"by_start_time"`), nil
	case DeliverLastPerSubject:
		return []byte(`"last_per_subject"`), nil
	default:
		return []byte(`"all"`), nil
	}
}

func (p *DeliverPolicy) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"all"`, `""`:
		*p = DeliverAll
	case `"last"`:
		*p = DeliverLast
	case `"new"`:
		*p = DeliverNew
	case `"by_start_sequence"`:
		*p = DeliverByStartSequence
	case `"by_start_time"`:
		*p = DeliverByStartTime
	case `"last_per_subject"`:
		*p = DeliverLastPerSubject
	default:
		*p = DeliverAll
	}
	return nil
}

// AckPolicy controls what acknowledgement model a consumer uses.
type AckPolicy int

const (
	AckPolicyUnset AckPolicy = iota - 1
	AckNone
	AckAll
	AckExplicit
)

func (p AckPolicy) MarshalJSON() ([]byte, error) {
	switch p {
	case AckNone:
		return []byte(`"none"`), nil
	case AckAll:
		return []byte(`"all"`), nil
	default:
		return []byte(`"explicit"`), nil
	}
}

func (p *AckPolicy) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"none"`:
		*p = AckNone
	case `"all"`:
		*p = AckAll
	default:
		*p = AckExplicit
	}
	return nil
}

// ReplayPolicy controls the rate at which historical messages are replayed.
type ReplayPolicy int

const (
	ReplayPolicyUnset ReplayPolicy = iota - 1
	ReplayInstant
	ReplayOriginal
)

func (p ReplayPolicy) MarshalJSON() ([]byte, error) {
	if p == ReplayOriginal {
		return []byte(`"original"`), nil
	}
	return []byte(`"instant"`), nil
}

func (p *ReplayPolicy) UnmarshalJSON(data []byte) error {
	if string(data) == `"original"` {
		*p = ReplayOriginal
	} else {
		*p = ReplayInstant
	}
	return nil
}

// ConsumerConfig is the subset of server-understood consumer fields the
// core needs to create, diff and describe consumers.
type ConsumerConfig struct {
	Name               string            `json:"name,omitempty"`
	Durable            string            `json:"durable_name,omitempty"`
	Description        string            `json:"description,omitempty"`
	DeliverPolicy      DeliverPolicy     `json:"deliver_policy"`
	OptStartSeq        uint64            `json:"opt_start_seq,omitempty"`
	OptStartTime       *time.Time        `json:"opt_start_time,omitempty"`
	AckPolicy          AckPolicy         `json:"ack_policy"`
	AckWait            time.Duration     `json:"ack_wait,omitempty"`
	MaxDeliver         int               `json:"max_deliver,omitempty"`
	BackOff            []time.Duration   `json:"backoff,omitempty"`
	FilterSubject      string            `json:"filter_subject,omitempty"`
	FilterSubjects     []string          `json:"filter_subjects,omitempty"`
	ReplayPolicy       ReplayPolicy      `json:"replay_policy"`
	RateLimit          uint64            `json:"rate_limit_bps,omitempty"`
	SampleFrequency    string            `json:"sample_freq,omitempty"`
	MaxWaiting         int               `json:"max_waiting,omitempty"`
	MaxAckPending      int               `json:"max_ack_pending,omitempty"`
	FlowControl        bool              `json:"flow_control,omitempty"`
	Heartbeat          time.Duration     `json:"idle_heartbeat,omitempty"`
	HeadersOnly        bool              `json:"headers_only,omitempty"`
	DeliverSubject     string            `json:"deliver_subject,omitempty"`
	DeliverGroup       string            `json:"deliver_group,omitempty"`
	MaxRequestBatch    int               `json:"max_batch,omitempty"`
	MaxRequestExpires  time.Duration     `json:"max_expires,omitempty"`
	MaxRequestMaxBytes int               `json:"max_bytes,omitempty"`
	InactiveThreshold  time.Duration     `json:"inactive_threshold,omitempty"`
	Replicas           int               `json:"num_replicas,omitempty"`
	MemoryStorage      bool              `json:"mem_storage,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// SequenceInfo pairs a consumer sequence with its corresponding stream
// sequence, as reported in delivered/ack-floor fields of ConsumerInfo.
type SequenceInfo struct {
	Consumer uint64     `json:"consumer_seq"`
	Stream   uint64     `json:"stream_seq"`
	Last     *time.Time `json:"last_active,omitempty"`
}

// ConsumerInfo is the full server-reported state of a consumer, returned
// by create/info/list calls.
type ConsumerInfo struct {
	Stream         string         `json:"stream_name"`
	Name           string         `json:"name"`
	Created        time.Time      `json:"created"`
	Config         ConsumerConfig `json:"config"`
	Delivered      SequenceInfo   `json:"delivered"`
	AckFloor       SequenceInfo   `json:"ack_floor"`
	NumAckPending  int            `json:"num_ack_pending"`
	NumRedelivered int            `json:"num_redelivered"`
	NumWaiting     int            `json:"num_waiting"`
	NumPending     uint64         `json:"num_pending"`
	Cluster        *ClusterInfo   `json:"cluster,omitempty"`
	PushBound      bool           `json:"push_bound,omitempty"`
}

// JSApiConsumerCreateRequest is the request body for consumer create/update.
type JSApiConsumerCreateRequest struct {
	Stream string         `json:"stream_name"`
	Config ConsumerConfig `json:"config"`
	Action string         `json:"action,omitempty"`
}

// JSApiConsumerInfoResponse wraps a consumer info/create/update reply.
type JSApiConsumerInfoResponse struct {
	JSApiResponse
	*ConsumerInfo
}

// JSApiConsumerDeleteResponse is the reply to a consumer delete call.
type JSApiConsumerDeleteResponse struct {
	JSApiResponse
	Success bool `json:"success,omitempty"`
}

// JSApiConsumerGetNextRequest is the pull-mode batch fetch request body.
type JSApiConsumerGetNextRequest struct {
	Expires  time.Duration `json:"expires,omitempty"`
	Batch    int           `json:"batch,omitempty"`
	NoWait   bool          `json:"no_wait,omitempty"`
	MaxBytes int           `json:"max_bytes,omitempty"`
}

// JSApiStreamNamesRequest looks up the stream(s) whose subject filter
// covers a given subject.
type JSApiStreamNamesRequest struct {
	Subject string `json:"subject,omitempty"`
}

// JSApiStreamNamesResponse is the reply to a stream-names lookup.
type JSApiStreamNamesResponse struct {
	JSApiResponse
	Streams []string `json:"streams,omitempty"`
	Total   int      `json:"total"`
	Offset  int      `json:"offset"`
	Limit   int      `json:"limit"`
}

// JSApiStreamPurgeRequest requests that matching messages be purged from
// a stream.
type JSApiStreamPurgeRequest struct {
	Subject  string `json:"filter,omitempty"`
	Sequence uint64 `json:"seq,omitempty"`
	Keep     uint64 `json:"keep,omitempty"`
}

// JSApiStreamPurgeResponse is the reply to a stream purge call.
type JSApiStreamPurgeResponse struct {
	JSApiResponse
	Success bool   `json:"success,omitempty"`
	Purged  uint64 `json:"purged"`
}

// JSApiStreamInfoRequest requests stream state/config, optionally
// including details about deleted messages.
type JSApiStreamInfoRequest struct {
	DeletedDetails bool `json:"deleted_details,omitempty"`
}

// StreamConfig is the subset of a stream's configuration the core needs
// to report back from an info call; stream creation itself stays outside
// this library.
type StreamConfig struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Subjects    []string      `json:"subjects,omitempty"`
	Retention   string        `json:"retention"`
	MaxMsgs     int64         `json:"max_msgs"`
	MaxBytes    int64         `json:"max_bytes"`
	MaxAge      time.Duration `json:"max_age"`
	Storage     string        `json:"storage"`
	Replicas    int           `json:"num_replicas"`
}

// StreamState is the server-reported message accounting for a stream.
// Deleted is only populated when the info request asked for deleted
// details.
type StreamState struct {
	Msgs        uint64    `json:"messages"`
	Bytes       uint64    `json:"bytes"`
	FirstSeq    uint64    `json:"first_seq"`
	FirstTime   time.Time `json:"first_ts"`
	LastSeq     uint64    `json:"last_seq"`
	LastTime    time.Time `json:"last_ts"`
	NumDeleted  int       `json:"num_deleted,omitempty"`
	Deleted     []uint64  `json:"deleted,omitempty"`
	NumSubjects int       `json:"num_subjects,omitempty"`
	Consumers   int       `json:"consumer_count"`
}

// StreamInfo is the full server-reported state of a stream.
type StreamInfo struct {
	Config  StreamConfig `json:"config"`
	Created time.Time    `json:"created"`
	State   StreamState  `json:"state"`
	Cluster *ClusterInfo `json:"cluster,omitempty"`
}

// JSApiStreamInfoResponse is the reply to a stream info call.
type JSApiStreamInfoResponse struct {
	JSApiResponse
	*StreamInfo
}
