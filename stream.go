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

	"github.com/nats-io/jscore/api"
)

// StreamInfo fetches the server-reported state of a stream. Deleted-message
// details are requested when the context's Stream.Info.DeletedDetails
// default is set.
func (c *Context) StreamInfo(stream string) (*api.StreamInfo, error) {
	if stream == "" {
		return nil, newError(KindInvalidArgument, "stream name required")
	}

	var data []byte
	if c.opts.Stream.Info.DeletedDetails {
		var err error
		data, err = json.Marshal(api.JSApiStreamInfoRequest{DeletedDetails: true})
		if err != nil {
			return nil, wrapError(KindInvalidArgument, err)
		}
	}

	resp, err := c.request(c.prefix+".STREAM.INFO."+stream, data)
	if err != nil {
		return nil, err
	}
	var out api.JSApiStreamInfoResponse
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return nil, wrapError(KindServerError, err)
	}
	if out.IsError() {
		if out.Error.Code == 404 {
			return nil, ErrStreamNotFound
		}
		return nil, errServer(out.Error.Code, out.Error.Description)
	}
	return out.StreamInfo, nil
}

// PurgeStream removes messages from a stream. A nil opts purges with the
// context's Stream.Purge defaults; a non-nil opts with any field set
// replaces those defaults as a whole.
func (c *Context) PurgeStream(stream string, opts *PurgeDefaults) (uint64, error) {
	if stream == "" {
		return 0, newError(KindInvalidArgument, "stream name required")
	}

	purge := c.opts.effectivePurge(opts)
	var data []byte
	if purge.Subject != "" || purge.Sequence != 0 || purge.Keep != 0 {
		if purge.Sequence != 0 && purge.Keep != 0 {
			return 0, newError(KindInvalidArgument, "Sequence and Keep are mutually exclusive")
		}
		var err error
		data, err = json.Marshal(api.JSApiStreamPurgeRequest{
			Subject:  purge.Subject,
			Sequence: purge.Sequence,
			Keep:     purge.Keep,
		})
		if err != nil {
			return 0, wrapError(KindInvalidArgument, err)
		}
	}

	resp, err := c.request(c.prefix+".STREAM.PURGE."+stream, data)
	if err != nil {
		return 0, err
	}
	var out api.JSApiStreamPurgeResponse
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return 0, wrapError(KindServerError, err)
	}
	if out.IsError() {
		if out.Error.Code == 404 {
			return 0, ErrStreamNotFound
		}
		return 0, errServer(out.Error.Code, out.Error.Description)
	}
	return out.Purged, nil
}
