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

	"github.com/nats-io/jscore/api"
	"github.com/nats-io/nats.go"
)

// The administrative API surface (AddConsumer, GetConsumerInfo,
// DeleteConsumer, Streams lookup) is invoked as opaque request/reply
// calls, with no caching beyond what a single Subscribe call needs. This file is that thin invocation layer;
// the discoverable-option admin surface used to build a ConsumerConfig
// lives in package jsadmin.

func (c *Context) request(subject string, data []byte) (*nats.Msg, error) {
	resp, err := c.nc.RequestMsg(&nats.Msg{Subject: subject, Data: data}, c.opts.Wait)
	if err != nil {
		if isNoResponders(err) {
			return nil, ErrNoResponders
		}
		return nil, classifyTransportErr(err)
	}
	return resp, nil
}

// lookupStreamBySubject finds the single stream whose subject filter
// covers subject.
func (c *Context) lookupStreamBySubject(subject string) (string, error) {
	req, err := json.Marshal(api.JSApiStreamNamesRequest{Subject: subject})
	if err != nil {
		return "", wrapError(KindInvalidArgument, err)
	}
	resp, err := c.request(c.prefix+".STREAM.NAMES", req)
	if err != nil {
		return "", err
	}
	var out api.JSApiStreamNamesResponse
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return "", wrapError(KindServerError, err)
	}
	if out.IsError() {
		return "", errServer(out.Error.Code, out.Error.Description)
	}
	if len(out.Streams) == 0 {
		return "", ErrStreamNotFound
	}
	return out.Streams[0], nil
}

func (c *Context) getConsumerInfo(stream, consumer string) (*api.ConsumerInfo, error) {
	subject := c.prefix + ".CONSUMER.INFO." + stream + "." + consumer
	resp, err := c.request(subject, nil)
	if err != nil {
		return nil, err
	}
	var out api.JSApiConsumerInfoResponse
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return nil, wrapError(KindServerError, err)
	}
	if out.IsError() {
		if out.Error.Code == 404 {
			return nil, ErrConsumerNotFound
		}
		return nil, errServer(out.Error.Code, out.Error.Description)
	}
	return out.ConsumerInfo, nil
}

func (c *Context) addConsumer(stream string, cfg api.ConsumerConfig) (*api.ConsumerInfo, error) {
	req, err := json.Marshal(api.JSApiConsumerCreateRequest{Stream: stream, Config: cfg})
	if err != nil {
		return nil, wrapError(KindInvalidArgument, err)
	}
	subject := c.prefix + ".CONSUMER.CREATE." + stream
	if cfg.Durable != "" {
		subject = c.prefix + ".CONSUMER.DURABLE.CREATE." + stream + "." + cfg.Durable
	}
	resp, err := c.request(subject, req)
	if err != nil {
		return nil, err
	}
	var out api.JSApiConsumerInfoResponse
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return nil, wrapError(KindServerError, err)
	}
	if out.IsError() {
		return nil, errServer(out.Error.Code, out.Error.Description)
	}
	return out.ConsumerInfo, nil
}

func (c *Context) deleteConsumer(stream, consumer string) error {
	subject := c.prefix + ".CONSUMER.DELETE." + stream + "." + consumer
	resp, err := c.request(subject, nil)
	if err != nil {
		return err
	}
	var out api.JSApiConsumerDeleteResponse
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return wrapError(KindServerError, err)
	}
	if out.IsError() {
		return errServer(out.Error.Code, out.Error.Description)
	}
	return nil
}

// isConsumerExistsErr reports whether err represents the server's
// "consumer name already in use" creation race,
// classified by description since the exact err_code varies across server
// versions.
// isNotEnabledErr reports whether err is the server's "jetstream not
// enabled" response, classified by description like isConsumerExistsErr
// below.
func isNotEnabledErr(err error) bool {
	var e *Error
	if !errors.As(err, &e) || e.Kind != KindServerError {
		return false
	}
	return strings.Contains(strings.ToLower(e.Text), "not enabled")
}

func isConsumerExistsErr(err error) bool {
	var e *Error
	if !errors.As(err, &e) || e.Kind != KindServerError {
		return false
	}
	desc := strings.ToLower(e.Text)
	return strings.Contains(desc, "already in use") || strings.Contains(desc, "already exists") ||
		strings.Contains(desc, "consumer name exist") || strings.Contains(desc, "active existing")
}
