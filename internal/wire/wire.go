/*
Copyright 2024 Tally Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package wire encodes transaction events in the protocol buffers wire format.
//
// The message layout is
//
//	message TransactionEvent {
//	  int64  account_id  = 1;
//	  double amount      = 2;
//	  string type        = 3;
//	  string description = 4;
//	  string timestamp   = 5;
//	}
package wire

import (
	"errors"
	"math"
	"unicode/utf8"

	pkgerrors "github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/tallyfinance/tally/model"
)

const (
	fieldAccountID   protowire.Number = 1
	fieldAmount      protowire.Number = 2
	fieldType        protowire.Number = 3
	fieldDescription protowire.Number = 4
	fieldTimestamp   protowire.Number = 5
)

var ErrMalformed = errors.New("malformed transaction event")

// Marshal encodes event. Zero values are omitted like any proto3 scalar.
func Marshal(event model.TransactionEvent) []byte {
	var b []byte
	if event.AccountID != 0 {
		b = protowire.AppendTag(b, fieldAccountID, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(event.AccountID))
	}
	if bits := math.Float64bits(event.Amount); bits != 0 {
		b = protowire.AppendTag(b, fieldAmount, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, bits)
	}
	b = appendString(b, fieldType, string(event.Type))
	b = appendString(b, fieldDescription, event.Description)
	b = appendString(b, fieldTimestamp, event.Timestamp)
	return b
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

// Unmarshal decodes a TransactionEvent. Unknown fields are skipped; truncated input,
// a known field with the wrong wire type and invalid UTF-8 strings are rejected.
func Unmarshal(b []byte) (model.TransactionEvent, error) {
	var event model.TransactionEvent
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return model.TransactionEvent{}, malformed(protowire.ParseError(n), "tag")
		}
		b = b[n:]

		switch num {
		case fieldAccountID:
			if typ != protowire.VarintType {
				return model.TransactionEvent{}, wrongType(num)
			}
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return model.TransactionEvent{}, malformed(protowire.ParseError(n), "account_id")
			}
			event.AccountID = int64(v)
			b = b[n:]
		case fieldAmount:
			if typ != protowire.Fixed64Type {
				return model.TransactionEvent{}, wrongType(num)
			}
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return model.TransactionEvent{}, malformed(protowire.ParseError(n), "amount")
			}
			event.Amount = math.Float64frombits(v)
			b = b[n:]
		case fieldType, fieldDescription, fieldTimestamp:
			if typ != protowire.BytesType {
				return model.TransactionEvent{}, wrongType(num)
			}
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return model.TransactionEvent{}, malformed(protowire.ParseError(n), "string field")
			}
			if !utf8.ValidString(v) {
				return model.TransactionEvent{}, pkgerrors.Wrapf(ErrMalformed, "field %d is not valid UTF-8", num)
			}
			switch num {
			case fieldType:
				event.Type = model.TransactionType(v)
			case fieldDescription:
				event.Description = v
			default:
				event.Timestamp = v
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return model.TransactionEvent{}, malformed(protowire.ParseError(n), "unknown field")
			}
			b = b[n:]
		}
	}
	return event, nil
}

func malformed(cause error, what string) error {
	return pkgerrors.Wrapf(ErrMalformed, "%s: %v", what, cause)
}

func wrongType(num protowire.Number) error {
	return pkgerrors.Wrapf(ErrMalformed, "field %d has an unexpected wire type", num)
}
