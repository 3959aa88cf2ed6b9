// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
)

// DecodeJSON unmarshals one JSON document into value. Numbers decoded
// into interface values become json.Number so integers beyond 2^53
// keep every digit across a round trip.
func DecodeJSON(data []byte, value any) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(value); err != nil {
		return err
	}
	if decoder.More() && decoder.InputOffset() < int64(len(data)) {
		return fmt.Errorf("unexpected data after JSON document at offset %d", decoder.InputOffset())
	}
	return nil
}
