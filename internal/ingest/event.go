// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package ingest consumes telemetry streams: it decodes inbound events,
// applies the per-device admission gate, and writes the surviving rows
// durably before acknowledging upstream.
package ingest

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/hydrosense/pipeline/internal/store"
)

type (
	// Event is a decoded telemetry event: one gateway report carrying the
	// readings of one or more devices.
	Event struct {
		GroupName    string
		ParentTS     int64
		ParentTSMsec int64
		Devices      []DeviceReadings
	}

	// DeviceReadings holds the flattened raw rows for one device within an
	// event.
	DeviceReadings struct {
		DeviceID string
		Rows     []store.RawRow
	}

	eventPayload struct {
		Timestamp     int64                      `json:"timestamp"`
		TimestampMsec int64                      `json:"timestampMsec"`
		GroupName     string                     `json:"group_name"`
		Values        map[string]json.RawMessage `json:"values"`
	}

	measureReading struct {
		RawData       *float64 `json:"raw_data"`
		Status        *int32   `json:"status"`
		Timestamp     int64    `json:"timestamp"`
		TimestampMsec int64    `json:"timestampMsec"`
	}
)

// DecodeEvent parses a raw event payload. An event whose top-level values
// field is not an object of objects is rejected with an error; a device
// entry of the wrong shape is skipped without failing the event. Devices
// are returned in a stable order.
func DecodeEvent(payload []byte) (Event, error) {
	var p eventPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if p.Values == nil {
		return Event{}, fmt.Errorf("decode event: missing values object")
	}

	ev := Event{
		GroupName:    p.GroupName,
		ParentTS:     p.Timestamp,
		ParentTSMsec: p.TimestampMsec,
	}

	for deviceID, raw := range p.Values {
		var measures map[string]measureReading
		if err := json.Unmarshal(raw, &measures); err != nil {
			// Wrong shape for this device only; drop it, keep the event.
			continue
		}

		dr := DeviceReadings{DeviceID: deviceID}
		for name, m := range measures {
			dr.Rows = append(dr.Rows, store.RawRow{
				DeviceID:      deviceID,
				GroupName:     p.GroupName,
				ParentTS:      p.Timestamp,
				ParentTSMsec:  p.TimestampMsec,
				MeasureName:   name,
				RawValue:      m.RawData,
				Status:        m.Status,
				MeasureTS:     m.Timestamp,
				MeasureTSMsec: m.TimestampMsec,
			})
		}
		sort.Slice(dr.Rows, func(i, j int) bool {
			return dr.Rows[i].MeasureName < dr.Rows[j].MeasureName
		})
		ev.Devices = append(ev.Devices, dr)
	}

	sort.Slice(ev.Devices, func(i, j int) bool {
		return ev.Devices[i].DeviceID < ev.Devices[j].DeviceID
	})
	return ev, nil
}
