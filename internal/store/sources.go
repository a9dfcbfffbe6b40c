// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package store

import (
	"context"
	"fmt"
)

// Source is one upstream telemetry feed: an MQTT broker plus the topic its
// devices publish on. One stream consumer runs per enabled source.
type Source struct {
	ID        int64
	Name      string
	BrokerURL string
	Topic     string
}

// Sources returns the enabled telemetry sources.
func (s *Store) Sources(ctx context.Context) ([]Source, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, broker_url, topic
		FROM hydro.sources
		WHERE enabled
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()

	var out []Source
	for rows.Next() {
		var src Source
		if err := rows.Scan(&src.ID, &src.Name, &src.BrokerURL, &src.Topic); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read sources: %w", err)
	}
	return out, nil
}
