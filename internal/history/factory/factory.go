package factory

import (
	"errors"
	"fmt"
	"strings"

	"github.com/loykin/mcconsole/internal/config"
	"github.com/loykin/mcconsole/internal/history"
	"github.com/loykin/mcconsole/internal/history/clickhouse"
	"github.com/loykin/mcconsole/internal/history/opensearch"
)

// NewSink creates an analytics sink from a config entry.
func NewSink(sc config.SinkConfig) (history.Sink, error) {
	switch strings.ToLower(strings.TrimSpace(sc.Type)) {
	case "opensearch", "elasticsearch":
		if sc.URL == "" {
			return nil, errors.New("opensearch sink requires url")
		}
		index := sc.Index
		if index == "" {
			index = "mcconsole-events"
		}
		return opensearch.New(sc.URL, index), nil
	case "clickhouse":
		if sc.DSN == "" {
			return nil, errors.New("clickhouse sink requires dsn")
		}
		table := sc.Table
		if table == "" {
			table = "mcconsole_events"
		}
		return clickhouse.New(sc.DSN, table)
	default:
		return nil, fmt.Errorf("unsupported sink type: %s", sc.Type)
	}
}

// NewSinks builds every configured sink; it fails on the first bad entry.
func NewSinks(entries []config.SinkConfig) ([]history.Sink, error) {
	var sinks []history.Sink
	for _, sc := range entries {
		s, err := NewSink(sc)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}
