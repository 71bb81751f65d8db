// Package telemetry maps probe reports onto flat measurement records
// for an external metrics pipeline.
//
// The mapping is lossless over a report's details: numeric and boolean
// leaves become fields, strings become tags, string slices join into
// one tag, and nested maps flatten with dotted keys. Key order is
// deterministic so repeated identical probes serialize identically.
package telemetry

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"fleetscan/internal/scan"
)

// Record is the telemetry shape consumed downstream
type Record struct {
	Measurement string             `json:"measurement"`
	Tags        map[string]string  `json:"tags"`
	Fields      map[string]float64 `json:"fields"`
	Timestamp   int64              `json:"timestamp"`
}

// FromReport converts one probe report into a record
func FromReport(rep scan.Report) Record {
	rec := Record{
		Measurement: "discovery." + rep.Prober,
		Tags: map[string]string{
			"address": rep.Target.Address,
			"prober":  rep.Prober,
			"service": rep.ServiceTag,
		},
		Fields: map[string]float64{
			"found":      boolField(rep.Result.Found),
			"elapsed_ms": float64(rep.Elapsed.Milliseconds()),
		},
		Timestamp: time.Now().Unix(),
	}
	flatten("", rep.Result.Details, rec.Tags, rec.Fields)
	return rec
}

// flatten walks a details map, splitting leaves into tags and fields
func flatten(prefix string, details map[string]any, tags map[string]string, fields map[string]float64) {
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch v := details[k].(type) {
		case string:
			tags[key] = v
		case bool:
			fields[key] = boolField(v)
		case int:
			fields[key] = float64(v)
		case int64:
			fields[key] = float64(v)
		case uint16:
			fields[key] = float64(v)
		case float64:
			fields[key] = v
		case []string:
			tags[key] = strings.Join(v, ",")
		case []int:
			parts := make([]string, len(v))
			for i, n := range v {
				parts[i] = fmt.Sprintf("%d", n)
			}
			tags[key] = strings.Join(parts, ",")
		case map[string]any:
			flatten(key, v, tags, fields)
		case []map[string]any:
			for i, item := range v {
				flatten(fmt.Sprintf("%s.%d", key, i), item, tags, fields)
			}
		default:
			tags[key] = fmt.Sprintf("%v", v)
		}
	}
}

func boolField(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
