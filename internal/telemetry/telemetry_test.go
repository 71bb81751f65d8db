package telemetry

import (
	"reflect"
	"testing"
	"time"

	"fleetscan/internal/probe"
	"fleetscan/internal/scan"
)

func TestFromReport(t *testing.T) {
	rep := scan.Report{
		Prober:     "ssdp",
		ServiceTag: "upnp",
		Target:     probe.Target{Address: "203.0.113.9", Port: 1900},
		Result: probe.Result{
			Found: true,
			Details: map[string]any{
				"locations":      []string{"http://203.0.113.9:80/desc.xml"},
				"location_count": 1,
			},
		},
		Elapsed: 1500 * time.Millisecond,
	}

	rec := FromReport(rep)

	if rec.Measurement != "discovery.ssdp" {
		t.Errorf("Measurement = %q", rec.Measurement)
	}
	wantTags := map[string]string{
		"address":   "203.0.113.9",
		"prober":    "ssdp",
		"service":   "upnp",
		"locations": "http://203.0.113.9:80/desc.xml",
	}
	if !reflect.DeepEqual(rec.Tags, wantTags) {
		t.Errorf("Tags = %v, want %v", rec.Tags, wantTags)
	}
	wantFields := map[string]float64{
		"found":          1,
		"elapsed_ms":     1500,
		"location_count": 1,
	}
	if !reflect.DeepEqual(rec.Fields, wantFields) {
		t.Errorf("Fields = %v, want %v", rec.Fields, wantFields)
	}
	if rec.Timestamp == 0 {
		t.Error("Timestamp not set")
	}
}

func TestFlatten_NestedStructures(t *testing.T) {
	details := map[string]any{
		"module":     "6ES7 315-2EH14-0AB0",
		"pdu_length": 960,
		"secure":     true,
		"rate":       0.5,
		"caps": map[string]any{
			"media": "http://10.0.0.5/media",
			"count": int64(2),
		},
		"queries": []map[string]any{
			{"result_code": "NOERROR", "rcode_value": 0},
			{"result_code": "NXDOMAIN", "rcode_value": 3},
		},
		"ports": []int{102, 443},
	}

	tags := map[string]string{}
	fields := map[string]float64{}
	flatten("", details, tags, fields)

	wantTags := map[string]string{
		"module":                "6ES7 315-2EH14-0AB0",
		"caps.media":            "http://10.0.0.5/media",
		"queries.0.result_code": "NOERROR",
		"queries.1.result_code": "NXDOMAIN",
		"ports":                 "102,443",
	}
	if !reflect.DeepEqual(tags, wantTags) {
		t.Errorf("tags = %v, want %v", tags, wantTags)
	}

	wantFields := map[string]float64{
		"pdu_length":            960,
		"secure":                1,
		"rate":                  0.5,
		"caps.count":            2,
		"queries.0.rcode_value": 0,
		"queries.1.rcode_value": 3,
	}
	if !reflect.DeepEqual(fields, wantFields) {
		t.Errorf("fields = %v, want %v", fields, wantFields)
	}
}

func TestFlatten_Deterministic(t *testing.T) {
	details := map[string]any{
		"c": "3", "a": "1", "b": "2",
		"nested": map[string]any{"y": 2, "x": 1},
	}

	for i := 0; i < 5; i++ {
		tags := map[string]string{}
		fields := map[string]float64{}
		flatten("", details, tags, fields)

		if len(tags) != 3 || len(fields) != 2 {
			t.Fatalf("run %d: tags=%v fields=%v", i, tags, fields)
		}
		if fields["nested.x"] != 1 || fields["nested.y"] != 2 {
			t.Errorf("run %d: nested fields = %v", i, fields)
		}
	}
}
