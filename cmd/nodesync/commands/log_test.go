package commands

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nodesync/nodesync-go/pkg/log"
)

func createTestLogFile(t *testing.T, events []log.Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test"+log.FileExtension)

	logger, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("failed to close logger: %v", err)
	}
	return path
}

func sessionEvents() []log.Event {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	code := 1000
	return []log.Event{
		{
			Timestamp: ts, ConnectionID: "0f6c1d2e-aaaa-bbbb", Direction: log.DirectionOut,
			Layer: log.LayerTransport, Category: log.CategoryState, RemoteAddr: "ws://hub/ws",
			StateChange: &log.StateChangeEvent{Entity: log.StateEntityConnection, OldState: "CONNECTING", NewState: "CONNECTED"},
		},
		{
			Timestamp: ts.Add(time.Millisecond), Layer: log.LayerStore, Category: log.CategorySnapshot,
			Snapshot: &log.SnapshotEvent{Cause: "fetch", Loading: true},
		},
		{
			Timestamp: ts.Add(2 * time.Millisecond), ConnectionID: "0f6c1d2e-aaaa-bbbb", Direction: log.DirectionOut,
			Layer: log.LayerWire, Category: log.CategoryMessage,
			Message: &log.MessageEvent{Topic: "get-nodes", Codec: "json"},
		},
		{
			Timestamp: ts.Add(3 * time.Millisecond), ConnectionID: "0f6c1d2e-aaaa-bbbb", Direction: log.DirectionIn,
			Layer: log.LayerTransport, Category: log.CategoryMessage,
			Frame: log.NewFrameEvent([]byte(`{"topic":"nodes"}`), false),
		},
		{
			Timestamp: ts.Add(4 * time.Millisecond), ConnectionID: "0f6c1d2e-aaaa-bbbb", Direction: log.DirectionIn,
			Layer: log.LayerWire, Category: log.CategoryMessage,
			Message: &log.MessageEvent{Topic: "nodes", PayloadSize: 812, Codec: "json"},
		},
		{
			Timestamp: ts.Add(5 * time.Millisecond), Layer: log.LayerStore, Category: log.CategorySnapshot,
			Snapshot: &log.SnapshotEvent{Cause: "nodes", Nodes: 3},
		},
		{
			Timestamp: ts.Add(6 * time.Millisecond), Direction: log.DirectionOut,
			Layer: log.LayerWire, Category: log.CategoryMessage,
			Message: &log.MessageEvent{Topic: "toggle-node", NodeID: "1:4", PayloadSize: 24, Buffered: true, Codec: "json"},
		},
		{
			Timestamp: ts.Add(7 * time.Millisecond), ConnectionID: "0f6c1d2e-aaaa-bbbb", Direction: log.DirectionIn,
			Layer: log.LayerTransport, Category: log.CategoryControl,
			ControlMsg: &log.ControlMsgEvent{Type: log.ControlMsgClose, CloseCode: &code},
		},
		{
			Timestamp: ts.Add(8 * time.Millisecond), ConnectionID: "0f6c1d2e-aaaa-bbbb", Direction: log.DirectionIn,
			Layer: log.LayerTransport, Category: log.CategoryError,
			Error: &log.ErrorEventData{Layer: log.LayerTransport, Message: "unexpected EOF", Context: "read"},
		},
	}
}

func TestViewFormatsAllEventKinds(t *testing.T) {
	path := createTestLogFile(t, sessionEvents())

	var buf bytes.Buffer
	if err := RunView(path, ViewFilter{}, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"2026-03-14T09:26:53.000000Z [conn:0f6c1d2e] OUT TRANSPORT State",
		"CONNECTING -> CONNECTED",
		"[conn:-]",
		"WIRE get-nodes",
		`Data: {"topic":"nodes"}`,
		"Payload: 812 bytes (json)",
		"Cause: nodes",
		"Nodes: 3",
		"Loading: true",
		"Node: 1:4",
		"Buffered: waiting for connection",
		"CTRL CLOSE",
		"Code: 1000",
		"Message: unexpected EOF",
		"Context: read",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}
}

func TestViewFilters(t *testing.T) {
	path := createTestLogFile(t, sessionEvents())

	store := log.LayerStore
	out := log.DirectionOut
	msg := log.CategoryMessage

	tests := []struct {
		name   string
		filter ViewFilter
		events int
	}{
		{"none", ViewFilter{}, 9},
		{"store layer", ViewFilter{Layer: &store}, 2},
		{"outgoing messages", ViewFilter{Direction: &out, Category: &msg}, 2},
		{"topic", ViewFilter{Topic: "nodes"}, 1},
		{"node", ViewFilter{NodeID: "1:4"}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := RunView(path, tt.filter, &buf); err != nil {
				t.Fatalf("RunView failed: %v", err)
			}
			// Every event ends with a blank line.
			got := strings.Count(buf.String(), "\n\n")
			if got != tt.events {
				t.Errorf("expected %d events, got %d\n%s", tt.events, got, buf.String())
			}
		})
	}
}

func TestViewMissingFile(t *testing.T) {
	err := RunView(filepath.Join(t.TempDir(), "missing.nlog"), ViewFilter{}, io.Discard)
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestParseEventFlags(t *testing.T) {
	f, err := parseEventFlags("STORE", "in", "Snapshot")
	if err != nil {
		t.Fatalf("parseEventFlags failed: %v", err)
	}
	if *f.Layer != log.LayerStore || *f.Direction != log.DirectionIn || *f.Category != log.CategorySnapshot {
		t.Errorf("unexpected filter: %+v", f)
	}

	for _, args := range [][3]string{
		{"service", "", ""},
		{"", "both", ""},
		{"", "", "frame"},
	} {
		if _, err := parseEventFlags(args[0], args[1], args[2]); err == nil {
			t.Errorf("expected error for %v", args)
		}
	}
}

func TestStats(t *testing.T) {
	path := createTestLogFile(t, sessionEvents())

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"Total Events: 9",
		"TRANSPORT:   4",
		"WIRE:        3",
		"STORE:       2",
		"SNAPSHOT:    2",
		"get-nodes:     1",
		"toggle-node:   1",
		"(1 buffered while offline)",
		"Connections: 1",
		"[0f6c1d2e] 6 events, 2 messages",
		"Remote: ws://hub/ws",
		"Snapshots: 2 (last: nodes, 3 nodes)",
		"Errors: 1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}
}

func TestStatsEmptyFile(t *testing.T) {
	path := createTestLogFile(t, nil)

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}
	if !strings.Contains(buf.String(), "Total Events: 0") {
		t.Errorf("unexpected output:\n%s", buf.String())
	}
	if strings.Contains(buf.String(), "Time Range") {
		t.Error("empty file should not print a time range")
	}
}

func TestExportJSONL(t *testing.T) {
	path := createTestLogFile(t, sessionEvents())

	var buf bytes.Buffer
	if err := RunExport(path, "jsonl", "", &buf); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 9 {
		t.Fatalf("expected 9 lines, got %d", len(lines))
	}

	var ev log.Event
	if err := json.Unmarshal([]byte(lines[4]), &ev); err != nil {
		t.Fatalf("line 5 is not an event: %v", err)
	}
	if ev.Message == nil || ev.Message.Topic != "nodes" || ev.Message.PayloadSize != 812 {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestExportCSV(t *testing.T) {
	path := createTestLogFile(t, sessionEvents())
	outPath := filepath.Join(t.TempDir(), "out.csv")

	if err := RunExport(path, "csv", outPath, io.Discard); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}

	f, err := os.Open(outPath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("invalid csv: %v", err)
	}
	if len(rows) != 10 {
		t.Fatalf("expected header plus 9 rows, got %d", len(rows))
	}
	if strings.Join(rows[0], ",") != strings.Join(csvHeader, ",") {
		t.Errorf("unexpected header: %v", rows[0])
	}

	toggle := rows[7]
	if toggle[5] != "message" || toggle[6] != "toggle-node" || toggle[7] != "1:4" || toggle[9] != "buffered" {
		t.Errorf("unexpected toggle row: %v", toggle)
	}
	snapshot := rows[6]
	if snapshot[5] != "snapshot" || snapshot[6] != "nodes" || snapshot[8] != "3" {
		t.Errorf("unexpected snapshot row: %v", snapshot)
	}
}

func TestExportUnknownFormat(t *testing.T) {
	path := createTestLogFile(t, sessionEvents())
	if err := RunExport(path, "xml", "", io.Discard); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestFilter(t *testing.T) {
	path := createTestLogFile(t, sessionEvents())
	outPath := filepath.Join(t.TempDir(), "filtered"+log.FileExtension)

	n, err := RunFilter(path, FilterOptions{
		Output:    outPath,
		ConnID:    "0f6c1d2e-aaaa-bbbb",
		Layer:     "transport",
		TimeStart: "2026-03-14T09:26:53Z",
	})
	if err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}
	if n != 4 {
		t.Errorf("expected 4 events, got %d", n)
	}

	reader, err := log.NewReader(outPath)
	if err != nil {
		t.Fatalf("failed to open output: %v", err)
	}
	defer reader.Close()

	count := 0
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("failed to read event: %v", err)
		}
		if event.Layer != log.LayerTransport {
			t.Errorf("expected transport layer, got %s", event.Layer)
		}
		count++
	}
	if count != n {
		t.Errorf("file holds %d events, reported %d", count, n)
	}
}

func TestFilterErrors(t *testing.T) {
	path := createTestLogFile(t, sessionEvents())
	out := filepath.Join(t.TempDir(), "out.nlog")

	tests := []struct {
		name string
		opts FilterOptions
	}{
		{"no output", FilterOptions{}},
		{"bad layer", FilterOptions{Output: out, Layer: "service"}},
		{"bad start", FilterOptions{Output: out, TimeStart: "yesterday"}},
		{"bad end", FilterOptions{Output: out, TimeEnd: "tomorrow"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := RunFilter(path, tt.opts); err == nil {
				t.Error("expected error")
			}
		})
	}
}
