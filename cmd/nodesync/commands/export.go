package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/nodesync/nodesync-go/pkg/log"
)

// RunExport exports the log file as jsonl or csv to output ("" is w).
func RunExport(path, format, output string, w io.Writer) error {
	if format != "jsonl" && format != "csv" {
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv)", format)
	}

	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if format == "csv" {
		return exportCSV(reader, w)
	}
	return exportJSONL(reader, w)
}

func exportJSONL(reader *log.Reader, w io.Writer) error {
	encoder := json.NewEncoder(w)
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if err := encoder.Encode(event); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
	}
	return nil
}

var csvHeader = []string{"timestamp", "connection_id", "direction", "layer", "category", "type", "topic", "node_id", "size", "detail"}

func exportCSV(reader *log.Reader, w io.Writer) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if err := cw.Write(csvRow(event)); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func csvRow(event log.Event) []string {
	eventType := "unknown"
	var topic, nodeID, size, detail string
	switch {
	case event.Frame != nil:
		eventType = "frame"
		size = strconv.Itoa(event.Frame.Size)
	case event.Message != nil:
		eventType = "message"
		topic = event.Message.Topic
		nodeID = event.Message.NodeID
		size = strconv.Itoa(event.Message.PayloadSize)
		if event.Message.Buffered {
			detail = "buffered"
		}
	case event.StateChange != nil:
		eventType = "state"
		detail = event.StateChange.NewState
	case event.ControlMsg != nil:
		eventType = event.ControlMsg.Type.String()
	case event.Snapshot != nil:
		eventType = "snapshot"
		topic = event.Snapshot.Cause
		size = strconv.Itoa(event.Snapshot.Nodes)
		detail = event.Snapshot.Err
	case event.Error != nil:
		eventType = "error"
		detail = event.Error.Message
	}

	return []string{
		event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
		event.ConnectionID,
		event.Direction.String(),
		event.Layer.String(),
		event.Category.String(),
		eventType,
		topic,
		nodeID,
		size,
		detail,
	}
}
