package wyoming

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

const protocolVersion = "1.5.2"

// maxSection bounds any single data or payload section read from the wire.
const maxSection = 16 << 20

// event is one Wyoming protocol message: a JSON header line, an optional
// JSON data section and an optional binary payload.
type event struct {
	Type    string
	Data    map[string]any
	Payload []byte
}

type header struct {
	Type          string         `json:"type"`
	Version       string         `json:"version,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
	DataLength    int            `json:"data_length,omitempty"`
	PayloadLength int            `json:"payload_length,omitempty"`
}

func writeEvent(w io.Writer, ev event) error {
	h := header{Type: ev.Type, Version: protocolVersion, PayloadLength: len(ev.Payload)}
	var data []byte
	if len(ev.Data) > 0 {
		var err error
		data, err = json.Marshal(ev.Data)
		if err != nil {
			return fmt.Errorf("encode %s data: %w", ev.Type, err)
		}
		h.DataLength = len(data)
	}
	line, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("encode %s header: %w", ev.Type, err)
	}
	bw := bufio.NewWriter(w)
	bw.Write(line)
	bw.WriteByte('\n')
	bw.Write(data)
	bw.Write(ev.Payload)
	return bw.Flush()
}

func readEvent(r *bufio.Reader) (event, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return event{}, err
	}
	var h header
	if err := json.Unmarshal(line, &h); err != nil {
		return event{}, fmt.Errorf("decode header: %w", err)
	}
	if h.DataLength < 0 || h.DataLength > maxSection || h.PayloadLength < 0 || h.PayloadLength > maxSection {
		return event{}, fmt.Errorf("event %s: section too large", h.Type)
	}
	ev := event{Type: h.Type, Data: h.Data}
	if h.DataLength > 0 {
		buf := make([]byte, h.DataLength)
		if _, err := io.ReadFull(r, buf); err != nil {
			return event{}, fmt.Errorf("read %s data: %w", h.Type, err)
		}
		extra := map[string]any{}
		if err := json.Unmarshal(buf, &extra); err != nil {
			return event{}, fmt.Errorf("decode %s data: %w", h.Type, err)
		}
		if ev.Data == nil {
			ev.Data = extra
		} else {
			for k, v := range extra {
				ev.Data[k] = v
			}
		}
	}
	if h.PayloadLength > 0 {
		ev.Payload = make([]byte, h.PayloadLength)
		if _, err := io.ReadFull(r, ev.Payload); err != nil {
			return event{}, fmt.Errorf("read %s payload: %w", h.Type, err)
		}
	}
	return ev, nil
}

func intField(data map[string]any, key string, fallback int) int {
	if v, ok := data[key].(float64); ok && v > 0 {
		return int(v)
	}
	return fallback
}
