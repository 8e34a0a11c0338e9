package sorter

import (
	"bufio"
	"bytes"
	"fmt"

	"github.com/bytedance/sonic"
)

// dumpedRequest is the on-disk shape of a pending Request: the
// correspondence fields alongside the opaque data, flattened into one
// JSON object per line.
type dumpedRequest struct {
	ID   string         `json:"id"`
	Turn int            `json:"turnNumber"`
	Data map[string]any `json:"data,omitempty"`
}

// DumpRequests serializes the pending request pool as newline-delimited
// JSON, one request per line, in insertion order. Used only by the
// suspend-to-disk path.
func (s *Sorter) DumpRequests() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var buf bytes.Buffer
	for _, req := range s.reqs {
		line, err := sonic.Marshal(dumpedRequest{ID: req.ID, Turn: req.Turn, Data: req.Data})
		if err != nil {
			return nil, fmt.Errorf("sorter: dump request %s/%d: %w", req.ID, req.Turn, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// UndumpRequests replaces the request pool with the requests decoded from
// data (the format DumpRequests produces). Used only by the resume-from-
// disk path.
func (s *Sorter) UndumpRequests(data []byte) error {
	var reqs []Request
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var dr dumpedRequest
		if err := sonic.Unmarshal(line, &dr); err != nil {
			return fmt.Errorf("sorter: undump request: %w", err)
		}
		reqs = append(reqs, Request{ID: dr.ID, Turn: dr.Turn, Data: dr.Data})
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("sorter: undump scan: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = reqs
	return nil
}
