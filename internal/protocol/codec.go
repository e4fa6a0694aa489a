package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// pdfSignature is the magic prefix of a PDF document.
var pdfSignature = []byte("%PDF")

// EncodeRequest serializes a Request as one JSON line and writes it to w.
func EncodeRequest(w io.Writer, req *Request) error {
	if req.HTML == "" {
		return fmt.Errorf("request has no html content")
	}

	encoder := json.NewEncoder(w)
	if err := encoder.Encode(req); err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	return nil
}

// DecodeFramedResponse parses one stdout line into a FramedResponse and
// validates its envelope fields. Payload checks belong to the caller.
func DecodeFramedResponse(line []byte) (*FramedResponse, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, fmt.Errorf("engine produced no output on stdout")
	}

	var resp FramedResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("engine output is not valid JSON: %w", err)
	}

	if resp.RequestID == "" {
		return nil, fmt.Errorf("response missing required field: request_id")
	}
	if !resp.Success && resp.Error == "" {
		return nil, fmt.Errorf("response has success=false but no error message")
	}

	return &resp, nil
}

// HasPDFSignature reports whether b starts with the PDF magic bytes.
func HasPDFSignature(b []byte) bool {
	return bytes.HasPrefix(b, pdfSignature)
}

// ValidatePayload checks a decoded payload for the expected document shape.
func ValidatePayload(b []byte) error {
	if len(b) == 0 {
		return fmt.Errorf("payload is empty")
	}
	if !HasPDFSignature(b) {
		return fmt.Errorf("payload missing PDF signature")
	}
	return nil
}
