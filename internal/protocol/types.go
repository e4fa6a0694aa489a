package protocol

// Request is the envelope written to an engine process's stdin, one JSON line
// per exchange.
type Request struct {
	HTML      string         `json:"html"`
	CSS       string         `json:"css,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
	RequestID string         `json:"request_id,omitempty"` // framed strategy only
}

// FramedResponse is the single JSON line an engine emits on stdout under the
// framed strategy.
type FramedResponse struct {
	Success   bool   `json:"success"`
	RequestID string `json:"request_id"`
	PDFBase64 string `json:"pdf_base64,omitempty"`
	Size      int    `json:"size,omitempty"`
	Error     string `json:"error,omitempty"`
}
