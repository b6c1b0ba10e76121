package toolregistry

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/agentflowhq/engine/spec"
)

// maxReadBytes bounds the output of every file-read/grep/head/tail tool
// call, regardless of how large the underlying file is.
const maxReadBytes = 1 << 20

// httpRequestInput is the input_schema payload for the built-in http_request
// tool.
type httpRequestInput struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// HTTPRequestTool is the built-in network tool. The registry re-screens its
// URL for SSRF on every invocation; HTTPRequestTool does not repeat that
// check itself, so it must never be invoked outside a Registry.
type HTTPRequestTool struct {
	Client *http.Client
}

func (t *HTTPRequestTool) Name() string { return "http_request" }

func (t *HTTPRequestTool) InputSchema() []byte {
	return []byte(`{"type":"object","required":["url"],"properties":{"url":{"type":"string"},"method":{"type":"string"},"headers":{"type":"object"},"body":{"type":"string"}}}`)
}

func (t *HTTPRequestTool) SideEffectClass() spec.SideEffectClass { return spec.SideEffectNetwork }

func (t *HTTPRequestTool) Invoke(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in httpRequestInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("http_request: decoding input: %w", err)
	}
	method := in.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, in.URL, strings.NewReader(in.Body))
	if err != nil {
		return nil, fmt.Errorf("http_request: building request: %w", err)
	}
	for k, v := range in.Headers {
		req.Header.Set(k, v)
	}
	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http_request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	if err != nil {
		return nil, fmt.Errorf("http_request: reading response: %w", err)
	}
	out := struct {
		Status int    `json:"status"`
		Body   string `json:"body"`
	}{Status: resp.StatusCode, Body: string(body)}
	return json.Marshal(out)
}

// pathInput is the common input_schema shape for file-oriented tools.
type pathInput struct {
	Path string `json:"path"`
}

// ReadFileTool is the built-in filesystem_read tool. It never sees an
// absolute path or a "../" component: the registry rejects those, and
// symlinked paths, before Invoke runs. Invoke itself rejects binary content.
type ReadFileTool struct{ ArtifactsDir string }

func (t *ReadFileTool) Name() string { return "read_file" }
func (t *ReadFileTool) InputSchema() []byte {
	return []byte(`{"type":"object","required":["path"],"properties":{"path":{"type":"string"}}}`)
}
func (t *ReadFileTool) SideEffectClass() spec.SideEffectClass {
	return spec.SideEffectFilesystemRead
}

func (t *ReadFileTool) Invoke(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in pathInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("read_file: decoding input: %w", err)
	}
	f, err := os.Open(in.Path)
	if err != nil {
		return nil, fmt.Errorf("read_file: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxReadBytes))
	if err != nil {
		return nil, fmt.Errorf("read_file: %w", err)
	}
	if !utf8.Valid(data) || bytes.ContainsRune(data, 0) {
		return nil, fmt.Errorf("read_file: %q looks like a binary file", in.Path)
	}
	return json.Marshal(struct {
		Content string `json:"content"`
	}{Content: string(data)})
}

// writeFileInput is the input_schema payload for the built-in write_file
// tool.
type writeFileInput struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// WriteFileTool is the built-in filesystem_write tool, sandboxed to
// ArtifactsDir by the registry's call-time guard.
type WriteFileTool struct{ ArtifactsDir string }

func (t *WriteFileTool) Name() string { return "write_file" }
func (t *WriteFileTool) InputSchema() []byte {
	return []byte(`{"type":"object","required":["path","content"],"properties":{"path":{"type":"string"},"content":{"type":"string"}}}`)
}
func (t *WriteFileTool) SideEffectClass() spec.SideEffectClass {
	return spec.SideEffectFilesystemWrite
}

func (t *WriteFileTool) Invoke(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in writeFileInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("write_file: decoding input: %w", err)
	}
	full := in.Path
	if !filepath.IsAbs(full) {
		full = filepath.Join(t.ArtifactsDir, full)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, fmt.Errorf("write_file: %w", err)
	}
	if err := os.WriteFile(full, []byte(in.Content), 0o644); err != nil {
		return nil, fmt.Errorf("write_file: %w", err)
	}
	return json.Marshal(struct {
		BytesWritten int `json:"bytes_written"`
	}{BytesWritten: len(in.Content)})
}

// grepInput is the input_schema payload for the built-in grep tool.
type grepInput struct {
	Path    string `json:"path"`
	Pattern string `json:"pattern"`
}

// GrepTool is a bounded, line-oriented substring search over a single file.
type GrepTool struct{}

func (t *GrepTool) Name() string { return "grep" }
func (t *GrepTool) InputSchema() []byte {
	return []byte(`{"type":"object","required":["path","pattern"],"properties":{"path":{"type":"string"},"pattern":{"type":"string"}}}`)
}
func (t *GrepTool) SideEffectClass() spec.SideEffectClass { return spec.SideEffectFilesystemRead }

func (t *GrepTool) Invoke(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in grepInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("grep: decoding input: %w", err)
	}
	f, err := os.Open(in.Path)
	if err != nil {
		return nil, fmt.Errorf("grep: %w", err)
	}
	defer f.Close()
	var matches []string
	scanner := bufio.NewScanner(io.LimitReader(f, maxReadBytes))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, in.Pattern) {
			matches = append(matches, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("grep: %w", err)
	}
	return json.Marshal(struct {
		Matches []string `json:"matches"`
	}{Matches: matches})
}

// headTailInput is the input_schema payload shared by head and tail.
type headTailInput struct {
	Path  string `json:"path"`
	Lines int    `json:"lines,omitempty"`
}

const defaultHeadTailLines = 10

// HeadTool returns the first N lines of a file.
type HeadTool struct{}

func (t *HeadTool) Name() string { return "head" }
func (t *HeadTool) InputSchema() []byte {
	return []byte(`{"type":"object","required":["path"],"properties":{"path":{"type":"string"},"lines":{"type":"integer"}}}`)
}
func (t *HeadTool) SideEffectClass() spec.SideEffectClass { return spec.SideEffectFilesystemRead }

func (t *HeadTool) Invoke(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in headTailInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("head: decoding input: %w", err)
	}
	n := in.Lines
	if n <= 0 {
		n = defaultHeadTailLines
	}
	f, err := os.Open(in.Path)
	if err != nil {
		return nil, fmt.Errorf("head: %w", err)
	}
	defer f.Close()
	var lines []string
	scanner := bufio.NewScanner(io.LimitReader(f, maxReadBytes))
	for scanner.Scan() && len(lines) < n {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("head: %w", err)
	}
	return json.Marshal(struct {
		Lines []string `json:"lines"`
	}{Lines: lines})
}

// TailTool returns the last N lines of a file.
type TailTool struct{}

func (t *TailTool) Name() string { return "tail" }
func (t *TailTool) InputSchema() []byte {
	return []byte(`{"type":"object","required":["path"],"properties":{"path":{"type":"string"},"lines":{"type":"integer"}}}`)
}
func (t *TailTool) SideEffectClass() spec.SideEffectClass { return spec.SideEffectFilesystemRead }

func (t *TailTool) Invoke(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in headTailInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("tail: decoding input: %w", err)
	}
	n := in.Lines
	if n <= 0 {
		n = defaultHeadTailLines
	}
	f, err := os.Open(in.Path)
	if err != nil {
		return nil, fmt.Errorf("tail: %w", err)
	}
	defer f.Close()
	var ring []string
	scanner := bufio.NewScanner(io.LimitReader(f, maxReadBytes))
	for scanner.Scan() {
		ring = append(ring, scanner.Text())
		if len(ring) > n {
			ring = ring[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("tail: %w", err)
	}
	return json.Marshal(struct {
		Lines []string `json:"lines"`
	}{Lines: ring})
}
