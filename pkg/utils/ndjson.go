package utils

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// SetupNDJSONHeaders 设置逐行 JSON 流响应头，并关闭反向代理缓冲
func SetupNDJSONHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/x-ndjson; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// NDJSONWriter writes one JSON document per line and flushes after each.
type NDJSONWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewNDJSONWriter 返回 nil 表示 ResponseWriter 不支持流式刷新
func NewNDJSONWriter(w http.ResponseWriter) *NDJSONWriter {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil
	}
	return &NDJSONWriter{w: w, flusher: flusher}
}

// Send 写入一行；写失败通常意味着客户端已断开
func (n *NDJSONWriter) Send(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal ndjson line: %w", err)
	}
	data = append(data, '\n')
	if _, err := n.w.Write(data); err != nil {
		return fmt.Errorf("write ndjson line: %w", err)
	}
	n.flusher.Flush()
	return nil
}
