// Package dialogue is the client side of the dialogue relay: it posts a
// request and reads the NDJSON reply stream, or calls the text endpoint.
package dialogue

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/zhouzirui/voiceloop/backend/internal/model/dialogue"
)

// ErrTruncated is returned when the stream ends without done or error.
var ErrTruncated = errors.New("dialogue stream ended without done")

// StreamError carries the message of an error event from the relay.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	if e.Message == "" {
		return "Stream error"
	}
	return e.Message
}

// Client 对话中继客户端
type Client struct {
	baseURL string
	http    *http.Client
}

// New 创建客户端；httpClient 为 nil 时使用 http.DefaultClient
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// Stream posts req and hands every event to handle in order. It returns nil
// after done, a *StreamError after an error event, and stops early if
// handle fails. Malformed lines are skipped.
func (c *Client) Stream(ctx context.Context, req dialogue.Request, handle func(dialogue.StreamEvent) error) error {
	resp, err := c.post(ctx, "/api/dialogue/stream", req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	for {
		line, readErr := reader.ReadBytes('\n')
		if ev, ok := parseLine(line); ok {
			switch ev.Type {
			case dialogue.EventError:
				return &StreamError{Message: ev.Message}
			default:
				if err := handle(ev); err != nil {
					return err
				}
				if ev.Type == dialogue.EventDone {
					return nil
				}
			}
		}

		if readErr == io.EOF {
			return ErrTruncated
		}
		if readErr != nil {
			return errors.Wrap(readErr, "read dialogue stream")
		}
	}
}

// Text calls the non-streaming text endpoint.
func (c *Client) Text(ctx context.Context, req dialogue.Request) ([]string, error) {
	resp, err := c.post(ctx, "/api/dialogue", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var reply dialogue.TextReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, errors.Wrap(err, "decode text reply")
	}
	return reply.Texts, nil
}

func parseLine(line []byte) (dialogue.StreamEvent, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return dialogue.StreamEvent{}, false
	}
	var ev dialogue.StreamEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		log.Printf("[dialogue] skip malformed line: %v", err)
		return dialogue.StreamEvent{}, false
	}
	switch ev.Type {
	case dialogue.EventText, dialogue.EventAudio, dialogue.EventFile, dialogue.EventError, dialogue.EventDone:
		return ev, true
	default:
		log.Printf("[dialogue] skip unknown event type %q", ev.Type)
		return dialogue.StreamEvent{}, false
	}
}

// post 发送请求；非 2xx 时解析 {error} 作为错误信息
func (c *Client) post(ctx context.Context, path string, body dialogue.Request) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "encode dialogue request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "build dialogue request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errors.Wrapf(err, "post %s", path)
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		var failure struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&failure)
		if failure.Error == "" {
			failure.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
		return nil, errors.New(failure.Error)
	}
	return resp, nil
}
