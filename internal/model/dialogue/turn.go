package dialogue

import "encoding/json"

// Role 对话角色
type Role string

const (
	RoleUser   Role = "user"
	RoleModel  Role = "model"
	RoleSystem Role = "system"
)

// Valid reports whether r is one of the roles accepted in history.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleModel, RoleSystem:
		return true
	default:
		return false
	}
}

// Turn is one immutable history entry.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request 对话中继请求体；History 保留原始 JSON，由服务端清洗
type Request struct {
	Input   string          `json:"input"`
	History json.RawMessage `json:"history,omitempty"`
}

// NewRequest builds a request body from typed history.
func NewRequest(input string, history []Turn) (Request, error) {
	req := Request{Input: input}
	if len(history) == 0 {
		return req, nil
	}
	raw, err := json.Marshal(history)
	if err != nil {
		return Request{}, err
	}
	req.History = raw
	return req, nil
}

// TextReply 文本兜底接口响应
type TextReply struct {
	Texts []string `json:"texts"`
}
