package game

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ServerEvent 伺服器推送給客戶端的事件
//
// 線上格式為外部標記（externally tagged）的 JSON 物件，標記名為 snake_case：
//
//	{"new_ball":{"idx":3}}
//	{"game_over":null}
//	{"reconnect":{"delay":500}}
type ServerEvent interface {
	// EventName 線上格式使用的標記名稱
	EventName() string
	serverEvent()
}

// NewBall 抽出新號碼
type NewBall struct {
	Idx int `json:"idx"`
}

// GameOver 遊戲結束
type GameOver struct{}

// Reconnect 要求客戶端在 Delay 毫秒後重新連線
type Reconnect struct {
	Delay uint32 `json:"delay"`
}

func (NewBall) EventName() string   { return "new_ball" }
func (GameOver) EventName() string  { return "game_over" }
func (Reconnect) EventName() string { return "reconnect" }

func (NewBall) serverEvent()   {}
func (GameOver) serverEvent()  {}
func (Reconnect) serverEvent() {}

// ReconnectAfter 以 time.Duration 建立 Reconnect 事件
func ReconnectAfter(d time.Duration) Reconnect {
	ms := d.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	if ms > int64(^uint32(0)) {
		ms = int64(^uint32(0))
	}
	return Reconnect{Delay: uint32(ms)}
}

// MarshalServerEvent 編碼為線上格式
func MarshalServerEvent(ev ServerEvent) ([]byte, error) {
	var payload any
	switch e := ev.(type) {
	case NewBall:
		payload = e
	case GameOver:
		payload = nil
	case Reconnect:
		payload = e
	default:
		return nil, fmt.Errorf("unknown server event %T", ev)
	}
	return json.Marshal(map[string]any{ev.EventName(): payload})
}

// UnmarshalServerEvent 解碼線上格式
func UnmarshalServerEvent(data []byte) (ServerEvent, error) {
	name, raw, err := splitTagged(data)
	if err != nil {
		return nil, err
	}

	switch name {
	case "new_ball":
		var e NewBall
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("decode new_ball: %w", err)
		}
		return e, nil
	case "game_over":
		return GameOver{}, nil
	case "reconnect":
		var e Reconnect
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("decode reconnect: %w", err)
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown server event %q", name)
	}
}

// 客戶端事件解碼錯誤
var (
	ErrMalformedClientEvent = errors.New("malformed client event")
	ErrUnknownClientEvent   = errors.New("unknown client event")
)

// ClientEvent 客戶端送來的事件
//
// 目前沒有任何變體；新增變體時以 RegisterClientEvent 登記解碼器。
type ClientEvent interface {
	EventName() string
}

// ClientEventDecoder 將標記內的 payload 解碼為具體事件
type ClientEventDecoder func(payload json.RawMessage) (ClientEvent, error)

var clientEventDecoders = map[string]ClientEventDecoder{}

// RegisterClientEvent 登記客戶端事件變體，只能在 init 階段呼叫
func RegisterClientEvent(name string, decode ClientEventDecoder) {
	if _, exists := clientEventDecoders[name]; exists {
		panic(fmt.Sprintf("client event %q registered twice", name))
	}
	clientEventDecoders[name] = decode
}

// UnmarshalClientEvent 解碼客戶端文字訊框
func UnmarshalClientEvent(data []byte) (ClientEvent, error) {
	name, raw, err := splitTagged(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedClientEvent, err)
	}

	decode, ok := clientEventDecoders[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownClientEvent, name)
	}

	ev, err := decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedClientEvent, name, err)
	}
	return ev, nil
}

// splitTagged 拆出外部標記物件的唯一鍵與值
//
// 單元變體也允許以字串形式出現（"game_over"）。
func splitTagged(data []byte) (string, json.RawMessage, error) {
	data = bytes.TrimSpace(data)

	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		return name, nil, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", nil, fmt.Errorf("not a tagged object: %w", err)
	}
	if len(obj) != 1 {
		return "", nil, fmt.Errorf("tagged object must have exactly one key, got %d", len(obj))
	}
	for k, v := range obj {
		return k, v, nil
	}
	return "", nil, nil
}
