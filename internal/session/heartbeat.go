package session

import "time"

// 預設心跳參數
const (
	DefaultHeartbeatInterval = 29 * time.Second
	DefaultHeartbeatLeniency = 1 * time.Second
)

// Heartbeat 連線存活偵測
//
// 每 Interval 觸發一次：距離最後一次收到任何訊框超過 Interval+Leniency
// 則判定逾時，否則送出 ping。客戶端回 pong 即刷新活動時間。
//
// 時序：
//
//	t=0    最後活動
//	t=T    檢查：T <= T+L → ping
//	t=2T   檢查：2T > T+L → 逾時（T > L 時）
type Heartbeat struct {
	Interval time.Duration
	Leniency time.Duration
}

// DefaultHeartbeat 29s 週期、1s 寬限
func DefaultHeartbeat() Heartbeat {
	return Heartbeat{
		Interval: DefaultHeartbeatInterval,
		Leniency: DefaultHeartbeatLeniency,
	}
}

// Deadline 容許的最長靜默時間
func (h Heartbeat) Deadline() time.Duration {
	return h.Interval + h.Leniency
}

// Expired 在 now 時距離 lastActivity 是否已超過 Interval+Leniency
func (h Heartbeat) Expired(now, lastActivity time.Time) bool {
	return now.Sub(lastActivity) > h.Deadline()
}
