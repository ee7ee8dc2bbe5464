package session

import "time"

// Timer は停止可能なタイマー。
type Timer interface {
	Stop() bool
}

// Clock はタイマーの生成元。テストでは手動で進める実装に差し替える。
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// realClock は実時間のClock。
type realClock struct{}

// AfterFunc はtime.AfterFuncに委譲する。
func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
