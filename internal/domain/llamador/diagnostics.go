package llamador

import "github.com/nobis/llamador/internal/platform/websocket"

// DiagnosticsReport lists live connections per key. Keys that once had a
// connection stay listed with zero.
type DiagnosticsReport struct {
	Displays   map[string]int `json:"llamadores"`
	Dashboards map[string]int `json:"prellamadores"`
}

func Diagnostics(dir *websocket.Directory) DiagnosticsReport {
	counts := dir.Counts()
	r := DiagnosticsReport{Displays: counts.Displays, Dashboards: counts.Dashboards}
	if r.Displays == nil {
		r.Displays = map[string]int{}
	}
	if r.Dashboards == nil {
		r.Dashboards = map[string]int{}
	}
	return r
}
