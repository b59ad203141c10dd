package signal

import "time"

// handlePing answers with the server clock so clients can estimate their
// offset before applying a shared playback position.
func (ctl *SignalWSController) handlePing(conn *WsSignalConn) {
	ctl.sendJSON(conn, struct {
		Type       string `json:"type"`
		ServerTime int64  `json:"serverTime"`
	}{
		Type:       "pong",
		ServerTime: time.Now().UnixMilli(),
	})
}
