package ws

import (
	"log"
	"time"

	"github.com/gobwas/ws"
)

// HeartbeatConfig holds heartbeat tuning parameters.
type HeartbeatConfig struct {
	Interval time.Duration // time between sweeps
	Timeout  time.Duration // grace after a missed interval before eviction
}

// DefaultHeartbeatConfig pings every 30s and evicts after 40s of silence.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

type sweepResult struct {
	checked int
	evicted int
	alive   int
}

// heartbeat sweeps the registry every interval until the server shuts down.
func (s *Server) heartbeat() {
	cfg := s.config.Heartbeat
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			if res := s.sweep(cfg, now); res.evicted > 0 {
				log.Printf("ws: heartbeat checked=%d evicted=%d", res.checked, res.evicted)
			}
		}
	}
}

// sweep evicts connections silent for longer than Interval+Timeout and
// pings the rest. Clients answer pings with pongs, which Touch the
// connection on the next read. onAlive fires for every successful ping.
func (s *Server) sweep(cfg HeartbeatConfig, now time.Time) sweepResult {
	limit := cfg.Interval + cfg.Timeout
	var res sweepResult

	for _, c := range s.conns.All() {
		res.checked++
		if idle := now.Sub(c.LastSeen()); idle > limit {
			log.Printf("ws: heartbeat timeout conn=%s idle=%s", c.ID, idle.Round(time.Second))
			s.RemoveConnection(c)
			res.evicted++
			continue
		}
		if err := c.writePing(); err != nil {
			log.Printf("ws: heartbeat ping conn=%s: %v", c.ID, err)
			s.RemoveConnection(c)
			res.evicted++
			continue
		}
		res.alive++
		if s.onAlive != nil {
			s.onAlive(c.ID)
		}
	}
	return res
}

// writePing sends a ping control frame under the connection's write timeout.
func (c *Connection) writePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		defer c.Conn.SetWriteDeadline(time.Time{})
	}
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}
