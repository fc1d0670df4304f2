package rdnstap

import (
	"expvar"
	"fmt"
)

// Get an *expvar.Int with the given path.
func getVarInt(base string, id string, name string) *expvar.Int {
	fullname := fmt.Sprintf("rdnstap.%s.%s.%s", base, id, name)
	if v := expvar.Get(fullname); v != nil {
		return v.(*expvar.Int)
	}
	return expvar.NewInt(fullname)
}

// Get an *expvar.Map with the given path.
func getVarMap(base string, id string, name string) *expvar.Map {
	fullname := fmt.Sprintf("rdnstap.%s.%s.%s", base, id, name)
	if v := expvar.Get(fullname); v != nil {
		return v.(*expvar.Map)
	}
	return expvar.NewMap(fullname)
}

// TapMetrics holds the counters of a single tap instance.
type TapMetrics struct {
	// Frames handed to the queue
	enqueued *expvar.Int
	// Frames successfully written to the collector
	sent *expvar.Int
	// Failed writes, each one triggers a reconnect
	sendFailure *expvar.Int
	// Connection attempts, successful or not
	connectAttempt *expvar.Int
	// 1 while connected to the collector
	connected *expvar.Int
	// Current queue depth
	queued *expvar.Int
	// Dropped events by reason
	dropped *expvar.Map
}

func NewTapMetrics(id string) *TapMetrics {
	return &TapMetrics{
		enqueued:       getVarInt("tap", id, "enqueued"),
		sent:           getVarInt("tap", id, "sent"),
		sendFailure:    getVarInt("tap", id, "send-failure"),
		connectAttempt: getVarInt("tap", id, "connect-attempt"),
		connected:      getVarInt("tap", id, "connected"),
		queued:         getVarInt("tap", id, "queued"),
		dropped:        getVarMap("tap", id, "dropped"),
	}
}
