package paveurpath

import (
	"pkt.systems/paveurpath/core"
	"pkt.systems/paveurpath/schema"
)

type eventFanout struct {
	sinks []core.EventSink
}

func (f eventFanout) OnSession(event schema.SessionEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnSession(event)
	}
}

func (f eventFanout) OnMessage(event schema.MessageEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnMessage(event)
	}
}

func (f eventFanout) OnQuota(event schema.QuotaEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnQuota(event)
	}
}

func (f eventFanout) OnSendFailed(event schema.SendFailedEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnSendFailed(event)
	}
}
