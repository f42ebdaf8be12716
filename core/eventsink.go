package core

import "pkt.systems/paveurpath/schema"

// EventSink receives session, transcript and quota events from the controller.
type EventSink interface {
	OnSession(event schema.SessionEvent)
	OnMessage(event schema.MessageEvent)
	OnQuota(event schema.QuotaEvent)
	OnSendFailed(event schema.SendFailedEvent)
}
