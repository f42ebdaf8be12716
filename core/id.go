package core

import (
	"github.com/google/uuid"

	"pkt.systems/paveurpath/schema"
)

func newMessageID() schema.MessageID {
	return schema.MessageID(uuid.NewString())
}
