package websocket

import (
	"fmt"

	"go.uber.org/zap"

	"schoolhub/pkg/interfaces"
)

// Deliver hands frame to every connection in conns and returns how many
// accepted it. Each send is isolated: a full buffer, a closed peer or a panic
// is logged and skipped without affecting the remaining recipients.
func Deliver(logger *zap.Logger, event string, frame []byte, conns []interfaces.Connection) int {
	delivered := 0
	for _, conn := range conns {
		if err := safeSend(conn, frame); err != nil {
			logger.Debug("delivery skipped",
				zap.String("event", event),
				zap.String("conn_id", conn.ID()),
				zap.String("user_id", conn.Identity().UserID),
				zap.Error(err))
			continue
		}
		delivered++
	}
	return delivered
}

// DeliverOne is Deliver for a single recipient.
func DeliverOne(logger *zap.Logger, event string, frame []byte, conn interfaces.Connection) bool {
	if conn == nil {
		return false
	}
	return Deliver(logger, event, frame, []interfaces.Connection{conn}) == 1
}

func safeSend(conn interfaces.Connection, frame []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("send panicked: %v", r)
		}
	}()
	return conn.Send(frame)
}
