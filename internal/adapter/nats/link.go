package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/Strob0t/GroundControl/internal/port/messagequeue"
	"github.com/Strob0t/GroundControl/internal/port/vehiclelink"
)

// headerMsgID lets the vehicle bridge drop redelivered attempts of a decision.
const headerMsgID = "Nats-Msg-Id"

// requester is the part of Queue the link needs.
type requester interface {
	Request(ctx context.Context, subject string, data []byte, hdr nats.Header) (*nats.Msg, error)
}

// Link delivers commands to the vehicle bridge with NATS request-reply on
// {prefix}.{droneID}.
type Link struct {
	q      requester
	prefix string
}

// NewLink creates a vehicle link over q. An empty prefix uses the default command subject.
func NewLink(q requester, prefix string) *Link {
	if prefix == "" {
		prefix = messagequeue.SubjectCommandPrefix
	}
	return &Link{q: q, prefix: prefix}
}

// SendCommand implements vehiclelink.Transport.
func (l *Link) SendCommand(ctx context.Context, droneID, toolName string, params map[string]any) (vehiclelink.Ack, error) {
	decisionID, attempt := vehiclelink.Delivery(ctx)
	data, err := json.Marshal(messagequeue.CommandRequestPayload{
		DecisionID: decisionID,
		DroneID:    droneID,
		Tool:       toolName,
		Parameters: params,
		Attempt:    attempt,
	})
	if err != nil {
		return vehiclelink.Ack{}, fmt.Errorf("%w: encode command: %v", vehiclelink.ErrRejected, err)
	}

	hdr := nats.Header{}
	if decisionID != "" {
		hdr.Set(headerMsgID, decisionID)
	}

	reply, err := l.q.Request(ctx, messagequeue.CommandSubject(l.prefix, droneID), data, hdr)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return vehiclelink.Ack{}, fmt.Errorf("%w: no bridge for drone %s", vehiclelink.ErrUnreachable, droneID)
		}
		return vehiclelink.Ack{}, fmt.Errorf("command request %s: %w", droneID, err)
	}
	return decodeReply(droneID, reply.Data)
}

// decodeReply maps the bridge's reply to an Ack. A malformed reply is
// transient; an explicit rejection is definitive.
func decodeReply(droneID string, data []byte) (vehiclelink.Ack, error) {
	var r messagequeue.CommandReplyPayload
	if err := json.Unmarshal(data, &r); err != nil {
		return vehiclelink.Ack{}, fmt.Errorf("decode command reply: %w", err)
	}
	ack := vehiclelink.Ack{DroneID: droneID, Status: r.Status, Message: r.Message}
	switch r.Status {
	case messagequeue.ReplyAccepted:
		return ack, nil
	case messagequeue.ReplyRejected:
		return ack, fmt.Errorf("%w: %s", vehiclelink.ErrRejected, r.Message)
	default:
		return ack, fmt.Errorf("unexpected command reply status %q", r.Status)
	}
}
