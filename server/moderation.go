package server

import (
	"log/slog"

	"github.com/uaroundserver/chatcore/internal/chaterr"
	"github.com/uaroundserver/chatcore/internal/models"
	"github.com/uaroundserver/chatcore/internal/protocol"
)

// checkSender re-reads the caller's moderation state and rejects the
// write if they are banned or muted. The flags are looked up fresh on
// every send: moderation can change while a connection is open, so
// nothing is cached on the connection itself. Muted blocks writes
// only; reads, reactions and typing pass.
func (s *Server) checkSender(userID string) (*models.User, error) {
	user, err := s.store.GetUser(userID)
	if err != nil {
		return nil, err
	}
	if user.IsBanned {
		return nil, chaterr.ErrBanned
	}
	if user.IsMuted {
		return nil, chaterr.ErrMuted
	}
	return user, nil
}

// checkCaller re-reads the caller without applying the mute rule, for
// operations a muted user may still perform.
func (s *Server) checkCaller(userID string) (*models.User, error) {
	user, err := s.store.GetUser(userID)
	if err != nil {
		return nil, err
	}
	if user.IsBanned {
		return nil, chaterr.ErrBanned
	}
	return user, nil
}

// moderationAction describes one elevated flag change.
type moderationAction struct {
	apply func(targetID string) error
	event protocol.EventType
}

func (s *Server) moderationActions() map[protocol.EventType]moderationAction {
	return map[protocol.EventType]moderationAction{
		protocol.TypeAdminBan: {
			apply: func(id string) error { return s.store.SetBanned(id, true) },
			event: protocol.TypeUserBanned,
		},
		protocol.TypeAdminUnban: {
			apply: func(id string) error { return s.store.SetBanned(id, false) },
			event: protocol.TypeUserUnbanned,
		},
		protocol.TypeAdminMute: {
			apply: func(id string) error { return s.store.SetMuted(id, true) },
			event: protocol.TypeUserMuted,
		},
		protocol.TypeAdminUnmute: {
			apply: func(id string) error { return s.store.SetMuted(id, false) },
			event: protocol.TypeUserUnmuted,
		},
	}
}

// handleAdmin executes an elevated moderation action. The caller's
// role is checked against its current stored value, the flag change is
// persisted, and the outcome is broadcast to every connection:
// moderation is room-independent.
func (s *Server) handleAdmin(client *Client, seq uint64, eventType protocol.EventType, req *protocol.AdminRequest) {
	if req.TargetID == "" {
		client.Nack(seq, string(chaterr.KindValidation), "targetId required")
		return
	}

	caller, err := s.store.GetUser(client.userID)
	if err != nil {
		s.nackError(client, seq, err)
		return
	}
	if !caller.Role.CanModerate() {
		s.nackError(client, seq, chaterr.ErrInsufficient)
		return
	}

	action, ok := s.moderationActions()[eventType]
	if !ok {
		client.Nack(seq, string(chaterr.KindValidation), "unknown admin action")
		return
	}
	if err := action.apply(req.TargetID); err != nil {
		s.nackError(client, seq, err)
		return
	}

	slog.Info("moderation action",
		"action", string(eventType), "callerId", caller.ID, "targetId", req.TargetID)
	s.hub.BroadcastAll(action.event, protocol.ModerationUpdate{UserID: req.TargetID})
	client.Ack(seq, nil)
}
