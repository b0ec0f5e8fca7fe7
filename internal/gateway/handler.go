package gateway

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"

	"github.com/gabbar/chat-engine/internal/engine"
	"github.com/gabbar/chat-engine/internal/protocol"
	"github.com/gabbar/chat-engine/internal/ratelimit"
	"github.com/gabbar/chat-engine/internal/transport"
)

// relayKinds is the closed set of payload kinds clients may relay.
// Notice is server-only.
var relayKinds = map[string]transport.Kind{
	"text":      transport.KindText,
	"photo":     transport.KindPhoto,
	"sticker":   transport.KindSticker,
	"voice":     transport.KindVoice,
	"video":     transport.KindVideo,
	"animation": transport.KindAnimation,
	"audio":     transport.KindAudio,
	"document":  transport.KindDocument,
}

// handleMessage routes one parsed client message to the engine. Every
// message except hello and ping requires a bound connection.
func (s *Server) handleMessage(ctx context.Context, c *Conn, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		log.Printf("gateway: parse error user=%d: %v", c.UserID(), err)
		s.sendError(c, "parse_error", "invalid message format")
		return
	}

	switch msgType {
	case protocol.TypePing:
		s.send(c, protocol.TypePong, protocol.PongMsg{})
		return
	case protocol.TypeHello:
		hello := msg.(protocol.HelloMsg)
		if hello.UserID <= 0 {
			s.sendError(c, "bad_hello", "hello requires a positive user_id")
			return
		}
		s.bindConn(c, hello.UserID)
		return
	}

	userID := c.UserID()
	if userID == 0 {
		s.sendError(c, "not_bound", "send hello first")
		return
	}

	switch m := msg.(type) {
	case protocol.StartMsg:
		st, err := s.engine.StartOrResume(ctx, userID)
		s.reply(c, userID, st, err)

	case protocol.NextMsg:
		if !s.allow(ctx, c, userID, ratelimit.RuleNext) {
			return
		}
		st, err := s.engine.RequestNext(ctx, userID)
		s.reply(c, userID, st, err)

	case protocol.StopMsg:
		st, err := s.engine.Stop(ctx, userID)
		s.reply(c, userID, st, err)

	case protocol.MeMsg:
		p, err := s.engine.ProfileSummary(ctx, userID)
		if err != nil {
			s.sendEngineError(c, userID, err)
			return
		}
		s.send(c, protocol.TypeProfile, protocol.ProfileMsg{
			Gender:   string(p.Gender),
			Language: p.Language,
			Age:      p.Age,
		})

	case protocol.SettingsMsg:
		tokens, err := s.engine.OpenSettings(ctx, userID)
		if err != nil {
			s.sendEngineError(c, userID, err)
			return
		}
		s.send(c, protocol.TypeNotice, protocol.NoticeMsg{
			Text: "Settings: " + strings.Join(tokens, ", "),
		})

	case protocol.RelayMsg:
		kind, ok := relayKinds[m.Kind]
		if !ok {
			s.sendError(c, "bad_kind", "unsupported payload kind")
			return
		}
		if !s.allow(ctx, c, userID, ratelimit.RuleRelay) {
			return
		}
		st, err := s.engine.Relay(ctx, userID, transport.Payload{
			Kind:    kind,
			Text:    m.Text,
			FileID:  m.FileID,
			Caption: m.Caption,
		})
		s.reply(c, userID, st, err)

	case protocol.ActionMsg:
		// Report actions get their own, tighter budget.
		if strings.HasPrefix(m.Token, protocol.VerbReportReason+":") {
			if !s.allow(ctx, c, userID, ratelimit.RuleReport) {
				return
			}
		}
		res, err := s.engine.HandleAction(ctx, userID, m.Token)
		if err != nil {
			s.sendEngineError(c, userID, err)
			return
		}
		if res.Ignored {
			return
		}
		s.send(c, protocol.TypeNotice, protocol.NoticeMsg{Text: res.Text})

	default:
		s.sendError(c, "unsupported_type", "unsupported message type")
	}
}

// allow applies a rate limit rule for the user. A disabled limiter
// allows everything. Returns false after telling the client to back
// off.
func (s *Server) allow(ctx context.Context, c *Conn, userID int64, rule ratelimit.Rule) bool {
	if s.limiter == nil {
		return true
	}

	ok, err := s.limiter.Allow(ctx, strconv.FormatInt(userID, 10), rule)
	if err != nil {
		// Limiter failed open; already logged.
		return true
	}
	if !ok {
		s.send(c, protocol.TypeRateLimited, protocol.RateLimitedMsg{
			RetryAfter: int(rule.Window.Seconds()),
		})
		return false
	}
	return true
}

// reply converts an engine (Status, error) pair into the wire response.
func (s *Server) reply(c *Conn, userID int64, st engine.Status, err error) {
	if err != nil {
		s.sendEngineError(c, userID, err)
		return
	}
	if st.Text == "" {
		return // relays in an active chat need no echo
	}
	s.send(c, protocol.TypeStatus, protocol.StatusMsg{State: st.State, Text: st.Text})
}

// sendEngineError maps engine errors to their wire forms. Blocked users
// get the refusal with the expiry; incomplete profiles get a field
// prompt; unauthorized admin calls get silence.
func (s *Server) sendEngineError(c *Conn, userID int64, err error) {
	var blocked *engine.BlockedError
	if errors.As(err, &blocked) {
		s.send(c, protocol.TypeBlocked, protocol.BlockedMsg{
			Text:  blocked.Record.Message(),
			Until: blocked.Record.Until.Unix(),
		})
		return
	}

	var incomplete *engine.ProfileIncompleteError
	if errors.As(err, &incomplete) {
		s.send(c, protocol.TypePrompt, protocol.PromptMsg{Field: incomplete.Missing})
		return
	}

	if errors.Is(err, engine.ErrNoReportTarget) {
		s.sendError(c, "no_report_target", "no previous partner to report")
		return
	}
	if errors.Is(err, engine.ErrNotAuthorized) {
		return
	}

	log.Printf("gateway: engine error user=%d: %v", userID, err)
	s.sendError(c, "internal", "something went wrong")
}

// send encodes and writes a server message; failures are logged only,
// the read loop notices a dead connection on its own.
func (s *Server) send(c *Conn, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("gateway: failed to build %s message user=%d: %v", msgType, c.UserID(), err)
		return
	}
	if err := c.WriteMessage(data); err != nil {
		log.Printf("gateway: failed to send %s message user=%d: %v", msgType, c.UserID(), err)
	}
}

func (s *Server) sendError(c *Conn, code, message string) {
	s.send(c, protocol.TypeError, protocol.ErrorMsg{Code: code, Message: message})
}
