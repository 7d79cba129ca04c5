// Package gate implements the Gate channel (§4.D): the one-message
// bootstrap a client uses to learn where the Auth and File servers live
// before it ever reaches them. Grounded on the teacher's
// `login/handler.go` (`Handler.HandlePacket` opcode switch, `closeFail`
// shape) reduced to its simplest case — no state machine, no persistence,
// every request answered from static config.
package gate

import (
	"fmt"
	"log/slog"

	"github.com/moulars/moulars/internal/codec"
	"github.com/moulars/moulars/internal/config"
	"github.com/moulars/moulars/internal/wireerr"
)

// Client message ids (§4.D "Gate (22)").
const (
	MsgFileSrvIpAddressRequest = 0x00
	MsgAuthSrvIpAddressRequest = 0x01
)

// Server reply ids.
const (
	MsgFileSrvIpAddressReply = 0x00
	MsgAuthSrvIpAddressReply = 0x01
)

// Handler answers Gate channel requests from static server configuration.
// Stateless and safe for concurrent use — every call only reads cfg.
type Handler struct {
	cfg config.Server
}

// NewHandler creates a Gate handler bound to the server's advertised
// endpoints.
func NewHandler(cfg config.Server) *Handler {
	return &Handler{cfg: cfg}
}

// HandlePacket dispatches one decoded Gate message, writing the reply into
// buf; ok false closes the connection after sending. Gate requests carry no body fields (§4.D), so
// unlike the other three channels there is no codec.Reader parameter.
func (h *Handler) HandlePacket(msgID uint16, buf *codec.Writer) (bool, error) {
	switch msgID {
	case MsgFileSrvIpAddressRequest:
		return h.handleFileSrvIPRequest(buf)
	case MsgAuthSrvIpAddressRequest:
		return h.handleAuthSrvIPRequest(buf)
	default:
		return false, wireerr.New(wireerr.KindProtocol, "gate.HandlePacket", fmt.Errorf("unknown message id 0x%04X", msgID))
	}
}

func (h *Handler) handleFileSrvIPRequest(buf *codec.Writer) (bool, error) {
	buf.WriteUint16(MsgFileSrvIpAddressReply)
	buf.WriteString16(h.cfg.FileServerIP, true)
	slog.Debug("gate: file server ip requested", "ip", h.cfg.FileServerIP)
	return true, nil
}

func (h *Handler) handleAuthSrvIPRequest(buf *codec.Writer) (bool, error) {
	buf.WriteUint16(MsgAuthSrvIpAddressReply)
	buf.WriteString16(h.cfg.AuthServerIP, true)
	slog.Debug("gate: auth server ip requested", "ip", h.cfg.AuthServerIP)
	return true, nil
}
