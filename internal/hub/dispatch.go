package hub

import (
	"context"
	"encoding/json"

	"github.com/isqad/melody"
	"github.com/rs/zerolog/log"

	"github.com/rankland/broadcast-hub/internal/core"
	"github.com/rankland/broadcast-hub/internal/telemetry"
)

type handlerFunc func(ctx context.Context, conn *Conn, data json.RawMessage) (interface{}, error)

// handlerSpec pairs a handler with the roles allowed to invoke it.
type handlerSpec struct {
	roles []core.Role
	fn    handlerFunc
}

func roleAllowed(roles []core.Role, role core.Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// dispatch builds the melody message handler for one channel. Errors
// never escape: a LogicError becomes its envelope, anything else is
// logged and downgraded to SystemError.
func (app *App) dispatch(handlers map[string]handlerSpec) func(s *melody.Session, msg []byte) {
	return func(s *melody.Session, msg []byte) {
		conn, err := connFromSession(s)
		if err != nil {
			log.Error().Err(err).Str("service", "hub").Msg("message from session without conn")
			return
		}

		var m clientMessage
		if err := json.Unmarshal(msg, &m); err != nil {
			log.Debug().Err(err).Str("service", "hub").Str("connID", conn.ID).Msg("unparsable message")
			app.reply(conn, errEnvelope("", 0, core.NewLogicError(core.IllegalRequest)))
			return
		}

		if m.Event == eventServerAck {
			app.acks.Resolve(conn, m.Seq)
			return
		}

		spec, ok := handlers[m.Event]
		if !ok {
			app.reply(conn, errEnvelope(m.Event, m.Seq, core.NewLogicError(core.IllegalRequest)))
			return
		}
		if !roleAllowed(spec.roles, conn.Role) {
			app.reply(conn, errEnvelope(m.Event, m.Seq, core.NewLogicError(core.IllegalRequest)))
			return
		}

		result, err := spec.fn(context.Background(), conn, m.Data)
		if err != nil {
			if _, ok := err.(*core.LogicError); !ok {
				log.Error().Err(err).
					Str("service", "hub").
					Str("event", m.Event).
					Str("alias", conn.Alias).
					Str("connID", conn.ID).
					Msg("handler failed")
			}
			telemetry.SignalingOperation(m.Event, "error")
			app.reply(conn, errEnvelope(m.Event, m.Seq, err))
			return
		}

		telemetry.SignalingOperation(m.Event, "success")
		app.reply(conn, okEnvelope(m.Event, m.Seq, result))
	}
}

func (app *App) reply(conn *Conn, env envelope) {
	if err := conn.write(env); err != nil {
		log.Warn().Err(err).Str("service", "hub").Str("connID", conn.ID).Msg("write ack")
	}
}

// decode unmarshals a request payload, mapping malformed payloads to
// IllegalParameters.
func decode(data json.RawMessage, out interface{}) error {
	if len(data) == 0 {
		return core.NewLogicError(core.IllegalParameters)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return core.NewLogicError(core.IllegalParameters)
	}
	return nil
}
