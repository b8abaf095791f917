package hub

import (
	"encoding/json"

	"github.com/isqad/melody"
	"github.com/rs/zerolog/log"
)

// Notification group keys. Producing connections join their own group
// so server-initiated requests reach only them; consumers join a
// viewer group for room-scoped pushes.
func broadcasterGroup(alias, userID string) string {
	return "broadcaster:" + alias + ":" + userID
}

func viewerGroup(alias, userID string) string {
	return "viewer:" + alias + ":" + userID
}

func shotGroup(alias, shotID string) string {
	return "shot:" + alias + ":" + shotID
}

func shotViewerGroup(alias string) string {
	return "shotviewer:" + alias
}

// emit pushes a notification to every channel connection subscribed
// to group.
func (app *App) emit(m *melody.Melody, group, event string, data interface{}) {
	app.broadcast(m, group, pushMessage{Event: event, Data: data})
}

// request sends a server-initiated request to group and registers
// done to run when a recipient answers with a serverAck.
func (app *App) request(m *melody.Melody, group, event string, data interface{}, done func()) {
	seq := app.acks.Add(group, done)
	app.broadcast(m, group, serverRequest{Event: event, Seq: seq, Data: data})
}

func (app *App) broadcast(m *melody.Melody, group string, msg interface{}) {
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("service", "hub").Str("group", group).Msg("marshal notification")
		return
	}

	err = m.BroadcastFilter(payload, func(s *melody.Session) bool {
		conn, err := connFromSession(s)
		return err == nil && conn.InGroup(group)
	})
	if err != nil {
		log.Warn().Err(err).Str("service", "hub").Str("group", group).Msg("broadcast notification")
	}
}
