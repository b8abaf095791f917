package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"

	"github.com/rankland/broadcast-hub/internal/core"
	"github.com/rankland/broadcast-hub/internal/membership"
	"github.com/rankland/broadcast-hub/internal/rtcengine"
)

type shotTrackIDsRequest struct {
	ShotID   string   `json:"shotId"`
	TrackIDs []string `json:"trackIds"`
}

type shotConsumeRequest struct {
	ShotID          string                 `json:"shotId"`
	TrackID         string                 `json:"trackId"`
	RTPCapabilities webrtc.RTPCapabilities `json:"rtpCapabilities"`
}

type shotGonePush struct {
	ShotID string `json:"shotId"`
}

// Shot channel handlers. One shared room per alias holds every shot's
// producing peer plus the directors watching them; events that target
// a particular shot carry its shotId.
func (app *App) shotHandlers() map[string]handlerSpec {
	shot := []core.Role{core.RoleShot}
	director := []core.Role{core.RoleDirector}
	both := []core.Role{core.RoleShot, core.RoleDirector}

	return map[string]handlerSpec{
		"getContestInfo":           {roles: both, fn: app.handleShotGetContestInfo},
		"confirmReady":             {roles: shot, fn: app.handleShotConfirmReady},
		"cancelReady":              {roles: shot, fn: app.handleShotCancelReady},
		"completeConnectTransport": {roles: both, fn: app.handleShotCompleteConnectTransport},
		"produce":                  {roles: shot, fn: app.handleShotProduce},
		"joinBroadcastRoom":        {roles: director, fn: app.handleShotJoinBroadcastRoom},
		"startBroadcast":           {roles: director, fn: app.handleShotStartBroadcast},
		"consume":                  {roles: director, fn: app.handleShotConsume},
		"stopBroadcast":            {roles: director, fn: app.handleShotStopBroadcast},
	}
}

func (app *App) handleShotGetContestInfo(ctx context.Context, conn *Conn, _ json.RawMessage) (interface{}, error) {
	contest, err := app.directory.FindContestByAlias(ctx, conn.Alias)
	if err != nil {
		if errors.Is(err, membership.ErrNotFound) {
			return nil, core.NewLogicError(core.LiveContestNotFound)
		}
		return nil, fmt.Errorf("find contest: %w", err)
	}

	return &contestInfoReply{
		Alias:           contest.Alias,
		Contest:         contest.Contest,
		ServerTimestamp: time.Now().UnixMilli(),
	}, nil
}

func (app *App) handleShotConfirmReady(_ context.Context, conn *Conn, data json.RawMessage) (interface{}, error) {
	var req confirmReadyRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}

	app.shots.Set(conn.Alias, conn.ShotID, core.NewBroadcastState(req.Tracks))

	transport, err := app.engine.CreateTransport()
	if err != nil {
		return nil, fmt.Errorf("create transport: %w", err)
	}

	room := app.registry.GetOrCreate(shotRoomKey(conn.Alias))
	room.Lock()
	room.SetShot(conn.ShotID, newPeer(conn.ID, core.RoleShot, transport))
	room.Unlock()

	conn.Join(shotGroup(conn.Alias, conn.ShotID))

	log.Info().
		Str("service", "hub").
		Str("alias", conn.Alias).
		Str("shotID", conn.ShotID).
		Int("tracks", len(req.Tracks)).
		Msg("shot ready")

	return nil, nil
}

// handleShotCancelReady removes only the departing shot; the shared
// room stays up for the remaining shots and viewers.
func (app *App) handleShotCancelReady(_ context.Context, conn *Conn, _ json.RawMessage) (interface{}, error) {
	conn.Leave(shotGroup(conn.Alias, conn.ShotID))
	app.removeShot(conn.Alias, conn.ShotID)
	return nil, nil
}

func (app *App) handleShotCompleteConnectTransport(_ context.Context, conn *Conn, data json.RawMessage) (interface{}, error) {
	var params rtcengine.ConnectParameters
	if err := decode(data, &params); err != nil {
		return nil, err
	}

	room := app.registry.Get(shotRoomKey(conn.Alias))
	if room == nil {
		return nil, core.NewLogicError(core.BroadcastMediaRoomBroken)
	}

	room.Lock()
	peer := room.Peer(conn.ID)
	room.Unlock()
	if peer == nil {
		return nil, core.NewLogicError(core.BroadcastMediaRoomPeerMissing)
	}

	if err := peer.Transport.Connect(params); err != nil {
		return nil, fmt.Errorf("connect transport %s: %w", peer.Transport.ID(), err)
	}

	return nil, nil
}

func (app *App) handleShotProduce(_ context.Context, conn *Conn, data json.RawMessage) (interface{}, error) {
	var req produceRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.TrackID == "" {
		return nil, core.NewLogicError(core.IllegalParameters)
	}

	room := app.registry.Get(shotRoomKey(conn.Alias))
	if room == nil {
		return nil, core.NewLogicError(core.BroadcastMediaRoomBroken)
	}

	appData := rtcengine.AppData{
		"alias":   conn.Alias,
		"shotId":  conn.ShotID,
		"trackId": req.TrackID,
	}

	room.Lock()
	peer := room.Peer(conn.ID)
	if peer == nil {
		room.Unlock()
		return nil, core.NewLogicError(core.BroadcastMediaRoomPeerMissing)
	}
	if existing := peer.Producer(req.TrackID); existing != nil {
		room.Unlock()
		return &produceReply{ProducerID: existing.ID(), AppData: existing.AppData()}, nil
	}

	producer, err := peer.Transport.Produce(req.Kind, req.RTPParameters, appData)
	if err != nil {
		room.Unlock()
		return nil, fmt.Errorf("produce track %s: %w", req.TrackID, err)
	}
	peer.AddProducer(req.TrackID, producer)
	room.Unlock()

	state := app.shots.Get(conn.Alias, conn.ShotID)
	if state == nil {
		state = core.NewBroadcastState(nil)
	}
	state.AddBroadcastingTrack(req.TrackID)
	app.shots.Set(conn.Alias, conn.ShotID, state)

	log.Info().
		Str("service", "hub").
		Str("alias", conn.Alias).
		Str("shotID", conn.ShotID).
		Str("trackID", req.TrackID).
		Str("producerID", producer.ID()).
		Msg("shot track produced")

	return &produceReply{ProducerID: producer.ID(), AppData: producer.AppData()}, nil
}

// handleShotJoinBroadcastRoom registers a viewer in the shared shot
// room, creating it lazily when no shot confirmed yet.
func (app *App) handleShotJoinBroadcastRoom(_ context.Context, conn *Conn, _ json.RawMessage) (interface{}, error) {
	room := app.registry.GetOrCreate(shotRoomKey(conn.Alias))

	transport, err := app.engine.CreateTransport()
	if err != nil {
		return nil, fmt.Errorf("create transport: %w", err)
	}

	room.Lock()
	room.AddViewer(newPeer(conn.ID, core.RoleDirector, transport))
	room.Unlock()

	return &transportReply{
		Transport:             transport.Info(),
		RouterRTPCapabilities: app.engine.RTPCapabilities(),
	}, nil
}

func (app *App) handleShotStartBroadcast(_ context.Context, conn *Conn, data json.RawMessage) (interface{}, error) {
	var req shotTrackIDsRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.ShotID == "" {
		return nil, core.NewLogicError(core.IllegalParameters)
	}

	state := app.shots.Get(conn.Alias, req.ShotID)
	if state == nil || len(state.Tracks) == 0 {
		return nil, core.NewLogicError(core.BroadcastNotReady)
	}

	room := app.registry.Get(shotRoomKey(conn.Alias))
	if room == nil {
		return nil, core.NewLogicError(core.BroadcastMediaRoomBroken)
	}

	room.Lock()
	shotPeer := room.Shot(req.ShotID)
	if shotPeer == nil {
		room.Unlock()
		return nil, core.NewLogicError(core.BroadcastMediaRoomPeerMissing)
	}
	transportInfo := shotPeer.Transport.Info()
	room.Unlock()

	available := core.FilterDeclaredTracks(state.Tracks, req.TrackIDs)
	if len(available) > 0 {
		app.emit(app.shotWS, shotGroup(conn.Alias, req.ShotID), "requestStartBroadcast", &startBroadcastPush{
			TrackIDs:              available,
			Transport:             transportInfo,
			RouterRTPCapabilities: app.engine.RTPCapabilities(),
		})
	}

	return nil, nil
}

func (app *App) handleShotConsume(_ context.Context, conn *Conn, data json.RawMessage) (interface{}, error) {
	var req shotConsumeRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.ShotID == "" {
		return nil, core.NewLogicError(core.IllegalParameters)
	}

	room := app.registry.Get(shotRoomKey(conn.Alias))
	if room == nil {
		return nil, core.NewLogicError(core.BroadcastMediaRoomBroken)
	}

	room.Lock()
	defer room.Unlock()

	peer := room.Peer(conn.ID)
	if peer == nil {
		return nil, core.NewLogicError(core.BroadcastMediaRoomPeerMissing)
	}
	shotPeer := room.Shot(req.ShotID)
	if shotPeer == nil {
		return nil, core.NewLogicError(core.BroadcastMediaRoomPeerMissing)
	}
	producer := shotPeer.Producer(req.TrackID)
	if producer == nil {
		return nil, core.NewLogicError(core.BroadcastMediaRoomRequiredTrackMissing)
	}
	if !app.engine.CanConsume(producer.ID(), req.RTPCapabilities) {
		return nil, core.NewLogicError(core.BroadcastMediaRoomCannotConsume)
	}

	consumer, err := peer.Transport.Consume(producer.ID(), req.RTPCapabilities, rtcengine.AppData{
		"alias":   conn.Alias,
		"shotId":  req.ShotID,
		"trackId": req.TrackID,
	})
	if err != nil {
		return nil, fmt.Errorf("consume track %s: %w", req.TrackID, err)
	}

	return &consumeReply{
		ConsumerID:    consumer.ID(),
		ProducerID:    producer.ID(),
		Kind:          consumer.Kind(),
		RTPParameters: consumer.RTPParameters(),
		AppData:       consumer.AppData(),
	}, nil
}

func (app *App) handleShotStopBroadcast(_ context.Context, conn *Conn, data json.RawMessage) (interface{}, error) {
	var req shotTrackIDsRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.ShotID == "" {
		return nil, core.NewLogicError(core.IllegalParameters)
	}

	room := app.registry.Get(shotRoomKey(conn.Alias))
	if room == nil {
		return nil, core.NewLogicError(core.BroadcastMediaRoomBroken)
	}

	alias, shotID, trackIDs := conn.Alias, req.ShotID, req.TrackIDs
	app.request(app.shotWS, shotGroup(alias, shotID), "requestStopBroadcast", &trackIDsRequest{TrackIDs: trackIDs}, func() {
		app.finishShotStopBroadcast(alias, shotID, trackIDs)
	})

	return nil, nil
}

func (app *App) finishShotStopBroadcast(alias, shotID string, trackIDs []string) {
	if room := app.registry.Get(shotRoomKey(alias)); room != nil {
		room.Lock()
		if shotPeer := room.Shot(shotID); shotPeer != nil {
			shotPeer.CloseProducers(trackIDs)
		}
		room.Unlock()
	}

	if state := app.shots.Get(alias, shotID); state != nil {
		state.RemoveBroadcastingTracks(trackIDs)
		app.shots.Set(alias, shotID, state)
	}

	app.emit(app.shotWS, shotViewerGroup(alias), "broadcastStopped", &shotTrackIDsRequest{ShotID: shotID, TrackIDs: trackIDs})

	log.Info().
		Str("service", "hub").
		Str("alias", alias).
		Str("shotID", shotID).
		Strs("trackIDs", trackIDs).
		Msg("shot broadcast stopped")
}

// removeShot drops one shot's peer and state and tells viewers it is
// gone. The shared room itself is never torn down here.
func (app *App) removeShot(alias, shotID string) {
	if room := app.registry.Get(shotRoomKey(alias)); room != nil {
		room.Lock()
		room.RemoveShot(shotID)
		room.Unlock()
	}

	app.shots.Delete(alias, shotID)
	app.emit(app.shotWS, shotViewerGroup(alias), "shotGone", &shotGonePush{ShotID: shotID})

	log.Info().Str("service", "hub").Str("alias", alias).Str("shotID", shotID).Msg("shot removed")
}
