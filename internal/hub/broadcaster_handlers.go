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

type contestInfoReply struct {
	Alias           string             `json:"alias"`
	Contest         json.RawMessage    `json:"contest"`
	User            *membership.Member `json:"user,omitempty"`
	ServerTimestamp int64              `json:"serverTimestamp"`
}

type confirmReadyRequest struct {
	Tracks []core.TrackDescriptor `json:"tracks"`
}

type produceRequest struct {
	TrackID       string                  `json:"trackId"`
	Kind          rtcengine.MediaKind     `json:"kind"`
	RTPParameters rtcengine.RTPParameters `json:"rtpParameters"`
}

type produceReply struct {
	ProducerID string           `json:"producerId"`
	AppData    rtcengine.AppData `json:"appData,omitempty"`
}

type transportReply struct {
	Transport             rtcengine.TransportInfo `json:"transport"`
	RouterRTPCapabilities webrtc.RTPCapabilities  `json:"routerRtpCapabilities"`
}

type trackIDsRequest struct {
	TrackIDs []string `json:"trackIds"`
}

type consumeRequest struct {
	TrackID         string                 `json:"trackId"`
	RTPCapabilities webrtc.RTPCapabilities `json:"rtpCapabilities"`
}

type consumeReply struct {
	ConsumerID    string                  `json:"consumerId"`
	ProducerID    string                  `json:"producerId"`
	Kind          rtcengine.MediaKind     `json:"kind"`
	RTPParameters rtcengine.RTPParameters `json:"rtpParameters"`
	AppData       rtcengine.AppData       `json:"appData,omitempty"`
}

type startBroadcastPush struct {
	TrackIDs              []string                `json:"trackIds"`
	Transport             rtcengine.TransportInfo `json:"transport"`
	RouterRTPCapabilities webrtc.RTPCapabilities  `json:"routerRtpCapabilities"`
}

func (app *App) broadcasterHandlers() map[string]handlerSpec {
	broadcaster := []core.Role{core.RoleBroadcaster}
	director := []core.Role{core.RoleDirector}
	both := []core.Role{core.RoleBroadcaster, core.RoleDirector}

	return map[string]handlerSpec{
		"getContestInfo":           {roles: both, fn: app.handleGetContestInfo},
		"confirmReady":             {roles: broadcaster, fn: app.handleConfirmReady},
		"cancelReady":              {roles: broadcaster, fn: app.handleCancelReady},
		"completeConnectTransport": {roles: both, fn: app.handleCompleteConnectTransport},
		"produce":                  {roles: broadcaster, fn: app.handleProduce},
		"joinBroadcastRoom":        {roles: director, fn: app.handleJoinBroadcastRoom},
		"startBroadcast":           {roles: director, fn: app.handleStartBroadcast},
		"consume":                  {roles: director, fn: app.handleConsume},
		"stopBroadcast":            {roles: director, fn: app.handleStopBroadcast},
	}
}

func (app *App) handleGetContestInfo(ctx context.Context, conn *Conn, _ json.RawMessage) (interface{}, error) {
	contest, err := app.directory.FindContestByAlias(ctx, conn.Alias)
	if err != nil {
		if errors.Is(err, membership.ErrNotFound) {
			return nil, core.NewLogicError(core.LiveContestNotFound)
		}
		return nil, fmt.Errorf("find contest: %w", err)
	}

	member, err := app.directory.FindContestMemberByID(ctx, conn.Alias, conn.UserID)
	if err != nil {
		if errors.Is(err, membership.ErrNotFound) {
			return nil, core.NewLogicError(core.LiveContestMemberNotFound)
		}
		return nil, fmt.Errorf("find contest member: %w", err)
	}

	return &contestInfoReply{
		Alias:           contest.Alias,
		Contest:         contest.Contest,
		User:            membership.FilterMemberForPublic(member),
		ServerTimestamp: time.Now().UnixMilli(),
	}, nil
}

// handleConfirmReady stores the declared tracks with a fresh ready
// status, creates the broadcaster's room and transport and registers
// the producing peer.
func (app *App) handleConfirmReady(ctx context.Context, conn *Conn, data json.RawMessage) (interface{}, error) {
	var req confirmReadyRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}

	if err := app.store.SetInfo(ctx, conn.Alias, conn.UserID, core.NewBroadcastInfo()); err != nil {
		return nil, fmt.Errorf("store broadcast info: %w", err)
	}
	if err := app.store.SetTracks(ctx, conn.Alias, conn.UserID, req.Tracks); err != nil {
		return nil, fmt.Errorf("store broadcast tracks: %w", err)
	}

	transport, err := app.engine.CreateTransport()
	if err != nil {
		return nil, fmt.Errorf("create transport: %w", err)
	}

	room := app.registry.GetOrCreate(broadcastRoomKey(conn.Alias, conn.UserID))
	room.Lock()
	room.SetBroadcaster(newPeer(conn.ID, core.RoleBroadcaster, transport))
	room.Unlock()

	conn.Join(broadcasterGroup(conn.Alias, conn.UserID))

	log.Info().
		Str("service", "hub").
		Str("alias", conn.Alias).
		Str("userID", conn.UserID).
		Int("tracks", len(req.Tracks)).
		Msg("broadcaster ready, media room created")

	return nil, nil
}

func (app *App) handleCancelReady(ctx context.Context, conn *Conn, _ json.RawMessage) (interface{}, error) {
	conn.Leave(broadcasterGroup(conn.Alias, conn.UserID))
	app.clearRoomAndAllData(ctx, conn.Alias, conn.UserID)
	app.emit(app.broadcasterWS, viewerGroup(conn.Alias, conn.UserID), "roomDestroyed", nil)
	return nil, nil
}

func (app *App) handleCompleteConnectTransport(_ context.Context, conn *Conn, data json.RawMessage) (interface{}, error) {
	var params rtcengine.ConnectParameters
	if err := decode(data, &params); err != nil {
		return nil, err
	}

	room := app.registry.Get(broadcastRoomKey(conn.Alias, conn.UserID))
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

	log.Debug().
		Str("service", "hub").
		Str("alias", conn.Alias).
		Str("transportID", peer.Transport.ID()).
		Msg("transport connected")

	return nil, nil
}

// handleProduce creates a producer for one declared track and appends
// its id to the stored broadcasting set. Producing the same track
// twice returns the existing producer.
func (app *App) handleProduce(ctx context.Context, conn *Conn, data json.RawMessage) (interface{}, error) {
	var req produceRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.TrackID == "" {
		return nil, core.NewLogicError(core.IllegalParameters)
	}

	room := app.registry.Get(broadcastRoomKey(conn.Alias, conn.UserID))
	if room == nil {
		return nil, core.NewLogicError(core.BroadcastMediaRoomBroken)
	}

	appData := rtcengine.AppData{
		"alias":   conn.Alias,
		"userId":  conn.UserID,
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

	info, err := app.store.GetInfo(ctx, conn.Alias, conn.UserID)
	if err != nil {
		return nil, fmt.Errorf("load broadcast info: %w", err)
	}
	if info == nil {
		info = core.NewBroadcastInfo()
	}
	info.AddBroadcastingTrack(req.TrackID)
	if err := app.store.SetInfo(ctx, conn.Alias, conn.UserID, info); err != nil {
		return nil, fmt.Errorf("store broadcast info: %w", err)
	}

	log.Info().
		Str("service", "hub").
		Str("alias", conn.Alias).
		Str("userID", conn.UserID).
		Str("trackID", req.TrackID).
		Str("producerID", producer.ID()).
		Msg("track produced")

	return &produceReply{ProducerID: producer.ID(), AppData: producer.AppData()}, nil
}

func (app *App) handleJoinBroadcastRoom(_ context.Context, conn *Conn, _ json.RawMessage) (interface{}, error) {
	room := app.registry.Get(broadcastRoomKey(conn.Alias, conn.UserID))
	if room == nil {
		return nil, core.NewLogicError(core.BroadcastMediaRoomBroken)
	}

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

// handleStartBroadcast filters the requested track ids to those the
// broadcaster declared and asks the broadcaster to start producing
// them, handing over its transport description.
func (app *App) handleStartBroadcast(ctx context.Context, conn *Conn, data json.RawMessage) (interface{}, error) {
	var req trackIDsRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}

	info, err := app.store.GetInfo(ctx, conn.Alias, conn.UserID)
	if err != nil {
		return nil, fmt.Errorf("load broadcast info: %w", err)
	}
	if info == nil {
		return nil, core.NewLogicError(core.BroadcastNotReady)
	}
	tracks, err := app.store.GetTracks(ctx, conn.Alias, conn.UserID)
	if err != nil {
		return nil, fmt.Errorf("load broadcast tracks: %w", err)
	}
	if len(tracks) == 0 {
		return nil, core.NewLogicError(core.BroadcastNotReady)
	}

	room := app.registry.Get(broadcastRoomKey(conn.Alias, conn.UserID))
	if room == nil {
		return nil, core.NewLogicError(core.BroadcastMediaRoomBroken)
	}

	room.Lock()
	broadcaster := room.Broadcaster()
	if broadcaster == nil {
		room.Unlock()
		return nil, core.NewLogicError(core.BroadcastMediaRoomPeerMissing)
	}
	transportInfo := broadcaster.Transport.Info()
	room.Unlock()

	available := core.FilterDeclaredTracks(tracks, req.TrackIDs)
	if len(available) > 0 {
		app.emit(app.broadcasterWS, broadcasterGroup(conn.Alias, conn.UserID), "requestStartBroadcast", &startBroadcastPush{
			TrackIDs:              available,
			Transport:             transportInfo,
			RouterRTPCapabilities: app.engine.RTPCapabilities(),
		})
		log.Info().
			Str("service", "hub").
			Str("alias", conn.Alias).
			Str("userID", conn.UserID).
			Strs("trackIDs", available).
			Msg("requested start broadcast")
	}

	return nil, nil
}

// handleConsume binds a consumer on the director's transport to the
// producer publishing the requested track.
func (app *App) handleConsume(_ context.Context, conn *Conn, data json.RawMessage) (interface{}, error) {
	var req consumeRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}

	room := app.registry.Get(broadcastRoomKey(conn.Alias, conn.UserID))
	if room == nil {
		return nil, core.NewLogicError(core.BroadcastMediaRoomBroken)
	}

	room.Lock()
	defer room.Unlock()

	peer := room.Peer(conn.ID)
	if peer == nil {
		return nil, core.NewLogicError(core.BroadcastMediaRoomPeerMissing)
	}
	broadcaster := room.Broadcaster()
	if broadcaster == nil {
		return nil, core.NewLogicError(core.BroadcastMediaRoomPeerMissing)
	}
	producer := broadcaster.Producer(req.TrackID)
	if producer == nil {
		return nil, core.NewLogicError(core.BroadcastMediaRoomRequiredTrackMissing)
	}
	if !app.engine.CanConsume(producer.ID(), req.RTPCapabilities) {
		return nil, core.NewLogicError(core.BroadcastMediaRoomCannotConsume)
	}

	consumer, err := peer.Transport.Consume(producer.ID(), req.RTPCapabilities, rtcengine.AppData{
		"alias":   conn.Alias,
		"userId":  conn.UserID,
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

// handleStopBroadcast asks the broadcaster to stop the listed tracks;
// producers are closed and stored state updated only after the
// broadcaster acknowledges.
func (app *App) handleStopBroadcast(_ context.Context, conn *Conn, data json.RawMessage) (interface{}, error) {
	var req trackIDsRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}

	room := app.registry.Get(broadcastRoomKey(conn.Alias, conn.UserID))
	if room == nil {
		return nil, core.NewLogicError(core.BroadcastMediaRoomBroken)
	}

	alias, userID, trackIDs := conn.Alias, conn.UserID, req.TrackIDs
	app.request(app.broadcasterWS, broadcasterGroup(alias, userID), "requestStopBroadcast", &trackIDsRequest{TrackIDs: trackIDs}, func() {
		app.finishStopBroadcast(alias, userID, trackIDs)
	})

	return nil, nil
}

// finishStopBroadcast runs on the broadcaster's acknowledgment: close
// the acked producers, drop their ids from the stored set and let the
// derived status follow.
func (app *App) finishStopBroadcast(alias, userID string, trackIDs []string) {
	ctx := context.Background()

	if room := app.registry.Get(broadcastRoomKey(alias, userID)); room != nil {
		room.Lock()
		if broadcaster := room.Broadcaster(); broadcaster != nil {
			broadcaster.CloseProducers(trackIDs)
		}
		room.Unlock()
	}

	info, err := app.store.GetInfo(ctx, alias, userID)
	if err != nil {
		log.Error().Err(err).Str("service", "hub").Str("alias", alias).Msg("load broadcast info")
	} else if info != nil {
		info.RemoveBroadcastingTracks(trackIDs)
		if err := app.store.SetInfo(ctx, alias, userID, info); err != nil {
			log.Error().Err(err).Str("service", "hub").Str("alias", alias).Msg("store broadcast info")
		}
	}

	app.emit(app.broadcasterWS, viewerGroup(alias, userID), "broadcastStopped", &trackIDsRequest{TrackIDs: trackIDs})

	log.Info().
		Str("service", "hub").
		Str("alias", alias).
		Str("userID", userID).
		Strs("trackIDs", trackIDs).
		Msg("broadcast stopped")
}

// clearRoomAndAllData is the broadcaster teardown cascade: durable
// state first, then every producer and transport, then the room
// itself. Safe to run twice.
func (app *App) clearRoomAndAllData(ctx context.Context, alias, userID string) {
	if err := app.store.Delete(ctx, alias, userID); err != nil {
		log.Warn().Err(err).Str("service", "hub").Str("alias", alias).Str("userID", userID).Msg("delete broadcast state")
	}
	app.registry.Teardown(broadcastRoomKey(alias, userID))
}
