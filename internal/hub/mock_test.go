package hub

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/pion/webrtc/v3"

	"github.com/rankland/broadcast-hub/internal/config"
	"github.com/rankland/broadcast-hub/internal/core"
	"github.com/rankland/broadcast-hub/internal/membership"
	"github.com/rankland/broadcast-hub/internal/rtcengine"
	"github.com/rankland/broadcast-hub/internal/store"
)

// fakeEngine implements rtcengine.Router with in-memory bookkeeping.
type fakeEngine struct {
	mu          sync.Mutex
	transports  []*fakeTransport
	producers   map[string]*fakeProducer
	denyConsume bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{producers: make(map[string]*fakeProducer)}
}

func (e *fakeEngine) RTPCapabilities() webrtc.RTPCapabilities {
	return webrtc.RTPCapabilities{
		Codecs: []webrtc.RTPCodecCapability{{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}},
	}
}

func (e *fakeEngine) CreateTransport() (rtcengine.Transport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := &fakeTransport{
		engine: e,
		id:     fmt.Sprintf("transport-%d", len(e.transports)+1),
	}
	e.transports = append(e.transports, t)
	return t, nil
}

func (e *fakeEngine) CanConsume(producerID string, _ webrtc.RTPCapabilities) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.denyConsume {
		return false
	}
	_, ok := e.producers[producerID]
	return ok
}

func (e *fakeEngine) Close() error { return nil }

type fakeTransport struct {
	engine *fakeEngine
	id     string

	mu         sync.Mutex
	connected  bool
	closeCount int
}

func (t *fakeTransport) ID() string { return t.id }

func (t *fakeTransport) Info() rtcengine.TransportInfo {
	return rtcengine.TransportInfo{ID: t.id}
}

func (t *fakeTransport) Connect(_ rtcengine.ConnectParameters) error {
	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) Produce(kind rtcengine.MediaKind, _ rtcengine.RTPParameters, appData rtcengine.AppData) (rtcengine.Producer, error) {
	trackID, _ := appData["trackId"].(string)
	p := &fakeProducer{
		engine:  t.engine,
		id:      "producer-" + trackID,
		kind:    kind,
		appData: appData,
	}

	t.engine.mu.Lock()
	t.engine.producers[p.id] = p
	t.engine.mu.Unlock()

	return p, nil
}

func (t *fakeTransport) Consume(producerID string, _ webrtc.RTPCapabilities, appData rtcengine.AppData) (rtcengine.Consumer, error) {
	t.engine.mu.Lock()
	producer, ok := t.engine.producers[producerID]
	t.engine.mu.Unlock()
	if !ok {
		return nil, rtcengine.ErrProducerNotFound
	}

	return &fakeConsumer{
		id:         "consumer-" + producerID,
		producerID: producerID,
		kind:       producer.kind,
		appData:    appData,
	}, nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	t.closeCount++
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) closedTimes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeCount
}

type fakeProducer struct {
	engine  *fakeEngine
	id      string
	kind    rtcengine.MediaKind
	appData rtcengine.AppData

	mu         sync.Mutex
	closeCount int
}

func (p *fakeProducer) ID() string                 { return p.id }
func (p *fakeProducer) Kind() rtcengine.MediaKind  { return p.kind }
func (p *fakeProducer) AppData() rtcengine.AppData { return p.appData }

func (p *fakeProducer) Close() error {
	p.mu.Lock()
	p.closeCount++
	p.mu.Unlock()

	p.engine.mu.Lock()
	delete(p.engine.producers, p.id)
	p.engine.mu.Unlock()
	return nil
}

func (p *fakeProducer) closedTimes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeCount
}

type fakeConsumer struct {
	id         string
	producerID string
	kind       rtcengine.MediaKind
	appData    rtcengine.AppData
}

func (c *fakeConsumer) ID() string                               { return c.id }
func (c *fakeConsumer) ProducerID() string                       { return c.producerID }
func (c *fakeConsumer) Kind() rtcengine.MediaKind                { return c.kind }
func (c *fakeConsumer) RTPParameters() rtcengine.RTPParameters   { return rtcengine.RTPParameters{} }
func (c *fakeConsumer) AppData() rtcengine.AppData               { return c.appData }
func (c *fakeConsumer) Close() error                             { return nil }

// fakeDirectory serves contests and members from maps.
type fakeDirectory struct {
	contests map[string]*membership.Contest
	members  map[string]*membership.Member
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		contests: make(map[string]*membership.Contest),
		members:  make(map[string]*membership.Member),
	}
}

func (d *fakeDirectory) addContest(alias string) {
	d.contests[alias] = &membership.Contest{Alias: alias, Name: alias}
}

func (d *fakeDirectory) addMember(alias, userID, token string) {
	d.members[alias+":"+userID] = &membership.Member{ID: userID, Name: userID, BroadcasterToken: token}
}

func (d *fakeDirectory) FindContestByAlias(_ context.Context, alias string) (*membership.Contest, error) {
	contest, ok := d.contests[alias]
	if !ok {
		return nil, membership.ErrNotFound
	}
	return contest, nil
}

func (d *fakeDirectory) FindContestMemberByID(_ context.Context, alias, userID string) (*membership.Member, error) {
	member, ok := d.members[alias+":"+userID]
	if !ok {
		return nil, membership.ErrNotFound
	}
	return member, nil
}

// memStore implements store.BroadcastStore without redis.
type memStore struct {
	mu     sync.Mutex
	infos  map[string]*core.BroadcastInfo
	tracks map[string][]core.TrackDescriptor
}

func newMemStore() *memStore {
	return &memStore{
		infos:  make(map[string]*core.BroadcastInfo),
		tracks: make(map[string][]core.TrackDescriptor),
	}
}

func (s *memStore) key(alias, userID string) string { return alias + ":" + userID }

func (s *memStore) SetInfo(_ context.Context, alias, userID string, info *core.BroadcastInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *info
	copied.BroadcastingTrackIDs = append([]string{}, info.BroadcastingTrackIDs...)
	s.infos[s.key(alias, userID)] = &copied
	return nil
}

func (s *memStore) GetInfo(_ context.Context, alias, userID string) (*core.BroadcastInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.infos[s.key(alias, userID)]
	if !ok {
		return nil, nil
	}
	copied := *info
	copied.BroadcastingTrackIDs = append([]string{}, info.BroadcastingTrackIDs...)
	return &copied, nil
}

func (s *memStore) SetTracks(_ context.Context, alias, userID string, tracks []core.TrackDescriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks[s.key(alias, userID)] = append([]core.TrackDescriptor{}, tracks...)
	return nil
}

func (s *memStore) GetTracks(_ context.Context, alias, userID string) ([]core.TrackDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.TrackDescriptor{}, s.tracks[s.key(alias, userID)]...), nil
}

func (s *memStore) Delete(_ context.Context, alias, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.infos, s.key(alias, userID))
	delete(s.tracks, s.key(alias, userID))
	return nil
}

func (s *memStore) GetAll(_ context.Context, alias string) (map[string]*core.BroadcastState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	states := make(map[string]*core.BroadcastState)
	for key, info := range s.infos {
		prefix := alias + ":"
		if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		userID := key[len(prefix):]
		states[userID] = &core.BroadcastState{
			Status:               info.Status,
			Tracks:               s.tracks[key],
			BroadcastingTrackIDs: append([]string{}, info.BroadcastingTrackIDs...),
		}
	}
	return states, nil
}

type testEnv struct {
	app       *App
	engine    *fakeEngine
	directory *fakeDirectory
	store     *memStore
	shots     *store.ShotStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := &config.Config{
		Env:     core.DevelopmentEnv,
		Address: ":0",
	}
	cfg.Auth.DirectorToken = "director-secret"
	cfg.Auth.ShotToken = "shot-secret"
	cfg.Auth.APIToken = "api-secret"

	engine := newFakeEngine()
	directory := newFakeDirectory()
	memstore := newMemStore()
	shots := store.NewShotStore()

	app := New(AppOptions{
		Config:    cfg,
		Directory: directory,
		Store:     memstore,
		Shots:     shots,
		Engine:    engine,
	})

	return &testEnv{
		app:       app,
		engine:    engine,
		directory: directory,
		store:     memstore,
		shots:     shots,
	}
}

func testConn(role core.Role, alias, userID string) *Conn {
	c := &Conn{
		ID:     string(role) + "-conn-" + userID,
		Role:   role,
		Alias:  alias,
		UserID: userID,
		groups: make(map[string]struct{}),
	}
	return c
}

func testShotConn(role core.Role, alias, shotID string) *Conn {
	c := &Conn{
		ID:     string(role) + "-conn-" + shotID,
		Role:   role,
		Alias:  alias,
		ShotID: shotID,
		groups: make(map[string]struct{}),
	}
	return c
}
