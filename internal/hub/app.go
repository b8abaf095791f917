package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/isqad/melody"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rankland/broadcast-hub/internal/config"
	"github.com/rankland/broadcast-hub/internal/core"
	"github.com/rankland/broadcast-hub/internal/membership"
	"github.com/rankland/broadcast-hub/internal/rtcengine"
	"github.com/rankland/broadcast-hub/internal/store"
	"github.com/rankland/broadcast-hub/internal/telemetry"
)

// AppOptions is options of the application
type AppOptions struct {
	Config    *config.Config
	Directory membership.Directory
	Store     store.BroadcastStore
	Shots     *store.ShotStore
	Engine    rtcengine.Router
}

// App is the signaling gateway: three independently authenticated
// websocket channels plus a small REST surface for stored state.
type App struct {
	cfg       *config.Config
	directory membership.Directory
	store     store.BroadcastStore
	shots     *store.ShotStore
	engine    rtcengine.Router

	registry *Registry
	acks     *ackTable

	broadcasterWS *melody.Melody
	shotWS        *melody.Melody
	defaultWS     *melody.Melody
}

func New(options AppOptions) *App {
	app := &App{
		cfg:       options.Config,
		directory: options.Directory,
		store:     options.Store,
		shots:     options.Shots,
		engine:    options.Engine,

		registry: NewRegistry(),
		acks:     newAckTable(),

		broadcasterWS: melody.New(),
		shotWS:        melody.New(),
		defaultWS:     melody.New(),
	}

	app.broadcasterWS.Config.MaxMessageSize = 200 * 1024 // 200K
	app.shotWS.Config.MaxMessageSize = 200 * 1024
	app.defaultWS.Config.MaxMessageSize = 1024

	return app
}

func (app *App) Start() error {
	quit := make(chan os.Signal, 1)
	done := make(chan struct{}, 1)

	app.initLogger()
	router := app.initRouter()

	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	server := &http.Server{
		Addr:              app.cfg.Address,
		Handler:           router,
		ReadHeaderTimeout: 1 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	server.RegisterOnShutdown(func() {
		log.Warn().Msg("received signal to terminate the server")
		log.Info().Msg("all services are stopped")
		close(done)
	})

	// Shutdown the HTTP server
	go func() {
		<-quit
		log.Warn().Msg("the server is going shutting down")

		// Wait 20 seconds for close http connections
		waitIdleConnCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		server.SetKeepAlivesEnabled(false)
		if err := server.Shutdown(waitIdleConnCtx); err != nil {
			log.Fatal().Err(err).Msg("can't gracefully shutdown the server")
		}
	}()

	err := server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server has been closed immediatelly")
	}

	<-done

	if err := app.engine.Close(); err != nil {
		log.Error().Err(err).Msg("can't close media engine")
	}
	log.Info().Msg("server stopped")

	return nil
}

func (app *App) initLogger() {
	cw := zerolog.NewConsoleWriter()
	log.Logger = log.Output(cw)

	level := zerolog.InfoLevel

	if app.cfg.Env.IsDevelopment() {
		level = zerolog.DebugLevel
	}

	zerolog.SetGlobalLevel(level)
}

// initRouter is function for construct http router
func (app *App) initRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	app.broadcasterWS.HandleConnect(app.connectHandler("broadcaster"))
	app.broadcasterWS.HandleDisconnect(app.broadcasterDisconnectHandler)
	app.broadcasterWS.HandleMessage(app.dispatch(app.broadcasterHandlers()))
	app.broadcasterWS.HandleError(wsErrorHandler)

	app.shotWS.HandleConnect(app.connectHandler("shot"))
	app.shotWS.HandleDisconnect(app.shotDisconnectHandler)
	app.shotWS.HandleMessage(app.dispatch(app.shotHandlers()))
	app.shotWS.HandleError(wsErrorHandler)

	app.defaultWS.HandleConnect(func(s *melody.Session) {
		payload, _ := json.Marshal(errEnvelope("connect", 0, core.NewLogicError(core.IllegalRequest)))
		if err := s.Write(payload); err != nil {
			log.Debug().Err(err).Str("service", "hub").Msg("write default channel rejection")
		}
		if err := s.Close(); err != nil {
			log.Debug().Err(err).Str("service", "hub").Msg("close default channel session")
		}
	})

	r.Get("/ws/broadcaster", app.wsHandler(app.broadcasterWS, app.authenticateBroadcasterChannel))
	r.Get("/ws/shot", app.wsHandler(app.shotWS, app.authenticateShotChannel))
	r.Get("/ws", func(w http.ResponseWriter, req *http.Request) {
		if err := app.defaultWS.HandleRequestWithKeys(w, req, map[string]interface{}{}); err != nil {
			log.Debug().Err(err).Str("service", "hub").Msg("default channel upgrade failed")
		}
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(app.apiTokenGuard)
		r.Get("/contests/{alias}/broadcasters", app.contestBroadcastersHandler)
		r.Get("/contests/{alias}/shots", app.contestShotsHandler)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

type authFunc func(ctx context.Context, query url.Values) (*identity, error)

// wsHandler upgrades the connection first, so an authentication
// failure can be delivered as a rejection envelope over the socket
// before it is closed.
func (app *App) wsHandler(m *melody.Melody, authenticate authFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessKeys := make(map[string]interface{})

		ident, err := authenticate(r.Context(), r.URL.Query())
		if err != nil {
			log.Warn().Err(err).Str("service", "hub").Str("path", r.URL.Path).Msg("channel auth failed")
			sessKeys[rejectSessionKey] = errEnvelope("connect", 0, err)
		} else {
			conn := newConn(uuid.NewString(), ident.Role)
			conn.Alias = ident.Alias
			conn.UserID = ident.UserID
			conn.ShotID = ident.ShotID

			// Directors watch room-scoped pushes from the moment
			// they connect, before joining the media room.
			if conn.Role == core.RoleDirector {
				switch r.URL.Path {
				case "/ws/broadcaster":
					conn.Join(viewerGroup(conn.Alias, conn.UserID))
				case "/ws/shot":
					conn.Join(shotViewerGroup(conn.Alias))
				}
			}

			sessKeys[connSessionKey] = conn
		}

		if err := m.HandleRequestWithKeys(w, r, sessKeys); err != nil {
			log.Debug().Err(err).Str("service", "hub").Str("path", r.URL.Path).Msg("websocket upgrade failed")
		}
	}
}

func (app *App) connectHandler(channel string) func(*melody.Session) {
	return func(s *melody.Session) {
		if env, ok := s.Keys[rejectSessionKey]; ok {
			payload, _ := json.Marshal(env)
			if err := s.Write(payload); err != nil {
				log.Debug().Err(err).Str("service", "hub").Msg("write rejection")
			}
			if err := s.Close(); err != nil {
				log.Debug().Err(err).Str("service", "hub").Msg("close rejected session")
			}
			return
		}

		conn, err := connFromSession(s)
		if err != nil {
			log.Error().Err(err).Str("service", "hub").Msg("session without conn")
			_ = s.Close()
			return
		}

		conn.attach(s)
		telemetry.ConnectionOpened(channel)

		log.Info().
			Str("service", "hub").
			Str("channel", channel).
			Str("alias", conn.Alias).
			Str("role", string(conn.Role)).
			Str("connID", conn.ID).
			Msg("connected")
	}
}

func (app *App) broadcasterDisconnectHandler(s *melody.Session) {
	conn, err := connFromSession(s)
	if err != nil {
		return
	}
	telemetry.ConnectionClosed("broadcaster")

	log.Info().
		Str("service", "hub").
		Str("channel", "broadcaster").
		Str("alias", conn.Alias).
		Str("role", string(conn.Role)).
		Str("connID", conn.ID).
		Msg("disconnected")

	switch conn.Role {
	case core.RoleBroadcaster:
		// Blunt but effective: once the producing side drops, clear
		// everything so the next attempt starts from scratch.
		app.clearRoomAndAllData(context.Background(), conn.Alias, conn.UserID)
		app.emit(app.broadcasterWS, viewerGroup(conn.Alias, conn.UserID), "roomDestroyed", nil)
	case core.RoleDirector:
		if room := app.registry.Get(broadcastRoomKey(conn.Alias, conn.UserID)); room != nil {
			room.Lock()
			room.RemovePeer(conn.ID)
			room.Unlock()
		}
	}
}

func (app *App) shotDisconnectHandler(s *melody.Session) {
	conn, err := connFromSession(s)
	if err != nil {
		return
	}
	telemetry.ConnectionClosed("shot")

	log.Info().
		Str("service", "hub").
		Str("channel", "shot").
		Str("alias", conn.Alias).
		Str("role", string(conn.Role)).
		Str("connID", conn.ID).
		Msg("disconnected")

	switch conn.Role {
	case core.RoleShot:
		app.removeShot(conn.Alias, conn.ShotID)
	case core.RoleDirector:
		if room := app.registry.Get(shotRoomKey(conn.Alias)); room != nil {
			room.Lock()
			room.RemovePeer(conn.ID)
			room.Unlock()
		}
	}
}

func wsErrorHandler(s *melody.Session, err error) {
	log.Error().Err(err).Str("service", "hub").Msg("error in websocket session")
}

type apiEnvelope struct {
	Success bool         `json:"success"`
	Code    core.ErrCode `json:"code"`
	Data    interface{}  `json:"data,omitempty"`
	Msg     string       `json:"msg,omitempty"`
}

func (app *App) apiTokenGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-token") != app.cfg.Auth.APIToken {
			writeAPIResponse(w, http.StatusUnauthorized, apiEnvelope{
				Success: false,
				Code:    core.InvalidAuthInfo,
				Msg:     core.Message(core.InvalidAuthInfo),
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (app *App) contestBroadcastersHandler(w http.ResponseWriter, r *http.Request) {
	alias := chi.URLParam(r, "alias")

	states, err := app.store.GetAll(r.Context(), alias)
	if err != nil {
		log.Error().Err(err).Str("service", "hub").Str("alias", alias).Msg("load broadcaster states")
		writeAPIResponse(w, http.StatusInternalServerError, apiEnvelope{
			Success: false,
			Code:    core.SystemError,
			Msg:     core.Message(core.SystemError),
		})
		return
	}

	writeAPIResponse(w, http.StatusOK, apiEnvelope{Success: true, Data: states})
}

func (app *App) contestShotsHandler(w http.ResponseWriter, r *http.Request) {
	alias := chi.URLParam(r, "alias")
	writeAPIResponse(w, http.StatusOK, apiEnvelope{Success: true, Data: app.shots.GetAll(alias)})
}

func writeAPIResponse(w http.ResponseWriter, status int, env apiEnvelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		log.Debug().Err(err).Str("service", "hub").Msg("encode api response")
	}
}
