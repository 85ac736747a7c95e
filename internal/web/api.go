// Package web is the dashboard gateway: static map page, observer websocket, monitoring
// and metrics endpoints.
package web

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/phuslu/log"
	"nuha.dev/trackfeed/internal/metrics"
	"nuha.dev/trackfeed/internal/util"
)

const MAP_PAGE = "map.html"

type ApiConfig struct {
	ListenAddr string
	StaticDir  string
	// AuthUser and AuthHash (bcrypt) protect the dashboard when both are set.
	AuthUser string
	AuthHash string
}

type Api struct {
	r      chi.Router
	s      *http.Server
	config *ApiConfig
	log    log.Logger
}

func NewApi(config *ApiConfig, stream http.Handler, monitor http.Handler) *Api {
	api := &Api{config: config}
	api.log = log.DefaultLogger
	api.log.Context = log.NewContext(nil).Str("module", "api").Value()
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(api.requestLog)
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", metrics.Handler())
	r.Group(func(r chi.Router) {
		if config.AuthUser != "" && config.AuthHash != "" {
			r.Use(api.basicAuth)
		}
		r.Get("/", api.mapPage)
		r.Handle("/ws", stream)
		r.Mount("/monitor", monitor)
		if config.StaticDir != "" {
			r.Handle("/*", http.FileServer(http.Dir(config.StaticDir)))
		}
	})

	api.r = r
	api.s = &http.Server{
		Addr:           config.ListenAddr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	return api
}

func (api *Api) Handler() http.Handler {
	return api.r
}

// Run serves until Shutdown. A listen failure is returned, a shutdown is not.
func (api *Api) Run() error {
	api.log.Info().Msgf("starting dashboard on %s", api.config.ListenAddr)
	err := api.s.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (api *Api) Shutdown(ctx context.Context) error {
	return api.s.Shutdown(ctx)
}

func (api *Api) mapPage(w http.ResponseWriter, r *http.Request) {
	if api.config.StaticDir == "" {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, filepath.Join(api.config.StaticDir, MAP_PAGE))
}

func (api *Api) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pwd, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(user), []byte(api.config.AuthUser)) != 1 || !util.CheckPwd(api.config.AuthHash, pwd) {
			api.log.Debug().Str("remote", r.RemoteAddr).Str("user", user).Msg("dashboard authentication failed")
			w.Header().Set("WWW-Authenticate", `Basic realm="trackfeed"`)
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (api *Api) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		t0 := time.Now()
		next.ServeHTTP(ww, r)
		api.log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Str("remote", r.RemoteAddr).Int("status", ww.Status()).Dur("took", time.Since(t0)).Msg("")
	})
}
