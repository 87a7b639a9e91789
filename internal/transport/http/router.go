package http

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"virtual-lab-service/internal/app"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// SignInCompleter finishes a redirect-based sign-in on the callback route.
type SignInCompleter interface {
	CompleteSignIn(ctx context.Context, state, code string) (string, error)
}

// API exposes the client core to the presentation layer.
type API struct {
	reconciler *app.Reconciler
	profiles   *app.ProfileStore
	attempts   *app.Attempts
	catalog    app.Catalog
	completer  SignInCompleter
	log        *slog.Logger
}

// NewAPI wires the handlers. completer may be nil when the identity provider
// signs in without a callback (development sign-in).
func NewAPI(reconciler *app.Reconciler, profiles *app.ProfileStore, attempts *app.Attempts,
	catalog app.Catalog, completer SignInCompleter, log *slog.Logger) *API {
	if log == nil {
		log = slog.Default()
	}
	return &API{
		reconciler: reconciler,
		profiles:   profiles,
		attempts:   attempts,
		catalog:    catalog,
		completer:  completer,
		log:        log,
	}
}

// Router builds the chi route tree.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", a.login)
		r.Get("/callback", a.callback)
		r.Post("/logout", a.logout)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/me", a.me)
		r.Get("/dashboard", a.dashboard)
		r.Get("/challenges", a.listChallenges)
		r.Route("/challenges/{id}", func(r chi.Router) {
			r.Get("/", a.getChallenge)
			r.Get("/draft", a.getDraft)
			r.Put("/draft", a.putAnswer)
			r.Delete("/draft", a.resetDraft)
			r.Post("/submit", a.submit)
		})
	})

	r.Get("/ws", NewProfileStream(a.profiles, a.attempts, a.log).ServeWS)
	return r
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	target, err := a.reconciler.Login(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (a *API) callback(w http.ResponseWriter, r *http.Request) {
	if a.completer == nil {
		http.NotFound(w, r)
		return
	}
	q := r.URL.Query()
	if reason := q.Get("error"); reason != "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "sign-in cancelled: " + reason})
		return
	}
	target, err := a.completer.CompleteSignIn(r.Context(), q.Get("state"), q.Get("code"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	// Reconciliation runs inside the SIGNED_IN notification. Without a profile
	// the sign-in was refused, unless an earlier reconcile of it is still running.
	if _, ok := a.profiles.Get(); !ok && a.reconciler.State() != app.StateReconciling {
		target = withQuery(target, "error", "access_denied")
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	if err := a.reconciler.Terminate(r.Context()); err != nil {
		a.log.Warn("sign-out left local state behind", "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	profile, ok := a.profiles.Get()
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "not signed in"})
		return
	}
	writeJSON(w, http.StatusOK, meResponse{State: a.reconciler.State(), Profile: profile})
}

func (a *API) dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := app.DashboardFor(r.Context(), a.profiles, a.catalog)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func withQuery(target, key, value string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
