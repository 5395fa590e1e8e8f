// Package httpapi exposes the booking engine over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tradojo/booking/booking"
	"github.com/tradojo/booking/internal/identity"
)

// Authenticator registers and logs in users.
type Authenticator interface {
	Verifier
	Register(ctx context.Context, email, username, password string) (string, error)
	Login(ctx context.Context, email, password string) (string, booking.User, error)
}

// Community is the Discord integration. Routes using it are not mounted when
// it is nil.
type Community interface {
	Bind(ctx context.Context, userID, code string) (booking.DiscordLink, error)
	SuspendLapsed(ctx context.Context) (int, error)
}

// Options wires the router's collaborators.
type Options struct {
	Auth      Authenticator
	Community Community
	Logger    *slog.Logger
}

type api struct {
	engine    *booking.Engine
	auth      Authenticator
	community Community
	logger    *slog.Logger
}

const maxBodyBytes = 1 << 20

// NewRouter constructs the API HTTP router.
func NewRouter(engine *booking.Engine, opts Options) http.Handler {
	a := &api{engine: engine, auth: opts.Auth, community: opts.Community, logger: opts.Logger}
	if a.logger == nil {
		a.logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Post("/auth/register", a.register)
	r.Post("/auth/login", a.login)

	r.Group(func(r chi.Router) {
		r.Use(NewAuthMiddleware(a.auth))

		r.Get("/me", a.getMe)
		r.Get("/me/travels", a.listMyTravels)

		r.Post("/travels", a.createTravel)
		r.Route("/travels/{travelID}", func(r chi.Router) {
			r.Get("/", a.getTravel)
			r.Patch("/", a.updateTravel)
			r.Delete("/", a.deleteTravel)
			r.Get("/services", a.listServices)
			r.With(requirePrivileged).Post("/services", a.addService)
		})

		if a.community != nil {
			r.Post("/discord/bind", a.bindDiscord)
		}

		r.Group(func(r chi.Router) {
			r.Use(requirePrivileged)

			r.Get("/services/{serviceID}", a.getService)
			r.Patch("/services/{serviceID}", a.updateService)
			r.Delete("/services/{serviceID}", a.deleteService)

			r.Get("/users", a.findUser)
			r.Get("/users/{userID}", a.getUser)
			r.Patch("/users/{userID}", a.updateUser)
			r.Delete("/users/{userID}", a.removeUser)
			r.Get("/users/{userID}/travels", a.listUserTravels)
			r.Post("/users/{userID}/reconcile", a.reconcileUser)

			if a.community != nil {
				r.Post("/discord/suspend-lapsed", a.suspendLapsed)
			}
		})
	})
	return r
}

// decode reads a JSON body into v, writing a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, r, http.StatusBadRequest, "BAD_REQUEST", "malformed JSON body: "+err.Error(), nil)
		return false
	}
	return true
}

func principal(r *http.Request) Principal {
	p, _ := PrincipalFromContext(r.Context())
	return p
}

func (a *api) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := a.auth.Register(r.Context(), req.Email, req.Username, req.Password)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (a *api) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}
	token, u, err := a.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, User: userFromDomain(u)})
}

func (a *api) getMe(w http.ResponseWriter, r *http.Request) {
	u, err := a.engine.GetUser(r.Context(), principal(r).UserID)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userFromDomain(u))
}

func (a *api) listMyTravels(w http.ResponseWriter, r *http.Request) {
	travels, err := a.engine.ListTravelsForOwner(r.Context(), principal(r).UserID)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"travels": nonNil(travels)})
}

func (a *api) createTravel(w http.ResponseWriter, r *http.Request) {
	var req travelRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := a.engine.CreateTravel(r.Context(), principal(r).UserID, booking.TravelFields{
		Name:     req.Name,
		Location: req.Location,
		Date:     req.Date,
		Comments: req.Comments,
	})
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

// ownedTravel loads the travel in the path and checks the caller may act on
// it. It writes the response and returns false otherwise.
func (a *api) ownedTravel(w http.ResponseWriter, r *http.Request) (booking.Travel, bool) {
	t, err := a.engine.GetTravel(r.Context(), chi.URLParam(r, "travelID"))
	if err != nil {
		a.writeErr(w, r, err)
		return booking.Travel{}, false
	}
	p := principal(r)
	if t.Owner != p.UserID && !p.Role.Privileged() {
		writeError(w, r, http.StatusForbidden, "FORBIDDEN", "not the owner of this travel", nil)
		return booking.Travel{}, false
	}
	return t, true
}

func (a *api) getTravel(w http.ResponseWriter, r *http.Request) {
	t, ok := a.ownedTravel(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *api) updateTravel(w http.ResponseWriter, r *http.Request) {
	t, ok := a.ownedTravel(w, r)
	if !ok {
		return
	}
	var req travelPatchRequest
	if !decode(w, r, &req) {
		return
	}
	if err := a.engine.UpdateTravel(r.Context(), t.ID, req.toDomain()); err != nil {
		a.writeErr(w, r, err)
		return
	}
	updated, err := a.engine.GetTravel(r.Context(), t.ID)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (a *api) deleteTravel(w http.ResponseWriter, r *http.Request) {
	t, ok := a.ownedTravel(w, r)
	if !ok {
		return
	}
	res, err := a.engine.DeleteTravel(r.Context(), t.ID)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deleteResultFromDomain(res))
}

func (a *api) listServices(w http.ResponseWriter, r *http.Request) {
	t, ok := a.ownedTravel(w, r)
	if !ok {
		return
	}
	services, err := a.engine.ListServices(r.Context(), t.ID)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": nonNil(services)})
}

func (a *api) addService(w http.ResponseWriter, r *http.Request) {
	var req serviceRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := a.engine.AddService(r.Context(), chi.URLParam(r, "travelID"), booking.ServiceFields{
		Name:        req.Name,
		Description: req.Description,
		PriceCents:  req.PriceCents,
		Images:      req.Images,
	})
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (a *api) getService(w http.ResponseWriter, r *http.Request) {
	s, err := a.engine.GetService(r.Context(), chi.URLParam(r, "serviceID"))
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *api) updateService(w http.ResponseWriter, r *http.Request) {
	var req servicePatchRequest
	if !decode(w, r, &req) {
		return
	}
	s, err := a.engine.UpdateService(r.Context(), chi.URLParam(r, "serviceID"), req.toDomain())
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *api) deleteService(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.DeleteService(r.Context(), chi.URLParam(r, "serviceID")); err != nil {
		a.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) findUser(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		writeError(w, r, http.StatusBadRequest, "BAD_REQUEST", "email query parameter is required", nil)
		return
	}
	u, err := a.engine.FindUserByEmail(r.Context(), email)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userFromDomain(u))
}

func (a *api) getUser(w http.ResponseWriter, r *http.Request) {
	u, err := a.engine.GetUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userFromDomain(u))
}

func (a *api) updateUser(w http.ResponseWriter, r *http.Request) {
	var req userPatchRequest
	if !decode(w, r, &req) {
		return
	}
	u, err := a.engine.UpdateUser(r.Context(), chi.URLParam(r, "userID"), req.toDomain())
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userFromDomain(u))
}

func (a *api) removeUser(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.RemoveUser(r.Context(), chi.URLParam(r, "userID")); err != nil {
		a.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) listUserTravels(w http.ResponseWriter, r *http.Request) {
	travels, err := a.engine.ListTravelsForOwner(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"travels": nonNil(travels)})
}

func (a *api) reconcileUser(w http.ResponseWriter, r *http.Request) {
	added, removed, err := a.engine.Reconcile(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reconcileResponse{Added: added, Removed: removed})
}

func (a *api) bindDiscord(w http.ResponseWriter, r *http.Request) {
	var req bindRequest
	if !decode(w, r, &req) {
		return
	}
	link, err := a.community.Bind(r.Context(), principal(r).UserID, req.Code)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, discordLinkResponse{AccountID: link.AccountID, Username: link.Username})
}

func (a *api) suspendLapsed(w http.ResponseWriter, r *http.Request) {
	n, err := a.community.SuspendLapsed(r.Context())
	resp := suspendResponse{Suspended: n}
	if err != nil {
		resp.Errors = []string{err.Error()}
	}
	writeJSON(w, http.StatusOK, resp)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

var _ Authenticator = (*identity.Service)(nil)
