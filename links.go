package sharelink

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"

	"github.com/sharelink/sharelink/oidc"
	"github.com/sharelink/sharelink/storage"
)

type createLinkRequest struct {
	URL       string   `json:"url"`
	Shortcuts []string `json:"shortcuts,omitempty"`
}

type linkResponse struct {
	ID        string   `json:"id"`
	URL       string   `json:"url"`
	Shortcuts []string `json:"shortcuts"`
	CreatedAt string   `json:"created_at"`
}

type profileResponse struct {
	ID      string   `json:"id"`
	Subject string   `json:"subject"`
	Name    string   `json:"name"`
	Email   string   `json:"email"`
	Groups  []string `json:"groups,omitempty"`
}

func (a *App) handleProfile(w http.ResponseWriter, r *http.Request) {
	claims, ok := oidc.ClaimsFromContext(r.Context())
	if !ok {
		a.internalError(w, r, nil, "no claims on authenticated request")
		return
	}

	user, err := a.currentUser(w, r)
	if err != nil {
		return
	}

	a.writeJSON(w, r, http.StatusOK, profileResponse{
		ID:      user.ID,
		Subject: user.Subject,
		Name:    user.Name,
		Email:   user.Email,
		Groups:  claims.Groups,
	})
}

func (a *App) handleListLinks(w http.ResponseWriter, r *http.Request) {
	user, err := a.currentUser(w, r)
	if err != nil {
		return
	}

	links, err := a.storage.ListLinksByUser(r.Context(), user.ID)
	if err != nil {
		a.internalError(w, r, err, "failed to list links")
		return
	}

	resp := []linkResponse{}
	for _, l := range links {
		resp = append(resp, newLinkResponse(l))
	}
	a.writeJSON(w, r, http.StatusOK, resp)
}

func (a *App) handleCreateLink(w http.ResponseWriter, r *http.Request) {
	user, err := a.currentUser(w, r)
	if err != nil {
		return
	}

	var req createLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	target, err := url.Parse(req.URL)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		http.Error(w, "url must be absolute http(s)", http.StatusBadRequest)
		return
	}

	shortcuts := req.Shortcuts
	if len(shortcuts) == 0 {
		shortcuts = []string{randomShortcut()}
	}
	for _, code := range shortcuts {
		if !validShortcut(code) {
			http.Error(w, "invalid shortcut: "+code, http.StatusBadRequest)
			return
		}
	}

	link, err := a.storage.CreateLink(r.Context(), storage.Link{
		URL:       req.URL,
		Shortcuts: shortcuts,
		CreatedBy: user.ID,
	})
	if err != nil {
		if storage.IsConflictErr(err) {
			http.Error(w, "shortcut already in use", http.StatusConflict)
			return
		}
		a.internalError(w, r, err, "failed to create link")
		return
	}

	a.writeJSON(w, r, http.StatusCreated, newLinkResponse(link))
}

func (a *App) handleGetLink(w http.ResponseWriter, r *http.Request) {
	user, err := a.currentUser(w, r)
	if err != nil {
		return
	}

	link, err := a.storage.GetLink(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		if storage.IsNotFoundErr(err) {
			http.NotFound(w, r)
			return
		}
		a.internalError(w, r, err, "failed to get link")
		return
	}
	if link.CreatedBy != user.ID {
		http.NotFound(w, r)
		return
	}

	a.writeJSON(w, r, http.StatusOK, newLinkResponse(link))
}

func (a *App) handleDeleteLink(w http.ResponseWriter, r *http.Request) {
	user, err := a.currentUser(w, r)
	if err != nil {
		return
	}

	id := mux.Vars(r)["id"]
	link, err := a.storage.GetLink(r.Context(), id)
	if err != nil {
		if storage.IsNotFoundErr(err) {
			http.NotFound(w, r)
			return
		}
		a.internalError(w, r, err, "failed to get link")
		return
	}
	if link.CreatedBy != user.ID {
		http.NotFound(w, r)
		return
	}

	if err := a.storage.DeleteLink(r.Context(), id); err != nil {
		a.internalError(w, r, err, "failed to delete link")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleShortcut is the public redirect, no auth required.
func (a *App) handleShortcut(w http.ResponseWriter, r *http.Request) {
	link, err := a.storage.ResolveShortcut(r.Context(), mux.Vars(r)["shortcut"])
	if err != nil {
		if storage.IsNotFoundErr(err) {
			http.NotFound(w, r)
			return
		}
		a.internalError(w, r, err, "failed to resolve shortcut")
		return
	}
	http.Redirect(w, r, link.URL, http.StatusTemporaryRedirect)
}

// currentUser resolves the request's verified claims to a stored user,
// provisioning one on first sight. On error a response has already been
// written.
func (a *App) currentUser(w http.ResponseWriter, r *http.Request) (storage.User, error) {
	claims, ok := oidc.ClaimsFromContext(r.Context())
	if !ok {
		err := errNoClaims
		a.internalError(w, r, err, "no claims on authenticated request")
		return storage.User{}, err
	}

	user, err := a.storage.GetUserBySubject(r.Context(), claims.Subject)
	if storage.IsNotFoundErr(err) {
		user, err = a.storage.UpsertUser(r.Context(), storage.User{
			Subject: claims.Subject,
			Name:    claims.Name,
			Email:   claims.Email,
		})
	}
	if err != nil {
		a.internalError(w, r, err, "failed to load user")
		return storage.User{}, err
	}
	return user, nil
}

var errNoClaims = &noClaimsError{}

type noClaimsError struct{}

func (*noClaimsError) Error() string { return "no claims in request context" }

func (a *App) writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.WithError(err).WithField("path", r.URL.Path).Error("failed to write response")
	}
}

func (a *App) internalError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	l := a.logger.WithField("path", r.URL.Path)
	if err != nil {
		l = l.WithError(err)
	}
	l.Error(msg)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func newLinkResponse(l storage.Link) linkResponse {
	return linkResponse{
		ID:        l.ID,
		URL:       l.URL,
		Shortcuts: l.Shortcuts,
		CreatedAt: l.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

var shortcutEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

func randomShortcut() string {
	b := make([]byte, 5)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return strings.ToLower(shortcutEncoding.EncodeToString(b))
}

// validShortcut rejects codes that would collide with reserved routes or
// break URL paths.
func validShortcut(code string) bool {
	if code == "" || len(code) > 64 {
		return false
	}
	switch code {
	case "health", "metrics", "auth", "user", "api":
		return false
	}
	for _, c := range code {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}
