package http

import (
	"net/http"

	"github.com/gorilla/mux"
)

type createGroupRequest struct {
	Name string `json:"name"`
}

type joinGroupRequest struct {
	InviteCode string `json:"invite_code"`
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		BadRequestError(r, err.Error()).Write(w)
		return
	}
	g, err := s.groups.CreateGroup(r.Context(), currentUser(r), sanitizeInput(req.Name))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newGroupView(g, nil))
}

func (s *Server) handleJoinGroup(w http.ResponseWriter, r *http.Request) {
	var req joinGroupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		BadRequestError(r, err.Error()).Write(w)
		return
	}
	g, joined, err := s.groups.Join(r.Context(), currentUser(r), req.InviteCode)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if joined {
		status = http.StatusCreated
	}
	writeJSON(w, status, struct {
		Group  groupView `json:"group"`
		Joined bool      `json:"joined"`
	}{newGroupView(g, nil), joined})
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.groups.ListForUser(r.Context(), currentUser(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]groupView, 0, len(groups))
	for _, g := range groups {
		out = append(out, newGroupView(g, nil))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	d, err := s.groups.Get(r.Context(), mux.Vars(r)["id"], currentUser(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newGroupView(d.Group, d.Members))
}

// requireMember rejects requests on groups the caller does not belong to.
func (s *Server) requireMember(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.groups.Authorize(r.Context(), mux.Vars(r)["id"], currentUser(r)); err != nil {
			writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

