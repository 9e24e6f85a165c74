package http

import (
	"net/http"
)

// handleNotifications lists every notification of the caller, newest first,
// then marks them read. The response shows the state before marking.
func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	list, err := s.store.ListNotifications(r.Context(), user, false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := s.store.MarkAllRead(r.Context(), user); err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]notificationView, 0, len(list))
	for _, n := range list {
		out = append(out, notificationView{ID: n.ID, Message: n.Message, Read: n.Read, CreatedAt: n.CreatedAt})
	}
	writeJSON(w, http.StatusOK, out)
}
