package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/skip2/go-qrcode"

	"github.com/dmelojr/zapgate/internal/store"
	"github.com/dmelojr/zapgate/internal/transport"
	"github.com/dmelojr/zapgate/pkg/models"
)

const qrImageSize = 300

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "service": "zapgate"})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	session := r.PathValue("session")
	if _, err := s.sessions.Acquire(r.Context(), session); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.sessions.ConnectionState(session))
}

func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	session := r.PathValue("session")
	if _, err := s.sessions.Acquire(r.Context(), session); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	code, ok := s.sessions.PendingQR(session)
	if !ok {
		writeJSON(w, http.StatusAccepted, map[string]any{
			"ok":      false,
			"message": "awaiting QR or already authenticated",
		})
		return
	}

	png, err := qrcode.Encode(code, qrcode.Medium, qrImageSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to render QR code")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

func (s *Server) handleSetWebhook(w http.ResponseWriter, r *http.Request) {
	session := r.PathValue("session")

	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "field 'url' is required")
		return
	}
	if _, err := url.ParseRequestURI(req.URL); err != nil {
		writeError(w, http.StatusBadRequest, "field 'url' is not a valid URL")
		return
	}

	if err := s.store.SetWebhookURL(r.Context(), session, req.URL); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "session": session, "url": req.URL})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	session := r.PathValue("session")

	var req struct {
		To   string `json:"to"`
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.To == "" {
		writeError(w, http.StatusBadRequest, "field 'to' is required")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "field 'text' is required")
		return
	}

	jid, err := transport.ToUserJID(req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.deliver(w, r, session, jid, req.Text, map[string]any{"to": jid})
}

func (s *Server) handleSendGroup(w http.ResponseWriter, r *http.Request) {
	session := r.PathValue("session")

	var req struct {
		GroupJID  string `json:"groupJid"`
		GroupName string `json:"groupName"`
		Text      string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || (req.GroupJID == "" && req.GroupName == "") {
		writeError(w, http.StatusBadRequest, "field 'groupJid' or 'groupName' is required")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "field 'text' is required")
		return
	}

	client, err := s.sessions.Acquire(r.Context(), session)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	jid := transport.ToGroupJID(req.GroupJID)
	if req.GroupJID == "" {
		jid, err = findGroupByName(r.Context(), client, req.GroupName)
		if errors.Is(err, errGroupNotFound) {
			writeError(w, http.StatusNotFound, "group not found (use groupJid or the exact group title)")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	s.deliver(w, r, session, jid, req.Text, map[string]any{"groupJid": jid})
}

// deliver sends the message, marks ownership before replying, and seeds the
// lifecycle record so status events reconcile against it.
func (s *Server) deliver(w http.ResponseWriter, r *http.Request, session, jid, text string, extra map[string]any) {
	client, err := s.sessions.Acquire(r.Context(), session)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	res, err := client.SendText(r.Context(), jid, text)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.store.MarkOwnedMessage(r.Context(), session, res.MessageID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	sentAt := res.Timestamp
	if sentAt == 0 {
		sentAt = time.Now().Unix()
	}
	if err := s.store.UpsertMessage(r.Context(), &models.MessageRecord{
		ID:        res.MessageID,
		Session:   session,
		RemoteJID: jid,
		FromMe:    true,
		SentAt:    sentAt,
		Status:    models.StatusSent,
	}); err != nil {
		// The reconciler synthesizes the record from the first status event.
		s.logger.Error("failed to seed message record",
			"session", session, "message_id", res.MessageID, "error", err)
	}

	body := map[string]any{"ok": true, "messageId": res.MessageID}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	session := r.PathValue("session")
	messageID := r.PathValue("messageId")

	rec, err := s.store.GetMessage(r.Context(), messageID, session)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "message not found or no receipts yet")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"session":     session,
		"messageId":   rec.ID,
		"to":          rec.RemoteJID,
		"status":      rec.Status,
		"sentAt":      models.NewTimestamps(&rec.SentAt),
		"deliveredAt": models.NewTimestamps(rec.DeliveredAt),
		"readAt":      models.NewTimestamps(rec.ReadAt),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	session := r.PathValue("session")
	if err := s.sessions.Logout(r.Context(), session); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "session": session})
}

var errGroupNotFound = errors.New("group not found")

func findGroupByName(ctx context.Context, client transport.Client, name string) (string, error) {
	groups, err := client.JoinedGroups(ctx)
	if err != nil {
		return "", err
	}
	for _, g := range groups {
		if strings.EqualFold(g.Name, name) {
			return g.JID, nil
		}
	}
	return "", errGroupNotFound
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": msg})
}
