package devserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"smartparking/internal/models"
	"smartparking/internal/service"
)

const maxUploadBytes = 8 << 20

var phonePattern = regexp.MustCompile(`^\+?\d{9,15}$`)

// Handlers serves the parking API.
type Handlers struct {
	store     *Store
	tokens    *TokenService
	hub       *Hub
	publicURL string
	scheme    string
	logger    *zap.Logger
}

// NewHandlers builds handlers. publicURL is the externally visible base used in checkout and
// upload links; when empty it is derived from the request. scheme is the app deep link scheme
// the checkout page returns to.
func NewHandlers(store *Store, tokens *TokenService, hub *Hub, publicURL, scheme string, logger *zap.Logger) *Handlers {
	return &Handlers{
		store:     store,
		tokens:    tokens,
		hub:       hub,
		publicURL: strings.TrimRight(publicURL, "/"),
		scheme:    scheme,
		logger:    logger,
	}
}

type loginRequest struct {
	Phone string `json:"phone"`
}

type startRequest struct {
	LotID    string `json:"lot_id"`
	Plate    string `json:"plate"`
	PhotoURL string `json:"photo_url"`
}

// Health reports liveness.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Login issues a token for a phone number.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	phone := strings.TrimSpace(req.Phone)
	if !phonePattern.MatchString(phone) {
		writeError(w, http.StatusBadRequest, "invalid phone")
		return
	}
	token, err := h.tokens.GenerateToken(h.store.UserFor(phone), phone)
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "token error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// Lots lists lots. Coordinates are accepted for compatibility; the client sorts by distance.
func (h *Handlers) Lots(w http.ResponseWriter, r *http.Request) {
	for _, key := range []string{"lat", "lng", "radius_km"} {
		if raw := r.URL.Query().Get(key); raw != "" {
			if _, err := strconv.ParseFloat(raw, 64); err != nil {
				writeError(w, http.StatusBadRequest, "invalid "+key)
				return
			}
		}
	}
	writeJSON(w, http.StatusOK, h.store.Lots())
}

// Upload stores a multipart "file" field.
func (h *Handlers) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read file")
		return
	}
	id := h.store.SaveUpload(data)
	writeJSON(w, http.StatusCreated, map[string]string{"file_url": h.baseURL(r) + "/files/" + id})
}

// File serves an uploaded file.
func (h *Handlers) File(w http.ResponseWriter, r *http.Request) {
	data, ok := h.store.Upload(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	_, _ = w.Write(data)
}

// StartSession opens a session.
func (h *Handlers) StartSession(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.LotID) == "" {
		writeError(w, http.StatusBadRequest, "lot_id is required")
		return
	}
	session, err := h.store.Start(userID, req.LotID, req.Plate)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.logger.Info("session started", zap.String("session_id", session.ID), zap.String("lot_id", session.LotID))
	writeJSON(w, http.StatusCreated, session)
}

// ActiveSession returns the active session for a plate or JSON null.
func (h *Handlers) ActiveSession(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	session, err := h.store.Active(userID, r.URL.Query().Get("plate"))
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// History lists the user's sessions.
func (h *Handlers) History(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}
	sessions := h.store.History(userID, limit)
	if sessions == nil {
		sessions = []models.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// GetSession returns one session.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	session, err := h.store.Get(userID, mux.Vars(r)["id"])
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// ExitSession completes a session.
func (h *Handlers) ExitSession(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	session, err := h.store.Exit(userID, mux.Vars(r)["id"])
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.logger.Info("session exited", zap.String("session_id", session.ID), zap.Int64("amount_cents", session.Payment.AmountCents))
	writeJSON(w, http.StatusOK, session)
}

// PaymentLink issues a hosted checkout URL.
func (h *Handlers) PaymentLink(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	id := mux.Vars(r)["id"]
	if _, err := h.store.PaymentReference(userID, id); err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"payment_url": h.baseURL(r) + "/checkout/" + id})
}

// Checkout plays the hosted payment page. ?outcome=failed records a failed payment.
func (h *Handlers) Checkout(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	status := models.PaymentStatusPaid
	if r.URL.Query().Get("outcome") == "failed" {
		status = models.PaymentStatusFailed
	}
	session, err := h.store.SettlePayment(id, status)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.logger.Info("checkout settled", zap.String("session_id", id), zap.String("status", string(status)))

	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		writeJSON(w, http.StatusOK, session)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<html><body><p>Payment %s for session %s.</p><a href=\"%s\">Return to app</a></body></html>",
		html.EscapeString(string(status)), html.EscapeString(id), html.EscapeString(service.ReturnLink(h.scheme, id)))
}

// CloseSession ends a session from the operator side.
func (h *Handlers) CloseSession(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Close(mux.Vars(r)["id"]); err != nil {
		h.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Live upgrades the live tick channel.
func (h *Handlers) Live(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	id := mux.Vars(r)["id"]
	if !h.store.Owns(userID, id) {
		writeError(w, http.StatusNotFound, ErrSessionNotFound.Error())
		return
	}
	h.hub.HandleWS(w, r, id)
}

func (h *Handlers) baseURL(r *http.Request) string {
	if h.publicURL != "" {
		return h.publicURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func (h *Handlers) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrLotNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrLotFull), errors.Is(err, ErrPlateBusy), errors.Is(err, ErrNotCompleted):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("store failure", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
