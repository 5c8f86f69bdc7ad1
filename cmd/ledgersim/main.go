// Command ledgersim is a development stand-in for the Ledger Service and the
// realtime gateway. It keeps everything in memory, speaks the same snake_case
// wire format and enforces first-accept-wins on trip assignment.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

var (
	addr    = flag.String("addr", ":3000", "ledger listen address")
	wsAddr  = flag.String("ws-addr", ":3001", "realtime gateway listen address")
	signKey = []byte("kombi-dev-secret")
)

const tokenTTL = 2 * time.Hour

// Wire types use snake_case like the real Ledger; clients normalize on their
// side. password_hash is served on purpose so client scrubbing has something
// to scrub during development.
type wireUser struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Phone        string  `json:"phone"`
	Role         string  `json:"role"`
	Rating       float64 `json:"rating"`
	City         string  `json:"city"`
	PasswordHash string  `json:"password_hash,omitempty"`
}

type wireBid struct {
	ID           string  `json:"id"`
	DriverID     string  `json:"driver_id"`
	DriverName   string  `json:"driver_name"`
	DriverRating float64 `json:"driver_rating"`
	Amount       float64 `json:"amount"`
	EtaMinutes   int     `json:"eta_minutes"`
	VehicleInfo  string  `json:"vehicle_info,omitempty"`
}

type wireLocation struct {
	Address string  `json:"address"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
}

type wireTrip struct {
	ID            string       `json:"id"`
	Status        string       `json:"status"`
	Type          string       `json:"type"`
	Category      string       `json:"category,omitempty"`
	Pickup        wireLocation `json:"pickup"`
	Dropoff       wireLocation `json:"dropoff"`
	ProposedPrice float64      `json:"proposed_price"`
	FinalPrice    *float64     `json:"final_price,omitempty"`
	Bids          []wireBid    `json:"bids"`
	AcceptedBidID *string      `json:"accepted_bid_id,omitempty"`
	DriverID      *string      `json:"driver_id,omitempty"`
	RiderID       string       `json:"rider_id"`
	CreatedAt     time.Time    `json:"created_at"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
}

var statusRank = map[string]int{
	"PENDING": 0, "BIDDING": 1, "ACCEPTED": 2,
	"ARRIVING": 3, "IN_PROGRESS": 4, "COMPLETED": 5,
}

type store struct {
	mu      sync.Mutex
	users   map[string]*wireUser // by phone
	byID    map[string]*wireUser
	trips   map[string]*wireTrip
	revoked map[string]bool
}

func newStore() *store {
	return &store{
		users:   make(map[string]*wireUser),
		byID:    make(map[string]*wireUser),
		trips:   make(map[string]*wireTrip),
		revoked: make(map[string]bool),
	}
}

type server struct {
	store *store
	log   *slog.Logger
}

func main() {
	flag.Parse()
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	s := &server{store: newStore(), log: log}

	r := mux.NewRouter()
	r.HandleFunc("/auth/signup", s.signup).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", s.login).Methods(http.MethodPost)
	r.HandleFunc("/auth/refresh", s.withAuth(s.refresh)).Methods(http.MethodPost)
	r.HandleFunc("/auth/revoke", s.withAuth(s.revoke)).Methods(http.MethodPost)
	r.HandleFunc("/auth/me", s.withAuth(s.me)).Methods(http.MethodGet)
	r.HandleFunc("/auth/profile", s.withAuth(s.updateProfile)).Methods(http.MethodPut)
	r.HandleFunc("/auth/request-password-reset", s.noop).Methods(http.MethodPost)
	r.HandleFunc("/auth/complete-password-reset", s.noop).Methods(http.MethodPost)
	r.HandleFunc("/switch-role", s.withAuth(s.switchRole)).Methods(http.MethodPost)

	r.HandleFunc("/trips", s.withAuth(s.createTrip)).Methods(http.MethodPost)
	r.HandleFunc("/trips/active", s.withAuth(s.activeTrip)).Methods(http.MethodGet)
	r.HandleFunc("/trips/history", s.withAuth(s.history)).Methods(http.MethodGet)
	r.HandleFunc("/trips/{id}/offers", s.withAuth(s.submitOffer)).Methods(http.MethodPost)
	r.HandleFunc("/trips/{id}/accept", s.withAuth(s.acceptTrip)).Methods(http.MethodPost)
	r.HandleFunc("/trips/{id}/status", s.withAuth(s.updateStatus)).Methods(http.MethodPost)
	r.HandleFunc("/trips/{id}/cancel", s.withAuth(s.cancelTrip)).Methods(http.MethodPost)
	r.HandleFunc("/trips/{id}/review", s.withAuth(s.noopAuthed)).Methods(http.MethodPost)

	hub := newHub(log)
	go func() {
		gw := http.NewServeMux()
		gw.HandleFunc("/ws", hub.serve)
		log.Info("realtime gateway listening", "addr", *wsAddr)
		if err := http.ListenAndServe(*wsAddr, gw); err != nil {
			log.Error("gateway failed", "err", err.Error())
			os.Exit(1)
		}
	}()

	log.Info("ledgersim listening", "addr", *addr)
	if err := http.ListenAndServe(*addr, r); err != nil {
		log.Error("ledger failed", "err", err.Error())
		os.Exit(1)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"message": msg})
}

func (s *server) issueToken(userID string) (string, int64) {
	exp := time.Now().Add(tokenTTL)
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"exp": exp.Unix(),
	})
	signed, _ := t.SignedString(signKey)
	return signed, exp.UnixMilli()
}

// withAuth resolves the bearer token to a user id and rejects revoked or
// expired credentials with 401.
func (s *server) withAuth(next func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "missing token")
			return
		}

		s.store.mu.Lock()
		revoked := s.store.revoked[raw]
		s.store.mu.Unlock()
		if revoked {
			writeError(w, http.StatusUnauthorized, "token revoked")
			return
		}

		tok, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
			return signKey, nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !tok.Valid {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		sub, err := tok.Claims.GetSubject()
		if err != nil || sub == "" {
			writeError(w, http.StatusUnauthorized, "invalid token subject")
			return
		}
		next(w, r, sub)
	}
}

func (s *server) signup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Phone    string `json:"phone"`
		Password string `json:"password"`
		Role     string `json:"role"`
		City     string `json:"city"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Phone == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "name, phone and password are required")
		return
	}

	s.store.mu.Lock()
	if _, exists := s.store.users[req.Phone]; exists {
		s.store.mu.Unlock()
		writeError(w, http.StatusConflict, "phone already registered")
		return
	}
	u := &wireUser{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Phone:        req.Phone,
		Role:         defaultRole(req.Role),
		Rating:       5.0,
		City:         req.City,
		PasswordHash: fmt.Sprintf("dev:%s", req.Password),
	}
	s.store.users[req.Phone] = u
	s.store.byID[u.ID] = u
	s.store.mu.Unlock()

	s.respondAuth(w, u)
}

func defaultRole(role string) string {
	if role == "driver" {
		return "driver"
	}
	return "rider"
}

func (s *server) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone    string `json:"phone"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}

	s.store.mu.Lock()
	u := s.store.users[req.Phone]
	s.store.mu.Unlock()
	if u == nil || u.PasswordHash != fmt.Sprintf("dev:%s", req.Password) {
		writeError(w, http.StatusUnauthorized, "wrong phone or password")
		return
	}
	s.respondAuth(w, u)
}

func (s *server) respondAuth(w http.ResponseWriter, u *wireUser) {
	token, expiresAt := s.issueToken(u.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": expiresAt,
		"user":       u,
	})
}

func (s *server) refresh(w http.ResponseWriter, r *http.Request, userID string) {
	s.store.mu.Lock()
	u := s.store.byID[userID]
	s.store.mu.Unlock()
	if u == nil {
		writeError(w, http.StatusUnauthorized, "unknown user")
		return
	}
	token, expiresAt := s.issueToken(u.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": expiresAt,
	})
}

func (s *server) revoke(w http.ResponseWriter, r *http.Request, userID string) {
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	s.store.mu.Lock()
	s.store.revoked[raw] = true
	s.store.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) me(w http.ResponseWriter, r *http.Request, userID string) {
	s.store.mu.Lock()
	u := s.store.byID[userID]
	s.store.mu.Unlock()
	if u == nil {
		writeError(w, http.StatusUnauthorized, "unknown user")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *server) updateProfile(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		Name string `json:"name"`
		City string `json:"city"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}

	s.store.mu.Lock()
	u := s.store.byID[userID]
	if u != nil {
		if req.Name != "" {
			u.Name = req.Name
		}
		if req.City != "" {
			u.City = req.City
		}
	}
	s.store.mu.Unlock()
	if u == nil {
		writeError(w, http.StatusUnauthorized, "unknown user")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *server) switchRole(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		Role string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || (req.Role != "rider" && req.Role != "driver") {
		writeError(w, http.StatusBadRequest, "role must be rider or driver")
		return
	}

	s.store.mu.Lock()
	u := s.store.byID[userID]
	if u != nil {
		u.Role = req.Role
	}
	s.store.mu.Unlock()
	if u == nil {
		writeError(w, http.StatusUnauthorized, "unknown user")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *server) noop(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) noopAuthed(w http.ResponseWriter, r *http.Request, userID string) {
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) createTrip(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		Type          string       `json:"type"`
		Category      string       `json:"category"`
		Pickup        wireLocation `json:"pickup"`
		Dropoff       wireLocation `json:"dropoff"`
		ProposedPrice float64      `json:"proposed_price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if req.ProposedPrice <= 0 {
		writeError(w, http.StatusUnprocessableEntity, "proposed_price must be positive")
		return
	}

	t := &wireTrip{
		ID:            uuid.NewString(),
		Status:        "PENDING",
		Type:          req.Type,
		Category:      req.Category,
		Pickup:        req.Pickup,
		Dropoff:       req.Dropoff,
		ProposedPrice: req.ProposedPrice,
		Bids:          []wireBid{},
		RiderID:       userID,
		CreatedAt:     time.Now().UTC(),
	}

	s.store.mu.Lock()
	for _, existing := range s.store.trips {
		if existing.RiderID == userID && statusRank[existing.Status] < statusRank["COMPLETED"] && existing.Status != "CANCELLED" {
			s.store.mu.Unlock()
			writeError(w, http.StatusConflict, "trip already in progress")
			return
		}
	}
	s.store.trips[t.ID] = t
	s.store.mu.Unlock()

	writeJSON(w, http.StatusCreated, t)
}

func (s *server) activeTrip(w http.ResponseWriter, r *http.Request, userID string) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	for _, t := range s.store.trips {
		if t.Status == "CANCELLED" || t.Status == "COMPLETED" {
			continue
		}
		if t.RiderID == userID || (t.DriverID != nil && *t.DriverID == userID) {
			writeJSON(w, http.StatusOK, t)
			return
		}
	}
	writeError(w, http.StatusNotFound, "no active trip")
}

func (s *server) history(w http.ResponseWriter, r *http.Request, userID string) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	out := []*wireTrip{}
	for _, t := range s.store.trips {
		if t.Status != "CANCELLED" && t.Status != "COMPLETED" {
			continue
		}
		if t.RiderID == userID || (t.DriverID != nil && *t.DriverID == userID) {
			out = append(out, t)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) submitOffer(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		Amount     float64 `json:"amount"`
		EtaMinutes int     `json:"eta_minutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Amount <= 0 {
		writeError(w, http.StatusUnprocessableEntity, "amount must be positive")
		return
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	t := s.store.trips[mux.Vars(r)["id"]]
	if t == nil {
		writeError(w, http.StatusNotFound, "trip not found")
		return
	}
	if t.Status != "PENDING" && t.Status != "BIDDING" {
		writeError(w, http.StatusConflict, "trip is no longer open for offers")
		return
	}

	driver := s.store.byID[userID]
	bid := wireBid{
		ID:         uuid.NewString(),
		DriverID:   userID,
		Amount:     req.Amount,
		EtaMinutes: req.EtaMinutes,
	}
	if driver != nil {
		bid.DriverName = driver.Name
		bid.DriverRating = driver.Rating
	}
	t.Bids = append(t.Bids, bid)
	t.Status = "BIDDING"
	writeJSON(w, http.StatusCreated, bid)
}

// acceptTrip assigns a driver exactly once. With bid_id the rider accepts an
// offer; without, a driver takes the trip at the proposed price. Every later
// accept gets 409 regardless of which path won.
func (s *server) acceptTrip(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		BidID string `json:"bid_id"`
	}
	json.NewDecoder(r.Body).Decode(&req)

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	t := s.store.trips[mux.Vars(r)["id"]]
	if t == nil {
		writeError(w, http.StatusNotFound, "trip not found")
		return
	}
	if t.DriverID != nil || t.Status == "CANCELLED" {
		writeError(w, http.StatusConflict, "trip already assigned")
		return
	}

	if req.BidID != "" {
		if t.RiderID != userID {
			writeError(w, http.StatusForbidden, "only the rider can accept a bid")
			return
		}
		for i := range t.Bids {
			if t.Bids[i].ID == req.BidID {
				t.DriverID = &t.Bids[i].DriverID
				t.AcceptedBidID = &t.Bids[i].ID
				t.FinalPrice = &t.Bids[i].Amount
				t.Status = "ACCEPTED"
				writeJSON(w, http.StatusOK, t)
				return
			}
		}
		writeError(w, http.StatusNotFound, "bid not found")
		return
	}

	if t.RiderID == userID {
		writeError(w, http.StatusForbidden, "rider cannot drive own trip")
		return
	}
	driverID := userID
	price := t.ProposedPrice
	t.DriverID = &driverID
	t.FinalPrice = &price
	t.Status = "ACCEPTED"
	writeJSON(w, http.StatusOK, t)
}

func (s *server) updateStatus(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	t := s.store.trips[mux.Vars(r)["id"]]
	if t == nil {
		writeError(w, http.StatusNotFound, "trip not found")
		return
	}
	if t.DriverID == nil || *t.DriverID != userID {
		writeError(w, http.StatusForbidden, "only the assigned driver advances a trip")
		return
	}

	next, ok := statusRank[req.Status]
	if !ok || next <= statusRank[t.Status] {
		writeError(w, http.StatusConflict, "status cannot move backwards")
		return
	}
	t.Status = req.Status
	if req.Status == "COMPLETED" {
		now := time.Now().UTC()
		t.CompletedAt = &now
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *server) cancelTrip(w http.ResponseWriter, r *http.Request, userID string) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	t := s.store.trips[mux.Vars(r)["id"]]
	if t == nil {
		writeError(w, http.StatusNotFound, "trip not found")
		return
	}
	if t.RiderID != userID {
		writeError(w, http.StatusForbidden, "only the rider can cancel")
		return
	}
	if t.Status != "PENDING" && t.Status != "BIDDING" {
		writeError(w, http.StatusConflict, "trip can no longer be cancelled")
		return
	}
	t.Status = "CANCELLED"
	writeJSON(w, http.StatusOK, t)
}
