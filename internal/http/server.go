package http

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dair/api/internal/auth"
	"dair/api/internal/config"
	"dair/api/internal/geocode"
	"dair/api/internal/model"
	"dair/api/internal/wallet"
)

// Store is the slice of the repository the handlers need. User lookups that
// find nothing report pgx.ErrNoRows.
type Store interface {
	UpsertUserByWallet(ctx context.Context, walletAddress string) (model.User, error)
	GetUserByID(ctx context.Context, userID string) (model.User, error)
	CreatePlace(ctx context.Context, place model.Place) error
	ListActivePlaces(ctx context.Context, userID string) ([]model.PlaceDetail, error)
	DisablePlace(ctx context.Context, placeID, userID string) (bool, error)
}

type Geocoder interface {
	Resolve(ctx context.Context, placeName string) (geocode.Coordinates, error)
}

type Server struct {
	cfg      config.Config
	store    Store
	geocoder Geocoder
}

func NewServer(cfg config.Config, store Store, geocoder Geocoder) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		geocoder: geocoder,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("Dair API"))
	})
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/user/signin", s.handleSignIn)

		// verify-token sits behind the gate: checking whether a token
		// belongs to a wallet only makes sense for a validated caller.
		r.With(s.authMiddleware).Post("/user/verify-token", s.handleVerifyToken)

		r.With(s.authMiddleware).Post("/place", s.handleCreatePlaceLegacy)
		r.With(s.authMiddleware).Post("/place/create", s.handleCreatePlace)
		r.With(s.authMiddleware).Delete("/place", s.handleDeletePlace)
		r.With(s.authMiddleware).Get("/air-quality", s.handleListAirQuality)
	})

	return r
}

// Auth

type userKey struct{}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}

		claims, err := auth.ParseToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, token)
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				writeError(w, http.StatusUnauthorized, "token_expired")
				return
			}
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}

		user, err := s.store.GetUserByID(r.Context(), claims.UserID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				writeError(w, http.StatusNotFound, "user_not_found")
				return
			}
			writeError(w, http.StatusInternalServerError, "server_error")
			return
		}

		ctx := context.WithValue(r.Context(), userKey{}, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(ctx context.Context) (model.User, bool) {
	user, ok := ctx.Value(userKey{}).(model.User)
	return user, ok
}

// Sign-in

type signInRequest struct {
	PublicKey string    `json:"publicKey"`
	Signature byteSlice `json:"signature"`
	Message   byteSlice `json:"message"`
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	publicKey, err := wallet.DecodeAddress(req.PublicKey)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_public_key")
		return
	}

	if !wallet.VerifySignature(publicKey, req.Message, req.Signature) {
		writeMessage(w, http.StatusLengthRequired, "Incorrect signature")
		return
	}

	user, err := s.store.UpsertUserByWallet(r.Context(), req.PublicKey)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	token, err := auth.NewAccessToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.AccessTokenTTL, user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

type verifyTokenRequest struct {
	PublicKey string `json:"publicKey"`
}

func (s *Server) handleVerifyToken(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}

	var req verifyTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if strings.TrimSpace(req.PublicKey) == "" {
		writeError(w, http.StatusBadRequest, "public_key_required")
		return
	}

	if user.WalletAddress != req.PublicKey {
		writeError(w, http.StatusForbidden, "token_wallet_mismatch")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

// Places

type createPlaceLegacyRequest struct {
	PlaceName string  `json:"placeName"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// handleCreatePlaceLegacy persists a place exactly as submitted. Kept for
// compatibility with older clients; /place/create is the validated path.
func (s *Server) handleCreatePlaceLegacy(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}

	var req createPlaceLegacyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	place := model.Place{
		ID:        uuid.NewString(),
		PlaceName: req.PlaceName,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		UserID:    user.ID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreatePlace(r.Context(), place); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]placeResponse{"place": mapPlaceResponse(place)})
}

type createPlaceRequest struct {
	PlaceName string   `json:"placeName"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

func (s *Server) handleCreatePlace(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}

	var req createPlaceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	req.PlaceName = strings.TrimSpace(req.PlaceName)
	if req.PlaceName == "" {
		writeMessage(w, http.StatusBadRequest, "Place name is required")
		return
	}

	var coords geocode.Coordinates
	if req.Latitude != nil && req.Longitude != nil {
		coords = geocode.Coordinates{Latitude: *req.Latitude, Longitude: *req.Longitude}
		if coords.Latitude < -90 || coords.Latitude > 90 {
			writeMessage(w, http.StatusBadRequest, "Latitude must be between -90 and 90")
			return
		}
		if coords.Longitude < -180 || coords.Longitude > 180 {
			writeMessage(w, http.StatusBadRequest, "Longitude must be between -180 and 180")
			return
		}
	} else {
		resolved, err := s.geocoder.Resolve(r.Context(), req.PlaceName)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, err.Error())
			return
		}
		coords = resolved
	}

	place := model.Place{
		ID:        uuid.NewString(),
		PlaceName: req.PlaceName,
		Latitude:  coords.Latitude,
		Longitude: coords.Longitude,
		UserID:    user.ID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreatePlace(r.Context(), place); err != nil {
		writeMessage(w, http.StatusInternalServerError, "Failed to create place")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"place":   mapPlaceResponse(place),
		"message": "Place created successfully",
	})
}

func (s *Server) handleListAirQuality(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}

	places, err := s.store.ListActivePlaces(r.Context(), user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	resp := make([]placeDetailResponse, 0, len(places))
	for _, place := range places {
		resp = append(resp, mapPlaceDetailResponse(place))
	}
	writeJSON(w, http.StatusOK, map[string][]placeDetailResponse{"places": resp})
}

type deletePlaceRequest struct {
	PlaceID string `json:"placeId"`
}

func (s *Server) handleDeletePlace(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}

	var req deletePlaceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.PlaceID == "" {
		writeError(w, http.StatusBadRequest, "missing_place_id")
		return
	}

	disabled, err := s.store.DisablePlace(r.Context(), req.PlaceID, user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if !disabled {
		writeMessage(w, http.StatusNotFound, "Place not found")
		return
	}

	writeMessage(w, http.StatusOK, "Place deleted")
}

// Responses

type placeResponse struct {
	ID        string  `json:"id"`
	PlaceName string  `json:"placeName"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	UserID    string  `json:"userId"`
	Disabled  bool    `json:"disabled"`
	CreatedAt string  `json:"createdAt"`
}

type airQualityResponse struct {
	ID         string  `json:"id"`
	AQI        int     `json:"aqi"`
	PM25       float64 `json:"pm25"`
	PM10       float64 `json:"pm10"`
	RecordedAt string  `json:"recordedAt"`
}

type placeDetailResponse struct {
	placeResponse
	AirQuality *airQualityResponse `json:"airQuality,omitempty"`
}

func mapPlaceResponse(place model.Place) placeResponse {
	return placeResponse{
		ID:        place.ID,
		PlaceName: place.PlaceName,
		Latitude:  place.Latitude,
		Longitude: place.Longitude,
		UserID:    place.UserID,
		Disabled:  place.Disabled,
		CreatedAt: place.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func mapPlaceDetailResponse(detail model.PlaceDetail) placeDetailResponse {
	resp := placeDetailResponse{placeResponse: mapPlaceResponse(detail.Place)}
	if detail.AirQuality != nil {
		resp.AirQuality = &airQualityResponse{
			ID:         detail.AirQuality.ID,
			AQI:        detail.AirQuality.AQI,
			PM25:       detail.AirQuality.PM25,
			PM10:       detail.AirQuality.PM10,
			RecordedAt: detail.AirQuality.RecordedAt.UTC().Format(time.RFC3339),
		}
	}
	return resp
}

// byteSlice accepts the byte encodings wallet clients actually send: a base64
// string, a plain JSON array of numbers, or the Node Buffer wrapper
// {"type":"Buffer","data":[...]}.
type byteSlice []byte

func (b *byteSlice) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*b = nil
		return nil
	}

	switch data[0] {
	case '"':
		var encoded string
		if err := json.Unmarshal(data, &encoded); err != nil {
			return err
		}
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return fmt.Errorf("invalid base64 bytes: %w", err)
		}
		*b = decoded
		return nil
	case '[':
		var values []int
		if err := json.Unmarshal(data, &values); err != nil {
			return err
		}
		return b.fromInts(values)
	case '{':
		var wrapper struct {
			Data []int `json:"data"`
		}
		if err := json.Unmarshal(data, &wrapper); err != nil {
			return err
		}
		return b.fromInts(wrapper.Data)
	}
	return errors.New("unsupported byte encoding")
}

func (b *byteSlice) fromInts(values []int) error {
	out := make([]byte, len(values))
	for i, value := range values {
		if value < 0 || value > 255 {
			return fmt.Errorf("byte value %d out of range", value)
		}
		out[i] = byte(value)
	}
	*b = out
	return nil
}

// Helpers

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
