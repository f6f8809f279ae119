package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/metricord/metricord/internal/chathistory"
	"github.com/metricord/metricord/internal/health"
	"github.com/metricord/metricord/internal/progress"
	"github.com/metricord/metricord/internal/stats"
)

// Handlers contains all HTTP handlers.
type Handlers struct {
	redis    *redis.Client
	reader   *stats.Reader
	backfill *chathistory.Backfill
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(rdb *redis.Client, reader *stats.Reader, backfill *chathistory.Backfill) *Handlers {
	return &Handlers{
		redis:    rdb,
		reader:   reader,
		backfill: backfill,
	}
}

// Response helpers

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// HealthCheck reports liveness, including store reachability.
//
//	GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.redis.Ping(r.Context()).Err(); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"redis":  err.Error(),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GuildStats returns the typed dashboard snapshot for a guild.
// An optional ?day=YYYYMMDD selects a historical day; default is today.
//
//	GET /api/guilds/{guildID}/stats
func (h *Handlers) GuildStats(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildID")

	day := time.Now().UTC()
	if raw := r.URL.Query().Get("day"); raw != "" {
		parsed, err := time.Parse("20060102", raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid day, expected YYYYMMDD")
			return
		}
		day = parsed
	}

	snap, err := h.reader.Snapshot(r.Context(), guildID, day)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// healthScoreResponse pairs the computed score with its qualitative band.
type healthScoreResponse struct {
	GuildID string       `json:"guild_id"`
	Score   health.Score `json:"score"`
	Band    string       `json:"band"`
}

// GuildHealthScore computes the composite community health score.
// Engagement inputs come from the rollup store; roster and safety facts
// the store does not track are supplied via query parameters
// (member_count, moderator_count, verification_level, explicit_filter,
// mod_2fa, reply_messages, voice_minutes, mod_actions). member_count
// defaults to the presence gauge when omitted.
//
//	GET /api/guilds/{guildID}/health-score
func (h *Handlers) GuildHealthScore(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildID")

	snap, err := h.reader.Snapshot(r.Context(), guildID, time.Now().UTC())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}

	in := health.Inputs{
		MemberCount:   int(snap.PresenceTotal),
		DAU:           snap.DAU,
		TotalMessages: snap.TotalMessages,
	}

	q := r.URL.Query()
	in.MemberCount = queryInt(q.Get("member_count"), in.MemberCount)
	in.ModeratorCount = queryInt(q.Get("moderator_count"), 0)
	in.VerificationLevel = queryInt(q.Get("verification_level"), 0)
	in.ExplicitFilter = queryInt(q.Get("explicit_filter"), 0)
	in.ModTwoFactor = q.Get("mod_2fa") == "true" || q.Get("mod_2fa") == "1"
	in.ReplyMessages = int64(queryInt(q.Get("reply_messages"), 0))
	in.ModActions = queryInt(q.Get("mod_actions"), 0)
	if raw := q.Get("voice_minutes"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			in.VoiceMinutes = v
		}
	}

	score := health.Compute(in)
	respondJSON(w, http.StatusOK, healthScoreResponse{
		GuildID: guildID,
		Score:   score,
		Band:    health.Band(score.Composite),
	})
}

// TriggerBackfill starts an asynchronous history import for the guild.
// A guild admits one run at a time; a second trigger gets 409 with the
// progress endpoint to poll instead.
//
//	POST /api/guilds/{guildID}/backfill
func (h *Handlers) TriggerBackfill(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildID")

	runID, err := h.backfill.Start(r.Context(), guildID)
	if err != nil {
		if errors.Is(err, chathistory.ErrBackfillInProgress) {
			respondError(w, http.StatusConflict, "backfill already in progress")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to start backfill")
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{
		"guild_id": guildID,
		"run_id":   runID,
		"status":   string(progress.StatusStarting),
	})
}

// BackfillProgress returns the most recent progress record for polling.
//
//	GET /api/guilds/{guildID}/backfill
func (h *Handlers) BackfillProgress(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildID")

	rec, ok, err := progress.Load(r.Context(), h.redis, guildID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load progress")
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "no backfill recorded for this guild")
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func queryInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
