// Package api is the HTTP control plane: read views over the store,
// bot lifecycle commands, operator input, uploads, and the SSE streams
// the dashboard consumes. Handlers never touch the engine directly;
// everything flows through the store, the manager, and the adapter.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"perp-agent/cache"
	"perp-agent/config"
	"perp-agent/decision"
	"perp-agent/events"
	"perp-agent/exchange"
	"perp-agent/logger"
	"perp-agent/metrics"
	"perp-agent/store"
	"perp-agent/trader"
)

const (
	defaultHistoryLimit  = 100
	defaultDecisionLimit = 50
	defaultPositionLimit = 100
	statusHistoryLimit   = 20
	statsWindow          = 500

	maxUploadBytes = 16 << 20
)

var allowedImageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
}

type Server struct {
	cfg     *config.Config
	st      *store.Store
	adapter exchange.Adapter
	manager *trader.Manager
	hub     *events.Hub
	cache   *cache.Cache
	log     zerolog.Logger

	httpSrv *http.Server
}

func NewServer(cfg *config.Config, st *store.Store, adapter exchange.Adapter, manager *trader.Manager, hub *events.Hub, c *cache.Cache) *Server {
	s := &Server{
		cfg:     cfg,
		st:      st,
		adapter: adapter,
		manager: manager,
		hub:     hub,
		cache:   c,
		log:     logger.Component("api"),
	}
	s.httpSrv = &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           corsMiddleware(s.routes()),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints: health, the auth probe, and the SSE streams
	// (EventSource cannot set custom headers). /metrics stays open for
	// scrapers.
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/auth/verify", s.handleAuthVerify)
	mux.HandleFunc("/api/events", s.hub.ServeHTTP)
	mux.HandleFunc("/api/logs/stream", s.handleLogStream)
	mux.Handle("/metrics", metrics.Handler())

	// Data endpoints
	mux.HandleFunc("/api/index", s.authMiddleware(s.handleIndex))
	mux.HandleFunc("/api/account", s.authMiddleware(s.handleAccount))
	mux.HandleFunc("/api/account/history", s.authMiddleware(s.handleAccountHistory))
	mux.HandleFunc("/api/decisions", s.authMiddleware(s.handleDecisions))
	mux.HandleFunc("/api/positions", s.authMiddleware(s.handlePositions))
	mux.HandleFunc("/api/status", s.authMiddleware(s.handleStatus))
	mux.HandleFunc("/api/stats", s.authMiddleware(s.handleStats))

	// Bot lifecycle
	mux.HandleFunc("/api/bot/status", s.authMiddleware(s.handleBotStatus))
	mux.HandleFunc("/api/bot/", s.authMiddleware(s.handleBotCommand))

	// Operator input
	mux.HandleFunc("/api/user_input", s.authMiddleware(s.handleUserInput))
	mux.HandleFunc("/api/upload_image", s.authMiddleware(s.handleUploadImage))

	// Prompt presets
	mux.HandleFunc("/api/prompt_presets", s.authMiddleware(s.handlePromptPresets))
	mux.HandleFunc("/api/prompt_presets/active", s.authMiddleware(s.handleActivePreset))
	mux.HandleFunc("/api/prompt_presets/preview/", s.authMiddleware(s.handlePresetPreview))
	mux.HandleFunc("/api/prompt_presets/sample_user_prompt", s.authMiddleware(s.handleSamplePrompt))

	// Runtime configuration
	mux.HandleFunc("/api/bot_config", s.authMiddleware(s.handleBotConfig))

	// Database maintenance
	mux.HandleFunc("/api/database/status", s.authMiddleware(s.handleDatabaseStatus))
	mux.HandleFunc("/api/database/reset", s.authMiddleware(s.handleDatabaseReset))
	mux.HandleFunc("/api/debug/database", s.authMiddleware(s.handleDebugDatabase))

	return mux
}

// Start serves HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpSrv.Addr).Msg("API server starting")
	if s.cfg.AccessKey == "" {
		s.log.Warn().Msg("no ACCESS_KEY set, control plane is unprotected")
	}
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// authMiddleware requires the configured access key in X-Access-Key.
// With no key configured every request passes.
func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AccessKey == "" {
			next(w, r)
			return
		}

		accessKey := r.Header.Get("X-Access-Key")
		if accessKey == "" {
			s.errorResponse(w, http.StatusUnauthorized, "Access key required")
			return
		}
		if !secureCompare(accessKey, s.cfg.AccessKey) {
			s.errorResponse(w, http.StatusUnauthorized, "Invalid access key")
			return
		}

		next(w, r)
	}
}

// handleAuthVerify lets the dashboard check a key before storing it.
func (s *Server) handleAuthVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		s.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if s.cfg.AccessKey == "" {
		s.jsonResponse(w, map[string]interface{}{"valid": true, "required": false})
		return
	}

	var req struct {
		AccessKey string `json:"access_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	s.jsonResponse(w, map[string]interface{}{
		"valid":    secureCompare(req.AccessKey, s.cfg.AccessKey),
		"required": true,
	})
}

// secureCompare performs constant-time comparison to prevent timing attacks.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Access-Key")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// queryInt parses a positive integer query parameter, returning def
// when absent or malformed.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// botSettings loads the runtime settings, falling back to env defaults.
func (s *Server) botSettings() store.BotSettings {
	defaults := store.DefaultBotSettings(s.cfg.MaxPositionSizeUSD, s.cfg.IntervalSeconds)
	settings, err := s.st.BotSettings(defaults)
	if err != nil {
		return defaults
	}
	return settings
}

func (s *Server) constraints(settings store.BotSettings) decision.Constraints {
	return decision.Constraints{
		MinMarginUSD:     settings.MinMarginUSD,
		MaxMarginUSD:     settings.MaxMarginUSD,
		MaxLeverage:      float64(s.cfg.MaxLeverage),
		MaxOpenPositions: settings.MaxOpenPositions,
		IntervalSeconds:  settings.IntervalSeconds,
	}
}

// ============ INDEX & HEALTH ============

type endpointInfo struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Description string `json:"description"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		s.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.jsonResponse(w, map[string]interface{}{
		"name": "perp-agent control plane",
		"mode": s.cfg.TradingMode,
		"endpoints": []endpointInfo{
			{"GET", "/api/health", "liveness probe"},
			{"POST", "/api/auth/verify", "check an access key"},
			{"GET", "/api/account", "current account state"},
			{"GET", "/api/account/history", "equity curve snapshots (limit)"},
			{"GET", "/api/decisions", "decision history with outcomes (limit, coin)"},
			{"GET", "/api/positions", "positions (status=open|closed|all, limit)"},
			{"GET", "/api/status", "current and recent bot status events"},
			{"GET", "/api/stats", "closed-trade performance summary"},
			{"GET", "/api/bot/status", "loop state and next cycle time"},
			{"POST", "/api/bot/start", "write running and launch the loop"},
			{"POST", "/api/bot/pause", "write paused"},
			{"POST", "/api/bot/resume", "write running (loop must be alive)"},
			{"POST", "/api/bot/stop", "write stopped"},
			{"GET", "/api/user_input", "active operator guidance"},
			{"POST", "/api/user_input", "save guidance; interrupt type answers inline"},
			{"DELETE", "/api/user_input", "archive active guidance"},
			{"POST", "/api/upload_image", "store a chart image for the next prompt"},
			{"GET", "/api/prompt_presets", "available strategy presets"},
			{"GET", "/api/prompt_presets/active", "active preset key"},
			{"POST", "/api/prompt_presets/active", "switch preset"},
			{"GET", "/api/prompt_presets/preview/{name}", "rendered system prompt"},
			{"GET", "/api/prompt_presets/sample_user_prompt", "rendered sample user prompt"},
			{"GET", "/api/bot_config", "runtime settings"},
			{"POST", "/api/bot_config", "update runtime settings"},
			{"GET", "/api/database/status", "row counts and file size"},
			{"POST", "/api/database/reset", "clear history (preserve_schema)"},
			{"GET", "/api/debug/database", "raw rows of one table (table, limit)"},
			{"GET", "/api/events", "SSE stream of engine activity"},
			{"GET", "/api/logs/stream", "SSE stream of log lines"},
			{"GET", "/metrics", "prometheus metrics"},
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, map[string]interface{}{
		"status": "ok",
		"mode":   s.cfg.TradingMode,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// ============ ACCOUNT & HISTORY ============

// handleAccount returns the venue view in live mode and the latest
// snapshot in paper mode. The network query parameter is accepted for
// dashboard compatibility; the venue is fixed at startup.
func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		s.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if s.cfg.IsLive() {
		var cached exchange.AccountState
		if s.cache.Get(r.Context(), cache.AccountStateKey, &cached) {
			s.jsonResponse(w, &cached)
			return
		}

		state, err := s.adapter.AccountState(r.Context(), nil)
		if err != nil {
			s.errorResponse(w, http.StatusBadGateway, err.Error())
			return
		}
		s.cache.Set(r.Context(), cache.AccountStateKey, state, cache.AccountStateTTL)
		s.jsonResponse(w, state)
		return
	}

	snap, err := s.st.LatestAccountSnapshot()
	if errors.Is(err, store.ErrNotFound) {
		s.jsonResponse(w, &store.AccountSnapshot{})
		return
	}
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.jsonResponse(w, snap)
}

func (s *Server) handleAccountHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		s.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	history, err := s.st.AccountHistory(queryInt(r, "limit", defaultHistoryLimit))
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if history == nil {
		history = []store.AccountSnapshot{}
	}
	s.jsonResponse(w, map[string]interface{}{
		"history": history,
		"count":   len(history),
	})
}

// ============ DECISIONS & POSITIONS ============

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		s.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit := queryInt(r, "limit", defaultDecisionLimit)
	coin := r.URL.Query().Get("coin")

	var (
		decisions []store.DecisionWithOutcome
		err       error
	)
	if coin != "" {
		decisions, err = s.st.DecisionsByCoin(config.CanonicalSymbol(coin), limit)
	} else {
		decisions, err = s.st.RecentDecisions(limit)
	}
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if decisions == nil {
		decisions = []store.DecisionWithOutcome{}
	}

	total, err := s.st.CountDecisions()
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.jsonResponse(w, map[string]interface{}{
		"decisions":      decisions,
		"total_count":    total,
		"returned_count": len(decisions),
	})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		s.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	status := r.URL.Query().Get("status")
	if status == "" {
		status = store.PositionOpen
	}
	limit := queryInt(r, "limit", defaultPositionLimit)

	if status == store.PositionOpen && s.cfg.IsLive() {
		positions, err := s.livePositions(r.Context())
		if err != nil {
			s.errorResponse(w, http.StatusBadGateway, err.Error())
			return
		}
		s.jsonResponse(w, map[string]interface{}{
			"positions": positions,
			"count":     len(positions),
		})
		return
	}

	var (
		positions []store.Position
		err       error
	)
	switch status {
	case store.PositionOpen:
		positions, err = s.st.OpenPositions()
	case store.PositionClosed:
		positions, err = s.st.ClosedPositions(limit)
	case "all":
		positions, err = s.st.AllPositions(limit)
	default:
		s.errorResponse(w, http.StatusBadRequest, "Invalid status, want open, closed or all")
		return
	}
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if positions == nil {
		positions = []store.Position{}
	}

	s.jsonResponse(w, map[string]interface{}{
		"positions": positions,
		"count":     len(positions),
	})
}

// livePositions returns venue-reported open positions with entry
// metadata merged from recorded fills, which the venue does not keep.
func (s *Server) livePositions(ctx context.Context) ([]exchange.PositionState, error) {
	state, err := s.adapter.AccountState(ctx, nil)
	if err != nil {
		return nil, err
	}

	recorded, err := s.st.OpenPositions()
	if err != nil {
		return nil, err
	}
	byCoin := make(map[string]store.Position, len(recorded))
	for _, p := range recorded {
		byCoin[p.Coin] = p
	}

	positions := state.Positions
	for i := range positions {
		rec, ok := byCoin[positions[i].Coin]
		if !ok {
			continue
		}
		positions[i].EntryTime = rec.EntryTime
		positions[i].PositionID = rec.PositionID
		positions[i].DecisionID = rec.DecisionID
	}
	if positions == nil {
		positions = []exchange.PositionState{}
	}
	return positions, nil
}

// ============ STATUS & STATS ============

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		s.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	current, err := s.st.LatestStatus()
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	history, err := s.st.RecentStatus(statusHistoryLimit)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if history == nil {
		history = []store.StatusEvent{}
	}

	s.jsonResponse(w, map[string]interface{}{
		"current": current,
		"history": history,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		s.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	stats, err := s.st.TradeStatsSummary(statsWindow)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := map[string]interface{}{"trades": stats}
	if snap, err := s.st.LatestAccountSnapshot(); err == nil {
		resp["balance_usd"] = snap.BalanceUSD
		resp["equity_usd"] = snap.EquityUSD
		resp["unrealized_pnl"] = snap.UnrealizedPnL
	}
	s.jsonResponse(w, resp)
}

// ============ BOT LIFECYCLE ============

func (s *Server) handleBotStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		s.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.jsonResponse(w, s.manager.Status())
}

func (s *Server) handleBotCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		s.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	cmd := strings.TrimPrefix(r.URL.Path, "/api/bot/")

	var (
		err     error
		message string
	)
	switch cmd {
	case "start":
		err = s.manager.Start()
		message = "bot started"
	case "pause":
		err = s.manager.Pause()
		message = "bot paused"
	case "resume":
		err = s.manager.Resume()
		message = "bot resumed"
	case "stop":
		err = s.manager.Stop()
		message = "bot stopped"
	default:
		s.errorResponse(w, http.StatusNotFound, "Unknown bot command")
		return
	}
	if err != nil {
		status := http.StatusInternalServerError
		if cmd == "resume" {
			status = http.StatusConflict
		}
		s.errorResponse(w, status, err.Error())
		return
	}

	s.log.Info().Str("command", cmd).Msg("bot command executed")
	s.jsonResponse(w, map[string]interface{}{
		"success": true,
		"message": message,
		"state":   s.manager.Status().State,
	})
}

// ============ OPERATOR INPUT ============

func (s *Server) handleUserInput(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		input, err := s.st.ActiveOperatorInput()
		if errors.Is(err, store.ErrNotFound) {
			s.jsonResponse(w, map[string]interface{}{"input": nil})
			return
		}
		if err != nil {
			s.errorResponse(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.jsonResponse(w, map[string]interface{}{"input": input})

	case "POST":
		var req struct {
			Message     string `json:"message"`
			MessageType string `json:"message_type"`
			ImagePath   string `json:"image_path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if strings.TrimSpace(req.Message) == "" {
			s.errorResponse(w, http.StatusBadRequest, "Message is required")
			return
		}
		if req.MessageType == "" {
			req.MessageType = store.InputCycle
		}
		if req.MessageType != store.InputCycle && req.MessageType != store.InputInterrupt {
			s.errorResponse(w, http.StatusBadRequest, "Invalid message_type, want cycle or interrupt")
			return
		}

		input, err := s.st.SaveOperatorInput(req.Message, req.MessageType, req.ImagePath)
		if err != nil {
			s.errorResponse(w, http.StatusInternalServerError, err.Error())
			return
		}

		resp := map[string]interface{}{"success": true, "input": input}
		if req.MessageType == store.InputInterrupt {
			answer, err := s.manager.DirectQuery(r.Context(), req.Message)
			if err != nil {
				s.errorResponse(w, http.StatusBadGateway, err.Error())
				return
			}
			resp["response"] = answer
		}
		s.jsonResponse(w, resp)

	case "DELETE":
		if err := s.st.ArchiveActiveInput(); err != nil {
			s.errorResponse(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.jsonResponse(w, map[string]interface{}{"success": true, "message": "input archived"})

	default:
		s.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		s.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Upload too large or malformed, limit is 16MB")
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Image file is required")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedImageExts[ext] {
		s.errorResponse(w, http.StatusBadRequest, fmt.Sprintf("Unsupported image type %q", ext))
		return
	}

	dir := filepath.Join(s.cfg.DataDir, "uploads")
	if err := os.MkdirAll(dir, 0755); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	name := fmt.Sprintf("%s_%s%s", time.Now().UTC().Format("20060102_150405"), uuid.New().String()[:8], ext)
	path := filepath.Join(dir, name)

	dst, err := os.Create(path)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		os.Remove(path)
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.log.Info().Str("file", name).Int64("bytes", header.Size).Msg("image uploaded")
	s.jsonResponse(w, map[string]interface{}{
		"success":  true,
		"path":     path,
		"filename": name,
	})
}

// ============ PROMPT PRESETS ============

func (s *Server) handlePromptPresets(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		s.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.jsonResponse(w, map[string]interface{}{
		"presets": decision.Presets(),
		"active":  s.botSettings().PromptPreset,
	})
}

func (s *Server) handleActivePreset(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		s.jsonResponse(w, map[string]string{"active": s.botSettings().PromptPreset})

	case "POST":
		var req struct {
			Preset string `json:"preset"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if !decision.ValidPreset(req.Preset) {
			s.errorResponse(w, http.StatusBadRequest, fmt.Sprintf("Unknown preset %q", req.Preset))
			return
		}

		settings := s.botSettings()
		settings.PromptPreset = req.Preset
		if err := s.st.SaveBotSettings(settings); err != nil {
			s.errorResponse(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.jsonResponse(w, map[string]interface{}{"success": true, "active": req.Preset})

	default:
		s.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handlePresetPreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		s.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/api/prompt_presets/preview/")
	if !decision.ValidPreset(name) {
		s.errorResponse(w, http.StatusNotFound, fmt.Sprintf("Unknown preset %q", name))
		return
	}

	pb := decision.NewPromptBuilder(name, s.constraints(s.botSettings()))
	s.jsonResponse(w, map[string]interface{}{
		"preset":        pb.Preset(),
		"system_prompt": pb.BuildSystemPrompt(),
	})
}

func (s *Server) handleSamplePrompt(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		s.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	settings := s.botSettings()
	pb := decision.NewPromptBuilder(settings.PromptPreset, s.constraints(settings))
	s.jsonResponse(w, map[string]interface{}{
		"preset":      settings.PromptPreset,
		"user_prompt": pb.BuildUserPrompt(decision.SampleContext()),
	})
}

// ============ RUNTIME CONFIG ============

func (s *Server) handleBotConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		s.jsonResponse(w, s.botSettings())

	case "POST":
		// Decode over the current values so omitted fields keep their
		// stored settings.
		settings := s.botSettings()
		if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
			s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if err := validateBotSettings(settings); err != nil {
			s.errorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := s.st.SaveBotSettings(settings); err != nil {
			s.errorResponse(w, http.StatusInternalServerError, err.Error())
			return
		}

		s.log.Info().
			Str("preset", settings.PromptPreset).
			Float64("max_margin_usd", settings.MaxMarginUSD).
			Int("interval_seconds", settings.IntervalSeconds).
			Msg("bot config updated")
		s.jsonResponse(w, map[string]interface{}{"success": true, "config": settings})

	default:
		s.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// validateBotSettings enforces the accepted ranges before anything is
// persisted. The engine reloads settings each cycle, so a bad write
// would take effect at the very next cycle.
func validateBotSettings(bs store.BotSettings) error {
	if !decision.ValidPreset(bs.PromptPreset) {
		keys := make([]string, 0, 3)
		for _, p := range decision.Presets() {
			keys = append(keys, p.Key)
		}
		return fmt.Errorf("prompt_preset must be one of: %s", strings.Join(keys, ", "))
	}
	if bs.MinMarginUSD <= 0 {
		return errors.New("min_margin_usd must be positive")
	}
	if bs.MaxMarginUSD <= 0 {
		return errors.New("max_margin_usd must be positive")
	}
	if bs.MinBalanceUSD < 0 {
		return errors.New("min_balance_threshold cannot be negative")
	}
	if bs.IntervalSeconds < 10 {
		return errors.New("execution_interval_seconds must be at least 10")
	}
	if bs.MaxOpenPositions < 1 || bs.MaxOpenPositions > 10 {
		return errors.New("max_open_positions must be between 1 and 10")
	}
	return nil
}

// ============ DATABASE ============

func (s *Server) handleDatabaseStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		s.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	info, err := s.st.Status()
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.jsonResponse(w, info)
}

func (s *Server) handleDatabaseReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		s.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	preserve := true
	if v := r.URL.Query().Get("preserve_schema"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.errorResponse(w, http.StatusBadRequest, "preserve_schema must be a boolean")
			return
		}
		preserve = b
	}

	if err := s.st.Reset(preserve); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.log.Warn().Bool("preserve_schema", preserve).Msg("database reset via API")
	s.jsonResponse(w, map[string]interface{}{
		"success":         true,
		"preserve_schema": preserve,
	})
}

func (s *Server) handleDebugDatabase(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		s.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	table := r.URL.Query().Get("table")
	if table == "" {
		s.errorResponse(w, http.StatusBadRequest, "table parameter is required")
		return
	}

	rows, err := s.st.TableRows(table, queryInt(r, "limit", 20))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if rows == nil {
		rows = []map[string]interface{}{}
	}

	s.jsonResponse(w, map[string]interface{}{
		"table": table,
		"rows":  rows,
		"count": len(rows),
	})
}

// ============ LOG STREAM ============

// handleLogStream tails the in-process log buffer over SSE: buffered
// history first, then live lines until the client goes away.
func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	b := logger.GetBroadcaster()
	ch, history := b.Subscribe()
	defer b.Unsubscribe(ch)

	for _, line := range history {
		fmt.Fprint(w, line.ToSSE())
	}
	flusher.Flush()

	keepalive := time.NewTicker(25 * time.Second)
	defer keepalive.Stop()

	done := r.Context().Done()
	for {
		select {
		case <-done:
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case line, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprint(w, line.ToSSE())
			flusher.Flush()
		}
	}
}
