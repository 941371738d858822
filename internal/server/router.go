package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smacktalklabs/central/backend/internal/auth"
	"github.com/smacktalklabs/central/backend/internal/chat"
	"github.com/smacktalklabs/central/backend/internal/history"
	"github.com/smacktalklabs/central/backend/internal/media"
	"github.com/smacktalklabs/central/backend/internal/polls"
	"github.com/smacktalklabs/central/backend/internal/realtime"
	"github.com/smacktalklabs/central/backend/internal/users"
)

const (
	userIDContextKey      = "smacktalk_user_id"
	displayNameContextKey = "smacktalk_display_name"

	systemAuthorID   = "system"
	systemAuthorName = "Smack Talk Central"
)

var (
	errMissingIdentityVerifier = errors.New("identity verifier dependency required")
	errMissingTokenManager     = errors.New("token manager dependency required")
	errMissingUsersService     = errors.New("users service dependency required")
	errMissingPollsService     = errors.New("polls service dependency required")
	errMissingHistoryStore     = errors.New("history store dependency required")
	errMissingSessionManager   = errors.New("session manager dependency required")
	errMissingDispatcher       = errors.New("dispatcher dependency required")
	errInvalidAuthorization    = errors.New("authorization header missing or invalid")
)

// IdentityVerifier verifies a third-party ID token into profile claims.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (auth.IdentityClaims, error)
}

// SessionTokenManager issues and validates backend session tokens.
type SessionTokenManager interface {
	IssueSessionToken(ctx context.Context, userID, displayName string) (string, int64, error)
	ValidateToken(token string) (auth.Session, error)
}

// GIFSearcher exposes the media search surface used by the picker endpoint.
type GIFSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]media.Candidate, error)
	Select(candidate media.Candidate) (chat.MediaAttachment, error)
}

// Dependencies wires the HTTP surface to the domain services.
type Dependencies struct {
	IdentityVerifier IdentityVerifier
	TokenManager     SessionTokenManager
	UsersService     *users.Service
	PollsService     *polls.Service
	HistoryStore     *history.Store
	StatsStore       *users.StatsStore
	Sessions         *SessionManager
	Dispatcher       *realtime.Dispatcher
	MediaClient      GIFSearcher
	MediaValidator   *chat.MediaValidator
	Logger           *zap.Logger
	Clock            func() time.Time
	HistoryLimit     int
	DefaultRoomID    string
}

// NewHTTPHandler assembles the gin router over the provided dependencies.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.IdentityVerifier == nil {
		return nil, errMissingIdentityVerifier
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.UsersService == nil {
		return nil, errMissingUsersService
	}
	if deps.PollsService == nil {
		return nil, errMissingPollsService
	}
	if deps.HistoryStore == nil {
		return nil, errMissingHistoryStore
	}
	if deps.StatsStore == nil {
		return nil, errMissingSessionManager
	}
	if deps.Sessions == nil {
		return nil, errMissingSessionManager
	}
	if deps.Dispatcher == nil {
		return nil, errMissingDispatcher
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	validator := deps.MediaValidator
	if validator == nil {
		validator = chat.NewMediaValidator(nil)
	}
	historyLimit := deps.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = history.DefaultLoadLimit
	}
	defaultRoomID := strings.TrimSpace(deps.DefaultRoomID)
	if defaultRoomID == "" {
		defaultRoomID = "main"
	}

	handler := &httpHandler{
		voteLedgers:  make(map[string]*polls.VoteLedger),
		verifier:     deps.IdentityVerifier,
		tokens:       deps.TokenManager,
		usersService: deps.UsersService,
		pollsService: deps.PollsService,
		historyStore: deps.HistoryStore,
		statsStore:   deps.StatsStore,
		sessions:     deps.Sessions,
		dispatcher:   deps.Dispatcher,
		mediaClient:  deps.MediaClient,
		validator:    validator,
		ids:          chat.NewEventIDSource(clock),
		clock:        clock,
		logger:       logger,
		historyLimit: historyLimit,
		defaultRoom:  defaultRoomID,
	}
	handler.websocket = realtime.NewHandler(realtime.HandlerConfig{
		Dispatcher: deps.Dispatcher,
		Validator:  validator,
		Logger:     logger,
		OnEvent:    handler.ingestRemoteEvent,
	})

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	router.GET("/healthz", handler.handleHealth)
	router.POST("/auth/google", handler.handleGoogleAuth)
	router.GET("/levels", handler.handleLevels)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/rooms/:room_id/messages", handler.handleSendMessage)
	protected.GET("/rooms/:room_id/history", handler.handleHistory)
	protected.GET("/rooms/:room_id/reactions", handler.handleReactionCounts)
	protected.GET("/rooms/:room_id/stream", handler.handleStream)
	protected.GET("/rooms/:room_id/polls", handler.handleListPolls)
	protected.POST("/polls", handler.handleCreatePoll)
	protected.POST("/polls/:poll_id/votes", handler.handleVote)
	protected.POST("/polls/:poll_id/close", handler.handleClosePoll)
	protected.GET("/me/stats", handler.handleStats)
	protected.GET("/leaderboard", handler.handleLeaderboard)
	protected.GET("/media/search", handler.handleMediaSearch)

	return router, nil
}

type httpHandler struct {
	verifier     IdentityVerifier
	tokens       SessionTokenManager
	usersService *users.Service
	pollsService *polls.Service
	historyStore *history.Store
	statsStore   *users.StatsStore
	sessions     *SessionManager
	dispatcher   *realtime.Dispatcher
	mediaClient  GIFSearcher
	validator    *chat.MediaValidator
	websocket    *realtime.Handler
	ids          *chat.EventIDSource
	clock        func() time.Time
	logger       *zap.Logger
	historyLimit int
	defaultRoom  string

	// Optimistic per-user vote state, mirrored from the durable records.
	// It answers already-voted checks and renders each user's choice
	// without a round trip; the durable VoteRecord remains authoritative
	// across restarts.
	ledgersMu   sync.Mutex
	voteLedgers map[string]*polls.VoteLedger
}

func (h *httpHandler) voteLedgerFor(userID string) *polls.VoteLedger {
	h.ledgersMu.Lock()
	defer h.ledgersMu.Unlock()
	ledger, ok := h.voteLedgers[userID]
	if !ok {
		ledger = polls.NewVoteLedger()
		h.voteLedgers[userID] = ledger
	}
	return ledger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type authRequestPayload struct {
	IDToken string `json:"id_token"`
}

type authResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

func (h *httpHandler) handleGoogleAuth(c *gin.Context) {
	var request authRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.IDToken) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	claims, err := h.verifier.Verify(c.Request.Context(), request.IDToken)
	if err != nil {
		h.logger.Warn("identity token verification failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	userID, err := h.usersService.ResolveCanonicalUserID(users.Profile{
		Provider:    "google",
		Subject:     claims.Subject,
		Email:       claims.Email,
		DisplayName: claims.DisplayName,
		AvatarURL:   claims.AvatarURL,
	})
	if err != nil {
		h.logger.Error("failed to resolve canonical user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "identity_resolution_failed"})
		return
	}

	displayName := claims.DisplayName
	if strings.TrimSpace(displayName) == "" {
		displayName = claims.Email
	}

	token, expiresIn, err := h.tokens.IssueSessionToken(c.Request.Context(), userID, displayName)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, authResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		UserID:      userID,
		DisplayName: displayName,
	})
}

func (h *httpHandler) handleLevels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tiers": chat.LevelTiers()})
}

type mediaPayload struct {
	URL     string `json:"url"`
	AltText string `json:"alt_text"`
}

type sendMessagePayload struct {
	EventID int64         `json:"event_id"`
	Kind    string        `json:"kind"`
	Body    string        `json:"body"`
	Media   *mediaPayload `json:"media,omitempty"`
}

type noticePayload struct {
	Kind    string          `json:"kind"`
	Streak  int             `json:"streak,omitempty"`
	XPBonus int             `json:"xp_bonus,omitempty"`
	NewTier *chat.LevelTier `json:"new_tier,omitempty"`
}

type statsPayload struct {
	XP            int            `json:"xp"`
	CurrentStreak int            `json:"current_streak"`
	Tier          chat.LevelTier `json:"tier"`
}

type sendMessageResponse struct {
	Event     chat.Event      `json:"event"`
	Applied   bool            `json:"applied"`
	XPAwarded int             `json:"xp_awarded"`
	Stats     statsPayload    `json:"stats"`
	Notices   []noticePayload `json:"notices"`
}

func (h *httpHandler) handleSendMessage(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	displayName := c.GetString(displayNameContextKey)
	roomID := c.Param("room_id")

	var request sendMessagePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	kind := request.Kind
	if strings.TrimSpace(kind) == "" {
		kind = string(chat.EventKindMessage)
	}
	parsedKind, err := chat.ParseEventKind(kind)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_event_kind"})
		return
	}

	eventID := request.EventID
	if eventID <= 0 {
		eventID = h.ids.NextID()
	}
	var attachment *chat.MediaAttachment
	if request.Media != nil {
		attachment = &chat.MediaAttachment{
			Kind:    chat.MediaKindGIF,
			URL:     request.Media.URL,
			AltText: request.Media.AltText,
		}
	}

	event, err := chat.NewEvent(eventID, userID, displayName, request.Body, attachment, parsedKind, h.clock(), h.validator)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_event"})
		return
	}

	session, err := h.sessions.Acquire(c.Request.Context(), userID, displayName)
	if err != nil {
		h.logger.Error("failed to acquire session", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session_failed"})
		return
	}

	xpDelta, applied := session.RecordSend(event)
	response := sendMessageResponse{Event: event, Applied: applied}

	if applied {
		// The optimistic commit stands regardless of what happens below;
		// persistence and fan-out are best effort.
		_ = h.historyStore.Append(c.Request.Context(), roomID, event)
		h.dispatcher.Publish(realtime.EventMessage{
			RoomID:    roomID,
			Event:     event,
			Timestamp: h.clock().UTC(),
		})
		h.sessions.Broadcast(event)
		if xpDelta > 0 {
			if _, err := h.statsStore.ApplyXPDelta(c.Request.Context(), userID, displayName, int64(xpDelta)); err != nil {
				h.logger.Warn("durable xp update failed", zap.String("user_id", userID), zap.Error(err))
			}
		}
	}

	response.XPAwarded = xpDelta
	response.Stats = statsFromSession(session.Stats())
	response.Notices = drainNotices(session)
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleHistory(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	displayName := c.GetString(displayNameContextKey)
	roomID := c.Param("room_id")

	limit := h.historyLimit
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed < limit {
			limit = parsed
		}
	}

	events, err := h.historyStore.LoadRecent(c.Request.Context(), roomID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history_load_failed"})
		return
	}

	session, err := h.sessions.Acquire(c.Request.Context(), userID, displayName)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session_failed"})
		return
	}
	merged := session.MergeHistory(events)

	c.JSON(http.StatusOK, gin.H{"events": events, "merged": merged})
}

func (h *httpHandler) handleReactionCounts(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	displayName := c.GetString(displayNameContextKey)

	session, err := h.sessions.Acquire(c.Request.Context(), userID, displayName)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"counts": session.ReactionCounts()})
}

func (h *httpHandler) handleStream(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	displayName := c.GetString(displayNameContextKey)
	roomID := c.Param("room_id")

	if _, err := h.sessions.Acquire(c.Request.Context(), userID, displayName); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session_failed"})
		return
	}
	h.websocket.Serve(c.Writer, c.Request, roomID, userID)
}

// ingestRemoteEvent mirrors the REST send path for events arriving over a
// websocket: the author's session runs the XP pipeline, everyone else folds
// the broadcast copy, and the event lands in durable history.
func (h *httpHandler) ingestRemoteEvent(ctx context.Context, roomID string, event chat.Event) {
	_ = h.historyStore.Append(ctx, roomID, event)
	if session, ok := h.sessions.Peek(event.AuthorID); ok {
		if xpDelta, applied := session.RecordSend(event); applied && xpDelta > 0 {
			if _, err := h.statsStore.ApplyXPDelta(ctx, event.AuthorID, event.AuthorName, int64(xpDelta)); err != nil {
				h.logger.Warn("durable xp update failed", zap.String("user_id", event.AuthorID), zap.Error(err))
			}
		}
	}
	h.sessions.Broadcast(event)
}

type pollOptionPayload struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	VoteCount int    `json:"vote_count"`
	Percent   int    `json:"percent"`
}

type pollPayload struct {
	ID             string              `json:"id"`
	Question       string              `json:"question"`
	CreatedBy      string              `json:"created_by"`
	CreatedAtMs    int64               `json:"created_at_ms"`
	Status         string              `json:"status"`
	TotalVotes     int                 `json:"total_votes"`
	Options        []pollOptionPayload `json:"options"`
	WinnerOptionID string              `json:"winner_option_id,omitempty"`
	YourVote       string              `json:"your_vote,omitempty"`
}

func pollToPayload(poll polls.Poll) pollPayload {
	percents := make(map[string]int, len(poll.Options))
	for _, share := range polls.Percentages(poll) {
		percents[share.OptionID] = share.Percent
	}
	payload := pollPayload{
		ID:          poll.ID,
		Question:    poll.Question,
		CreatedBy:   poll.CreatedBy,
		CreatedAtMs: poll.CreatedAt,
		Status:      string(poll.Status),
		TotalVotes:  poll.TotalVotes,
		Options:     make([]pollOptionPayload, 0, len(poll.Options)),
	}
	for _, option := range poll.Options {
		payload.Options = append(payload.Options, pollOptionPayload{
			ID:        option.ID,
			Text:      option.Text,
			VoteCount: option.VoteCount,
			Percent:   percents[option.ID],
		})
	}
	return payload
}

type createPollPayload struct {
	RoomID   string   `json:"room_id"`
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

func (h *httpHandler) handleCreatePoll(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	displayName := c.GetString(displayNameContextKey)

	var request createPollPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Question) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	roomID := strings.TrimSpace(request.RoomID)
	if roomID == "" {
		roomID = h.defaultRoom
	}

	poll, err := h.pollsService.Create(c.Request.Context(), polls.CreateRequest{
		RoomID:      roomID,
		Question:    request.Question,
		OptionTexts: request.Options,
		CreatedBy:   userID,
	})
	if err != nil {
		if errors.Is(err, polls.ErrInvalidOptionCount) || errors.Is(err, polls.ErrDuplicateOption) || errors.Is(err, polls.ErrEmptyQuestion) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_poll"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "poll_create_failed"})
		return
	}

	h.awardActionXP(c.Request.Context(), userID, displayName, chat.XPPerPollCreate)
	h.publishSystemEvent(roomID, "New poll: "+poll.Question)

	c.JSON(http.StatusCreated, gin.H{"poll": pollToPayload(poll)})
}

func (h *httpHandler) handleListPolls(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	roomID := c.Param("room_id")
	roomPolls, err := h.pollsService.ListForRoom(c.Request.Context(), roomID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "poll_list_failed"})
		return
	}
	ledger := h.voteLedgerFor(userID)
	payloads := make([]pollPayload, 0, len(roomPolls))
	for _, poll := range roomPolls {
		payload := pollToPayload(poll)
		if choice, ok := ledger.ChoiceFor(poll.ID); ok {
			payload.YourVote = choice
		}
		payloads = append(payloads, payload)
	}
	c.JSON(http.StatusOK, gin.H{"polls": payloads})
}

type votePayload struct {
	OptionID string `json:"option_id"`
}

func (h *httpHandler) handleVote(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	displayName := c.GetString(displayNameContextKey)
	pollID := c.Param("poll_id")

	var request votePayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.OptionID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	ledger := h.voteLedgerFor(userID)
	if ledger.HasVoted(pollID) {
		c.JSON(http.StatusConflict, gin.H{"error": "already_voted"})
		return
	}

	poll, err := h.pollsService.Vote(c.Request.Context(), pollID, request.OptionID, userID)
	if err != nil {
		switch {
		case errors.Is(err, polls.ErrPollNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "poll_not_found"})
		case errors.Is(err, polls.ErrAlreadyVoted):
			c.JSON(http.StatusConflict, gin.H{"error": "already_voted"})
		case errors.Is(err, polls.ErrPollNotActive):
			c.JSON(http.StatusConflict, gin.H{"error": "poll_closed"})
		case errors.Is(err, polls.ErrUnknownOption):
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_option"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "vote_failed"})
		}
		return
	}

	if err := ledger.Record(pollID, request.OptionID); err != nil {
		h.logger.Warn("vote ledger out of sync", zap.String("poll_id", pollID), zap.Error(err))
	}
	h.awardActionXP(c.Request.Context(), userID, displayName, chat.XPPerPollVote)

	payload := pollToPayload(poll)
	payload.YourVote = request.OptionID
	c.JSON(http.StatusOK, gin.H{"poll": payload})
}

func (h *httpHandler) handleClosePoll(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	pollID := c.Param("poll_id")

	result, err := h.pollsService.Close(c.Request.Context(), pollID, userID)
	if err != nil {
		switch {
		case errors.Is(err, polls.ErrPollNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "poll_not_found"})
		case errors.Is(err, polls.ErrNotCreator):
			c.JSON(http.StatusForbidden, gin.H{"error": "not_creator"})
		case errors.Is(err, polls.ErrPollNotActive):
			c.JSON(http.StatusConflict, gin.H{"error": "poll_closed"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "poll_close_failed"})
		}
		return
	}

	announcement := "Poll closed: " + result.Poll.Question
	if result.HasWinner {
		for _, option := range result.Poll.Options {
			if option.ID == result.WinnerID {
				announcement = "Poll result: " + option.Text + " wins"
				break
			}
		}
	}
	h.publishSystemEvent(result.RoomID, announcement)

	c.JSON(http.StatusOK, gin.H{
		"poll":             pollToPayload(result.Poll),
		"winner_option_id": result.WinnerID,
		"has_winner":       result.HasWinner,
	})
}

func (h *httpHandler) handleStats(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	displayName := c.GetString(displayNameContextKey)

	session, err := h.sessions.Acquire(c.Request.Context(), userID, displayName)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session_failed"})
		return
	}
	durableXP, err := h.statsStore.FetchStats(c.Request.Context(), userID)
	if err != nil {
		durableXP = 0
	}
	c.JSON(http.StatusOK, gin.H{
		"stats":      statsFromSession(session.Stats()),
		"durable_xp": durableXP,
	})
}

func (h *httpHandler) handleLeaderboard(c *gin.Context) {
	limit := 10
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	records, err := h.statsStore.Leaderboard(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "leaderboard_failed"})
		return
	}
	entries := make([]gin.H, 0, len(records))
	for _, record := range records {
		entries = append(entries, gin.H{
			"user_id":      record.UserID,
			"display_name": record.DisplayName,
			"xp":           record.XP,
			"tier":         chat.LevelFor(int(record.XP)),
		})
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (h *httpHandler) handleMediaSearch(c *gin.Context) {
	if h.mediaClient == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "media_unavailable"})
		return
	}
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query_required"})
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}
	candidates, err := h.mediaClient.Search(c.Request.Context(), query, limit)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "media_search_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"candidates": candidates})
}

// awardActionXP applies a non-message XP grant (poll create, poll vote) to
// both the optimistic session view and the durable store.
func (h *httpHandler) awardActionXP(ctx context.Context, userID, displayName string, delta int) {
	if session, err := h.sessions.Acquire(ctx, userID, displayName); err == nil {
		session.AwardXP(delta)
	}
	if _, err := h.statsStore.ApplyXPDelta(ctx, userID, displayName, int64(delta)); err != nil {
		h.logger.Warn("durable xp update failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (h *httpHandler) publishSystemEvent(roomID, body string) {
	if strings.TrimSpace(roomID) == "" {
		return
	}
	event, err := chat.NewEvent(h.ids.NextID(), systemAuthorID, systemAuthorName, body, nil, chat.EventKindSystem, h.clock(), h.validator)
	if err != nil {
		return
	}
	_ = h.historyStore.Append(context.Background(), roomID, event)
	h.dispatcher.Publish(realtime.EventMessage{RoomID: roomID, Event: event, Timestamp: h.clock().UTC()})
	h.sessions.Broadcast(event)
}

func statsFromSession(stats chat.Stats) statsPayload {
	return statsPayload{
		XP:            stats.XP,
		CurrentStreak: stats.CurrentStreak,
		Tier:          stats.Tier,
	}
}

func drainNotices(session *chat.Session) []noticePayload {
	notices := make([]noticePayload, 0)
	for {
		select {
		case notice, ok := <-session.Notices():
			if !ok {
				return notices
			}
			notices = append(notices, noticePayload{
				Kind:    notice.Kind,
				Streak:  notice.Streak,
				XPBonus: notice.XPBonus,
				NewTier: notice.NewTier,
			})
		default:
			return notices
		}
	}
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := ""
	header := c.GetHeader("Authorization")
	switch {
	case strings.HasPrefix(header, "Bearer "):
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	default:
		// Browsers cannot attach headers to websocket upgrades; the stream
		// endpoint accepts the token as a query parameter instead.
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	session, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, session.UserID)
	c.Set(displayNameContextKey, session.DisplayName)
	c.Next()
}
