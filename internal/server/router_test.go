package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smacktalklabs/central/backend/internal/auth"
	"github.com/smacktalklabs/central/backend/internal/history"
	"github.com/smacktalklabs/central/backend/internal/polls"
	"github.com/smacktalklabs/central/backend/internal/realtime"
	"github.com/smacktalklabs/central/backend/internal/users"
)

type staticVerifier struct {
	claims auth.IdentityClaims
	err    error
}

func (v staticVerifier) Verify(_ context.Context, _ string) (auth.IdentityClaims, error) {
	return v.claims, v.err
}

type testHarness struct {
	handler http.Handler
	issuer  *auth.TokenIssuer
}

func newTestHarness(testContext *testing.T, databaseName string) *testHarness {
	testContext.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", databaseName)
	database, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(
		&history.EventRecord{},
		&polls.PollRecord{},
		&polls.PollOptionRecord{},
		&polls.VoteRecord{},
		&users.Identity{},
		&users.StatsRecord{},
	); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	usersService, err := users.NewService(users.ServiceConfig{Database: database})
	if err != nil {
		testContext.Fatalf("failed to construct users service: %v", err)
	}
	statsStore, err := users.NewStatsStore(users.StatsStoreConfig{Database: database})
	if err != nil {
		testContext.Fatalf("failed to construct stats store: %v", err)
	}
	pollsService, err := polls.NewService(polls.ServiceConfig{
		Database:   database,
		IDProvider: polls.NewUUIDProvider(),
	})
	if err != nil {
		testContext.Fatalf("failed to construct polls service: %v", err)
	}
	historyStore, err := history.NewStore(history.StoreConfig{Database: database})
	if err != nil {
		testContext.Fatalf("failed to construct history store: %v", err)
	}
	sessions, err := NewSessionManager(SessionManagerConfig{Stats: statsStore})
	if err != nil {
		testContext.Fatalf("failed to construct session manager: %v", err)
	}
	testContext.Cleanup(sessions.Close)

	issuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("router-test-secret"),
		Issuer:        "smacktalk-test",
		Audience:      "smacktalk-clients",
	})

	handler, err := NewHTTPHandler(Dependencies{
		IdentityVerifier: staticVerifier{claims: auth.IdentityClaims{
			Subject:     "google-subject-1",
			Email:       "fan@example.com",
			DisplayName: "Loud Fan",
		}},
		TokenManager: issuer,
		UsersService: usersService,
		PollsService: pollsService,
		HistoryStore: historyStore,
		StatsStore:   statsStore,
		Sessions:     sessions,
		Dispatcher:   realtime.NewDispatcher(),
		Logger:       zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to construct handler: %v", err)
	}

	return &testHarness{handler: handler, issuer: issuer}
}

func (h *testHarness) tokenFor(testContext *testing.T, userID, displayName string) string {
	testContext.Helper()
	token, _, err := h.issuer.IssueSessionToken(context.Background(), userID, displayName)
	if err != nil {
		testContext.Fatalf("failed to issue token: %v", err)
	}
	return token
}

func (h *testHarness) do(testContext *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	testContext.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			testContext.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	h.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(testContext *testing.T, recorder *httptest.ResponseRecorder, target interface{}) {
	testContext.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		testContext.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}

func TestProtectedRoutesRejectMissingToken(testContext *testing.T) {
	harness := newTestHarness(testContext, "router_auth_gate")

	recorder := harness.do(testContext, http.MethodGet, "/me/stats", "", nil)
	if recorder.Code != http.StatusUnauthorized {
		testContext.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestGoogleAuthIssuesSessionToken(testContext *testing.T) {
	harness := newTestHarness(testContext, "router_auth_flow")

	recorder := harness.do(testContext, http.MethodPost, "/auth/google", "", map[string]string{"id_token": "stub"})
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	var response struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		UserID      string `json:"user_id"`
		DisplayName string `json:"display_name"`
	}
	decodeBody(testContext, recorder, &response)
	if response.AccessToken == "" || response.TokenType != "Bearer" {
		testContext.Fatalf("unexpected auth response: %+v", response)
	}
	if response.DisplayName != "Loud Fan" {
		testContext.Fatalf("expected resolved display name, got %q", response.DisplayName)
	}

	stats := harness.do(testContext, http.MethodGet, "/me/stats", response.AccessToken, nil)
	if stats.Code != http.StatusOK {
		testContext.Fatalf("expected issued token to authorize, got %d", stats.Code)
	}
}

func TestSendMessageAwardsXPAndDeduplicates(testContext *testing.T) {
	harness := newTestHarness(testContext, "router_send")
	token := harness.tokenFor(testContext, "user-send", "Sender")

	payload := map[string]interface{}{
		"event_id": 1000,
		"body":     "put me in coach",
	}
	first := harness.do(testContext, http.MethodPost, "/rooms/main/messages", token, payload)
	if first.Code != http.StatusOK {
		testContext.Fatalf("expected 200, got %d: %s", first.Code, first.Body.String())
	}
	var firstResponse sendMessageResponse
	decodeBody(testContext, first, &firstResponse)
	if !firstResponse.Applied {
		testContext.Fatalf("expected first send to apply")
	}
	if firstResponse.XPAwarded != 5 {
		testContext.Fatalf("expected 5 xp for a first message, got %d", firstResponse.XPAwarded)
	}
	if firstResponse.Stats.XP != 5 {
		testContext.Fatalf("expected optimistic xp 5, got %d", firstResponse.Stats.XP)
	}

	second := harness.do(testContext, http.MethodPost, "/rooms/main/messages", token, payload)
	var secondResponse sendMessageResponse
	decodeBody(testContext, second, &secondResponse)
	if secondResponse.Applied {
		testContext.Fatalf("expected duplicate event id to be a no-op")
	}
	if secondResponse.Stats.XP != 5 {
		testContext.Fatalf("duplicate send must not change xp, got %d", secondResponse.Stats.XP)
	}
}

func TestStreakMilestoneSurfacesNotice(testContext *testing.T) {
	harness := newTestHarness(testContext, "router_streak")
	token := harness.tokenFor(testContext, "user-streak", "Streaker")

	var last sendMessageResponse
	for i := 0; i < 3; i++ {
		payload := map[string]interface{}{
			"event_id": 2000 + i,
			"body":     fmt.Sprintf("trash talk %d", i),
		}
		recorder := harness.do(testContext, http.MethodPost, "/rooms/main/messages", token, payload)
		if recorder.Code != http.StatusOK {
			testContext.Fatalf("send %d failed with %d", i, recorder.Code)
		}
		last = sendMessageResponse{}
		decodeBody(testContext, recorder, &last)
	}

	if last.XPAwarded != 20 {
		testContext.Fatalf("expected 5 base + 15 milestone on the third send, got %d", last.XPAwarded)
	}
	found := false
	for _, notice := range last.Notices {
		if notice.Kind == "streak-milestone" && notice.Streak == 3 && notice.XPBonus == 15 {
			found = true
		}
	}
	if !found {
		testContext.Fatalf("expected streak milestone notice, got %+v", last.Notices)
	}
}

func TestPollLifecycleOverHTTP(testContext *testing.T) {
	harness := newTestHarness(testContext, "router_polls")
	creatorToken := harness.tokenFor(testContext, "user-creator", "Creator")
	voterToken := harness.tokenFor(testContext, "user-voter", "Voter")

	created := harness.do(testContext, http.MethodPost, "/polls", creatorToken, map[string]interface{}{
		"room_id":  "main",
		"question": "Who wins tonight?",
		"options":  []string{"Home", "Away"},
	})
	if created.Code != http.StatusCreated {
		testContext.Fatalf("expected 201, got %d: %s", created.Code, created.Body.String())
	}
	var createResponse struct {
		Poll pollPayload `json:"poll"`
	}
	decodeBody(testContext, created, &createResponse)
	if len(createResponse.Poll.Options) != 2 {
		testContext.Fatalf("expected two options, got %d", len(createResponse.Poll.Options))
	}
	pollID := createResponse.Poll.ID
	optionID := createResponse.Poll.Options[0].ID

	vote := harness.do(testContext, http.MethodPost, "/polls/"+pollID+"/votes", voterToken, map[string]string{"option_id": optionID})
	if vote.Code != http.StatusOK {
		testContext.Fatalf("expected vote to succeed, got %d: %s", vote.Code, vote.Body.String())
	}
	var voteResponse struct {
		Poll pollPayload `json:"poll"`
	}
	decodeBody(testContext, vote, &voteResponse)
	if voteResponse.Poll.Options[0].VoteCount != 1 || voteResponse.Poll.Options[0].Percent != 100 {
		testContext.Fatalf("unexpected tallies: %+v", voteResponse.Poll.Options)
	}

	revote := harness.do(testContext, http.MethodPost, "/polls/"+pollID+"/votes", voterToken, map[string]string{"option_id": optionID})
	if revote.Code != http.StatusConflict {
		testContext.Fatalf("expected 409 for a second vote, got %d", revote.Code)
	}

	foreignClose := harness.do(testContext, http.MethodPost, "/polls/"+pollID+"/close", voterToken, nil)
	if foreignClose.Code != http.StatusForbidden {
		testContext.Fatalf("expected 403 for non-creator close, got %d", foreignClose.Code)
	}

	closed := harness.do(testContext, http.MethodPost, "/polls/"+pollID+"/close", creatorToken, nil)
	if closed.Code != http.StatusOK {
		testContext.Fatalf("expected close to succeed, got %d: %s", closed.Code, closed.Body.String())
	}
	var closeResponse struct {
		WinnerOptionID string `json:"winner_option_id"`
		HasWinner      bool   `json:"has_winner"`
	}
	decodeBody(testContext, closed, &closeResponse)
	if !closeResponse.HasWinner || closeResponse.WinnerOptionID != optionID {
		testContext.Fatalf("expected option %q to win, got %+v", optionID, closeResponse)
	}

	reclose := harness.do(testContext, http.MethodPost, "/polls/"+pollID+"/close", creatorToken, nil)
	if reclose.Code != http.StatusConflict {
		testContext.Fatalf("expected 409 for a second close, got %d", reclose.Code)
	}
}

func TestHistoryEndpointMergesIntoSession(testContext *testing.T) {
	harness := newTestHarness(testContext, "router_history")
	token := harness.tokenFor(testContext, "user-history", "Historian")

	for i := 0; i < 3; i++ {
		payload := map[string]interface{}{
			"event_id": 3000 + i,
			"body":     fmt.Sprintf("replay me %d", i),
		}
		if recorder := harness.do(testContext, http.MethodPost, "/rooms/main/messages", token, payload); recorder.Code != http.StatusOK {
			testContext.Fatalf("seed send failed with %d", recorder.Code)
		}
	}

	recorder := harness.do(testContext, http.MethodGet, "/rooms/main/history?limit=2", token, nil)
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("expected 200, got %d", recorder.Code)
	}
	var response struct {
		Events []struct {
			ID int64 `json:"id"`
		} `json:"events"`
		Merged int `json:"merged"`
	}
	decodeBody(testContext, recorder, &response)
	if len(response.Events) != 2 {
		testContext.Fatalf("expected a two-event page, got %d", len(response.Events))
	}
	if response.Events[0].ID < response.Events[1].ID {
		testContext.Fatalf("expected newest-first ordering, got %+v", response.Events)
	}
	if response.Merged != 0 {
		testContext.Fatalf("events already applied optimistically must not merge again, got %d", response.Merged)
	}
}

func TestLeaderboardOrdersByDurableXP(testContext *testing.T) {
	harness := newTestHarness(testContext, "router_leaderboard")
	loudToken := harness.tokenFor(testContext, "user-loud", "Loud")
	quietToken := harness.tokenFor(testContext, "user-quiet", "Quiet")

	for i := 0; i < 2; i++ {
		payload := map[string]interface{}{"event_id": 4000 + i, "body": "yelling"}
		if recorder := harness.do(testContext, http.MethodPost, "/rooms/main/messages", loudToken, payload); recorder.Code != http.StatusOK {
			testContext.Fatalf("seed send failed with %d", recorder.Code)
		}
	}
	if recorder := harness.do(testContext, http.MethodPost, "/rooms/main/messages", quietToken, map[string]interface{}{"event_id": 4100, "body": "one remark"}); recorder.Code != http.StatusOK {
		testContext.Fatalf("seed send failed with %d", recorder.Code)
	}

	recorder := harness.do(testContext, http.MethodGet, "/leaderboard?limit=5", loudToken, nil)
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("expected 200, got %d", recorder.Code)
	}
	var response struct {
		Entries []struct {
			UserID string `json:"user_id"`
			XP     int64  `json:"xp"`
		} `json:"entries"`
	}
	decodeBody(testContext, recorder, &response)
	if len(response.Entries) != 2 {
		testContext.Fatalf("expected two entries, got %d", len(response.Entries))
	}
	if response.Entries[0].UserID != "user-loud" || response.Entries[0].XP != 10 {
		testContext.Fatalf("expected user-loud on top with 10 xp, got %+v", response.Entries[0])
	}
}

func TestReactionEndpointReportsWindowCounts(testContext *testing.T) {
	harness := newTestHarness(testContext, "router_reactions")
	token := harness.tokenFor(testContext, "user-react", "Reactor")

	payload := map[string]interface{}{
		"event_id":   5000,
		"kind":       "reaction",
		"body":       "🔥",
		"created_at": time.Now().UnixMilli(),
	}
	if recorder := harness.do(testContext, http.MethodPost, "/rooms/main/messages", token, payload); recorder.Code != http.StatusOK {
		testContext.Fatalf("reaction send failed with %d", recorder.Code)
	}

	recorder := harness.do(testContext, http.MethodGet, "/rooms/main/reactions", token, nil)
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("expected 200, got %d", recorder.Code)
	}
	var response struct {
		Counts map[string]int `json:"counts"`
	}
	decodeBody(testContext, recorder, &response)
	if response.Counts["🔥"] != 1 {
		testContext.Fatalf("expected one fire reaction in the window, got %+v", response.Counts)
	}
}

func TestClosePollAnnouncesInPollRoom(testContext *testing.T) {
	harness := newTestHarness(testContext, "router_close_room")
	creatorToken := harness.tokenFor(testContext, "user-gameday", "Gameday Host")

	created := harness.do(testContext, http.MethodPost, "/polls", creatorToken, map[string]interface{}{
		"room_id":  "gameday",
		"question": "Best tailgate snack?",
		"options":  []string{"Wings", "Nachos"},
	})
	if created.Code != http.StatusCreated {
		testContext.Fatalf("expected 201, got %d: %s", created.Code, created.Body.String())
	}
	var createResponse struct {
		Poll pollPayload `json:"poll"`
	}
	decodeBody(testContext, created, &createResponse)
	pollID := createResponse.Poll.ID

	vote := harness.do(testContext, http.MethodPost, "/polls/"+pollID+"/votes", creatorToken,
		map[string]string{"option_id": createResponse.Poll.Options[0].ID})
	if vote.Code != http.StatusOK {
		testContext.Fatalf("vote failed with %d", vote.Code)
	}

	closed := harness.do(testContext, http.MethodPost, "/polls/"+pollID+"/close", creatorToken, nil)
	if closed.Code != http.StatusOK {
		testContext.Fatalf("close failed with %d: %s", closed.Code, closed.Body.String())
	}

	var historyResponse struct {
		Events []struct {
			Kind string `json:"kind"`
			Body string `json:"body"`
		} `json:"events"`
	}
	gameday := harness.do(testContext, http.MethodGet, "/rooms/gameday/history", creatorToken, nil)
	decodeBody(testContext, gameday, &historyResponse)
	foundResult := false
	for _, event := range historyResponse.Events {
		if event.Kind == "system" && event.Body == "Poll result: Wings wins" {
			foundResult = true
		}
	}
	if !foundResult {
		testContext.Fatalf("close announcement missing from the poll's room: %+v", historyResponse.Events)
	}

	historyResponse.Events = nil
	main := harness.do(testContext, http.MethodGet, "/rooms/main/history", creatorToken, nil)
	decodeBody(testContext, main, &historyResponse)
	if len(historyResponse.Events) != 0 {
		testContext.Fatalf("announcement leaked into an unrelated room: %+v", historyResponse.Events)
	}
}

func TestPollListReportsCallerChoice(testContext *testing.T) {
	harness := newTestHarness(testContext, "router_vote_choice")
	creatorToken := harness.tokenFor(testContext, "user-chooser", "Chooser")

	created := harness.do(testContext, http.MethodPost, "/polls", creatorToken, map[string]interface{}{
		"room_id":  "main",
		"question": "Overtime?",
		"options":  []string{"Yes", "No"},
	})
	if created.Code != http.StatusCreated {
		testContext.Fatalf("expected 201, got %d", created.Code)
	}
	var createResponse struct {
		Poll pollPayload `json:"poll"`
	}
	decodeBody(testContext, created, &createResponse)
	pollID := createResponse.Poll.ID
	optionID := createResponse.Poll.Options[1].ID

	vote := harness.do(testContext, http.MethodPost, "/polls/"+pollID+"/votes", creatorToken, map[string]string{"option_id": optionID})
	if vote.Code != http.StatusOK {
		testContext.Fatalf("vote failed with %d", vote.Code)
	}
	var voteResponse struct {
		Poll pollPayload `json:"poll"`
	}
	decodeBody(testContext, vote, &voteResponse)
	if voteResponse.Poll.YourVote != optionID {
		testContext.Fatalf("vote response should echo the recorded choice, got %q", voteResponse.Poll.YourVote)
	}

	list := harness.do(testContext, http.MethodGet, "/rooms/main/polls", creatorToken, nil)
	if list.Code != http.StatusOK {
		testContext.Fatalf("list failed with %d", list.Code)
	}
	var listResponse struct {
		Polls []pollPayload `json:"polls"`
	}
	decodeBody(testContext, list, &listResponse)
	if len(listResponse.Polls) != 1 || listResponse.Polls[0].YourVote != optionID {
		testContext.Fatalf("poll list should carry the caller's choice, got %+v", listResponse.Polls)
	}

	revote := harness.do(testContext, http.MethodPost, "/polls/"+pollID+"/votes", creatorToken, map[string]string{"option_id": optionID})
	if revote.Code != http.StatusConflict {
		testContext.Fatalf("expected the recorded choice to block a second vote, got %d", revote.Code)
	}
}
