package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.cardgame.client/internal/dnd"
	apperrors "sudooom.cardgame.client/internal/errors"
	"sudooom.cardgame.client/internal/health"
	"sudooom.cardgame.client/internal/ledger"
	"sudooom.cardgame.client/internal/lobby"
	"sudooom.cardgame.client/internal/model"
	"sudooom.cardgame.client/internal/navstate"
	"sudooom.cardgame.client/internal/reconcile"
	"sudooom.cardgame.client/internal/store"
)

const (
	alice = "0xA11CE00000000000000000000000000000000001"
	bob   = "0xB0B0000000000000000000000000000000000002"

	startedGame = 7
	waitingGame = 8
)

// fakeLedger 内存账本：对局 7 已开始，对局 8 等待玩家
type fakeLedger struct {
	mu     sync.Mutex
	played []int
	staked []string
}

func (f *fakeLedger) FetchSummary(_ context.Context, gameID uint64) (ledger.Record, error) {
	switch gameID {
	case startedGame:
		return ledger.Record{uint64(gameID), uint8(model.StatusStarted), alice, bob, alice, alice, uint64(1)}, nil
	case waitingGame:
		return ledger.Record{uint64(gameID), uint8(model.StatusWaitingForPlayers), alice, "", alice, alice, uint64(0)}, nil
	}
	return nil, ledger.ErrGameNotFound
}

func (f *fakeLedger) FetchRaw(ctx context.Context, gameID uint64) (ledger.Record, error) {
	return nil, errors.New("unused")
}

func (f *fakeLedger) FetchFull(_ context.Context, gameID uint64) (*model.FullState, error) {
	unit := func(id string, cost uint64) model.CardInstance {
		return model.CardInstance{ID: id, Definition: model.CardDefinition{Name: id, Type: model.CardTypeUnit, Cost: cost}}
	}
	farm := model.CardInstance{ID: "farm", Definition: model.CardDefinition{Name: "Yield Farm", Type: model.CardTypeDeFi}}
	return &model.FullState{
		GameID: gameID,
		Players: [2]model.PlayerView{
			{Address: alice, ETH: 5, Hand: []model.CardInstance{unit("cheap", 2), unit("pricey", 9)}, Board: []model.CardInstance{farm}},
			{Address: bob, ETH: 3},
		},
		ActivePlayer: alice,
		Turn:         1,
	}, nil
}

func (f *fakeLedger) SubmitCreate(context.Context, uint64) (uint64, error) { return 12, nil }
func (f *fakeLedger) SubmitJoin(context.Context, uint64, uint64) error     { return nil }
func (f *fakeLedger) SubmitStart(context.Context, uint64) error            { return nil }

func (f *fakeLedger) SubmitPlayCard(_ context.Context, _ uint64, handIndex int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.played = append(f.played, handIndex)
	return nil
}

func (f *fakeLedger) SubmitStake(_ context.Context, _ uint64, cardID string, _ uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.staked = append(f.staked, cardID)
	return nil
}

func (f *fakeLedger) SubmitDeposit(context.Context, uint64, string, uint64) error { return nil }

func (f *fakeLedger) ListGames(context.Context, int) ([]model.OpenGame, error) {
	return []model.OpenGame{
		{ID: waitingGame, Creator: alice, Status: model.StatusWaitingForPlayers},
		{ID: startedGame, Creator: alice, Status: model.StatusStarted},
	}, nil
}

func (f *fakeLedger) NextGameID(context.Context) (uint64, error) { return 9, nil }

type testEnv struct {
	router *gin.Engine
	ledger *fakeLedger
	poller *lobby.Poller
}

func setupTestEnv(t *testing.T) *testEnv {
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	l := &fakeLedger{}
	st := store.New(l, store.WithLocalAccount(alice))

	var (
		poller     *lobby.Poller
		controller *reconcile.Controller
	)
	controller = reconcile.NewController(l, st, nil, reconcile.Config{LoadTimeout: time.Second, StartGrace: time.Millisecond},
		reconcile.WithProbe(l),
		reconcile.WithRouteFunc(func(gameID uint64, route reconcile.Route) {
			if route == reconcile.RouteLobby {
				poller.Start(ctx, gameID, controller.Generation())
			}
		}))
	poller = lobby.NewPoller(l, st, nil, time.Hour, time.Second, nil, nil)
	t.Cleanup(poller.Stop)

	h := NewHandler(ctx, Deps{
		Controller: controller,
		Store:      st,
		Lobby:      lobby.NewService(l, l, navstate.NewMemoryFlags(time.Minute), nil),
		Poller:     poller,
		Bridge:     dnd.NewBridge(st, nil),
		Health:     health.NewChecker(l, nil, nil, nil),
	})
	return &testEnv{router: SetupRouter("", h, nil), ledger: l, poller: poller}
}

// apiResponse 用于解析响应体
type apiResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *testEnv) do(t *testing.T, method, path string, body any) apiResponse {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var resp apiResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func decodeData[T any](t *testing.T, resp apiResponse) T {
	var v T
	require.NoError(t, json.Unmarshal(resp.Data, &v))
	return v
}

func TestMountStartedGame(t *testing.T) {
	env := setupTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/v1/games/7/mount", nil)
	require.Equal(t, apperrors.CodeSuccess, resp.Code, resp.Message)

	out := decodeData[struct {
		Route string `json:"route"`
		State struct {
			Phase string `json:"phase"`
		} `json:"state"`
	}](t, resp)
	assert.Equal(t, "active", out.Route)
	assert.Equal(t, "active", out.State.Phase)

	resp = env.do(t, http.MethodGet, "/api/v1/games/7/view", nil)
	require.Equal(t, apperrors.CodeSuccess, resp.Code)
	view := decodeData[struct {
		View model.GameView `json:"view"`
	}](t, resp)
	assert.Len(t, view.View.Players[0].Hand, 2)
	assert.True(t, view.View.Activated)
}

func TestMountMissingGame(t *testing.T) {
	env := setupTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/v1/games/404/mount", nil)
	assert.Equal(t, apperrors.CodeNotFound, resp.Code)
	assert.Equal(t, "Game #404 not found.", resp.Message)
}

func TestMountWaitingGameWatchesLobby(t *testing.T) {
	env := setupTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/v1/games/8/mount", nil)
	require.Equal(t, apperrors.CodeSuccess, resp.Code)
	out := decodeData[struct {
		Route string `json:"route"`
	}](t, resp)
	assert.Equal(t, "lobby", out.Route)

	id, watching := env.poller.Watching()
	assert.True(t, watching)
	assert.Equal(t, uint64(waitingGame), id)

	resp = env.do(t, http.MethodDelete, "/api/v1/games/8/lobby/watch", nil)
	require.Equal(t, apperrors.CodeSuccess, resp.Code)
	_, watching = env.poller.Watching()
	assert.False(t, watching)
}

func TestUnmountStopsLobbyPoller(t *testing.T) {
	env := setupTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/v1/games/8/mount", nil)
	require.Equal(t, apperrors.CodeSuccess, resp.Code)
	_, watching := env.poller.Watching()
	require.True(t, watching)

	resp = env.do(t, http.MethodDelete, "/api/v1/games/8/mount", nil)
	require.Equal(t, apperrors.CodeSuccess, resp.Code)

	_, watching = env.poller.Watching()
	assert.False(t, watching)
}

func TestLegality(t *testing.T) {
	env := setupTestEnv(t)
	env.do(t, http.MethodPost, "/api/v1/games/7/mount", nil)

	resp := env.do(t, http.MethodGet, "/api/v1/games/7/legality", nil)
	require.Equal(t, apperrors.CodeSuccess, resp.Code)

	out := decodeData[struct {
		Cards []struct {
			CardID    string `json:"card_id"`
			Verdict   string `json:"verdict"`
			Reason    string `json:"reason"`
			Draggable bool   `json:"draggable"`
		} `json:"cards"`
	}](t, resp)
	require.Len(t, out.Cards, 3)
	assert.Equal(t, "playable", out.Cards[0].Verdict)
	assert.True(t, out.Cards[0].Draggable)
	assert.Equal(t, "cannot_afford", out.Cards[1].Verdict)
	assert.Equal(t, "Need 4 more ETH", out.Cards[1].Reason)

	resp = env.do(t, http.MethodGet, "/api/v1/games/7/legality?seat=dealer", nil)
	assert.Equal(t, apperrors.CodeInvalidParams, resp.Code)
}

func TestDragToBoardPlaysCard(t *testing.T) {
	env := setupTestEnv(t)
	env.do(t, http.MethodPost, "/api/v1/games/7/mount", nil)

	resp := env.do(t, http.MethodPost, "/api/v1/games/7/drag/start", gin.H{"card_id": "cheap"})
	require.Equal(t, apperrors.CodeSuccess, resp.Code)
	drag := decodeData[struct {
		DragID string `json:"drag_id"`
	}](t, resp)
	require.NotEmpty(t, drag.DragID)

	resp = env.do(t, http.MethodPost, "/api/v1/games/7/drag/end", gin.H{"drag_id": drag.DragID, "target": "player1-board"})
	require.Equal(t, apperrors.CodeSuccess, resp.Code, resp.Message)
	result := decodeData[struct {
		Outcome   string `json:"outcome"`
		HandIndex int    `json:"hand_index"`
	}](t, resp)
	assert.Equal(t, "submitted", result.Outcome)
	assert.Equal(t, 0, result.HandIndex)
	assert.Equal(t, []int{0}, env.ledger.played)

	// 同一次拖拽不能结束两次
	resp = env.do(t, http.MethodPost, "/api/v1/games/7/drag/end", gin.H{"drag_id": drag.DragID, "target": "player1-board"})
	assert.Equal(t, apperrors.CodeInvalidParams, resp.Code)
}

func TestDragRejectedWhenUnaffordable(t *testing.T) {
	env := setupTestEnv(t)
	env.do(t, http.MethodPost, "/api/v1/games/7/mount", nil)

	resp := env.do(t, http.MethodPost, "/api/v1/games/7/drag/start", gin.H{"card_id": "pricey", "source": "hand", "owner": "player1"})
	drag := decodeData[struct {
		DragID string `json:"drag_id"`
	}](t, resp)

	resp = env.do(t, http.MethodPost, "/api/v1/games/7/drag/end", gin.H{"drag_id": drag.DragID, "target": "player1-board"})
	assert.Equal(t, apperrors.CodeInsufficientFunds, resp.Code)
	result := decodeData[struct {
		Outcome string `json:"outcome"`
		Reason  string `json:"reason"`
	}](t, resp)
	assert.Equal(t, "rejected", result.Outcome)
	assert.Equal(t, "Need 4 more ETH", result.Reason)
	assert.Empty(t, env.ledger.played)
}

func TestDragOutsideZonesIsIgnored(t *testing.T) {
	env := setupTestEnv(t)
	env.do(t, http.MethodPost, "/api/v1/games/7/mount", nil)

	resp := env.do(t, http.MethodPost, "/api/v1/games/7/drag/start", gin.H{"card_id": "cheap"})
	drag := decodeData[struct {
		DragID string `json:"drag_id"`
	}](t, resp)

	resp = env.do(t, http.MethodPost, "/api/v1/games/7/drag/end", gin.H{"drag_id": drag.DragID})
	require.Equal(t, apperrors.CodeSuccess, resp.Code)
	result := decodeData[struct {
		Outcome   string `json:"outcome"`
		HandIndex int    `json:"hand_index"`
	}](t, resp)
	assert.Equal(t, "ignored", result.Outcome)
	assert.Equal(t, -1, result.HandIndex)
	assert.Empty(t, env.ledger.played)
}

func TestStake(t *testing.T) {
	env := setupTestEnv(t)
	env.do(t, http.MethodPost, "/api/v1/games/7/mount", nil)

	resp := env.do(t, http.MethodPost, "/api/v1/games/7/stake", gin.H{"card_id": "farm", "amount": 1})
	require.Equal(t, apperrors.CodeSuccess, resp.Code, resp.Message)
	assert.Equal(t, []string{"farm"}, env.ledger.staked)

	resp = env.do(t, http.MethodPost, "/api/v1/games/7/stake", gin.H{"card_id": "farm", "amount": 50})
	assert.Equal(t, apperrors.CodeInsufficientFunds, resp.Code)

	resp = env.do(t, http.MethodPost, "/api/v1/games/7/stake", gin.H{"card_id": "cheap", "amount": 1})
	assert.Equal(t, apperrors.CodeIllegalAction, resp.Code)

	resp = env.do(t, http.MethodPost, "/api/v1/games/7/stake", gin.H{"card_id": "farm"})
	assert.Equal(t, apperrors.CodeInvalidParams, resp.Code)
}

func TestGameRoutesRequireMount(t *testing.T) {
	env := setupTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/v1/games/7/view", nil)
	assert.Equal(t, apperrors.CodeNotFound, resp.Code)

	resp = env.do(t, http.MethodGet, "/api/v1/games/abc/view", nil)
	assert.Equal(t, apperrors.CodeInvalidParams, resp.Code)

	resp = env.do(t, http.MethodPost, "/api/v1/games/7/retry", nil)
	assert.Equal(t, apperrors.CodeIllegalAction, resp.Code)
}

func TestRefreshAndUnmount(t *testing.T) {
	env := setupTestEnv(t)
	env.do(t, http.MethodPost, "/api/v1/games/7/mount", nil)

	resp := env.do(t, http.MethodPost, "/api/v1/games/7/refresh", nil)
	require.Equal(t, apperrors.CodeSuccess, resp.Code, resp.Message)

	resp = env.do(t, http.MethodDelete, "/api/v1/games/7/mount", nil)
	require.Equal(t, apperrors.CodeSuccess, resp.Code)

	resp = env.do(t, http.MethodPost, "/api/v1/games/7/refresh", nil)
	assert.Equal(t, apperrors.CodeIllegalAction, resp.Code)
}

func TestLobbyRoutes(t *testing.T) {
	env := setupTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/v1/games", nil)
	require.Equal(t, apperrors.CodeSuccess, resp.Code)
	list := decodeData[struct {
		List []model.OpenGame `json:"list"`
	}](t, resp)
	require.Len(t, list.List, 1)
	assert.Equal(t, uint64(waitingGame), list.List[0].ID)

	resp = env.do(t, http.MethodGet, "/api/v1/games?limit=0", nil)
	assert.Equal(t, apperrors.CodeSuccess, resp.Code)

	resp = env.do(t, http.MethodPost, "/api/v1/games", gin.H{"deck_id": 1})
	require.Equal(t, apperrors.CodeSuccess, resp.Code)
	created := decodeData[struct {
		GameID uint64 `json:"game_id"`
	}](t, resp)
	assert.Equal(t, uint64(12), created.GameID)

	resp = env.do(t, http.MethodPost, "/api/v1/games/8/join", gin.H{"deck_id": 2})
	assert.Equal(t, apperrors.CodeSuccess, resp.Code)

	resp = env.do(t, http.MethodPost, "/api/v1/games/8/start", nil)
	assert.Equal(t, apperrors.CodeSuccess, resp.Code)
}

func TestHealth(t *testing.T) {
	env := setupTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, apperrors.CodeSuccess, resp.Code)
	status := decodeData[health.Status](t, resp)
	assert.Equal(t, health.StateConnected, status.Ledger)
}
