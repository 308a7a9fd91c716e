package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "sudooom.cardgame.client/internal/errors"
	"sudooom.cardgame.client/internal/ledger"
	"sudooom.cardgame.client/internal/model"
	"sudooom.cardgame.client/internal/store"
)

const (
	alice = "0xA11CE00000000000000000000000000000000001"
	bob   = "0xB0B0000000000000000000000000000000000002"
)

type fetchFunc func(ctx context.Context, gameID uint64) (ledger.Record, error)

type fakeReader struct {
	mu      sync.Mutex
	summary fetchFunc
	raw     fetchFunc
	full    func(ctx context.Context, gameID uint64) (*model.FullState, error)
	calls   map[string]int
}

func newFakeReader() *fakeReader {
	return &fakeReader{calls: make(map[string]int)}
}

func (f *fakeReader) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeReader) hit(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
}

func (f *fakeReader) FetchSummary(ctx context.Context, gameID uint64) (ledger.Record, error) {
	f.hit("summary")
	return f.summary(ctx, gameID)
}

func (f *fakeReader) FetchRaw(ctx context.Context, gameID uint64) (ledger.Record, error) {
	f.hit("raw")
	return f.raw(ctx, gameID)
}

func (f *fakeReader) FetchFull(ctx context.Context, gameID uint64) (*model.FullState, error) {
	f.hit("full")
	if f.full == nil {
		return fullState(gameID, 1), nil
	}
	return f.full(ctx, gameID)
}

type fakeProbe struct {
	err   error
	delay time.Duration
}

func (p fakeProbe) ListGames(context.Context, int) ([]model.OpenGame, error) { return nil, nil }

func (p fakeProbe) NextGameID(context.Context) (uint64, error) {
	time.Sleep(p.delay)
	return 10, p.err
}

type nopSubmitter struct{}

func (nopSubmitter) SubmitPlayCard(context.Context, uint64, int) error           { return nil }
func (nopSubmitter) SubmitStake(context.Context, uint64, string, uint64) error   { return nil }
func (nopSubmitter) SubmitDeposit(context.Context, uint64, string, uint64) error { return nil }

func summaryRecord(gameID uint64, status model.Status) ledger.Record {
	return ledger.Record{gameID, uint8(status), alice, bob, alice, alice, uint64(1)}
}

func rawRecord(gameID uint64, started bool) ledger.Record {
	return ledger.Record{gameID, alice, bob, uint64(1), uint64(2), started, false, alice, uint64(1)}
}

func returns(rec ledger.Record) fetchFunc {
	return func(context.Context, uint64) (ledger.Record, error) { return rec, nil }
}

func fullState(gameID uint64, turn uint64) *model.FullState {
	f := &model.FullState{GameID: gameID, ActivePlayer: alice, Turn: turn}
	f.Players[0] = model.PlayerView{ETH: 3, Hand: []model.CardInstance{{ID: "c1", Definition: model.CardDefinition{Cost: 1}}}}
	f.Players[1] = model.PlayerView{ETH: 3}
	return f
}

type routeLog struct {
	mu     sync.Mutex
	routes []Route
}

func (r *routeLog) record(_ uint64, route Route) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, route)
}

func (r *routeLog) list() []Route {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Route(nil), r.routes...)
}

func newController(t *testing.T, reader *fakeReader, cfg Config, opts ...Option) (*Controller, *store.Store, *routeLog) {
	t.Helper()
	st := store.New(nopSubmitter{}, store.WithLocalAccount(alice))
	routes := &routeLog{}
	opts = append(opts, WithRouteFunc(routes.record))
	return NewController(reader, st, nil, cfg, opts...), st, routes
}

var fast = Config{LoadTimeout: 200 * time.Millisecond, StartGrace: 20 * time.Millisecond}

func TestDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, 5000*time.Millisecond, cfg.LoadTimeout)
	assert.Equal(t, 2000*time.Millisecond, cfg.StartGrace)
}

func TestMountStartedGoesActive(t *testing.T) {
	r := newFakeReader()
	r.summary = returns(summaryRecord(5, model.StatusStarted))
	c, st, routes := newController(t, r, fast)

	out := c.Mount(context.Background(), 5, false)

	assert.Equal(t, RouteActive, out.Route)
	assert.NoError(t, out.Warning)
	assert.Equal(t, PhaseActive, c.State().Phase)
	assert.Nil(t, c.State().LastError)
	assert.Equal(t, []Route{RouteActive}, routes.list())

	v := st.View()
	assert.True(t, v.Activated)
	assert.Equal(t, model.StatusStarted, v.Session.Status)
	assert.Len(t, v.Players[0].Hand, 1)
	assert.Equal(t, 1, r.count("full"))
}

func TestMountWaitingWithoutFlagRoutesLobby(t *testing.T) {
	r := newFakeReader()
	r.summary = returns(summaryRecord(5, model.StatusWaitingForPlayers))
	c, st, routes := newController(t, r, fast)

	out := c.Mount(context.Background(), 5, false)

	assert.Equal(t, RouteLobby, out.Route)
	assert.Equal(t, PhaseIdle, c.State().Phase)
	assert.Equal(t, []Route{RouteLobby}, routes.list())
	assert.Equal(t, 0, r.count("raw"))
	assert.Equal(t, 0, r.count("full"))
	assert.False(t, st.View().Activated)
}

func TestMountJustStartedRetriesRawOnce(t *testing.T) {
	r := newFakeReader()
	r.summary = returns(summaryRecord(5, model.StatusWaitingForPlayers))
	r.raw = returns(rawRecord(5, true))
	c, st, routes := newController(t, r, fast)

	begin := time.Now()
	out := c.Mount(context.Background(), 5, true)

	assert.GreaterOrEqual(t, time.Since(begin), fast.StartGrace)
	assert.Equal(t, RouteActive, out.Route)
	assert.Equal(t, PhaseActive, c.State().Phase)
	assert.Equal(t, []Route{RouteActive}, routes.list())
	assert.Equal(t, 1, r.count("raw"))
	assert.Equal(t, model.StatusStarted, st.View().Session.Status)
}

func TestMountJustStartedStillWaitingRoutesLobby(t *testing.T) {
	r := newFakeReader()
	r.summary = returns(summaryRecord(5, model.StatusReadyToStart))
	r.raw = returns(rawRecord(5, false))
	c, _, _ := newController(t, r, fast)

	out := c.Mount(context.Background(), 5, true)

	assert.Equal(t, RouteLobby, out.Route)
	assert.Equal(t, 1, r.count("raw"))
	assert.Equal(t, 0, r.count("full"))
}

func TestMountTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	r := newFakeReader()
	r.summary = func(context.Context, uint64) (ledger.Record, error) {
		<-release // 忽略 ctx，永不返回
		return nil, nil
	}
	c, _, routes := newController(t, r, Config{LoadTimeout: 30 * time.Millisecond})

	out := c.Mount(context.Background(), 5, false)

	st := c.State()
	assert.Equal(t, PhaseError, st.Phase)
	require.NotNil(t, st.LastError)
	assert.Equal(t, apperrors.CodeTimeout, st.LastError.Code)
	assert.Equal(t, RouteError, out.Route)
	assert.Equal(t, []Route{RouteError}, routes.list())
}

func TestMountNotFound(t *testing.T) {
	tests := []struct {
		name    string
		summary fetchFunc
	}{
		{"ledger error", func(context.Context, uint64) (ledger.Record, error) { return nil, ledger.ErrGameNotFound }},
		{"empty mapping slot", returns(ledger.Record{0, uint8(0), "", "", "", "", 0})},
		{"nil record", returns(nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newFakeReader()
			r.summary = tt.summary
			c, _, _ := newController(t, r, fast)

			out := c.Mount(context.Background(), 5, false)

			require.NotNil(t, out.Err)
			assert.Equal(t, apperrors.CodeNotFound, out.Err.Code)
			assert.Equal(t, "Game #5 not found.", out.Err.Message)
			assert.Equal(t, PhaseError, c.State().Phase)
		})
	}
}

func TestMountDecodeError(t *testing.T) {
	r := newFakeReader()
	r.summary = returns(ledger.Record{5, uint8(2), alice})
	c, _, _ := newController(t, r, fast)

	out := c.Mount(context.Background(), 5, false)

	require.NotNil(t, out.Err)
	assert.Equal(t, apperrors.CodeDecodeError, out.Err.Code)
	assert.Equal(t, PhaseError, c.State().Phase)
}

func TestMountProbeFailure(t *testing.T) {
	r := newFakeReader()
	r.summary = returns(summaryRecord(5, model.StatusStarted))
	c, _, _ := newController(t, r, fast, WithProbe(fakeProbe{err: errors.New("dial tcp 127.0.0.1:8545: connect: connection refused")}))

	out := c.Mount(context.Background(), 5, false)

	require.NotNil(t, out.Err)
	assert.Equal(t, apperrors.CodeNetworkUnreachable, out.Err.Code)
	assert.Equal(t, 0, r.count("summary"))
}

func TestInitialLoadSharesOneTimeout(t *testing.T) {
	r := newFakeReader()
	r.summary = func(context.Context, uint64) (ledger.Record, error) {
		time.Sleep(60 * time.Millisecond) // 单独计时不会超时
		return summaryRecord(5, model.StatusStarted), nil
	}
	c, _, _ := newController(t, r, Config{LoadTimeout: 100 * time.Millisecond},
		WithProbe(fakeProbe{delay: 60 * time.Millisecond}))

	begin := time.Now()
	out := c.Mount(context.Background(), 5, false)

	require.NotNil(t, out.Err)
	assert.Equal(t, apperrors.CodeTimeout, out.Err.Code)
	assert.Less(t, time.Since(begin), 250*time.Millisecond)
	assert.Equal(t, PhaseError, c.State().Phase)
}

func TestFullFetchFailureKeepsActive(t *testing.T) {
	r := newFakeReader()
	r.summary = returns(summaryRecord(5, model.StatusStarted))
	r.full = func(context.Context, uint64) (*model.FullState, error) {
		return nil, errors.New("execution reverted")
	}
	c, _, _ := newController(t, r, fast)

	out := c.Mount(context.Background(), 5, false)

	assert.Equal(t, RouteActive, out.Route)
	assert.Error(t, out.Warning)
	assert.Equal(t, PhaseActive, c.State().Phase)
	assert.Nil(t, c.State().LastError)
}

func TestNewMountDiscardsEarlierCompletion(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})

	r := newFakeReader()
	r.summary = func(_ context.Context, gameID uint64) (ledger.Record, error) {
		if gameID == 1 {
			close(entered)
			<-release
		}
		return summaryRecord(gameID, model.StatusStarted), nil
	}
	c, st, _ := newController(t, r, fast)

	first := make(chan Outcome, 1)
	go func() { first <- c.Mount(context.Background(), 1, false) }()
	<-entered

	second := c.Mount(context.Background(), 2, false)
	close(release)
	stale := <-first

	assert.Equal(t, RouteActive, second.Route)
	assert.True(t, stale.Stale)
	assert.Equal(t, uint64(2), c.State().ActiveGameID)
	assert.Equal(t, PhaseActive, c.State().Phase)

	id, _ := st.GameID()
	assert.Equal(t, uint64(2), id)
	assert.Equal(t, uint64(2), st.View().Session.ID)
}

func TestUnmountMakesInFlightLoadNoop(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})

	r := newFakeReader()
	r.summary = func(context.Context, uint64) (ledger.Record, error) {
		close(entered)
		<-release
		return summaryRecord(5, model.StatusStarted), nil
	}
	c, st, routes := newController(t, r, fast)

	done := make(chan Outcome, 1)
	go func() { done <- c.Mount(context.Background(), 5, false) }()
	<-entered

	c.Unmount()
	close(release)
	out := <-done

	assert.True(t, out.Stale)
	assert.Equal(t, PhaseIdle, c.State().Phase)
	assert.False(t, st.View().Activated)
	assert.Empty(t, routes.list())
}

func TestHandoffAfterUnmountIsDiscarded(t *testing.T) {
	r := newFakeReader()
	r.summary = returns(summaryRecord(5, model.StatusWaitingForPlayers))
	c, st, routes := newController(t, r, fast)

	out := c.Mount(context.Background(), 5, false)
	require.Equal(t, RouteLobby, out.Route)
	gen := c.Generation()

	c.Unmount()
	r.summary = returns(summaryRecord(5, model.StatusStarted))

	out = c.Handoff(context.Background(), 5, gen)
	assert.True(t, out.Stale)
	assert.Equal(t, PhaseIdle, c.State().Phase)
	assert.False(t, c.State().HasGame)
	assert.False(t, st.View().Activated)
	assert.Equal(t, []Route{RouteLobby}, routes.list())
	assert.Equal(t, 1, r.count("summary"))
}

func TestHandoffMountsWhenStillCurrent(t *testing.T) {
	r := newFakeReader()
	r.summary = returns(summaryRecord(5, model.StatusWaitingForPlayers))
	c, st, routes := newController(t, r, fast)

	c.Mount(context.Background(), 5, false)
	gen := c.Generation()

	r.summary = returns(summaryRecord(5, model.StatusStarted))
	out := c.Handoff(context.Background(), 5, gen)

	assert.Equal(t, RouteActive, out.Route)
	assert.Equal(t, PhaseActive, c.State().Phase)
	assert.True(t, st.View().Activated)
	assert.Equal(t, []Route{RouteLobby, RouteActive}, routes.list())

	// 同一代数只能交接一次
	assert.True(t, c.Handoff(context.Background(), 5, gen).Stale)
}

func TestRefreshMergesWithoutPhaseChange(t *testing.T) {
	r := newFakeReader()
	r.summary = returns(summaryRecord(5, model.StatusStarted))
	c, st, _ := newController(t, r, fast)

	assert.ErrorIs(t, c.Refresh(context.Background()), ErrNotActive)

	c.Mount(context.Background(), 5, false)
	require.Equal(t, PhaseActive, c.State().Phase)

	r.full = func(_ context.Context, gameID uint64) (*model.FullState, error) {
		f := fullState(gameID, 2)
		f.Players[0].Hand = nil
		f.Players[0].Board = []model.CardInstance{{ID: "c1"}}
		return f, nil
	}
	require.NoError(t, c.Refresh(context.Background()))

	v := st.View()
	assert.Equal(t, PhaseActive, c.State().Phase)
	assert.Empty(t, v.Players[0].Hand)
	assert.Len(t, v.Players[0].Board, 1)
	assert.Equal(t, uint64(2), v.Session.Turn)
}

func TestPlayCardTriggersRefresh(t *testing.T) {
	r := newFakeReader()
	r.summary = returns(summaryRecord(5, model.StatusStarted))
	c, st, _ := newController(t, r, fast)

	c.Mount(context.Background(), 5, false)
	before := r.count("full")

	require.NoError(t, st.PlayCard(context.Background(), "c1", 0))
	assert.Equal(t, before+1, r.count("full"))
	assert.Equal(t, PhaseActive, c.State().Phase)
}

func TestRetryAfterError(t *testing.T) {
	r := newFakeReader()
	r.summary = func(context.Context, uint64) (ledger.Record, error) {
		return nil, errors.New("network request failed")
	}
	c, _, _ := newController(t, r, fast)

	_, err := c.Retry(context.Background())
	assert.ErrorIs(t, err, store.ErrNoGame)

	out := c.Mount(context.Background(), 5, false)
	require.NotNil(t, out.Err)
	assert.Equal(t, apperrors.CodeNetworkUnreachable, out.Err.Code)

	r.summary = returns(summaryRecord(5, model.StatusStarted))
	out, err = c.Retry(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RouteActive, out.Route)
	assert.Nil(t, c.State().LastError)
}
