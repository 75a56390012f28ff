package testutil

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"researchEngine/internal/domain"
	"researchEngine/internal/ports"
)

// Store is an in-memory ports.Store. Rows are copied on the way in and out
// so callers never share memory with the store. Errs injects an error for a
// method name, returned on every call until removed. Fail queues errors for
// the next calls of a method only.
type Store struct {
	mu       sync.Mutex
	Trades   map[string]*domain.Trade
	Margins  map[string]*domain.MarginPosition
	Signals  map[string]*domain.Signal
	Settings map[string]*domain.ResearchSettings
	Creds    map[string]*ports.Credentials
	Outcomes []ports.AutoTradeOutcome
	Stats    map[string]*ports.AutoTradeStats
	Errs     map[string]error
	Calls    map[string]int
	queued   map[string][]error
	seq      int
}

var _ ports.Store = (*Store)(nil)

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		Trades:   make(map[string]*domain.Trade),
		Margins:  make(map[string]*domain.MarginPosition),
		Signals:  make(map[string]*domain.Signal),
		Settings: make(map[string]*domain.ResearchSettings),
		Creds:    make(map[string]*ports.Credentials),
		Stats:    make(map[string]*ports.AutoTradeStats),
		Errs:     make(map[string]error),
		Calls:    make(map[string]int),
		queued:   make(map[string][]error),
	}
}

// Fail makes the next len(errs) calls of method return errs in order. A nil
// entry lets that call through.
func (s *Store) Fail(method string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued[method] = append(s.queued[method], errs...)
}

func (s *Store) enter(method string) error {
	s.Calls[method]++
	if q := s.queued[method]; len(q) > 0 {
		s.queued[method] = q[1:]
		return q[0]
	}
	return s.Errs[method]
}

func (s *Store) nextID(prefix string) string {
	s.seq++
	return prefix + "-" + strconv.Itoa(s.seq)
}

func copyTrade(t *domain.Trade) *domain.Trade {
	c := *t
	return &c
}

// AddTrade stores t as is, for test setup.
func (s *Store) AddTrade(t *domain.Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Trades[t.ID] = copyTrade(t)
}

// Trade returns a copy of the stored trade, or nil.
func (s *Store) Trade(id string) *domain.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.Trades[id]
	if !ok {
		return nil
	}
	return copyTrade(t)
}

// Mirrors returns the closing rows written for a trade.
func (s *Store) Mirrors(parentID string) []*domain.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Trade
	for _, t := range s.Trades {
		if t.ParentTradeID == parentID {
			out = append(out, copyTrade(t))
		}
	}
	return out
}

func (s *Store) CreateTrade(ctx context.Context, trade *domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("CreateTrade"); err != nil {
		return err
	}
	if trade.ID == "" {
		trade.ID = s.nextID("trade")
	}
	if _, ok := s.Trades[trade.ID]; ok {
		return ports.ErrDuplicateEntry
	}
	s.Trades[trade.ID] = copyTrade(trade)
	return nil
}

func (s *Store) UpdateTrade(ctx context.Context, trade *domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("UpdateTrade"); err != nil {
		return err
	}
	cur, ok := s.Trades[trade.ID]
	if !ok || cur.Version != trade.Version || cur.ClosedAt != nil {
		return ports.ErrConflict
	}
	trade.Version++
	s.Trades[trade.ID] = copyTrade(trade)
	return nil
}

func (s *Store) CloseTrade(ctx context.Context, upd ports.TradeCloseUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("CloseTrade"); err != nil {
		return err
	}
	cur, ok := s.Trades[upd.TradeID]
	if !ok {
		return ports.ErrNotFound
	}
	if cur.ClosedAt != nil {
		return ports.ErrAlreadyClosed
	}
	at := upd.ClosedAt
	cur.ClosedAt = &at
	cur.ClosePrice = domain.Float(upd.ClosePrice)
	cur.CloseReason = upd.CloseReason
	cur.RealizedPnL = upd.RealizedPnL
	cur.LowConfidenceFill = upd.LowConfidenceFill
	cur.NotificationSent = upd.NotificationSent
	cur.Status = domain.TradeStatusClosed
	cur.ClearExit()
	cur.Version++
	return nil
}

func (s *Store) GetTrade(ctx context.Context, id string) (*domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetTrade"); err != nil {
		return nil, err
	}
	t, ok := s.Trades[id]
	if !ok {
		return nil, nil
	}
	return copyTrade(t), nil
}

func (s *Store) list(keep func(*domain.Trade) bool) []*domain.Trade {
	var out []*domain.Trade
	for _, t := range s.Trades {
		if keep(t) {
			out = append(out, copyTrade(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) ListOpenTrades(ctx context.Context) ([]*domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ListOpenTrades"); err != nil {
		return nil, err
	}
	return s.list(func(t *domain.Trade) bool {
		return t.IsOpen() && t.ParentTradeID == "" && t.HasExitRules()
	}), nil
}

func (s *Store) ListPendingOrders(ctx context.Context) ([]*domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ListPendingOrders"); err != nil {
		return nil, err
	}
	return s.list(func(t *domain.Trade) bool {
		return t.Status == domain.TradeStatusPending && t.ExchangeOrderID != ""
	}), nil
}

func (s *Store) CountOpenTrades(ctx context.Context, userID string, paper bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("CountOpenTrades"); err != nil {
		return 0, err
	}
	return len(s.list(func(t *domain.Trade) bool {
		active := t.IsOpen() || (t.Status == domain.TradeStatusPending && t.ClosedAt == nil)
		return t.UserID == userID && t.PaperTrade == paper && active && t.ParentTradeID == ""
	})), nil
}

func (s *Store) ListUnnotified(ctx context.Context, limit int) ([]*domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ListUnnotified"); err != nil {
		return nil, err
	}
	out := s.list(func(t *domain.Trade) bool {
		return !t.NotificationSent && t.ParentTradeID == "" && t.Status != domain.TradeStatusPending
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkNotified(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("MarkNotified"); err != nil {
		return err
	}
	t, ok := s.Trades[id]
	if !ok {
		return ports.ErrNotFound
	}
	t.NotificationSent = true
	return nil
}

func (s *Store) ListClosedTrades(ctx context.Context, userID string, since time.Time) ([]*domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ListClosedTrades"); err != nil {
		return nil, err
	}
	return s.list(func(t *domain.Trade) bool {
		return t.UserID == userID && t.ClosedAt != nil && t.ParentTradeID == "" && !t.ClosedAt.Before(since)
	}), nil
}

func (s *Store) CreateMarginPosition(ctx context.Context, pos *domain.MarginPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("CreateMarginPosition"); err != nil {
		return err
	}
	if pos.ID == "" {
		pos.ID = s.nextID("margin")
	}
	c := *pos
	s.Margins[pos.ID] = &c
	return nil
}

func (s *Store) GetOpenByTrade(ctx context.Context, tradeID string) (*domain.MarginPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetOpenByTrade"); err != nil {
		return nil, err
	}
	for _, p := range s.Margins {
		if p.TradeID == tradeID && p.IsOpen() {
			c := *p
			return &c, nil
		}
	}
	return nil, nil
}

func (s *Store) ListOpenMarginPositions(ctx context.Context) ([]*domain.MarginPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ListOpenMarginPositions"); err != nil {
		return nil, err
	}
	var out []*domain.MarginPosition
	for _, p := range s.Margins {
		if p.IsOpen() {
			c := *p
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpdateMarginRisk(ctx context.Context, id string, unrealizedPnL, liquidationPrice float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("UpdateMarginRisk"); err != nil {
		return err
	}
	p, ok := s.Margins[id]
	if !ok {
		return ports.ErrNotFound
	}
	p.UnrealizedPnL = unrealizedPnL
	p.LiquidationPrice = liquidationPrice
	return nil
}

func (s *Store) CloseMarginPosition(ctx context.Context, id string, closePrice, realizedPnL float64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("CloseMarginPosition"); err != nil {
		return err
	}
	p, ok := s.Margins[id]
	if !ok {
		return ports.ErrNotFound
	}
	if !p.IsOpen() {
		return ports.ErrAlreadyClosed
	}
	p.Status = domain.MarginStatusClosed
	p.ClosedAt = &at
	p.ClosePrice = &closePrice
	p.RealizedPnL = realizedPnL
	return nil
}

func (s *Store) CreateSignal(ctx context.Context, sig *domain.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("CreateSignal"); err != nil {
		return err
	}
	if sig.ID == "" {
		sig.ID = s.nextID("signal")
	}
	c := *sig
	s.Signals[sig.ID] = &c
	return nil
}

func (s *Store) GetSignal(ctx context.Context, id string) (*domain.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetSignal"); err != nil {
		return nil, err
	}
	sig, ok := s.Signals[id]
	if !ok {
		return nil, nil
	}
	c := *sig
	return &c, nil
}

func (s *Store) ListSignals(ctx context.Context, userID string, status domain.SignalStatus, limit int) ([]*domain.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ListSignals"); err != nil {
		return nil, err
	}
	var out []*domain.Signal
	for _, sig := range s.Signals {
		if sig.UserID == userID && (status == "" || sig.Status == status) {
			c := *sig
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ClaimSignal(ctx context.Context, signalID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ClaimSignal"); err != nil {
		return err
	}
	sig, ok := s.Signals[signalID]
	if !ok {
		return ports.ErrNotFound
	}
	if sig.Status != domain.SignalPending {
		return ports.ErrSignalTerminal
	}
	sig.Status = domain.SignalExecuting
	return nil
}

func (s *Store) TransitionSignal(ctx context.Context, upd ports.SignalTransition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("TransitionSignal"); err != nil {
		return err
	}
	sig, ok := s.Signals[upd.SignalID]
	if !ok {
		return ports.ErrNotFound
	}
	from := upd.From
	if from == "" {
		from = domain.SignalPending
	}
	if sig.Status != from {
		return ports.ErrSignalTerminal
	}
	sig.Status = upd.Status
	sig.TradeID = upd.TradeID
	sig.ErrorMessage = upd.ErrorMessage
	sig.SkipReason = upd.SkipReason
	return nil
}

func (s *Store) ExpireSignals(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ExpireSignals"); err != nil {
		return 0, err
	}
	n := 0
	for _, sig := range s.Signals {
		if sig.Status == domain.SignalPending && !sig.ExpiresAt.After(now) {
			sig.Status = domain.SignalExpired
			n++
		}
	}
	return n, nil
}

func (s *Store) GetSettings(ctx context.Context, userID string) (*domain.ResearchSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetSettings"); err != nil {
		return nil, err
	}
	st, ok := s.Settings[userID]
	if !ok {
		return nil, nil
	}
	c := *st
	return &c, nil
}

func (s *Store) UpsertSettings(ctx context.Context, st *domain.ResearchSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("UpsertSettings"); err != nil {
		return err
	}
	c := *st
	s.Settings[st.UserID] = &c
	return nil
}

func (s *Store) ListEnabledSettings(ctx context.Context) ([]*domain.ResearchSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ListEnabledSettings"); err != nil {
		return nil, err
	}
	var out []*domain.ResearchSettings
	for _, st := range s.Settings {
		if st.Enabled {
			c := *st
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *Store) GetCredentials(ctx context.Context, userID string) (*ports.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetCredentials"); err != nil {
		return nil, err
	}
	c, ok := s.Creds[userID]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *Store) UpsertCredentials(ctx context.Context, c *ports.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("UpsertCredentials"); err != nil {
		return err
	}
	cp := *c
	s.Creds[c.UserID] = &cp
	return nil
}

func (s *Store) RecordOutcome(ctx context.Context, o ports.AutoTradeOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("RecordOutcome"); err != nil {
		return err
	}
	s.Outcomes = append(s.Outcomes, o)
	return nil
}

func (s *Store) GetAutoTradeStats(ctx context.Context, userID string) (*ports.AutoTradeStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetAutoTradeStats"); err != nil {
		return nil, err
	}
	st, ok := s.Stats[userID]
	if !ok {
		return nil, nil
	}
	c := *st
	return &c, nil
}

func (s *Store) UpsertAutoTradeStats(ctx context.Context, st *ports.AutoTradeStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("UpsertAutoTradeStats"); err != nil {
		return err
	}
	c := *st
	s.Stats[st.UserID] = &c
	return nil
}

func (s *Store) Close() error { return nil }
