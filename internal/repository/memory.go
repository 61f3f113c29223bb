package repository

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/attaboy/casino-ledger/internal/domain"
	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for development and tests.
// Units of work run one at a time against a private copy of the state that
// replaces the shared state only when fn succeeds.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
}

type memState struct {
	accounts  map[uuid.UUID]domain.Account
	txs       map[uuid.UUID]domain.Transaction
	txSeq     map[uuid.UUID]int64
	refs      map[string]uuid.UUID
	games     map[uuid.UUID]domain.Game
	sessions  map[uuid.UUID]domain.GameSession
	rounds    map[uuid.UUID][]domain.Round
	pendingAt map[uuid.UUID]time.Time
	nextSeq   int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memState{
		accounts:  make(map[uuid.UUID]domain.Account),
		txs:       make(map[uuid.UUID]domain.Transaction),
		txSeq:     make(map[uuid.UUID]int64),
		refs:      make(map[string]uuid.UUID),
		games:     make(map[uuid.UUID]domain.Game),
		sessions:  make(map[uuid.UUID]domain.GameSession),
		rounds:    make(map[uuid.UUID][]domain.Round),
		pendingAt: make(map[uuid.UUID]time.Time),
	}}
}

// Slices inside stored values are never mutated in place, so a shallow copy
// of each map is enough to isolate a unit of work.
func (st *memState) clone() *memState {
	return &memState{
		accounts:  maps.Clone(st.accounts),
		txs:       maps.Clone(st.txs),
		txSeq:     maps.Clone(st.txSeq),
		refs:      maps.Clone(st.refs),
		games:     maps.Clone(st.games),
		sessions:  maps.Clone(st.sessions),
		rounds:    maps.Clone(st.rounds),
		pendingAt: maps.Clone(st.pendingAt),
		nextSeq:   st.nextSeq,
	}
}

// InTx runs fn with exclusive access to a copy of the state.
func (s *MemoryStore) InTx(ctx context.Context, fn func(r Repos) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.state.clone()
	if err := fn(memRepos(&memBase{st: work})); err != nil {
		return err
	}
	s.state = work
	return nil
}

// Reader returns repositories that lock per call and write through directly.
// Must not be used from inside InTx.
func (s *MemoryStore) Reader() Repos {
	return memRepos(&memBase{store: s})
}

func memRepos(b *memBase) Repos {
	return Repos{
		Accounts:     &memAccounts{b},
		Transactions: &memTransactions{b},
		Games:        &memGames{b},
		Sessions:     &memSessions{b},
	}
}

type memBase struct {
	store *MemoryStore
	st    *memState
}

func (b *memBase) with(fn func(st *memState) error) error {
	if b.st != nil {
		return fn(b.st)
	}
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	return fn(b.store.state)
}

// --- accounts ---

type memAccounts struct{ *memBase }

func (m *memAccounts) FindByID(_ context.Context, id uuid.UUID) (*domain.Account, error) {
	var out *domain.Account
	err := m.with(func(st *memState) error {
		if a, ok := st.accounts[id]; ok {
			out = &a
		}
		return nil
	})
	return out, err
}

func (m *memAccounts) LockForUpdate(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return m.FindByID(ctx, id)
}

func (m *memAccounts) Create(_ context.Context, a *domain.Account) error {
	return m.with(func(st *memState) error {
		if _, ok := st.accounts[a.ID]; ok {
			return domain.ErrConflict("account already exists")
		}
		st.accounts[a.ID] = *a
		return nil
	})
}

func (m *memAccounts) UpdateBalance(_ context.Context, id uuid.UUID, delta int64) (*domain.Account, error) {
	var out *domain.Account
	err := m.with(func(st *memState) error {
		a, ok := st.accounts[id]
		if !ok {
			return domain.ErrNotFound("account", id.String())
		}
		if a.Balance+delta < 0 {
			return domain.ErrInsufficientBalance()
		}
		a.Balance += delta
		a.UpdatedAt = time.Now()
		st.accounts[id] = a
		out = &a
		return nil
	})
	return out, err
}

func (m *memAccounts) UpdateStatus(_ context.Context, id uuid.UUID, status domain.AccountStatus) error {
	return m.with(func(st *memState) error {
		a, ok := st.accounts[id]
		if !ok {
			return domain.ErrNotFound("account", id.String())
		}
		a.Status = status
		a.UpdatedAt = time.Now()
		st.accounts[id] = a
		return nil
	})
}

func (m *memAccounts) ListIDs(_ context.Context, afterID uuid.UUID, limit int) ([]uuid.UUID, error) {
	var out []uuid.UUID
	err := m.with(func(st *memState) error {
		ids := slices.Collect(maps.Keys(st.accounts))
		sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
		after := afterID.String()
		for _, id := range ids {
			if id.String() > after {
				out = append(out, id)
				if len(out) == limit {
					break
				}
			}
		}
		return nil
	})
	return out, err
}

// --- transactions ---

type memTransactions struct{ *memBase }

func (m *memTransactions) FindByID(_ context.Context, id uuid.UUID) (*domain.Transaction, error) {
	var out *domain.Transaction
	err := m.with(func(st *memState) error {
		if tx, ok := st.txs[id]; ok {
			out = &tx
		}
		return nil
	})
	return out, err
}

func (m *memTransactions) LockForUpdate(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return m.FindByID(ctx, id)
}

func (m *memTransactions) FindByReference(_ context.Context, reference string) (*domain.Transaction, error) {
	var out *domain.Transaction
	err := m.with(func(st *memState) error {
		if id, ok := st.refs[reference]; ok {
			tx := st.txs[id]
			out = &tx
		}
		return nil
	})
	return out, err
}

func (m *memTransactions) Insert(_ context.Context, tx *domain.Transaction) error {
	return m.with(func(st *memState) error {
		if _, ok := st.refs[tx.Reference]; ok {
			return domain.ErrDuplicateReference(tx.Reference)
		}
		if tx.OriginalTransactionID != nil {
			for _, other := range st.txs {
				if other.OriginalTransactionID != nil && *other.OriginalTransactionID == *tx.OriginalTransactionID {
					return domain.ErrInvalidState("transaction already has a reversal")
				}
			}
		}
		row := *tx
		row.Notes = slices.Clone(notesOrEmpty(tx.Notes))
		st.txs[tx.ID] = row
		st.refs[tx.Reference] = tx.ID
		st.nextSeq++
		st.txSeq[tx.ID] = st.nextSeq
		return nil
	})
}

func (m *memTransactions) transition(id uuid.UUID, from domain.TransactionStatus, apply func(tx *domain.Transaction)) error {
	return m.with(func(st *memState) error {
		tx, ok := st.txs[id]
		if !ok || tx.Status != from {
			return ErrStaleState
		}
		apply(&tx)
		st.txs[id] = tx
		return nil
	})
}

func (m *memTransactions) MarkCompleted(_ context.Context, id uuid.UUID, before, after int64, processedBy *uuid.UUID, at time.Time) error {
	return m.transition(id, domain.TxPending, func(tx *domain.Transaction) {
		tx.Status = domain.TxCompleted
		tx.BalanceBefore = before
		tx.BalanceAfter = after
		if processedBy != nil {
			tx.ProcessedBy = processedBy
		}
		tx.ProcessedAt = &at
		tx.UpdatedAt = at
	})
}

func (m *memTransactions) MarkClosed(_ context.Context, id uuid.UUID, status domain.TransactionStatus, processedBy *uuid.UUID, at time.Time) error {
	return m.transition(id, domain.TxPending, func(tx *domain.Transaction) {
		tx.Status = status
		if processedBy != nil {
			tx.ProcessedBy = processedBy
		}
		tx.ProcessedAt = &at
		tx.UpdatedAt = at
	})
}

func (m *memTransactions) MarkReversed(_ context.Context, id, reversedBy uuid.UUID, at time.Time) error {
	return m.transition(id, domain.TxCompleted, func(tx *domain.Transaction) {
		tx.Status = domain.TxReversed
		tx.ReversedByTransactionID = &reversedBy
		tx.UpdatedAt = at
	})
}

func (m *memTransactions) AppendNote(_ context.Context, id uuid.UUID, note domain.Note) error {
	return m.with(func(st *memState) error {
		tx, ok := st.txs[id]
		if !ok {
			return domain.ErrNotFound("transaction", id.String())
		}
		tx.Notes = append(slices.Clone(tx.Notes), note)
		tx.UpdatedAt = time.Now()
		st.txs[id] = tx
		return nil
	})
}

func (m *memTransactions) ListByAccount(_ context.Context, accountID uuid.UUID, cursor *uuid.UUID, limit int) ([]domain.Transaction, error) {
	if limit <= 0 || limit > 101 {
		limit = 20
	}
	var out []domain.Transaction
	err := m.with(func(st *memState) error {
		maxSeq := st.nextSeq
		if cursor != nil {
			seq, ok := st.txSeq[*cursor]
			if !ok {
				return nil
			}
			maxSeq = seq
		}
		rows := st.sortedBySeq(func(tx domain.Transaction) bool {
			return tx.AccountID == accountID && st.txSeq[tx.ID] <= maxSeq
		})
		slices.Reverse(rows)
		if len(rows) > limit {
			rows = rows[:limit]
		}
		out = rows
		return nil
	})
	return out, err
}

func (m *memTransactions) ListByRound(_ context.Context, roundID string) ([]domain.Transaction, error) {
	var out []domain.Transaction
	err := m.with(func(st *memState) error {
		out = st.sortedBySeq(func(tx domain.Transaction) bool {
			return tx.RoundID != nil && *tx.RoundID == roundID
		})
		return nil
	})
	return out, err
}

func (m *memTransactions) SumEffective(_ context.Context, accountID uuid.UUID) (int64, error) {
	var sum int64
	err := m.with(func(st *memState) error {
		for _, tx := range st.txs {
			if tx.AccountID == accountID && tx.Status.Effective() {
				sum += tx.Amount
			}
		}
		return nil
	})
	return sum, err
}

func (st *memState) sortedBySeq(keep func(tx domain.Transaction) bool) []domain.Transaction {
	var rows []domain.Transaction
	for _, tx := range st.txs {
		if keep(tx) {
			rows = append(rows, tx)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return st.txSeq[rows[i].ID] < st.txSeq[rows[j].ID] })
	return rows
}

// --- games ---

type memGames struct{ *memBase }

func (m *memGames) FindByID(_ context.Context, id uuid.UUID) (*domain.Game, error) {
	var out *domain.Game
	err := m.with(func(st *memState) error {
		if g, ok := st.games[id]; ok {
			out = &g
		}
		return nil
	})
	return out, err
}

func (m *memGames) LockForUpdate(ctx context.Context, id uuid.UUID) (*domain.Game, error) {
	return m.FindByID(ctx, id)
}

func (m *memGames) Create(_ context.Context, g *domain.Game) error {
	return m.with(func(st *memState) error {
		for _, other := range st.games {
			if other.Name == g.Name {
				return domain.ErrConflict("game name already exists")
			}
		}
		st.games[g.ID] = *g
		return nil
	})
}

func (m *memGames) UpdateStatus(_ context.Context, id uuid.UUID, status domain.GameStatus) error {
	return m.with(func(st *memState) error {
		g, ok := st.games[id]
		if !ok {
			return domain.ErrNotFound("game", id.String())
		}
		g.Status = status
		g.UpdatedAt = time.Now()
		st.games[id] = g
		return nil
	})
}

func (m *memGames) RecordPlay(_ context.Context, id uuid.UUID, wagered, won int64) error {
	return m.with(func(st *memState) error {
		g, ok := st.games[id]
		if !ok {
			return domain.ErrNotFound("game", id.String())
		}
		g.Stats.TotalPlays++
		g.Stats.TotalWagered += wagered
		g.Stats.TotalWon += won
		st.games[id] = g
		return nil
	})
}

// --- sessions ---

type memSessions struct{ *memBase }

func (m *memSessions) FindByID(_ context.Context, id uuid.UUID) (*domain.GameSession, error) {
	var out *domain.GameSession
	err := m.with(func(st *memState) error {
		if s, ok := st.sessions[id]; ok {
			out = detachSession(s)
			out.Rounds = append([]domain.Round{}, st.rounds[id]...)
		}
		return nil
	})
	return out, err
}

func (m *memSessions) LockForUpdate(_ context.Context, id uuid.UUID) (*domain.GameSession, error) {
	var out *domain.GameSession
	err := m.with(func(st *memState) error {
		if s, ok := st.sessions[id]; ok {
			out = detachSession(s)
		}
		return nil
	})
	return out, err
}

func (m *memSessions) FindActive(_ context.Context, accountID, gameID uuid.UUID) (*domain.GameSession, error) {
	var out *domain.GameSession
	err := m.with(func(st *memState) error {
		if s, ok := st.activeFor(accountID, gameID, uuid.Nil); ok {
			out = detachSession(s)
		}
		return nil
	})
	return out, err
}

func (st *memState) activeFor(accountID, gameID, except uuid.UUID) (domain.GameSession, bool) {
	for _, s := range st.sessions {
		if s.ID != except && s.AccountID == accountID && s.GameID == gameID && s.Status == domain.SessionActive {
			return s, true
		}
	}
	return domain.GameSession{}, false
}

func (m *memSessions) Insert(_ context.Context, s *domain.GameSession) error {
	return m.with(func(st *memState) error {
		if s.Status == domain.SessionActive {
			if _, ok := st.activeFor(s.AccountID, s.GameID, s.ID); ok {
				return ErrActiveSessionExists
			}
		}
		row := *s
		row.Rounds = nil
		row.Pending = clonePending(s.Pending)
		st.sessions[s.ID] = row
		return nil
	})
}

func (m *memSessions) AppendRound(_ context.Context, sessionID uuid.UUID, round domain.Round, at time.Time) error {
	return m.with(func(st *memState) error {
		s, ok := st.sessions[sessionID]
		if !ok || s.RoundCount != round.RoundNumber-1 {
			return ErrStaleState
		}
		s.RoundCount++
		s.TotalWagered += round.Bet.Amount
		s.TotalWon += round.Result.WinAmount
		s.LastActivityAt = at
		st.sessions[sessionID] = s
		st.rounds[sessionID] = append(slices.Clone(st.rounds[sessionID]), round)
		return nil
	})
}

func (m *memSessions) SavePending(_ context.Context, sessionID uuid.UUID, pending *domain.PendingRound, at time.Time) error {
	return m.with(func(st *memState) error {
		s, ok := st.sessions[sessionID]
		if !ok {
			return domain.ErrNotFound("session", sessionID.String())
		}
		if pending != nil {
			s.Pending = clonePending(pending)
			st.pendingAt[sessionID] = at
		} else {
			s.Pending = nil
			delete(st.pendingAt, sessionID)
		}
		s.LastActivityAt = at
		st.sessions[sessionID] = s
		return nil
	})
}

func (m *memSessions) UpdateLifecycle(_ context.Context, s *domain.GameSession) error {
	return m.with(func(st *memState) error {
		cur, ok := st.sessions[s.ID]
		if !ok {
			return domain.ErrNotFound("session", s.ID.String())
		}
		if s.Status == domain.SessionActive {
			if _, taken := st.activeFor(cur.AccountID, cur.GameID, cur.ID); taken {
				return ErrActiveSessionExists
			}
		}
		cur.Status = s.Status
		cur.EndedAt = s.EndedAt
		cur.EndedBy = s.EndedBy
		cur.Duration = s.Duration
		cur.LastActivityAt = s.LastActivityAt
		st.sessions[s.ID] = cur
		return nil
	})
}

func (m *memSessions) LockActiveByGame(_ context.Context, gameID uuid.UUID) ([]domain.GameSession, error) {
	var out []domain.GameSession
	err := m.with(func(st *memState) error {
		for _, s := range st.sessions {
			if s.GameID == gameID && s.Status == domain.SessionActive {
				out = append(out, *detachSession(s))
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
		return nil
	})
	return out, err
}

func (m *memSessions) ListIdle(_ context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	var out []uuid.UUID
	err := m.with(func(st *memState) error {
		for _, s := range st.sessions {
			if s.Status == domain.SessionActive && s.LastActivityAt.Before(before) {
				out = append(out, s.ID)
			}
		}
		out = capIDs(out, limit)
		return nil
	})
	return out, err
}

func (m *memSessions) ListWithPending(_ context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	var out []uuid.UUID
	err := m.with(func(st *memState) error {
		for id, at := range st.pendingAt {
			if at.Before(before) {
				out = append(out, id)
			}
		}
		out = capIDs(out, limit)
		return nil
	})
	return out, err
}

func capIDs(ids []uuid.UUID, limit int) []uuid.UUID {
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	if limit > 0 && len(ids) > limit {
		return ids[:limit]
	}
	return ids
}

// detachSession returns a copy of a stored row that shares no memory with it,
// so callers may mutate the pending round before saving it back.
func detachSession(s domain.GameSession) *domain.GameSession {
	s.Pending = clonePending(s.Pending)
	return &s
}

func clonePending(p *domain.PendingRound) *domain.PendingRound {
	if p == nil {
		return nil
	}
	out := *p
	out.Debits = slices.Clone(p.Debits)
	out.State = slices.Clone(p.State)
	out.View = slices.Clone(p.View)
	if p.Result != nil {
		res := *p.Result
		res.Detail = slices.Clone(p.Result.Detail)
		out.Result = &res
	}
	if p.Bet.Multiplier != nil {
		m := *p.Bet.Multiplier
		out.Bet.Multiplier = &m
	}
	return &out
}
