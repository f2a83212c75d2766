package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lumalyte/guildvault/internal/services/vault/audit"
	"github.com/lumalyte/guildvault/internal/services/vault/domain"
	"github.com/lumalyte/guildvault/internal/services/vault/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Config tunes the manager's flush and idle policies.
type Config struct {
	// FlushMaxEntries forces a flush once this many slot changes are pending.
	FlushMaxEntries int
	// FlushMaxAge forces a flush once the oldest pending change is this old.
	FlushMaxAge time.Duration
	// IdleThreshold marks a viewer session idle after this much inactivity.
	IdleThreshold time.Duration
}

const (
	defaultFlushMaxEntries = 5
	defaultFlushMaxAge     = time.Second
	defaultIdleThreshold   = 5 * time.Minute
)

func (c Config) withDefaults() Config {
	if c.FlushMaxEntries <= 0 {
		c.FlushMaxEntries = defaultFlushMaxEntries
	}
	if c.FlushMaxAge <= 0 {
		c.FlushMaxAge = defaultFlushMaxAge
	}
	if c.IdleThreshold <= 0 {
		c.IdleThreshold = defaultIdleThreshold
	}
	return c
}

// loadEntry guards one guild's lazy load so racing first-accessors share a
// single load and observe the same resulting store.
type loadEntry struct {
	once  sync.Once
	store *domain.SlotStore
	err   error
}

// Manager owns all per-guild vault cache state: the authoritative slot
// stores, the pending write buffers, the single shared live view per guild,
// and the viewer sessions used for idle detection.
type Manager struct {
	persistence storage.Store
	auditLog    *audit.Log
	logger      *log.Logger
	cfg         Config
	tracer      trace.Tracer

	mu      sync.Mutex
	stores  map[uuid.UUID]*loadEntry
	buffers map[uuid.UUID]*domain.PendingWriteSet
	views   map[uuid.UUID]*LiveView
	viewers map[uuid.UUID]*domain.ViewerSession

	// newView is swapped in tests to observe view construction.
	newView func(guildID uuid.UUID, name string, capacity int) *LiveView
}

// NewManager creates a vault cache manager backed by the given persistence
// store. The audit log is optional; audit failures never fail the vault
// operation that produced them.
func NewManager(persistence storage.Store, auditLog *audit.Log, cfg Config, logger *log.Logger) (*Manager, error) {
	if persistence == nil {
		return nil, errors.New("persistence store is required")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		persistence: persistence,
		auditLog:    auditLog,
		logger:      logger,
		cfg:         cfg.withDefaults(),
		tracer:      otel.Tracer("guildvault/vault"),
		stores:      make(map[uuid.UUID]*loadEntry),
		buffers:     make(map[uuid.UUID]*domain.PendingWriteSet),
		views:       make(map[uuid.UUID]*LiveView),
		viewers:     make(map[uuid.UUID]*domain.ViewerSession),
		newView:     newLiveView,
	}, nil
}

// GetOrLoadVault returns the guild's slot store, loading it from persistence
// on first access. Concurrent first-accessors share one load; exactly one
// store ever exists per guild.
func (m *Manager) GetOrLoadVault(ctx context.Context, guildID uuid.UUID) (*domain.SlotStore, error) {
	if guildID == uuid.Nil {
		return nil, errors.New("guild id is required")
	}

	m.mu.Lock()
	entry, ok := m.stores[guildID]
	if !ok {
		entry = &loadEntry{}
		m.stores[guildID] = entry
	}
	m.mu.Unlock()

	entry.once.Do(func() {
		entry.store, entry.err = m.loadVault(ctx, guildID)
	})
	if entry.err != nil {
		// Drop the failed entry so a later access retries the load.
		m.mu.Lock()
		if m.stores[guildID] == entry {
			delete(m.stores, guildID)
		}
		m.mu.Unlock()
		return nil, entry.err
	}
	return entry.store, nil
}

func (m *Manager) loadVault(ctx context.Context, guildID uuid.UUID) (*domain.SlotStore, error) {
	ctx, span := m.tracer.Start(ctx, "vault.load",
		trace.WithAttributes(attribute.String("guild.id", guildID.String())))
	defer span.End()

	contents, err := m.persistence.LoadVaultContents(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("load vault contents: %w", err)
	}
	balance, err := m.persistence.LoadBalance(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("load vault balance: %w", err)
	}

	store := domain.NewSlotStore(guildID)
	for index, item := range contents {
		store.SetSlot(index, &item)
	}
	store.SetBalance(balance)
	return store, nil
}

// GetOrCreateLiveView returns the guild's single shared live view, creating
// and populating it from the slot store on first call. Racing callers all
// receive the identical instance; the view is constructed at most once.
func (m *Manager) GetOrCreateLiveView(ctx context.Context, guildID uuid.UUID, displayName string, capacity int) (*LiveView, error) {
	if capacity <= domain.ReservedSlot {
		return nil, fmt.Errorf("capacity must be greater than %d", domain.ReservedSlot)
	}

	store, err := m.GetOrLoadVault(ctx, guildID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if view, ok := m.views[guildID]; ok {
		return view, nil
	}

	view := m.newView(guildID, displayName, capacity)
	for index, item := range store.Slots() {
		if index == domain.ReservedSlot || index >= capacity {
			continue
		}
		if err := view.SetSlot(index, &item); err != nil {
			return nil, fmt.Errorf("populate live view: %w", err)
		}
	}
	view.RenderBalance(store.Balance())
	m.views[guildID] = view
	return view, nil
}

// LiveViewFor returns the guild's live view if one is materialized.
func (m *Manager) LiveViewFor(guildID uuid.UUID) (*LiveView, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	view, ok := m.views[guildID]
	return view, ok
}

// SyncLiveView reconciles the live view into the guild's slot store by
// diffing every non-reserved slot. Slots whose content is unchanged are
// never re-buffered; each differing slot produces exactly one buffered
// upsert or deletion. A persistence flush triggered by the sync never fails
// the sync itself.
func (m *Manager) SyncLiveView(ctx context.Context, guildID uuid.UUID, view *LiveView) error {
	if view == nil {
		return errors.New("live view is required")
	}
	if view.GuildID() != guildID {
		return fmt.Errorf("live view belongs to guild %s, not %s", view.GuildID(), guildID)
	}

	store, err := m.GetOrLoadVault(ctx, guildID)
	if err != nil {
		return err
	}
	buffer := m.bufferFor(guildID)

	for index := domain.ReservedSlot + 1; index < view.Capacity(); index++ {
		viewItem := view.Slot(index)
		cached := store.Slot(index)
		if domain.ItemsEqual(viewItem, cached) {
			continue
		}
		store.SetSlot(index, viewItem)
		buffer.BufferSlotChange(index, viewItem)
	}

	m.maybeFlush(ctx, guildID)
	return nil
}

// UpdateSlot writes one slot on behalf of an actor, buffers the change, and
// mirrors it into the live view when one is materialized. Returns the
// previous slot content. Writing the reserved slot is a caller bug and
// panics.
func (m *Manager) UpdateSlot(ctx context.Context, guildID, actorID uuid.UUID, index int, item *domain.Item) (*domain.Item, error) {
	if index == domain.ReservedSlot {
		panic("guildvault: reserved slot is orchestrator-managed")
	}
	if index < domain.ReservedSlot {
		return nil, fmt.Errorf("slot index %d out of range", index)
	}

	store, err := m.GetOrLoadVault(ctx, guildID)
	if err != nil {
		return nil, err
	}

	previous := store.SetSlot(index, item)
	m.bufferFor(guildID).BufferSlotChange(index, item)

	if view, ok := m.LiveViewFor(guildID); ok {
		if err := view.SetSlot(index, item); err != nil {
			m.logger.Printf("vault %s: mirror slot %d to live view: %v", guildID, index, err)
		}
	}

	m.auditItem(ctx, guildID, actorID, index, item, previous)
	m.maybeFlush(ctx, guildID)
	return previous, nil
}

// Slot returns the cached content at index for the guild.
func (m *Manager) Slot(ctx context.Context, guildID uuid.UUID, index int) (*domain.Item, error) {
	store, err := m.GetOrLoadVault(ctx, guildID)
	if err != nil {
		return nil, err
	}
	return store.Slot(index), nil
}

// Balance returns the guild's cached balance.
func (m *Manager) Balance(ctx context.Context, guildID uuid.UUID) (int64, error) {
	store, err := m.GetOrLoadVault(ctx, guildID)
	if err != nil {
		return 0, err
	}
	return store.Balance(), nil
}

// Deposit credits amount to the guild balance, buffers the new balance for
// persistence, and re-renders the balance affordance.
func (m *Manager) Deposit(ctx context.Context, guildID, actorID uuid.UUID, amount int64) (int64, error) {
	store, err := m.GetOrLoadVault(ctx, guildID)
	if err != nil {
		return 0, err
	}
	newBalance, err := store.AddBalance(amount)
	if err != nil {
		return newBalance, err
	}
	m.afterBalanceChange(ctx, guildID, newBalance)
	m.auditBalance(ctx, guildID, actorID, audit.KindDeposit, amount)
	return newBalance, nil
}

// Withdraw debits amount from the guild balance. Returns
// domain.ErrInsufficientFunds without mutating when the balance is short.
func (m *Manager) Withdraw(ctx context.Context, guildID, actorID uuid.UUID, amount int64) (int64, error) {
	store, err := m.GetOrLoadVault(ctx, guildID)
	if err != nil {
		return 0, err
	}
	newBalance, err := store.SubtractBalance(amount)
	if err != nil {
		return newBalance, err
	}
	m.afterBalanceChange(ctx, guildID, newBalance)
	m.auditBalance(ctx, guildID, actorID, audit.KindWithdraw, amount)
	return newBalance, nil
}

func (m *Manager) afterBalanceChange(ctx context.Context, guildID uuid.UUID, newBalance int64) {
	m.bufferFor(guildID).BufferBalanceChange(newBalance)
	if view, ok := m.LiveViewFor(guildID); ok {
		view.RenderBalance(newBalance)
	}
	m.maybeFlush(ctx, guildID)
}

// Flush drains the guild's pending write buffer to persistence. On full
// success the buffer is cleared and the dirty flag reset; on any failure
// the buffer is left intact, the store is marked dirty, and the error is
// returned for logging.
func (m *Manager) Flush(ctx context.Context, guildID uuid.UUID) error {
	m.mu.Lock()
	buffer, ok := m.buffers[guildID]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	pending := buffer.Snapshot()
	if pending.Empty() {
		return nil
	}

	ctx, span := m.tracer.Start(ctx, "vault.flush",
		trace.WithAttributes(
			attribute.String("guild.id", guildID.String()),
			attribute.Int("flush.upserts", len(pending.Upserts)),
			attribute.Int("flush.deletions", len(pending.Deletions)),
		))
	defer span.End()

	var errs []error
	for index, item := range pending.Upserts {
		if err := m.persistence.SaveSlot(ctx, guildID, index, &item); err != nil {
			errs = append(errs, fmt.Errorf("save slot %d: %w", index, err))
		}
	}
	for _, index := range pending.Deletions {
		if err := m.persistence.SaveSlot(ctx, guildID, index, nil); err != nil {
			errs = append(errs, fmt.Errorf("clear slot %d: %w", index, err))
		}
	}
	if pending.Balance != nil {
		if err := m.persistence.SaveBalance(ctx, guildID, *pending.Balance); err != nil {
			errs = append(errs, fmt.Errorf("save balance: %w", err))
		}
	}

	store := m.cachedStore(guildID)
	if len(errs) > 0 {
		if store != nil {
			store.MarkDirty()
		}
		return fmt.Errorf("flush vault %s: %w", guildID, errors.Join(errs...))
	}

	buffer.Clear()
	if store != nil {
		store.ClearDirty()
	}
	return nil
}

// FlushPending flushes every guild whose buffer exceeds the configured
// thresholds and returns how many guilds were flushed successfully.
func (m *Manager) FlushPending(ctx context.Context) int {
	flushed := 0
	for _, guildID := range m.bufferedGuilds() {
		buffer := m.bufferFor(guildID)
		if !buffer.ShouldFlush(m.cfg.FlushMaxEntries, m.cfg.FlushMaxAge) {
			continue
		}
		if err := m.Flush(ctx, guildID); err != nil {
			m.logger.Printf("vault %s: flush: %v", guildID, err)
			continue
		}
		flushed++
	}
	return flushed
}

// FlushAll force-flushes every buffered guild concurrently. Used on
// shutdown and before eviction sweeps.
func (m *Manager) FlushAll(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	for _, guildID := range m.bufferedGuilds() {
		group.Go(func() error {
			return m.Flush(ctx, guildID)
		})
	}
	return group.Wait()
}

// OpenViewer registers an actor as an active observer of the guild's view.
func (m *Manager) OpenViewer(actorID, guildID uuid.UUID) *domain.ViewerSession {
	session := domain.NewViewerSession(actorID, guildID)
	m.mu.Lock()
	m.viewers[actorID] = session
	m.mu.Unlock()
	return session
}

// CloseViewer removes the actor's session. When the last viewer of a guild
// leaves, pending writes are flushed immediately.
func (m *Manager) CloseViewer(ctx context.Context, actorID uuid.UUID) {
	m.mu.Lock()
	session, ok := m.viewers[actorID]
	if ok {
		delete(m.viewers, actorID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	if len(m.ViewersFor(session.GuildID())) == 0 {
		if err := m.Flush(ctx, session.GuildID()); err != nil {
			m.logger.Printf("vault %s: flush on last viewer close: %v", session.GuildID(), err)
		}
	}
}

// DisconnectActor cleans up the session of a disconnected actor.
func (m *Manager) DisconnectActor(ctx context.Context, actorID uuid.UUID) {
	m.CloseViewer(ctx, actorID)
}

// RecordInteraction stamps the actor's session with the current time.
func (m *Manager) RecordInteraction(actorID uuid.UUID) {
	m.mu.Lock()
	session, ok := m.viewers[actorID]
	m.mu.Unlock()
	if ok {
		session.RecordInteraction()
	}
}

// ViewersFor returns all active viewer sessions for the guild.
func (m *Manager) ViewersFor(guildID uuid.UUID) []*domain.ViewerSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sessions []*domain.ViewerSession
	for _, session := range m.viewers {
		if session.GuildID() == guildID {
			sessions = append(sessions, session)
		}
	}
	return sessions
}

// SweepIdle closes viewer sessions idle past the configured threshold and
// releases live views left with no viewers, flushing their buffers first.
// The slot store stays cached so the next open is fast. Returns the number
// of sessions closed.
func (m *Manager) SweepIdle(ctx context.Context) int {
	m.mu.Lock()
	var idle []*domain.ViewerSession
	for _, session := range m.viewers {
		if session.IsIdle(m.cfg.IdleThreshold) {
			idle = append(idle, session)
		}
	}
	for _, session := range idle {
		delete(m.viewers, session.ActorID())
	}
	m.mu.Unlock()

	m.mu.Lock()
	var materialized []uuid.UUID
	for guildID := range m.views {
		materialized = append(materialized, guildID)
	}
	m.mu.Unlock()

	for _, guildID := range materialized {
		if len(m.ViewersFor(guildID)) > 0 {
			continue
		}
		if err := m.Flush(ctx, guildID); err != nil {
			m.logger.Printf("vault %s: flush before view release: %v", guildID, err)
		}
		m.mu.Lock()
		delete(m.views, guildID)
		m.mu.Unlock()
	}
	return len(idle)
}

// EvictVault force-flushes and removes the guild's entire cache entry:
// slot store, write buffer, live view, and viewer sessions. A failed flush
// aborts the eviction so buffered state is never silently dropped.
func (m *Manager) EvictVault(ctx context.Context, guildID uuid.UUID) error {
	if err := m.Flush(ctx, guildID); err != nil {
		return err
	}
	m.evict(guildID)
	return nil
}

// DeleteGuild handles a guild-deletion event: the cache entry is evicted
// and all persisted vault state removed.
func (m *Manager) DeleteGuild(ctx context.Context, guildID uuid.UUID) error {
	if err := m.Flush(ctx, guildID); err != nil {
		m.logger.Printf("vault %s: flush before delete: %v", guildID, err)
	}
	m.evict(guildID)
	if err := m.persistence.DeleteVault(ctx, guildID); err != nil {
		return fmt.Errorf("delete persisted vault: %w", err)
	}
	return nil
}

func (m *Manager) evict(guildID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stores, guildID)
	delete(m.buffers, guildID)
	delete(m.views, guildID)
	for actorID, session := range m.viewers {
		if session.GuildID() == guildID {
			delete(m.viewers, actorID)
		}
	}
}

// Stats reports cache occupancy for monitoring.
type Stats struct {
	CachedVaults   int
	ActiveViewers  int
	PendingBuffers int
}

// Stats returns current cache occupancy counts.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	pending := 0
	for _, buffer := range m.buffers {
		if buffer.HasPendingChanges() {
			pending++
		}
	}
	return Stats{
		CachedVaults:   len(m.stores),
		ActiveViewers:  len(m.viewers),
		PendingBuffers: pending,
	}
}

// PruneAudit removes audit entries older than the retention window.
func (m *Manager) PruneAudit(ctx context.Context, olderThan time.Time) (int, error) {
	if m.auditLog == nil {
		return 0, nil
	}
	return m.auditLog.Prune(ctx, olderThan)
}

func (m *Manager) bufferFor(guildID uuid.UUID) *domain.PendingWriteSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	buffer, ok := m.buffers[guildID]
	if !ok {
		buffer = domain.NewPendingWriteSet(guildID)
		m.buffers[guildID] = buffer
	}
	return buffer
}

func (m *Manager) bufferedGuilds() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	guilds := make([]uuid.UUID, 0, len(m.buffers))
	for guildID := range m.buffers {
		guilds = append(guilds, guildID)
	}
	return guilds
}

func (m *Manager) cachedStore(guildID uuid.UUID) *domain.SlotStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.stores[guildID]
	if !ok || entry.store == nil {
		return nil
	}
	return entry.store
}

// maybeFlush flushes when thresholds are exceeded. Failures are logged and
// retried on the next flush cycle; they never escape to the actor-facing
// call path that triggered the change.
func (m *Manager) maybeFlush(ctx context.Context, guildID uuid.UUID) {
	buffer := m.bufferFor(guildID)
	if !buffer.ShouldFlush(m.cfg.FlushMaxEntries, m.cfg.FlushMaxAge) {
		return
	}
	if err := m.Flush(ctx, guildID); err != nil {
		m.logger.Printf("vault %s: flush: %v", guildID, err)
	}
}

func (m *Manager) auditBalance(ctx context.Context, guildID, actorID uuid.UUID, kind audit.Kind, amount int64) {
	if m.auditLog == nil {
		return
	}
	entry := audit.Entry{GuildID: guildID, ActorID: actorID, Kind: kind, Amount: amount}
	if err := m.auditLog.Append(ctx, entry); err != nil {
		m.logger.Printf("vault %s: audit %s: %v", guildID, kind, err)
	}
}

func (m *Manager) auditItem(ctx context.Context, guildID, actorID uuid.UUID, index int, item, previous *domain.Item) {
	if m.auditLog == nil {
		return
	}
	entry := audit.Entry{GuildID: guildID, ActorID: actorID, Slot: index}
	switch {
	case item != nil:
		entry.Kind = audit.KindItemAdd
		entry.Item = item
	case previous != nil:
		entry.Kind = audit.KindItemRemove
		entry.Item = previous
	default:
		return
	}
	if err := m.auditLog.Append(ctx, entry); err != nil {
		m.logger.Printf("vault %s: audit %s: %v", guildID, entry.Kind, err)
	}
}
