// Package session はクライアント側のセッション確立・復元と認可状態を状態機械として提供する。
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/inkpost/internal/model"
)

// State はセッションマネージャーの状態。
type State int

const (
	StateUninitialized State = iota
	StateRecovering
	StateEstablished
	StateAnonymous
	StateDisposed
)

// String は状態名を返す。
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateRecovering:
		return "recovering"
	case StateEstablished:
		return "established"
	case StateAnonymous:
		return "anonymous"
	case StateDisposed:
		return "disposed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// IdentityClient はIDサービスのクライアント側セッションAPI。
// identity.TokenSessionが実装する。
type IdentityClient interface {
	GetSession(ctx context.Context) (*model.Session, error)
	// OnAuthStateChange はセッション変更を購読する。サインアウトはnilで通知される。
	OnAuthStateChange(fn func(*model.Session)) (unsubscribe func())
	SignOut(ctx context.Context) error
}

// RoleLookup は主体のロールを解決する。
type RoleLookup interface {
	ResolveRole(ctx context.Context, subject string) (model.Role, error)
}

// View はUIに公開する(user, role, loading)のスナップショット。
type View struct {
	State   State
	Session *model.Session
	Role    model.Role
	Loading bool
}

// Config はセッション復元の設定。
type Config struct {
	MaxAttempts int           // セッション取得の試行回数上限
	Backoff     time.Duration // 試行間の固定待機時間
	HardTimeout time.Duration // recoveringを強制的に抜けるまでの時間
	Clock       Clock
	Reload      func() // サインアウト後に呼ばれる。古いセッションへの参照を破棄する
	Logger      *slog.Logger
}

// DefaultConfig はデフォルト設定を返す（3回・1秒間隔・10秒で強制確定）。
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		Backoff:     time.Second,
		HardTimeout: 10 * time.Second,
	}
}

// Manager はセッションの確立・復元・破棄を管理する状態機械。
//
// 確定イベントは3種類あり競合する: 復元ループの結果、IDサービスからの通知、ハードタイムアウト。
//   - 通知を一度でも受け取った後は、復元ループの結果は破棄する。
//   - 通知と復元結果は後から届いたものが適用される。
//   - ハードタイムアウトはrecoveringのままの場合のみanonymousへ遷移させる。
//     ロール解決待ちの場合はroleをuserのままloadingを解除する（遅れて届いた解決結果は適用する）。
//   - Dispose後の継続処理はすべて何もしない。
type Manager struct {
	identity IdentityClient
	roles    RoleLookup
	config   Config
	clock    Clock
	logger   *slog.Logger

	mu          sync.Mutex
	state       State
	session     *model.Session
	role        model.Role
	loading     bool
	notified    bool
	generation  uint64
	ctx         context.Context
	done        chan struct{}
	hardTimer   Timer
	unsubscribe func()
	listeners   map[int]func(View)
	nextID      int

	// notifyMu はリスナーへの配信順序を遷移順に揃える。
	notifyMu sync.Mutex
}

// NewManager はManagerを生成する。
func NewManager(identity IdentityClient, roles RoleLookup, config Config) *Manager {
	defaults := DefaultConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.Backoff <= 0 {
		config.Backoff = defaults.Backoff
	}
	if config.HardTimeout <= 0 {
		config.HardTimeout = defaults.HardTimeout
	}

	clock := config.Clock
	if clock == nil {
		clock = realClock{}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		identity:  identity,
		roles:     roles,
		config:    config,
		clock:     clock,
		logger:    logger,
		state:     StateUninitialized,
		loading:   true,
		done:      make(chan struct{}),
		listeners: make(map[int]func(View)),
	}
}

// Start はセッション変更通知の購読とセッション復元を開始する。
// 復元は別ゴルーチンで行われ、Startはすぐに戻る。
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateUninitialized {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("session manager cannot start from state %s", state)
	}
	m.ctx = ctx
	m.state = StateRecovering
	m.loading = true
	m.hardTimer = m.clock.AfterFunc(m.config.HardTimeout, m.onHardTimeout)
	m.commit()

	unsubscribe := m.identity.OnAuthStateChange(m.onNotification)

	m.mu.Lock()
	if m.state == StateDisposed {
		m.mu.Unlock()
		unsubscribe()
		return nil
	}
	m.unsubscribe = unsubscribe
	m.mu.Unlock()

	go m.recoverSession(ctx)
	return nil
}

// View は現在の状態のスナップショットを返す。
func (m *Manager) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewLocked()
}

// Subscribe は状態変化を購読する。戻り値の関数で購読を解除する。
// リスナーの中からManagerの状態を変更するメソッドを同期的に呼んではならない。
func (m *Manager) Subscribe(fn func(View)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// SignOut はローカル状態を即座にクリアしてから、IDサービスのサインアウトを呼び、
// 最後にReloadを呼ぶ。IDサービス側の失敗はReloadを妨げない。
func (m *Manager) SignOut(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateDisposed {
		m.mu.Unlock()
		return nil
	}
	m.applyLocked(nil)
	m.commit()

	err := m.identity.SignOut(ctx)
	if err != nil {
		m.logger.Warn("identity sign-out failed",
			slog.String("error", err.Error()),
		)
	}

	if m.config.Reload != nil {
		m.config.Reload()
	}
	return err
}

// Dispose は購読とタイマーを解除し、以降の非同期処理による状態変更を無効にする。
// 実行中のネットワーク呼び出しは中断しない。
func (m *Manager) Dispose() {
	m.mu.Lock()
	if m.state == StateDisposed {
		m.mu.Unlock()
		return
	}
	m.state = StateDisposed
	m.session = nil
	m.role = ""
	m.loading = false
	m.generation++
	close(m.done)

	hardTimer := m.hardTimer
	unsubscribe := m.unsubscribe
	m.listeners = make(map[int]func(View))
	m.mu.Unlock()

	if hardTimer != nil {
		hardTimer.Stop()
	}
	if unsubscribe != nil {
		unsubscribe()
	}
}

// recoverSession は一時的な障害を上限回数までリトライしてセッションを取得する。
func (m *Manager) recoverSession(ctx context.Context) {
	for attempt := 1; attempt <= m.config.MaxAttempts; attempt++ {
		if !m.alive() {
			return
		}

		session, err := m.identity.GetSession(ctx)
		if err == nil {
			m.settleFromRecovery(session)
			return
		}

		if !errors.Is(err, model.ErrIdentityUnavailable) {
			m.logger.Warn("session recovery failed",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			m.settleFromRecovery(nil)
			return
		}

		m.logger.Info("session recovery attempt failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", m.config.MaxAttempts),
			slog.String("error", err.Error()),
		)

		if attempt < m.config.MaxAttempts && !m.sleep(ctx, m.config.Backoff) {
			return
		}
	}

	m.logger.Warn("session recovery gave up",
		slog.Int("attempts", m.config.MaxAttempts),
	)
	m.settleFromRecovery(nil)
}

// settleFromRecovery は復元ループの結果を適用する。
func (m *Manager) settleFromRecovery(session *model.Session) {
	m.mu.Lock()
	if m.state == StateDisposed || m.notified {
		m.mu.Unlock()
		return
	}
	m.applyLocked(session)
	m.commit()
}

// onNotification はIDサービスからのセッション変更通知を適用する。
func (m *Manager) onNotification(session *model.Session) {
	m.mu.Lock()
	if m.state == StateDisposed {
		m.mu.Unlock()
		return
	}
	m.notified = true
	m.applyLocked(session)
	m.commit()
}

// onHardTimeout はrecoveringまたはロール解決待ちのまま残っている状態を確定させる。
func (m *Manager) onHardTimeout() {
	m.mu.Lock()
	switch {
	case m.state == StateRecovering:
		m.logger.Warn("session recovery timed out",
			slog.Duration("timeout", m.config.HardTimeout),
		)
		m.applyLocked(nil)
	case m.state == StateEstablished && m.loading:
		m.logger.Warn("role resolution timed out; falling back to user",
			slog.Duration("timeout", m.config.HardTimeout),
		)
		m.loading = false
	default:
		m.mu.Unlock()
		return
	}
	m.commit()
}

// applyLocked はセッションの有無に応じてestablishedまたはanonymousへ遷移する。
// established遷移のたびにロール解決を開始する。m.muを保持して呼ぶ。
func (m *Manager) applyLocked(session *model.Session) {
	m.generation++

	if session == nil {
		m.state = StateAnonymous
		m.session = nil
		m.role = ""
		m.loading = false
		return
	}

	// ロールが確定するまでは最小権限
	m.state = StateEstablished
	m.session = session
	m.role = model.RoleUser
	m.loading = true
	go m.resolveRole(m.ctx, m.generation, session.Subject)
}

// resolveRole はロールを解決し、同じ世代のままであれば反映する。
func (m *Manager) resolveRole(ctx context.Context, generation uint64, subject string) {
	if ctx == nil {
		ctx = context.Background()
	}
	role, err := m.roles.ResolveRole(ctx, subject)

	m.mu.Lock()
	if m.state == StateDisposed || m.generation != generation {
		m.mu.Unlock()
		return
	}
	if err != nil {
		m.logger.Warn("role resolution failed; falling back to user",
			slog.String("subject", subject),
			slog.String("error", err.Error()),
		)
		role = model.RoleUser
	}
	if !role.Valid() {
		role = model.RoleUser
	}
	m.role = role
	m.loading = false
	m.commit()
}

// sleep はClockでd待機する。Disposeまたはctxの終了でfalseを返す。
func (m *Manager) sleep(ctx context.Context, d time.Duration) bool {
	fired := make(chan struct{})
	timer := m.clock.AfterFunc(d, func() { close(fired) })

	select {
	case <-fired:
		return true
	case <-ctx.Done():
		timer.Stop()
		return false
	case <-m.done:
		timer.Stop()
		return false
	}
}

func (m *Manager) alive() bool {
	select {
	case <-m.done:
		return false
	default:
		return true
	}
}

func (m *Manager) viewLocked() View {
	return View{
		State:   m.state,
		Session: m.session,
		Role:    m.role,
		Loading: m.loading,
	}
}

// commit は現在の状態をリスナーに配信する。m.muを保持して呼び、解放して戻る。
func (m *Manager) commit() {
	view := m.viewLocked()
	fns := make([]func(View), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}

	m.notifyMu.Lock()
	m.mu.Unlock()
	defer m.notifyMu.Unlock()

	for _, fn := range fns {
		fn(view)
	}
}
