// Package bracket manages entry + stop-loss + take-profit order choreography
// with one-cancels-other semantics. The manager owns the bracket state
// machine only: it decides which orders to create and which to cancel, and
// returns those decisions as Commands for the caller to execute against the
// matching engine.
package bracket

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/simex/internal/id"
	"github.com/rustyeddy/simex/internal/logging"
	"github.com/rustyeddy/simex/order"
)

// Status is the bracket lifecycle state.
type Status int

const (
	PendingEntry Status = iota
	PartialEntry
	EntryFilled
	PendingExit
	Completed
	Cancelled
	Rejected
	Expired
)

func (s Status) String() string {
	switch s {
	case PendingEntry:
		return "PENDING_ENTRY"
	case PartialEntry:
		return "PARTIALLY_FILLED"
	case EntryFilled:
		return "ENTRY_FILLED"
	case PendingExit:
		return "PENDING_EXIT"
	case Completed:
		return "COMPLETED"
	case Cancelled:
		return "CANCELLED"
	case Rejected:
		return "REJECTED"
	case Expired:
		return "EXPIRED"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Terminal reports whether the bracket can change no further.
func (s Status) Terminal() bool {
	return s == Completed || s == Cancelled || s == Rejected || s == Expired
}

// ExitReason records which leg closed the bracket.
type ExitReason int

const (
	ExitNone ExitReason = iota
	ExitStopLoss
	ExitTakeProfit
	ExitManual
	ExitCancelled
)

func (r ExitReason) String() string {
	switch r {
	case ExitStopLoss:
		return "STOP_LOSS"
	case ExitTakeProfit:
		return "TAKE_PROFIT"
	case ExitManual:
		return "MANUAL"
	case ExitCancelled:
		return "CANCELLED"
	}
	return "NONE"
}

// OCOStatus is the one-cancels-other group state.
type OCOStatus int

const (
	OCOActive OCOStatus = iota
	OCOTriggered
	OCOCancelled
)

// Config describes a bracket to open. StopLoss/TakeProfit of 0 mean that leg
// is omitted.
type Config struct {
	Side       order.Side
	Quantity   float64
	EntryKind  order.Kind // Market or Limit
	EntryLimit float64    // required for Limit entries
	StopLoss   float64
	TakeProfit float64
	TIF        order.TimeInForce
	ExpiresAt  time.Time
}

func (c Config) validate() error {
	if c.Side != order.Buy && c.Side != order.Sell {
		return fmt.Errorf("bracket: invalid side %d", c.Side)
	}
	if c.Quantity <= 0 {
		return fmt.Errorf("bracket: quantity must be positive, got %v", c.Quantity)
	}
	switch c.EntryKind {
	case order.Market:
	case order.Limit:
		if c.EntryLimit <= 0 {
			return fmt.Errorf("bracket: limit entry needs a positive limit price")
		}
	default:
		return fmt.Errorf("bracket: entry must be MARKET or LIMIT, got %s", c.EntryKind)
	}
	if c.StopLoss < 0 || c.TakeProfit < 0 {
		return fmt.Errorf("bracket: negative exit price")
	}
	return nil
}

// Bracket is one entry/exit unit. Exit order ids are empty until the entry
// fills completely; the exits never outlive the bracket.
type Bracket struct {
	ID     string
	Cfg    Config
	Status Status

	EntryID  string
	StopID   string
	TakeID   string
	OCOGroup string

	EntryFillPrice float64
	EntryFillQty   float64
	ExitFillPrice  float64
	ExitFillQty    float64
	ExitReason     ExitReason
	RealizedPnL    float64

	CreatedAt   time.Time
	CompletedAt time.Time
}

// OCOGroup ties the two exit legs together. At most one member ever fills;
// the rest are cancelled in the same logical step.
type OCOGroup struct {
	ID        string
	BracketID string
	OrderIDs  []string
	Status    OCOStatus
	Triggered string // order id that fired, if any
}

// Commands is what the caller must execute against the matching engine:
// submit the orders, cancel the ids. The manager never touches the engine
// itself.
type Commands struct {
	Submit []order.Order
	Cancel []string
}

func (c Commands) Empty() bool { return len(c.Submit) == 0 && len(c.Cancel) == 0 }

// Manager tracks every bracket and OCO group for one simulation run. Not safe
// for concurrent use; the orchestrator serializes access.
type Manager struct {
	log      *zap.Logger
	brackets map[string]*Bracket
	groups   map[string]*OCOGroup
	byOrder  map[string]string // order id -> bracket id
	created  []string          // bracket ids in creation order
	newID    func() string
}

func NewManager(log *zap.Logger) *Manager {
	return &Manager{
		log:      logging.Or(log),
		brackets: make(map[string]*Bracket),
		groups:   make(map[string]*OCOGroup),
		byOrder:  make(map[string]string),
		newID:    id.New,
	}
}

// Create registers a new bracket and returns the entry order to submit. The
// exit orders do not exist yet; they are created when the entry fills.
func (m *Manager) Create(cfg Config, now time.Time) (Bracket, order.Order, error) {
	if err := cfg.validate(); err != nil {
		return Bracket{}, order.Order{}, err
	}

	var entry order.Order
	if cfg.EntryKind == order.Market {
		entry = order.NewMarket(cfg.Side, cfg.Quantity)
	} else {
		entry = order.NewLimit(cfg.Side, cfg.Quantity, cfg.EntryLimit)
	}
	entry.ID = m.newID()
	entry.TIF = cfg.TIF
	entry.ExpiresAt = cfg.ExpiresAt
	entry.Role = order.Entry
	entry.SubmittedAt = now

	b := &Bracket{
		ID:        m.newID(),
		Cfg:       cfg,
		Status:    PendingEntry,
		EntryID:   entry.ID,
		CreatedAt: now,
	}
	entry.BracketID = b.ID

	m.brackets[b.ID] = b
	m.byOrder[entry.ID] = b.ID
	m.created = append(m.created, b.ID)
	return *b, entry, nil
}

// OnFill advances the bracket owning the filled order. Fills for unknown
// orders or already completed brackets are ignored (logged, non-fatal).
func (m *Manager) OnFill(f order.Fill, now time.Time) Commands {
	bid, ok := m.byOrder[f.OrderID]
	if !ok {
		m.log.Debug("fill for order outside any bracket", zap.String("order_id", f.OrderID))
		return Commands{}
	}
	b := m.brackets[bid]
	if b.Status.Terminal() {
		m.log.Debug("duplicate fill on terminal bracket",
			zap.String("bracket_id", bid), zap.String("order_id", f.OrderID))
		return Commands{}
	}

	switch f.OrderID {
	case b.EntryID:
		return m.onEntryFill(b, f, now)
	case b.StopID, b.TakeID:
		return m.onExitFill(b, f, now)
	}
	return Commands{}
}

func (m *Manager) onEntryFill(b *Bracket, f order.Fill, now time.Time) Commands {
	prev := b.EntryFillQty
	b.EntryFillQty += f.Quantity
	b.EntryFillPrice = (b.EntryFillPrice*prev + f.Price*f.Quantity) / b.EntryFillQty

	if !f.Complete {
		b.Status = PartialEntry
		return Commands{}
	}

	b.Status = EntryFilled
	return m.openExits(b, now)
}

// openExits creates both exit legs sized to the filled entry quantity, joined
// in one OCO group, and moves the bracket to its exit phase.
func (m *Manager) openExits(b *Bracket, now time.Time) Commands {
	var cmds Commands
	exitSide := b.Cfg.Side.Opposite()

	group := &OCOGroup{ID: m.newID(), BracketID: b.ID, Status: OCOActive}

	if b.Cfg.StopLoss > 0 {
		sl := order.NewStop(exitSide, b.EntryFillQty, b.Cfg.StopLoss)
		sl.ID = m.newID()
		sl.Role = order.StopLoss
		sl.BracketID = b.ID
		sl.OCOGroup = group.ID
		sl.SubmittedAt = now
		b.StopID = sl.ID
		m.byOrder[sl.ID] = b.ID
		group.OrderIDs = append(group.OrderIDs, sl.ID)
		cmds.Submit = append(cmds.Submit, sl)
	}
	if b.Cfg.TakeProfit > 0 {
		tp := order.NewLimit(exitSide, b.EntryFillQty, b.Cfg.TakeProfit)
		tp.ID = m.newID()
		tp.Role = order.TakeProfit
		tp.BracketID = b.ID
		tp.OCOGroup = group.ID
		tp.SubmittedAt = now
		b.TakeID = tp.ID
		m.byOrder[tp.ID] = b.ID
		group.OrderIDs = append(group.OrderIDs, tp.ID)
		cmds.Submit = append(cmds.Submit, tp)
	}

	if len(group.OrderIDs) > 0 {
		b.OCOGroup = group.ID
		m.groups[group.ID] = group
	}
	b.Status = PendingExit
	return cmds
}

func (m *Manager) onExitFill(b *Bracket, f order.Fill, now time.Time) Commands {
	var cmds Commands

	// First touch of either leg triggers the group and cancels the sibling,
	// even on a partial fill.
	if g, ok := m.groups[b.OCOGroup]; ok && g.Status == OCOActive {
		g.Status = OCOTriggered
		g.Triggered = f.OrderID
		for _, oid := range g.OrderIDs {
			if oid != f.OrderID {
				cmds.Cancel = append(cmds.Cancel, oid)
			}
		}
	}

	prev := b.ExitFillQty
	b.ExitFillQty += f.Quantity
	b.ExitFillPrice = (b.ExitFillPrice*prev + f.Price*f.Quantity) / b.ExitFillQty

	if !f.Complete {
		return cmds
	}

	switch f.OrderID {
	case b.StopID:
		b.ExitReason = ExitStopLoss
	case b.TakeID:
		b.ExitReason = ExitTakeProfit
	}
	b.RealizedPnL = pnl(b.Cfg.Side, b.EntryFillPrice, b.ExitFillPrice, b.ExitFillQty)
	b.Status = Completed
	b.CompletedAt = now
	return cmds
}

// OnCancel records an externally observed cancellation (expiry, IOC, manual
// engine-side cancel) of one of the bracket's orders. A cancelled unfilled
// entry kills the bracket; a cancelled partially filled entry promotes the
// bracket to its exit phase so the filled units stay protected, returning the
// exit orders to submit. A cancelled exit is normal OCO bookkeeping.
func (m *Manager) OnCancel(orderID string, expired bool, now time.Time) Commands {
	bid, ok := m.byOrder[orderID]
	if !ok {
		return Commands{}
	}
	b := m.brackets[bid]
	if b.Status.Terminal() || orderID != b.EntryID {
		return Commands{}
	}
	if b.EntryFillQty > 0 {
		return m.openExits(b, now)
	}
	if expired {
		b.Status = Expired
	} else {
		b.Status = Cancelled
	}
	b.ExitReason = ExitCancelled
	return Commands{}
}

// CancelBracket cancels whatever remains of the bracket: the entry while
// still pending, and both exits if they exist. A bracket with nothing left to
// cancel returns empty Commands rather than an error.
func (m *Manager) CancelBracket(bracketID string) (Commands, error) {
	b, ok := m.brackets[bracketID]
	if !ok {
		return Commands{}, fmt.Errorf("bracket: unknown id %s", bracketID)
	}
	if b.Status.Terminal() {
		return Commands{}, nil
	}

	var cmds Commands
	if b.EntryFillQty < b.Cfg.Quantity {
		cmds.Cancel = append(cmds.Cancel, b.EntryID)
	}
	if b.StopID != "" {
		cmds.Cancel = append(cmds.Cancel, b.StopID)
	}
	if b.TakeID != "" {
		cmds.Cancel = append(cmds.Cancel, b.TakeID)
	}
	if g, ok := m.groups[b.OCOGroup]; ok && g.Status == OCOActive {
		g.Status = OCOCancelled
	}
	b.Status = Cancelled
	b.ExitReason = ExitCancelled
	return cmds, nil
}

// Bracket returns a copy of the bracket by id.
func (m *Manager) Bracket(bracketID string) (Bracket, bool) {
	b, ok := m.brackets[bracketID]
	if !ok {
		return Bracket{}, false
	}
	return *b, true
}

// ByOrder returns the bracket owning the given order id.
func (m *Manager) ByOrder(orderID string) (Bracket, bool) {
	bid, ok := m.byOrder[orderID]
	if !ok {
		return Bracket{}, false
	}
	return *m.brackets[bid], true
}

// Group returns a copy of an OCO group.
func (m *Manager) Group(groupID string) (OCOGroup, bool) {
	g, ok := m.groups[groupID]
	if !ok {
		return OCOGroup{}, false
	}
	cp := *g
	cp.OrderIDs = append([]string(nil), g.OrderIDs...)
	return cp, true
}

// Brackets returns copies of all brackets in creation order.
func (m *Manager) Brackets() []Bracket {
	out := make([]Bracket, 0, len(m.created))
	for _, bid := range m.created {
		out = append(out, *m.brackets[bid])
	}
	return out
}

// Reset drops all bracket and OCO bookkeeping.
func (m *Manager) Reset() {
	m.brackets = make(map[string]*Bracket)
	m.groups = make(map[string]*OCOGroup)
	m.byOrder = make(map[string]string)
	m.created = nil
}

// pnl computes realized profit: (exit-entry)*qty for buy-side brackets,
// inverted for sell-side.
func pnl(side order.Side, entry, exit, qty float64) float64 {
	if side == order.Buy {
		return (exit - entry) * qty
	}
	return (entry - exit) * qty
}
