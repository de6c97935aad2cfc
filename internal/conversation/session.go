package conversation

import (
	"go.uber.org/zap"

	"convtrack/internal/convkey"
)

// DeinterlaceKey selects which coarse keys the deinterlacer folds into
// its anchor conversations. Zero disables deinterlacing entirely.
type DeinterlaceKey uint32

const (
	DeintKeyCapfile   DeinterlaceKey = 0x01 // reserved
	DeintKeyInterface DeinterlaceKey = 0x02
	DeintKeyMAC       DeinterlaceKey = 0x04
	DeintKeyVLAN      DeinterlaceKey = 0x08
)

// Session holds every conversation tracked for one loaded capture. All
// state is session-scoped: dropping the Session releases every table and
// record at once, and a reloaded file starts over with index 0.
//
// A session is single-writer: dissection proceeds in one logical
// sequence per capture, so no locking happens here.
type Session struct {
	log *zap.Logger

	// tables maps a key shape to its backing table. Protocols sharing a
	// shape transparently share a table.
	tables map[string]*table

	// arena owns every record; handles index into it.
	arena []*Conversation

	nextIndex uint32

	deintKey DeinterlaceKey

	// Canonical tables, resolved once at construction.
	exact        *table
	addrsOnly    *table
	noAddr2      *table
	noPort2      *table
	noAddr2Port2 *table
	byID         *table
	deinterlacer *table
	exactAnchor  *table
	addrsAnchor  *table
}

// Shapes of the pre-registered tables. Built from representative keys so
// the strings can never drift from what the key model produces.
var (
	shapeExact        = shapeOf(convkey.Addr{}, convkey.Port(0), convkey.Addr{}, convkey.Port(0))
	shapeAddrsOnly    = shapeOf(convkey.Addr{}, convkey.Addr{})
	shapeNoAddr2      = shapeOf(convkey.Addr{}, convkey.Port(0), convkey.Port(0))
	shapeNoPort2      = shapeOf(convkey.Addr{}, convkey.Port(0), convkey.Addr{})
	shapeNoAddr2Port2 = shapeOf(convkey.Addr{}, convkey.Port(0))
	shapeID           = shapeOf(convkey.Uint(0))
	shapeDeinterlacer = shapeOf(convkey.Addr{}, convkey.Addr{}, convkey.Uint(0), convkey.Uint(0), convkey.Uint(0))
	shapeExactAnchor  = shapeOf(convkey.Addr{}, convkey.Addr{}, convkey.Port(0), convkey.Port(0), convkey.Uint(0))
	shapeAddrsAnchor  = shapeOf(convkey.Addr{}, convkey.Addr{}, convkey.Uint(0))
)

func shapeOf(elements ...convkey.Element) string {
	return convkey.Key{Elements: elements}.Shape()
}

// NewSession builds the table family for one capture. The logger is the
// diagnostic channel: contract violations are reported through DPanic,
// so a development-mode logger turns them into aborts while a production
// logger reports and continues. deintKey enables and configures the
// deinterlacer; pass 0 to keep the ordinary lookup path.
func NewSession(logger *zap.Logger, deintKey DeinterlaceKey) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		log:      logger,
		tables:   make(map[string]*table),
		deintKey: deintKey,
	}
	s.exact = s.getTable(shapeExact)
	s.addrsOnly = s.getTable(shapeAddrsOnly)
	s.noAddr2 = s.getTable(shapeNoAddr2)
	s.noPort2 = s.getTable(shapeNoPort2)
	s.noAddr2Port2 = s.getTable(shapeNoAddr2Port2)
	s.byID = s.getTable(shapeID)
	s.deinterlacer = s.getTable(shapeDeinterlacer)
	s.exactAnchor = s.getTable(shapeExactAnchor)
	s.addrsAnchor = s.getTable(shapeAddrsAnchor)
	return s
}

// getTable resolves the backing table for a shape, creating it on first
// use. Idempotent.
func (s *Session) getTable(shape string) *table {
	t, ok := s.tables[shape]
	if !ok {
		t = newTable()
		s.tables[shape] = t
	}
	return t
}

// DeinterlacingEnabled reports whether lookups route through anchor
// conversations.
func (s *Session) DeinterlacingEnabled() bool {
	return s.deintKey != 0
}

// Count returns the number of conversations created so far.
func (s *Session) Count() int {
	return len(s.arena)
}

// Conversations returns all records in creation order. The slice aliases
// session-owned records; callers must not retain it across a reload.
func (s *Session) Conversations() []*Conversation {
	out := make([]*Conversation, len(s.arena))
	copy(out, s.arena)
	return out
}

// alloc creates a record in the arena with the next conversation index.
// The key must already be owned by the record (deep copied).
func (s *Session) alloc(setupFrame uint32, key convkey.Key, opts Options) *Conversation {
	c := &Conversation{
		Index:       s.nextIndex,
		SetupFrame:  setupFrame,
		LastFrame:   setupFrame,
		Options:     opts,
		Key:         key,
		handle:      convHandle(len(s.arena)),
		next:        noConv,
		last:        noConv,
		latestFound: noConv,
	}
	s.nextIndex++
	s.arena = append(s.arena, c)
	return c
}

// at resolves a handle, mapping noConv to nil.
func (s *Session) at(h convHandle) *Conversation {
	if h == noConv {
		return nil
	}
	return s.arena[h]
}
