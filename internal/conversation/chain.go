package conversation

import (
	"go.uber.org/zap"

	"convtrack/internal/convkey"
)

// table maps structural keys to chain heads. Buckets are keyed by the
// key's structural hash; collisions between distinct keys land in the
// same bucket slice and are told apart by structural equality against
// each head's owned key.
type table struct {
	buckets map[uint32][]convHandle
}

func newTable() *table {
	return &table{buckets: make(map[uint32][]convHandle)}
}

// lookup returns the chain head filed under key, or noConv.
func (t *table) lookup(s *Session, key convkey.Key) convHandle {
	for _, h := range t.buckets[key.Hash()] {
		if s.at(h).Key.Equal(key) {
			return h
		}
	}
	return noConv
}

// put files h as the chain head for its own key, replacing any head with
// an equal key.
func (t *table) put(s *Session, h convHandle) {
	key := s.at(h).Key
	hash := key.Hash()
	bucket := t.buckets[hash]
	for i, cur := range bucket {
		if s.at(cur).Key.Equal(key) {
			bucket[i] = h
			return
		}
	}
	t.buckets[hash] = append(bucket, h)
}

// drop removes the table entry for key, leaving the records themselves
// alone. A later insert with an equal key recreates the entry.
func (t *table) drop(s *Session, key convkey.Key) {
	hash := key.Hash()
	bucket := t.buckets[hash]
	for i, cur := range bucket {
		if s.at(cur).Key.Equal(key) {
			bucket[i] = bucket[len(bucket)-1]
			bucket = bucket[:len(bucket)-1]
			if len(bucket) == 0 {
				delete(t.buckets, hash)
			} else {
				t.buckets[hash] = bucket
			}
			return
		}
	}
}

// chainInsert links conv into the bucket chain for its key, keeping the
// chain non-decreasing by setup frame. Frame order is not guaranteed
// monotonic across calls (re-dissection, non-sequential loads), so the
// slow paths splice into the middle or replace the head.
func (s *Session) chainInsert(t *table, conv *Conversation) {
	headH := t.lookup(s, conv.Key)
	if headH == noConv {
		// Sole member: conv is head and tail.
		conv.next = noConv
		conv.last = conv.handle
		t.put(s, conv.handle)
		return
	}

	head := s.at(headH)
	tail := s.at(head.last)

	if conv.SetupFrame >= tail.SetupFrame {
		// Common case: belongs at the end, O(1) via the head's tail link.
		conv.next = noConv
		conv.last = noConv
		tail.next = conv.handle
		head.last = conv.handle
		return
	}

	// Find the first member set up after conv.
	var prev *Conversation
	cur := head
	for conv.SetupFrame > cur.SetupFrame && cur.next != noConv {
		prev, cur = cur, s.at(cur.next)
	}

	if prev == nil {
		// conv becomes the new head: it takes over the head-only links
		// and the table entry is rehashed under it.
		conv.next = head.handle
		conv.last = head.last
		conv.latestFound = head.latestFound
		head.last = noConv
		head.latestFound = noConv
		t.put(s, conv.handle)
		return
	}

	// Splice into the middle, before cur.
	conv.next = cur.handle
	conv.last = noConv
	prev.next = conv.handle
}

// chainRemove unlinks conv from the bucket chain for its key, fixing up
// the head-only tail and latest-found links. Removal is pure re-linking;
// the record stays alive in the arena (promotion re-files it elsewhere).
//
// A record missing from its expected bucket indicates caller or table
// bookkeeping went wrong; that is reported and otherwise ignored so
// analysis can continue.
func (s *Session) chainRemove(t *table, conv *Conversation) {
	headH := t.lookup(s, conv.Key)
	if headH == noConv {
		s.log.DPanic("conversation missing from its expected table",
			zap.Uint32("conv_index", conv.Index),
			zap.String("key", conv.Key.String()))
		return
	}

	if headH == conv.handle {
		if conv.next == noConv {
			// Only member: drop the entry; the record may be re-filed
			// under another table.
			t.drop(s, conv.Key)
			return
		}
		// Promote the successor to head.
		newHead := s.at(conv.next)
		newHead.last = conv.last
		if conv.latestFound == conv.handle {
			newHead.latestFound = noConv
		} else {
			newHead.latestFound = conv.latestFound
		}
		t.put(s, newHead.handle)
		return
	}

	head := s.at(headH)
	if head.next == noConv {
		s.log.DPanic("conversation not in its bucket chain",
			zap.Uint32("conv_index", conv.Index),
			zap.String("key", conv.Key.String()))
		return
	}

	prev := head
	cur := s.at(head.next)
	for cur.handle != conv.handle && cur.next != noConv {
		prev, cur = cur, s.at(cur.next)
	}
	if cur.handle != conv.handle {
		s.log.DPanic("conversation not in its bucket chain",
			zap.Uint32("conv_index", conv.Index),
			zap.String("key", conv.Key.String()))
		return
	}

	prev.next = conv.next
	if conv.next == noConv {
		head.last = prev.handle
	}
	if head.latestFound == conv.handle {
		head.latestFound = prev.handle
	}
}

// lookupInTable finds the most specific record for key with a setup
// frame at or before frame: chains are ordered by setup frame, so that
// is the last qualifying member. The head caches the result to shortcut
// repeated lookups around the same frame.
func (s *Session) lookupInTable(t *table, frame uint32, key convkey.Key) *Conversation {
	headH := t.lookup(s, key)
	if headH == noConv {
		return nil
	}
	head := s.at(headH)

	var match *Conversation
	if head.SetupFrame <= frame {
		match = head

		if tail := s.at(head.last); tail != nil && tail.SetupFrame <= frame {
			return tail
		}
		if cached := s.at(head.latestFound); cached != nil && cached.SetupFrame <= frame {
			match = cached
		}
		for conv := match; conv != nil && conv.SetupFrame <= frame; conv = s.at(conv.next) {
			if conv.SetupFrame > match.SetupFrame {
				match = conv
			}
		}
	}

	if match != nil {
		head.latestFound = match.handle
	}
	return match
}
