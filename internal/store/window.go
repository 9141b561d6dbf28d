package store

import "github.com/weiawesome/friendlychat/internal/domain"

// window is the ordered result set of one live query, newest first.
type window struct {
	size int
	msgs []domain.Message
}

func newWindow(size int) *window {
	return &window{size: size, msgs: make([]domain.Message, 0, size+1)}
}

func (w *window) indexOf(id string) int {
	for i := range w.msgs {
		if w.msgs[i].ID == id {
			return i
		}
	}
	return -1
}

func (w *window) full() bool {
	return len(w.msgs) >= w.size
}

// insertPos returns where msg belongs so the window stays newest first.
func (w *window) insertPos(msg *domain.Message) int {
	for i := range w.msgs {
		if w.msgs[i].Less(msg) {
			return i
		}
	}
	return len(w.msgs)
}

// upsert applies a created or updated message. Stale revisions and messages
// older than a full window produce no events.
func (w *window) upsert(msg domain.Message) []domain.ChangeEvent {
	if i := w.indexOf(msg.ID); i >= 0 {
		if msg.Revision <= w.msgs[i].Revision {
			return nil
		}
		w.msgs[i] = msg
		return []domain.ChangeEvent{{Type: domain.ChangeModified, Message: msg, OldIndex: i, NewIndex: i}}
	}

	pos := w.insertPos(&msg)
	if w.full() && pos >= len(w.msgs) {
		return nil
	}

	var events []domain.ChangeEvent
	if w.full() {
		last := len(w.msgs) - 1
		evicted := w.msgs[last]
		w.msgs = w.msgs[:last]
		events = append(events, domain.ChangeEvent{Type: domain.ChangeRemoved, Message: evicted, OldIndex: last, NewIndex: -1})
	}

	w.msgs = append(w.msgs, domain.Message{})
	copy(w.msgs[pos+1:], w.msgs[pos:])
	w.msgs[pos] = msg
	events = append(events, domain.ChangeEvent{Type: domain.ChangeAdded, Message: msg, OldIndex: -1, NewIndex: pos})
	return events
}

// remove drops a message from the window.
func (w *window) remove(id string) []domain.ChangeEvent {
	i := w.indexOf(id)
	if i < 0 {
		return nil
	}
	removed := w.msgs[i]
	w.msgs = append(w.msgs[:i], w.msgs[i+1:]...)
	return []domain.ChangeEvent{{Type: domain.ChangeRemoved, Message: removed, OldIndex: i, NewIndex: -1}}
}

// reset replaces the window with fresh, a newest-first read of the store,
// and returns the events that turn the old window into the new one. Known
// revisions newer than the read are kept.
func (w *window) reset(fresh []domain.Message) []domain.ChangeEvent {
	if len(fresh) > w.size {
		fresh = fresh[:w.size]
	}

	inFresh := make(map[string]struct{}, len(fresh))
	for i := range fresh {
		inFresh[fresh[i].ID] = struct{}{}
	}

	var events []domain.ChangeEvent
	for i := len(w.msgs) - 1; i >= 0; i-- {
		if _, ok := inFresh[w.msgs[i].ID]; !ok {
			events = append(events, domain.ChangeEvent{Type: domain.ChangeRemoved, Message: w.msgs[i], OldIndex: i, NewIndex: -1})
		}
	}

	oldIndex := make(map[string]int, len(w.msgs))
	for i := range w.msgs {
		oldIndex[w.msgs[i].ID] = i
	}

	next := make([]domain.Message, 0, w.size+1)
	for i, m := range fresh {
		j, known := oldIndex[m.ID]
		switch {
		case !known:
			events = append(events, domain.ChangeEvent{Type: domain.ChangeAdded, Message: m, OldIndex: -1, NewIndex: i})
		case m.Revision > w.msgs[j].Revision:
			events = append(events, domain.ChangeEvent{Type: domain.ChangeModified, Message: m, OldIndex: j, NewIndex: i})
		default:
			m = w.msgs[j]
		}
		next = append(next, m)
	}

	w.msgs = next
	return events
}

func (w *window) snapshot() []domain.Message {
	out := make([]domain.Message, len(w.msgs))
	copy(out, w.msgs)
	return out
}
