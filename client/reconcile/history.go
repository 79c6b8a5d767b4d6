package reconcile

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"rtchat/models"
)

// historyState is the pagination progress of one conversation.
type historyState struct {
	started  bool
	inflight bool
	next     string
	hasMore  bool
	resolved map[string]bool
}

// historyTracker is owned by the pipeline loop.
type historyTracker struct {
	states map[string]*historyState
	epoch  uint64
}

func newHistoryTracker() *historyTracker {
	return &historyTracker{states: make(map[string]*historyState)}
}

// begin returns the cursor to request for counterpartID, or false when a
// request is already in flight or nothing is left to fetch.
func (h *historyTracker) begin(counterpartID string) (string, bool) {
	st, ok := h.states[counterpartID]
	if !ok {
		st = &historyState{resolved: make(map[string]bool)}
		h.states[counterpartID] = st
	}
	if st.inflight {
		return "", false
	}
	if st.started && !st.hasMore {
		return "", false
	}
	cursor := st.next
	if st.resolved[cursor] {
		return "", false
	}
	st.started = true
	st.inflight = true
	return cursor, true
}

func (h *historyTracker) finish(counterpartID, cursor string, page *models.Page) {
	st, ok := h.states[counterpartID]
	if !ok {
		return
	}
	st.inflight = false
	if page == nil {
		// Failed requests may be retried with the same cursor.
		if cursor == "" && len(st.resolved) == 0 {
			st.started = false
		}
		return
	}
	st.resolved[cursor] = true
	st.next = page.Cursor()
	st.hasMore = page.HasNextPage && st.next != "" && !st.resolved[st.next]
}

func (h *historyTracker) reset() {
	h.states = make(map[string]*historyState)
	h.epoch++
}

func (p *Pipeline) loadHistory(ctx context.Context, counterpartID string) {
	if counterpartID == "" {
		return
	}
	cursor, ok := p.history.begin(counterpartID)
	if !ok {
		return
	}
	epoch := p.history.epoch
	p.log.Debug("loading history", zap.String("counterpart_id", counterpartID), zap.String("cursor", cursor))

	p.opts.Go(func() {
		page, err := p.api.History(ctx, counterpartID, cursor)
		p.post(func() { p.applyPage(ctx, counterpartID, cursor, epoch, page, err) })
	})
}

// applyPage merges a fetched page. Merging is additive: push traffic that
// arrived while the request was in flight is kept, and a page for a
// conversation that is no longer selected still lands.
func (p *Pipeline) applyPage(ctx context.Context, counterpartID, cursor string, epoch uint64, page models.Page, err error) {
	if epoch != p.history.epoch {
		p.log.Debug("discarding history from previous session", zap.String("counterpart_id", counterpartID))
		return
	}
	if err != nil {
		p.history.finish(counterpartID, cursor, nil)
		p.report(errors.Wrap(err, "load history"))
		return
	}
	p.history.finish(counterpartID, cursor, &page)
	applied := p.store.MergeMessages(page.Data)
	p.log.Debug("history page merged",
		zap.String("counterpart_id", counterpartID),
		zap.Int("messages", applied),
		zap.Bool("has_more", page.HasNextPage))

	if counterpartID == p.store.ActiveUser() {
		p.markRead(ctx, counterpartID)
	}
}
