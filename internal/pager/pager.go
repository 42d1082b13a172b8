// Package pager serves bounded pages of a conversation's history, locating
// the client's reference message with a cursor cache and an expanding probe.
package pager

import (
	"errors"
	"fmt"

	"github.com/matheus3301/wbridge/internal/domain"
)

// DefaultPageSize is the page size used when none is configured.
const DefaultPageSize = 50

// ErrReferenceNotFound means the reference message is no longer part of the
// timeline.
var ErrReferenceNotFound = errors.New("reference message not found")

// Timeline is a conversation's messages ordered newest first.
type Timeline interface {
	Count() (int, error)
	Fetch(offset, count int) ([]domain.Message, error)
}

// ConversationTimeline reads a conversation's timeline from the store.
type ConversationTimeline struct {
	R              domain.Reader
	ConversationID int64
}

func (t ConversationTimeline) Count() (int, error) {
	return t.R.CountMessages(t.ConversationID)
}

func (t ConversationTimeline) Fetch(offset, count int) ([]domain.Message, error) {
	return t.R.MessagesInConversation(t.ConversationID, offset, count)
}

// Page is one page of history.
type Page struct {
	Messages []domain.Message // newest first
	More     bool             // older messages remain
	Start    int              // timeline offset of Messages[0]
	Rounds   int              // probe rounds spent locating the reference
	CacheHit bool
}

// Pager pages through timelines. Cache may be nil.
type Pager struct {
	PageSize int
	Cache    *Cache
}

// New creates a pager.
func New(pageSize int, cache *Cache) *Pager {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Pager{PageSize: pageSize, Cache: cache}
}

// Page returns the messages older than refID, or the newest messages when
// refID is empty.
func (p *Pager) Page(tl Timeline, refID string) (Page, error) {
	var page Page
	if refID != "" {
		start, rounds, hit, err := p.locate(tl, refID)
		if err != nil {
			return page, err
		}
		page.Start, page.Rounds, page.CacheHit = start, rounds, hit
	}

	total, err := tl.Count()
	if err != nil {
		return page, fmt.Errorf("count: %w", err)
	}
	n := min(p.PageSize, total-page.Start)
	if n > 0 {
		if page.Messages, err = tl.Fetch(page.Start, n); err != nil {
			return page, fmt.Errorf("fetch page: %w", err)
		}
	}
	page.More = page.Start+len(page.Messages) < total

	if p.Cache != nil && len(page.Messages) > 0 {
		first, last := page.Messages[0], page.Messages[len(page.Messages)-1]
		p.Cache.Put(first.ID, page.Start)
		// The oldest message is the client's next reference.
		p.Cache.Put(last.ID, page.Start+len(page.Messages)-1)
	}
	return page, nil
}

// locate returns the offset right after refID.
func (p *Pager) locate(tl Timeline, refID string) (start, rounds int, hit bool, err error) {
	center := 0
	if p.Cache != nil {
		if hint, ok := p.Cache.Get(refID); ok {
			msgs, err := tl.Fetch(hint, 1)
			if err != nil {
				return 0, 0, false, fmt.Errorf("probe hint: %w", err)
			}
			if len(msgs) == 1 && msgs[0].ID == refID {
				return hint + 1, 0, true, nil
			}
			// Stale hint: the reference is probably close by.
			p.Cache.Forget(refID)
			center = hint
		}
	}

	for w := max(p.PageSize, 1); ; w *= 2 {
		rounds++
		// The count is re-read every round so deletions during the scan
		// still let the probe terminate.
		total, err := tl.Count()
		if err != nil {
			return 0, rounds, false, fmt.Errorf("count: %w", err)
		}
		probe := max(0, center-w/2)
		msgs, err := tl.Fetch(probe, w)
		if err != nil {
			return 0, rounds, false, fmt.Errorf("probe: %w", err)
		}
		for i, m := range msgs {
			if m.ID == refID {
				return probe + i + 1, rounds, false, nil
			}
		}
		if probe == 0 && w >= total {
			return 0, rounds, false, ErrReferenceNotFound
		}
	}
}
