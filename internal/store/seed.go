package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/wbridge/internal/domain"
)

// SeedResult reports what Seed inserted.
type SeedResult struct {
	Contacts      int
	Groups        int
	Conversations int
	Messages      int
}

var seedContacts = []domain.Contact{
	{Identity: "ECHOECHO", FirstName: "Echo", LastName: "Service", PublicNickname: "echo", VerificationLevel: 1},
	{Identity: "ALICE001", FirstName: "Alice", PublicNickname: "alice", VerificationLevel: 2},
	{Identity: "BOB00002", PublicNickname: "bob"},
	{Identity: "*SUPPORT", FirstName: "Support", VerificationLevel: 2},
}

// Seed fills an empty store with demo data for manual testing. It is a no-op
// when contacts already exist.
func (db *DB) Seed(ctx context.Context, self string) (*SeedResult, error) {
	res := &SeedResult{}
	err := db.Atomic(ctx, func(tx domain.Tx) error {
		existing, err := tx.Contacts()
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return nil
		}
		if _, err := tx.Profile(); errors.Is(err, domain.ErrNotFound) {
			if err := tx.SaveProfile(&domain.Profile{Identity: self, PublicNickname: self}); err != nil {
				return err
			}
		}

		base := time.Now().Add(-time.Hour).Truncate(time.Second)
		for i := range seedContacts {
			c := seedContacts[i]
			if err := tx.SaveContact(&c); err != nil {
				return err
			}
			res.Contacts++

			conv := &domain.Conversation{ContactIdentity: c.Identity, LastUpdate: base}
			if err := tx.SaveConversation(conv); err != nil {
				return err
			}
			res.Conversations++

			for j := 0; j < 3; j++ {
				m := &domain.Message{
					ID:             uuid.NewString(),
					ConversationID: conv.ID,
					Type:           domain.MessageText,
					Date:           base.Add(time.Duration(i*10+j) * time.Minute),
				}
				if j%2 == 0 {
					m.Sender = c.Identity
					m.Body = fmt.Sprintf("hello from %s (%d)", c.Identity, j+1)
					m.State = domain.StateReceived
				} else {
					m.Sender = self
					m.IsOwn = true
					m.Body = fmt.Sprintf("reply %d", j+1)
					m.State = domain.StateDelivered
				}
				if err := tx.SaveMessage(m); err != nil {
					return err
				}
				res.Messages++
			}
		}

		g := &domain.Group{Creator: self, Name: "Demo group", Members: []string{"ALICE001", "BOB00002"}, MyIdentity: self}
		if err := tx.SaveGroup(g); err != nil {
			return err
		}
		res.Groups++
		conv := &domain.Conversation{GroupID: g.ID, LastUpdate: base}
		if err := tx.SaveConversation(conv); err != nil {
			return err
		}
		res.Conversations++
		if err := tx.SaveMessage(&domain.Message{
			ID:             uuid.NewString(),
			ConversationID: conv.ID,
			Sender:         "ALICE001",
			Body:           "welcome to the group",
			State:          domain.StateReceived,
			Date:           base.Add(45 * time.Minute),
		}); err != nil {
			return err
		}
		res.Messages++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("seed: %w", err)
	}
	return res, nil
}
