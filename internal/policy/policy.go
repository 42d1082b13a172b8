// Package policy answers the permission questions handlers ask: administrator
// restrictions, file size limits, send permissions and allowed web hosts.
package policy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/matheus3301/wbridge/internal/config"
	"github.com/matheus3301/wbridge/internal/domain"
)

// Policy implements domain.Policy from configuration.
type Policy struct {
	restrictions domain.Restrictions
	maxFileSize  int64
	hosts        []string
}

var _ domain.Policy = (*Policy)(nil)

// New builds a policy from cfg.
func New(cfg *config.Config) *Policy {
	p := &Policy{
		restrictions: domain.Restrictions{
			DisableCreateContact: cfg.Policy.DisableCreateContact,
			DisableCreateGroup:   cfg.Policy.DisableCreateGroup,
			DisableSendMessage:   cfg.Policy.DisableSendMessage,
			DisableExport:        cfg.Policy.DisableExport,
		},
		maxFileSize: cfg.MaxFileSize,
	}
	for _, h := range cfg.AllowedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			p.hosts = append(p.hosts, h)
		}
	}
	return p
}

func (p *Policy) Restrictions() domain.Restrictions { return p.restrictions }

func (p *Policy) MaxFileSize() int64 { return p.maxFileSize }

// CanSend checks whether conv may receive a message.
func (p *Policy) CanSend(r domain.Reader, conv *domain.Conversation) error {
	if p.restrictions.DisableSendMessage {
		return domain.ErrDisabledByPolicy
	}
	if conv.IsGroup() {
		g, err := r.Group(conv.GroupID)
		if err != nil {
			return fmt.Errorf("load group: %w", err)
		}
		if g.DidLeave {
			return fmt.Errorf("group %s was left: %w", g.ID, domain.ErrNotAllowed)
		}
		return nil
	}

	blocked, err := r.IsBlocked(conv.ContactIdentity)
	if err != nil {
		return err
	}
	if blocked {
		return domain.ErrBlocked
	}
	c, err := r.Contact(conv.ContactIdentity)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("contact %s: %w", conv.ContactIdentity, domain.ErrNotAllowed)
	}
	if err != nil {
		return err
	}
	if c.State == domain.StateInvalid {
		return fmt.Errorf("contact %s is invalid: %w", c.Identity, domain.ErrNotAllowed)
	}
	return nil
}

// AllowedHost reports whether a web client served from host may connect. A
// pattern starting with "*." matches any subdomain; "*" alone matches all.
// An empty allowlist allows every host.
func (p *Policy) AllowedHost(host string) bool {
	if len(p.hosts) == 0 {
		return true
	}
	host = strings.ToLower(host)
	for _, pattern := range p.hosts {
		if matchHost(pattern, host) {
			return true
		}
	}
	return false
}

func matchHost(pattern, host string) bool {
	switch {
	case pattern == "*":
		return true
	case strings.HasPrefix(pattern, "*."):
		return strings.HasSuffix(host, pattern[1:])
	}
	return pattern == host
}
