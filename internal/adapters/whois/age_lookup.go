// Package whois resolves domain registration age through the public
// WHOIS system, behind a circuit breaker so a slow or rate-limiting
// registry cannot stall email analysis.
package whois

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/likexian/whois"
	whoisparser "github.com/likexian/whois-parser"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/mikey/phish-triage/internal/core"
)

// createdDateLayouts covers the formats registries commonly use for
// creation dates.
var createdDateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02-Jan-2006",
	"2006.01.02",
}

type cacheEntry struct {
	age       core.DomainAge
	expiresAt time.Time
}

// AgeLookup is a WHOIS implementation of the DomainAgeLookup interface.
// Results are cached; failures trip a circuit breaker that short-
// circuits further lookups while the registry is misbehaving.
type AgeLookup struct {
	client   *whois.Client
	breaker  *gobreaker.CircuitBreaker[core.DomainAge]
	logger   *zap.Logger
	cacheTTL time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewAgeLookup creates a WHOIS age lookup with the given query timeout
// and cache TTL.
func NewAgeLookup(timeout, cacheTTL time.Duration, logger *zap.Logger) *AgeLookup {
	client := whois.NewClient()
	client.SetTimeout(timeout)

	breaker := gobreaker.NewCircuitBreaker[core.DomainAge](gobreaker.Settings{
		Name:    "whois",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("WHOIS circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &AgeLookup{
		client:   client,
		breaker:  breaker,
		logger:   logger,
		cacheTTL: cacheTTL,
		cache:    make(map[string]cacheEntry),
	}
}

// Lookup resolves the registration age of a domain. The WHOIS protocol
// has no context support; cancellation is honored between the cache
// check and the network query.
func (l *AgeLookup) Lookup(ctx context.Context, domain string) (core.DomainAge, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return core.DomainAge{}, fmt.Errorf("empty domain")
	}

	if age, ok := l.cached(domain); ok {
		return age, nil
	}
	if err := ctx.Err(); err != nil {
		return core.DomainAge{}, err
	}

	age, err := l.breaker.Execute(func() (core.DomainAge, error) {
		return l.query(domain)
	})
	if err != nil {
		return core.DomainAge{}, err
	}

	l.store(domain, age)
	return age, nil
}

// query performs the WHOIS roundtrip and parses the creation date. An
// unparseable record for a subdomain retries against the parent.
func (l *AgeLookup) query(domain string) (core.DomainAge, error) {
	raw, err := l.client.Whois(domain)
	if err != nil {
		return core.DomainAge{}, fmt.Errorf("whois query failed: %w", err)
	}

	parsed, err := whoisparser.Parse(raw)
	if err != nil || parsed.Domain == nil {
		if parts := strings.Split(domain, "."); len(parts) > 2 {
			return l.query(strings.Join(parts[1:], "."))
		}
		return core.DomainAge{}, nil
	}

	createdStr := strings.TrimSpace(parsed.Domain.CreatedDate)
	if createdStr == "" {
		return core.DomainAge{}, nil
	}
	for _, layout := range createdDateLayouts {
		if created, err := time.Parse(layout, createdStr); err == nil {
			return core.DomainAge{Created: created, Known: true}, nil
		}
	}

	l.logger.Debug("Unrecognized WHOIS creation date format",
		zap.String("domain", domain),
		zap.String("created", createdStr))
	return core.DomainAge{}, nil
}

func (l *AgeLookup) cached(domain string) (core.DomainAge, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entry, ok := l.cache[domain]
	if !ok || time.Now().After(entry.expiresAt) {
		return core.DomainAge{}, false
	}
	return entry.age, true
}

func (l *AgeLookup) store(domain string, age core.DomainAge) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cache[domain] = cacheEntry{
		age:       age,
		expiresAt: time.Now().Add(l.cacheTTL),
	}
}
