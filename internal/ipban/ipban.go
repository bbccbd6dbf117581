// Package ipban counts misbehaving requests per client address and
// enforces ban thresholds with allow/deny list support.
package ipban

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/vesselkit/vessel/internal/kvstore"
	"github.com/vesselkit/vessel/internal/logging"
)

const (
	attemptsKey  = "attempts::"
	permanentKey = "permanent::"
)

// Options configures the service.
type Options struct {
	// Threshold is the attempt count at which an address is banned.
	Threshold int
	// TTL bounds the lifetime of a non-permanent ban record.
	TTL time.Duration
	// TriggerStatus lists the response codes that count as an attempt.
	TriggerStatus []int
	// BanStatus is sent to banned clients.
	BanStatus int
	// KeyPrefix namespaces the backing store keys.
	KeyPrefix string
}

func (o *Options) defaults() {
	if o.Threshold <= 0 {
		o.Threshold = 20
	}
	if o.TTL <= 0 {
		o.TTL = time.Hour
	}
	if len(o.TriggerStatus) == 0 {
		o.TriggerStatus = []int{http.StatusNotFound, http.StatusMethodNotAllowed, http.StatusNotImplemented}
	}
	if o.BanStatus == 0 {
		o.BanStatus = http.StatusForbidden
	}
	if o.KeyPrefix == "" {
		o.KeyPrefix = "ipban::"
	}
}

// Service enforces the abuse-control ban policy. Safe for concurrent use.
type Service struct {
	store   kvstore.Store
	opts    Options
	log     *logging.Logger
	trigger map[int]bool

	mu        sync.RWMutex
	allowIPs  map[string]bool
	allowNets []*net.IPNet
	denyIPs   map[string]bool
	denyNets  []*net.IPNet
}

// New creates a ban service over the given store.
func New(store kvstore.Store, opts Options, log *logging.Logger) *Service {
	opts.defaults()
	if log == nil {
		log = logging.NewNop()
	}
	trigger := make(map[int]bool, len(opts.TriggerStatus))
	for _, s := range opts.TriggerStatus {
		trigger[s] = true
	}
	return &Service{
		store:    kvstore.Prefixed(store, opts.KeyPrefix),
		opts:     opts,
		log:      log,
		trigger:  trigger,
		allowIPs: make(map[string]bool),
		denyIPs:  make(map[string]bool),
	}
}

// Options exposes the effective configuration.
func (s *Service) Options() Options { return s.opts }

// LoadWhitelist replaces the allow list with the given addresses and
// CIDR networks. Invalid entries are skipped with a warning.
func (s *Service) LoadWhitelist(ips []string, nets []string) {
	allowIPs, allowNets := parseLists(ips, nets, s.log)
	s.mu.Lock()
	s.allowIPs = allowIPs
	s.allowNets = allowNets
	s.mu.Unlock()
}

// AddBlacklist adds an address or CIDR network to the deny list.
func (s *Service) AddBlacklist(entry string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ipnet, err := net.ParseCIDR(entry); err == nil {
		s.denyNets = append(s.denyNets, ipnet)
		return
	}
	if ip := net.ParseIP(entry); ip != nil {
		s.denyIPs[ip.String()] = true
		return
	}
	s.log.WithField("entry", entry).Warn("ignoring malformed blacklist entry")
}

func parseLists(ips []string, nets []string, log *logging.Logger) (map[string]bool, []*net.IPNet) {
	ipSet := make(map[string]bool, len(ips))
	for _, raw := range ips {
		if ip := net.ParseIP(raw); ip != nil {
			ipSet[ip.String()] = true
		} else {
			log.WithField("entry", raw).Warn("ignoring malformed ip list entry")
		}
	}
	var netList []*net.IPNet
	for _, raw := range nets {
		if _, ipnet, err := net.ParseCIDR(raw); err == nil {
			netList = append(netList, ipnet)
		} else {
			log.WithField("entry", raw).Warn("ignoring malformed cidr list entry")
		}
	}
	return ipSet, netList
}

func (s *Service) allowed(ip net.IP) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.allowIPs[ip.String()] {
		return true
	}
	for _, n := range s.allowNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func (s *Service) denied(ip net.IP) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.denyIPs[ip.String()] {
		return true
	}
	for _, n := range s.denyNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// IsBanned reports whether addr is currently banned. Evaluation order is
// allow list, deny list, then the attempt counter.
func (s *Service) IsBanned(ctx context.Context, addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	if s.allowed(ip) {
		return false
	}
	if s.denied(ip) {
		return true
	}
	if perm, err := s.store.Get(ctx, permanentKey+ip.String()); err == nil && perm == "1" {
		return true
	}
	attempts, err := s.attempts(ctx, ip.String())
	if err != nil {
		return false
	}
	return attempts >= s.opts.Threshold
}

// Attempts returns the current attempt count for addr.
func (s *Service) Attempts(ctx context.Context, addr string) int {
	n, _ := s.attempts(ctx, addr)
	return n
}

func (s *Service) attempts(ctx context.Context, addr string) (int, error) {
	val, err := s.store.Get(ctx, attemptsKey+addr)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Ban increments the attempt counter for addr. A zero ttl uses the
// configured record lifetime; permanent entries never expire. Returns
// the new attempt count, or ok=false for allow-listed addresses (no-op).
func (s *Service) Ban(ctx context.Context, addr string, ttl time.Duration, permanent bool) (attempts int, ok bool) {
	ip := net.ParseIP(addr)
	if ip == nil {
		return 0, false
	}
	if s.allowed(ip) {
		return 0, false
	}
	if ttl <= 0 {
		ttl = s.opts.TTL
	}
	if permanent {
		if err := s.store.Set(ctx, permanentKey+ip.String(), "1", 0); err != nil {
			s.log.WithContext(ctx).WithError(err).Error("persist permanent ban")
		}
		ttl = 0
	}
	n, err := s.store.IncrTTL(ctx, attemptsKey+ip.String(), ttl)
	if err != nil {
		s.log.WithContext(ctx).WithError(err).Error("increment ban counter")
		return 0, false
	}
	return int(n), true
}

// Unban removes the record for addr, including a permanent marker.
func (s *Service) Unban(ctx context.Context, addr string) {
	ip := net.ParseIP(addr)
	if ip == nil {
		return
	}
	if err := s.store.Del(ctx, attemptsKey+ip.String()); err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("remove ban counter")
	}
	if err := s.store.Del(ctx, permanentKey+ip.String()); err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("remove permanent marker")
	}
}

// ShouldCount reports whether a response status counts as an attempt.
func (s *Service) ShouldCount(status int) bool {
	return s.trigger[status]
}

// BanStatus returns the status sent to banned clients.
func (s *Service) BanStatus() int { return s.opts.BanStatus }
