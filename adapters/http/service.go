// Package authhttp mounts the phonekit JSON API on net/http.
package authhttp

import (
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/open-rails/phonekit/challenge"
	"github.com/open-rails/phonekit/core"
	memorylimiter "github.com/open-rails/phonekit/ratelimit/memory"
	memorystore "github.com/open-rails/phonekit/storage/memory"
	redisstore "github.com/open-rails/phonekit/storage/redis"
)

// Service wraps core.Service with net/http mounting helpers.
type Service struct {
	svc      *core.Service
	rd       *redis.Client
	rl       RateLimiter
	clientIP ClientIPFunc
}

// NewService wraps a core service for net/http mounting. Defaults: an
// in-memory ephemeral store (dev/single instance) and in-memory per-IP
// rate limits.
func NewService(svc *core.Service) *Service {
	svc = svc.WithEphemeralStore(memorystore.NewKV(), core.EphemeralMemory)
	return &Service{
		svc:      svc,
		rl:       memorylimiter.New(ToMemoryLimits(DefaultRateLimits())),
		clientIP: DefaultClientIP(),
	}
}

func (s *Service) allow(r *http.Request, bucket string) bool {
	if s == nil || s.rl == nil {
		return true
	}
	ipFn := s.clientIP
	if ipFn == nil {
		ipFn = DefaultClientIP()
	}
	ip := ipFn(r)
	if strings.TrimSpace(ip) == "" {
		return true
	}
	key := "auth:" + bucket + ":ip:" + ip
	ok, err := s.rl.AllowNamed(bucket, key)
	if err != nil {
		return true
	}
	return ok
}

func (s *Service) WithPostgres(pg *pgxpool.Pool) *Service { s.svc = s.svc.WithPostgres(pg); return s }

func (s *Service) WithRedis(rd *redis.Client) *Service {
	s.rd = rd
	if rd != nil {
		s.svc = s.svc.WithEphemeralStore(redisstore.NewKV(rd), core.EphemeralRedis)
		s.svc = s.svc.WithChallenges(challenge.NewBroker(redisstore.NewChallengeCache(rd, "", 0), challenge.DefaultParams(), 0))
	}
	return s
}

func (s *Service) WithChallenges(b *challenge.Broker) *Service {
	s.svc = s.svc.WithChallenges(b)
	return s
}

func (s *Service) WithSMSSender(sender core.SMSSender) *Service {
	s.svc = s.svc.WithSMSSender(sender)
	return s
}

func (s *Service) WithEventLogger(l core.EventLogger) *Service {
	s.svc = s.svc.WithEventLogger(l)
	return s
}

func (s *Service) WithRateLimiter(rl RateLimiter) *Service { s.rl = rl; return s }
func (s *Service) DisableRateLimiter() *Service            { s.rl = nil; return s }

func (s *Service) WithClientIPFunc(fn ClientIPFunc) *Service {
	if fn == nil {
		s.clientIP = DefaultClientIP()
		return s
	}
	s.clientIP = fn
	return s
}

func (s *Service) Core() *core.Service { return s.svc }
