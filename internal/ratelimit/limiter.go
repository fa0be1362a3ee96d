package ratelimit

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Bucket classes consumed by the authority client. Each operation takes
// one token from the global bucket plus one from its own class.
const (
	BucketGlobal   = "global"
	BucketUpload   = "upload"
	BucketList     = "lista"
	BucketPoll     = "stare"
	BucketDownload = "descarcare"
)

// Store is the counter backend. *database.Redis satisfies it.
type Store interface {
	Incr(key string) (int64, error)
	Expire(key string, ttl time.Duration) error
	TTL(key string) (time.Duration, error)
}

// Policy is one bucket's budget: Limit tokens per rolling Window.
type Policy struct {
	Limit  int64
	Window time.Duration
}

// Policies groups the per-class budgets.
type Policies struct {
	Global   Policy
	Upload   Policy
	List     Policy
	Poll     Policy
	Download Policy
}

// DefaultPolicies mirrors the authority's published quotas with headroom.
func DefaultPolicies() Policies {
	return Policies{
		Global:   Policy{Limit: 50, Window: time.Minute},
		Upload:   Policy{Limit: 30, Window: time.Minute},
		List:     Policy{Limit: 10, Window: time.Minute},
		Poll:     Policy{Limit: 20, Window: time.Minute},
		Download: Policy{Limit: 30, Window: time.Minute},
	}
}

// Error reports an exhausted bucket. Callers never retry inline; they
// surface RetryAfter to their own scheduling layer.
type Error struct {
	Bucket     string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("rate limit exceeded for bucket %s, retry after %s", e.Bucket, e.RetryAfter)
}

// RetryAfterSeconds is RetryAfter in whole seconds, never below 1.
func (e *Error) RetryAfterSeconds() int {
	s := int(e.RetryAfter / time.Second)
	if s < 1 {
		return 1
	}
	return s
}

// Limiter enforces the authority call budgets over a shared counter store,
// safe for concurrent tenant runs.
type Limiter struct {
	store    Store
	policies Policies
	logger   *logrus.Logger
}

// NewLimiter builds a limiter over the given counter store.
func NewLimiter(store Store, policies Policies, logger *logrus.Logger) *Limiter {
	return &Limiter{store: store, policies: policies, logger: logger}
}

// ConsumeUpload takes tokens for one document upload.
func (l *Limiter) ConsumeUpload() error {
	return l.consumePair(BucketUpload, "", l.policies.Upload)
}

// ConsumeList takes tokens for one inbox listing of the given tenant.
func (l *Limiter) ConsumeList(cif string) error {
	return l.consumePair(BucketList, cif, l.policies.List)
}

// ConsumePoll takes tokens for one status check of the given upload.
func (l *Limiter) ConsumePoll(uploadID string) error {
	return l.consumePair(BucketPoll, uploadID, l.policies.Poll)
}

// ConsumeDownload takes tokens for one message download.
func (l *Limiter) ConsumeDownload(messageID string) error {
	return l.consumePair(BucketDownload, messageID, l.policies.Download)
}

func (l *Limiter) consumePair(class, resource string, policy Policy) error {
	if err := l.consume(BucketGlobal, l.policies.Global); err != nil {
		return err
	}

	bucket := class
	if resource != "" {
		bucket = class + ":" + resource
	}
	return l.consume(bucket, policy)
}

func (l *Limiter) consume(bucket string, policy Policy) error {
	key := "ratelimit:" + bucket

	count, err := l.store.Incr(key)
	if err != nil {
		// A broken counter store must not block authority traffic.
		l.logger.WithError(err).WithField("bucket", bucket).Warn("Rate limit store unavailable, allowing call")
		return nil
	}

	if count == 1 {
		if err := l.store.Expire(key, policy.Window); err != nil {
			l.logger.WithError(err).WithField("bucket", bucket).Warn("Could not set rate limit window")
		}
	}

	if count > policy.Limit {
		retryAfter, err := l.store.TTL(key)
		if err != nil || retryAfter <= 0 {
			retryAfter = policy.Window
		}
		l.logger.WithFields(logrus.Fields{
			"bucket":      bucket,
			"count":       count,
			"limit":       policy.Limit,
			"retry_after": retryAfter,
		}).Warn("Rate limit exceeded")
		return &Error{Bucket: bucket, RetryAfter: retryAfter}
	}

	return nil
}
