package services

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"applypilot/config"
)

// CaptchaGuard keeps paid solving inside its limits: a rolling hourly
// attempt cap, a daily spend budget, and a short-lived token cache so a
// solved captcha is not paid for twice.
type CaptchaGuard struct {
	rdb         *redis.Client
	hourlyLimit int
	dailyBudget float64
	tokenTTL    time.Duration
}

func NewCaptchaGuard(rdb *redis.Client, cfg config.CaptchaConfig) *CaptchaGuard {
	return &CaptchaGuard{
		rdb:         rdb,
		hourlyLimit: cfg.HourlyAttempts,
		dailyBudget: cfg.DailyBudgetUSD,
		tokenTTL:    time.Duration(cfg.TokenCacheSecs) * time.Second,
	}
}

func (g *CaptchaGuard) hourKey() string {
	return "captcha:attempts:" + time.Now().UTC().Format("2006010215")
}

func (g *CaptchaGuard) dayKey() string {
	return "captcha:spend:" + time.Now().UTC().Format("20060102")
}

func tokenKey(siteKey, pageURL string) string {
	sum := md5.Sum([]byte(siteKey + "|" + pageURL))
	return "captcha:token:" + hex.EncodeToString(sum[:])
}

// AllowAttempt consumes one slot from the hourly allowance. When the
// cap is hit the caller escalates to a human instead of burning money.
func (g *CaptchaGuard) AllowAttempt(ctx context.Context) (bool, error) {
	key := g.hourKey()

	count, err := g.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("could not track captcha attempts: %v", err)
	}
	if count == 1 {
		g.rdb.Expire(ctx, key, 2*time.Hour)
	}

	return count <= int64(g.hourlyLimit), nil
}

// CanSpend reports whether the daily budget still covers the cost.
func (g *CaptchaGuard) CanSpend(ctx context.Context, cost float64) (bool, error) {
	spent, err := g.spentToday(ctx)
	if err != nil {
		return false, err
	}
	return spent+cost <= g.dailyBudget, nil
}

// RecordSpend adds a completed solve's cost to today's total.
func (g *CaptchaGuard) RecordSpend(ctx context.Context, cost float64) error {
	key := g.dayKey()

	if err := g.rdb.IncrByFloat(ctx, key, cost).Err(); err != nil {
		return fmt.Errorf("could not record captcha spend: %v", err)
	}
	g.rdb.Expire(ctx, key, 48*time.Hour)
	return nil
}

// BudgetRemaining returns the unspent part of today's budget.
func (g *CaptchaGuard) BudgetRemaining(ctx context.Context) (float64, error) {
	spent, err := g.spentToday(ctx)
	if err != nil {
		return 0, err
	}
	remaining := g.dailyBudget - spent
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func (g *CaptchaGuard) spentToday(ctx context.Context) (float64, error) {
	value, err := g.rdb.Get(ctx, g.dayKey()).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("could not read captcha spend: %v", err)
	}

	spent, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt captcha spend value %q: %v", value, err)
	}
	return spent, nil
}

// CacheToken keeps a freshly solved token around briefly. Recaptcha
// tokens die after about two minutes, so the TTL stays under that.
func (g *CaptchaGuard) CacheToken(ctx context.Context, siteKey, pageURL, token string) error {
	if err := g.rdb.Set(ctx, tokenKey(siteKey, pageURL), token, g.tokenTTL).Err(); err != nil {
		return fmt.Errorf("could not cache captcha token: %v", err)
	}
	return nil
}

// CachedToken fetches a still-valid token for the same site key and
// page, if one exists.
func (g *CaptchaGuard) CachedToken(ctx context.Context, siteKey, pageURL string) (string, bool, error) {
	token, err := g.rdb.Get(ctx, tokenKey(siteKey, pageURL)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("could not read cached captcha token: %v", err)
	}
	return token, true, nil
}
