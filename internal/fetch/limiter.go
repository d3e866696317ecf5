package fetch

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// hostLimiter はフェッチ先ホスト単位のレートリミッタ。
// 同一ホストに多数のフィードが載っている場合でも、リクエストが
// 集中しないように送信レートを平準化する。
type hostLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	limit rate.Limit
	burst int
}

func newHostLimiter(limit rate.Limit, burst int) *hostLimiter {
	return &hostLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

// Wait は指定ホストへの送信許可が出るまでブロックする。
// コンテキストのキャンセルで中断された場合はそのエラーを返す。
func (h *hostLimiter) Wait(ctx context.Context, host string) error {
	h.mu.Lock()
	lim, ok := h.limiters[host]
	if !ok {
		lim = rate.NewLimiter(h.limit, h.burst)
		h.limiters[host] = lim
	}
	h.mu.Unlock()

	return lim.Wait(ctx)
}
