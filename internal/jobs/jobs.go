// Package jobs はフィードリストに対する1回限りの非同期ミューテーション単位を提供する。
//
// 各ジョブのStartは完了チャネルを返し、実処理は同期的なrun関数として
// 記述される。ツリーはゴルーチン拘束されているため、ジョブは共有の
// 占有ロック（sync.Locker）を取得してから木に触れる。記事を変更する
// ジョブは対象フィードの通知モードを一時停止し、終了時にまとめて
// フラッシュさせる。対象がすでに消えていた場合は記録して成功扱いとする。
package jobs

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// base はジョブ共通の識別情報と占有ロックの取得を提供する。
// idはログ相関用で、ジョブ生成時に採番される。
type base struct {
	id     uuid.UUID
	mu     sync.Locker
	logger *slog.Logger
}

func newBase(mu sync.Locker, logger *slog.Logger) base {
	if logger == nil {
		logger = slog.Default()
	}
	return base{id: uuid.New(), mu: mu, logger: logger}
}

// ID はログ相関用のジョブIDを返す。
func (b *base) ID() uuid.UUID { return b.id }

// lock は占有ロックを取得し、解放関数を返す。ロック未設定なら何もしない。
func (b *base) lock() func() {
	if b.mu == nil {
		return func() {}
	}
	b.mu.Lock()
	return b.mu.Unlock
}

// start はrunを別ゴルーチンで実行し、完了チャネルを返す。
// チャネルにはrunの戻り値が1回だけ送られる。
func start(ctx context.Context, run func(ctx context.Context) error) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- run(ctx)
	}()
	return done
}
