package fetch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hitoshi/feedkeeper/internal/model"
)

// Target はキューがフェッチを駆動する対象。*tree.Feedが実装する。
// StartFetchは取得対象のURLを返し、CompleteFetchは結果を反映して、
// ディスカバリによる再試行が必要な場合のみ代替URLを返す。
type Target interface {
	StartFetch(ctx context.Context, followDiscovery bool) string
	CompleteFetch(ctx context.Context, res *Result) (retryURL string)
}

// defaultConcurrentFetches は同時フェッチ数の既定値。
const defaultConcurrentFetches = 6

// Queue はフィードの取得順序を制御する有界フェッチキュー。
//
// 状態は待機列（FIFO）と実行中集合の2つで、1つのフィードは高々どちらか
// 一方にだけ属する。待機列からの昇格、完了の反映、中断はすべてRunの
// ゴルーチン上で逐次処理され、Targetのメソッドもそこからのみ呼び出される。
// HTTP取得だけがワーカーゴルーチンで並行実行される。
type Queue struct {
	loader Loader
	logger *slog.Logger
	limit  int

	// OnStarted は空のキューに最初のフィードが入ったときに呼ばれる。
	// OnStopped はキューが空になったとき、および中断時に呼ばれる。
	// どちらもRunのゴルーチン上で呼ばれる。Runの開始前に設定すること。
	OnStarted func()
	OnStopped func()

	// Locker はTargetの呼び出しを他ゴルーチンのツリーアクセスと直列化する
	// 占有ロック。Runの開始前に設定すること。nilの場合はロックしない。
	// ロック保持中にAddFeed/Abort/RemoveNodeを呼ぶとデッドロックする。
	Locker sync.Locker

	cmds    chan queueCommand
	results chan completion

	// 以下はRunのゴルーチンのみが触る。
	queued   []queueEntry
	fetching map[Target]context.CancelFunc
}

type queueEntry struct {
	target Target
	follow bool
}

type completion struct {
	target Target
	res    *Result
}

type queueOp int

const (
	opAdd queueOp = iota
	opAbort
	opRemove
)

type queueCommand struct {
	op     queueOp
	target Target
	follow bool
}

// NewQueue はQueueの新しいインスタンスを生成する。
// limitが0以下の場合は既定の同時フェッチ数を使用する。
func NewQueue(loader Loader, limit int, logger *slog.Logger) *Queue {
	if limit <= 0 {
		limit = defaultConcurrentFetches
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		loader:   loader,
		logger:   logger,
		limit:    limit,
		cmds:     make(chan queueCommand),
		results:  make(chan completion, limit*2),
		fetching: make(map[Target]context.CancelFunc),
	}
}

// AddFeed はフィードをキューに追加する。
// 既に待機中または実行中のフィードは黙って無視される（冪等）。
func (q *Queue) AddFeed(t Target, followDiscovery bool) {
	q.cmds <- queueCommand{op: opAdd, target: t, follow: followDiscovery}
}

// Abort は待機列を破棄し、実行中の全フェッチを中断する。
func (q *Queue) Abort() {
	q.cmds <- queueCommand{op: opAbort}
}

// RemoveNode はフィードを完了処理の副作用なしにキューから取り除く。
// ノード破棄時に呼ばれる。
func (q *Queue) RemoveNode(t Target) {
	q.cmds <- queueCommand{op: opRemove, target: t}
}

// Run はコマンドと完了結果を処理するディスパッチループ。
// コンテキストのキャンセルで実行中のフェッチを中断して戻る。
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			unlock := q.lock()
			q.abortAll(context.Background())
			unlock()
			return
		case cmd := <-q.cmds:
			unlock := q.lock()
			switch cmd.op {
			case opAdd:
				q.add(ctx, cmd.target, cmd.follow)
			case opAbort:
				q.abortAll(ctx)
			case opRemove:
				q.remove(ctx, cmd.target)
			}
			unlock()
		case c := <-q.results:
			unlock := q.lock()
			q.complete(ctx, c)
			unlock()
		}
	}
}

// lock はLockerを取得し、解放関数を返す。未設定なら何もしない。
func (q *Queue) lock() func() {
	if q.Locker == nil {
		return func() {}
	}
	q.Locker.Lock()
	return q.Locker.Unlock
}

func (q *Queue) isEmpty() bool {
	return len(q.queued) == 0 && len(q.fetching) == 0
}

func (q *Queue) contains(t Target) bool {
	if _, ok := q.fetching[t]; ok {
		return true
	}
	for _, e := range q.queued {
		if e.target == t {
			return true
		}
	}
	return false
}

func (q *Queue) add(ctx context.Context, t Target, follow bool) {
	if q.contains(t) {
		return
	}
	wasIdle := q.isEmpty()
	q.queued = append(q.queued, queueEntry{target: t, follow: follow})
	q.promote(ctx)
	if wasIdle && q.OnStarted != nil {
		q.OnStarted()
	}
}

// promote は実行中の空きがある限り待機列の先頭から順に昇格する。
func (q *Queue) promote(ctx context.Context) {
	for len(q.fetching) < q.limit && len(q.queued) > 0 {
		e := q.queued[0]
		q.queued = q.queued[1:]
		url := e.target.StartFetch(ctx, e.follow)
		q.dispatch(ctx, e.target, url)
	}
}

// dispatch はワーカーゴルーチンでHTTP取得を開始する。
func (q *Queue) dispatch(ctx context.Context, t Target, url string) {
	fctx, cancel := context.WithCancel(ctx)
	q.fetching[t] = cancel
	go func() {
		res := q.loader.Load(fctx, url)
		cancel()
		q.results <- completion{target: t, res: res}
	}()
}

// complete はワーカーからの結果を反映する。
// ディスカバリの再試行が要求された場合は同じ実行スロットで再取得する。
func (q *Queue) complete(ctx context.Context, c completion) {
	if _, ok := q.fetching[c.target]; !ok {
		// 中断または除去済みのフィードの遅延結果は破棄する
		return
	}
	delete(q.fetching, c.target)

	if retryURL := c.target.CompleteFetch(ctx, c.res); retryURL != "" {
		q.dispatch(ctx, c.target, retryURL)
		return
	}

	q.promote(ctx)
	if q.isEmpty() && q.OnStopped != nil {
		q.OnStopped()
	}
}

// abortAll は待機列を破棄し、実行中の全フェッチを中断として完了させる。
// キューの中断は状態に関わらず必ず停止を通知する。
func (q *Queue) abortAll(ctx context.Context) {
	q.queued = nil
	for t, cancel := range q.fetching {
		cancel()
		delete(q.fetching, t)
		t.CompleteFetch(ctx, &Result{ErrorCode: model.FetchErrorAborted})
	}
	if q.OnStopped != nil {
		q.OnStopped()
	}
}

// remove はフィードを両方の列から取り除く。完了通知は行わない。
func (q *Queue) remove(ctx context.Context, t Target) {
	for i, e := range q.queued {
		if e.target == t {
			q.queued = append(q.queued[:i], q.queued[i+1:]...)
			break
		}
	}
	if cancel, ok := q.fetching[t]; ok {
		cancel()
		delete(q.fetching, t)
	}
	q.promote(ctx)
	if q.isEmpty() && q.OnStopped != nil {
		q.OnStopped()
	}
}
