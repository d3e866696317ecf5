package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/feedkeeper/internal/config"
	"github.com/hitoshi/feedkeeper/internal/database"
	"github.com/hitoshi/feedkeeper/internal/fetch"
	"github.com/hitoshi/feedkeeper/internal/handler"
	"github.com/hitoshi/feedkeeper/internal/jobs"
	"github.com/hitoshi/feedkeeper/internal/logger"
	"github.com/hitoshi/feedkeeper/internal/metrics"
	"github.com/hitoshi/feedkeeper/internal/model"
	"github.com/hitoshi/feedkeeper/internal/opml"
	"github.com/hitoshi/feedkeeper/internal/security"
	"github.com/hitoshi/feedkeeper/internal/storage"
	"github.com/hitoshi/feedkeeper/internal/storage/postgres"
	"github.com/hitoshi/feedkeeper/internal/tree"
)

// persistInterval はフィードリストの変更を永続化する間隔。
const persistInterval = time.Minute

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	logger.SetupDefault(w)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗しました: %w", err)
	}
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("初期化に失敗しました: %w", err)
	}

	slog.Info("アプリケーションを起動します",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// openStorage は設定に応じたストレージバックエンドを開く。
// DATABASE_URLが空の場合はインメモリバックエンドを使用する。
func openStorage(cfg *config.Config) (storage.Storage, error) {
	if cfg.DatabaseURL == "" {
		slog.Info("DATABASE_URL未設定のためインメモリストレージで起動します")
		return storage.NewMemory(), nil
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("データベース接続のオープンに失敗しました: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("データベースへの接続に失敗しました: %w", err)
	}

	slog.Info("データベース接続を確立しました")
	return postgres.NewStore(db), nil
}

// settingsFromConfig は環境変数設定からツリーの全体設定を構築する。
func settingsFromConfig(cfg *config.Config) *tree.Settings {
	return &tree.Settings{
		DefaultArchiveMode:      model.ParseArchiveMode(cfg.ArchiveMode),
		DefaultMaxArticleAge:    cfg.ArchiveMaxArticleAge,
		DefaultMaxArticleNumber: cfg.ArchiveMaxArticleNumber,
		DoNotExpireImportant:    cfg.ArchiveKeepImportant,
		ConcurrentFetches:       cfg.FetchMaxConcurrent,
	}
}

// loadFeedList はストレージに保存されたOPMLからフィードリストを復元する。
// 保存されたOPMLがない場合は空のリストを返す。
func loadFeedList(ctx context.Context, store storage.Storage, settings *tree.Settings) (*tree.FeedList, error) {
	stored, err := store.RestoreFeedList(ctx)
	if err != nil {
		return nil, fmt.Errorf("フィードリストの復元に失敗しました: %w", err)
	}
	if stored == "" {
		return tree.NewFeedList(store, settings, slog.Default()), nil
	}

	doc, err := opml.ParseString(stored)
	if err != nil {
		return nil, fmt.Errorf("保存されたOPMLの解析に失敗しました: %w", err)
	}

	list := tree.NewFeedListFromOPML(doc, store, settings, slog.Default())
	slog.Info("フィードリストを復元しました", slog.Int("feed_count", len(list.AllFeeds())))
	return list, nil
}

// persistFeedList はフィードリストをOPMLとしてストレージへ保存する。
// 呼び出し側が占有ロックを保持していること。
func persistFeedList(ctx context.Context, list *tree.FeedList) error {
	data, err := opml.Format(list.ToOPML())
	if err != nil {
		return fmt.Errorf("OPMLの生成に失敗しました: %w", err)
	}
	if err := list.Storage().StoreFeedList(ctx, string(data)); err != nil {
		return fmt.Errorf("フィードリストの保存に失敗しました: %w", err)
	}
	return nil
}

// metricsObserver はツリーのイベントをPrometheusメトリクスへ橋渡しする
// Observerを構築する。コールバックは占有ロック保持中に呼ばれるため、
// フェッチ開始時刻の記録に追加のロックは不要。
func metricsObserver(c metrics.MetricsCollector) *tree.Observer {
	started := make(map[*tree.Feed]time.Time)
	return &tree.Observer{
		FetchStarted: func(f *tree.Feed) {
			started[f] = time.Now()
		},
		Fetched: func(f *tree.Feed) {
			if t, ok := started[f]; ok {
				c.RecordFetchLatency(time.Since(t))
				delete(started, f)
			}
			c.RecordFetchSuccess()
		},
		FetchError: func(f *tree.Feed) {
			delete(started, f)
			c.RecordFetchError(f.FetchErrorCode().String())
		},
		FetchAborted: func(f *tree.Feed) {
			delete(started, f)
		},
		ArticlesAdded: func(_ *tree.Feed, ids []model.ArticleID) {
			c.RecordArticlesNew(len(ids))
		},
		ArticlesUpdated: func(_ *tree.Feed, ids []model.ArticleID) {
			c.RecordArticlesUpdated(len(ids))
		},
		ArticlesRemoved: func(_ *tree.Feed, ids []model.ArticleID) {
			c.RecordArticlesExpired(len(ids))
		},
		UnreadCountChanged: func(total int) {
			c.SetTotalUnread(total)
		},
	}
}

// dirtyObserver はツリーの構造変更を検知して永続化フラグを立てる
// Observerを構築する。
func dirtyObserver(dirty *atomic.Bool) *tree.Observer {
	mark := func(tree.Node) { dirty.Store(true) }
	return &tree.Observer{
		NodeAdded:   mark,
		NodeRemoved: mark,
		NodeChanged: mark,
	}
}

// core は両起動モードで共有されるワイヤリング済みの一式。
type core struct {
	store storage.Storage
	list  *tree.FeedList
	queue *fetch.Queue
	guard security.URLGuard
	mu    *sync.Mutex
	dirty *atomic.Bool
	reg   *prometheus.Registry
}

// buildCore はストレージ・フィードリスト・フェッチキューを配線する。
func buildCore(ctx context.Context, cfg *config.Config) (*core, error) {
	store, err := openStorage(cfg)
	if err != nil {
		return nil, err
	}

	list, err := loadFeedList(ctx, store, settingsFromConfig(cfg))
	if err != nil {
		store.Close()
		return nil, err
	}

	mu := &sync.Mutex{}
	dirty := &atomic.Bool{}
	reg := prometheus.NewRegistry()

	list.AddObserver(metricsObserver(metrics.NewCollector(reg)))
	list.AddObserver(dirtyObserver(dirty))

	guard := security.NewURLGuard()
	loader := fetch.NewHTTPLoader(guard, security.NewHTMLSanitizer(), slog.Default())
	loader.SetTimeout(cfg.FetchTimeout)
	loader.SetMaxBodySize(cfg.FetchMaxSize)

	queue := fetch.NewQueue(loader, cfg.FetchMaxConcurrent, slog.Default())
	queue.Locker = mu

	return &core{
		store: store,
		list:  list,
		queue: queue,
		guard: guard,
		mu:    mu,
		dirty: dirty,
		reg:   reg,
	}, nil
}

// enqueueAll は全フィードをフェッチキューへ投入する。
func (c *core) enqueueAll() {
	c.mu.Lock()
	feeds := c.list.AllFeeds()
	c.mu.Unlock()

	for _, f := range feeds {
		c.queue.AddFeed(f, false)
	}
	slog.Info("定期フェッチを投入しました", slog.Int("feed_count", len(feeds)))
}

// runFetchLoop は起動直後と一定間隔ごとに全フィードのフェッチを投入する。
func (c *core) runFetchLoop(ctx context.Context, interval time.Duration) {
	c.enqueueAll()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.enqueueAll()
		}
	}
}

// runExpiryLoop は一定間隔ごとに全フィードへ期限切れ削除ポリシーを適用する。
func (c *core) runExpiryLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cmd := jobs.NewExpireItemsCommand(c.list, nil, c.mu, slog.Default())
			if err := <-cmd.Start(ctx); err != nil {
				slog.Error("期限切れ削除に失敗しました", slog.String("error", err.Error()))
			}
		}
	}
}

// runPersistLoop は構造変更があった場合にフィードリストを定期保存する。
func (c *core) runPersistLoop(ctx context.Context) {
	ticker := time.NewTicker(persistInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.dirty.Swap(false) {
				continue
			}
			c.mu.Lock()
			err := persistFeedList(ctx, c.list)
			c.mu.Unlock()
			if err != nil {
				slog.Error("フィードリストの定期保存に失敗しました", slog.String("error", err.Error()))
				c.dirty.Store(true)
			}
		}
	}
}

// shutdown はフィードリストを最終保存してストレージを閉じる。
func (c *core) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c.mu.Lock()
	err := persistFeedList(ctx, c.list)
	c.mu.Unlock()
	if err != nil {
		slog.Error("フィードリストの最終保存に失敗しました", slog.String("error", err.Error()))
	}

	if err := c.store.Close(); err != nil {
		slog.Error("ストレージのクローズに失敗しました", slog.String("error", err.Error()))
	}
}

// runServe はAPIサーバーモードで起動する。
// 管理APIと定期フェッチ・期限切れ削除ループを1プロセスで実行し、
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := buildCore(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.shutdown()

	go c.queue.Run(ctx)
	go c.runFetchLoop(ctx, cfg.FetchInterval)
	go c.runExpiryLoop(ctx, cfg.ExpiryInterval)
	go c.runPersistLoop(ctx)

	router := handler.NewRouter(&handler.Deps{
		List:           c.list,
		Queue:          c.queue,
		Guard:          c.guard,
		Logger:         slog.Default(),
		Mu:             c.mu,
		MetricsHandler: metrics.Handler(c.reg),
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("APIサーバーを起動します", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("サーバーの待ち受けに失敗しました", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("APIサーバーをシャットダウンします")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("サーバーのシャットダウンに失敗しました: %w", err)
	}

	// フェッチキューを中断してワーカーの終了を待たせる
	cancel()

	slog.Info("APIサーバーを停止しました")
	return nil
}

// runWorker はワーカーモードで起動する。
// 管理APIを持たず、定期フェッチと期限切れ削除ループのみを実行する。
func runWorker(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := buildCore(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.shutdown()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("ワーカーをシャットダウンします")
		cancel()
	}()

	slog.Info("ワーカーを起動します",
		slog.Duration("fetch_interval", cfg.FetchInterval),
		slog.Duration("expiry_interval", cfg.ExpiryInterval),
		slog.Int("max_concurrent", cfg.FetchMaxConcurrent),
	)

	go c.queue.Run(ctx)
	go c.runExpiryLoop(ctx, cfg.ExpiryInterval)
	go c.runPersistLoop(ctx)

	// フェッチループをメインゴルーチンで実行（ブロッキング）
	c.runFetchLoop(ctx, cfg.FetchInterval)

	slog.Info("ワーカーを停止しました")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("migrateにはDATABASE_URLの設定が必要です")
	}

	slog.Info("データベースマイグレーションを実行します",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("マイグレーションに失敗しました: %w", err)
	}

	slog.Info("データベースマイグレーションが完了しました")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/healthz", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("ヘルスチェックに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ヘルスチェックがステータス%dを返しました", resp.StatusCode)
	}
	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
