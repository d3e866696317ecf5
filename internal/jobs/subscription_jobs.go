package jobs

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hitoshi/feedkeeper/internal/model"
	"github.com/hitoshi/feedkeeper/internal/tree"
)

// MoveSubscriptionJob はノードを別フォルダ配下へ移動する。
// フォルダを自分自身のサブツリーへ移動しようとした場合はエラーになる。
type MoveSubscriptionJob struct {
	base
	list   *tree.FeedList
	nodeID uint32
	destID uint32
	// afterID は移動先での挿入位置（この子ノードの直後）。0なら末尾。
	afterID uint32
}

// NewMoveSubscriptionJob はMoveSubscriptionJobの新しいインスタンスを生成する。
func NewMoveSubscriptionJob(list *tree.FeedList, nodeID, destID, afterID uint32, mu sync.Locker, logger *slog.Logger) *MoveSubscriptionJob {
	return &MoveSubscriptionJob{
		base:    newBase(mu, logger),
		list:    list,
		nodeID:  nodeID,
		destID:  destID,
		afterID: afterID,
	}
}

// Start はジョブを開始し、完了チャネルを返す。
func (j *MoveSubscriptionJob) Start(ctx context.Context) <-chan error {
	return start(ctx, j.run)
}

func (j *MoveSubscriptionJob) run(ctx context.Context) error {
	defer j.lock()()

	n := j.list.FindByID(j.nodeID)
	if n == nil {
		// 移動対象がすでに消えている場合は何もしない
		j.logger.Info("移動対象のノードが見つからないためスキップします",
			slog.String("job_id", j.id.String()),
			slog.Uint64("node_id", uint64(j.nodeID)),
		)
		return nil
	}

	d := j.list.FindByID(j.destID)
	if d == nil {
		return model.NewNodeNotFoundError(j.destID)
	}
	dest, ok := d.(*tree.Folder)
	if !ok {
		return model.NewNodeNotFoundError(j.destID)
	}

	if n == tree.Node(dest) {
		return model.NewCyclicMoveError()
	}
	if sub, ok := n.(*tree.Folder); ok && sub.SubtreeContains(dest) {
		return model.NewCyclicMoveError()
	}

	if parent := n.Parent(); parent != nil {
		parent.RemoveChild(n)
	}

	pos := len(dest.Children())
	if j.afterID != 0 {
		for i, c := range dest.Children() {
			if c.ID() == j.afterID {
				pos = i + 1
				break
			}
		}
	}
	dest.InsertChild(pos, n)

	j.logger.Info("購読を移動しました",
		slog.String("job_id", j.id.String()),
		slog.Uint64("node_id", uint64(j.nodeID)),
		slog.Uint64("dest_id", uint64(j.destID)),
	)
	return nil
}

// RenameSubscriptionJob はノードの表示タイトルを変更する。
type RenameSubscriptionJob struct {
	base
	list     *tree.FeedList
	nodeID   uint32
	newTitle string
}

// NewRenameSubscriptionJob はRenameSubscriptionJobの新しいインスタンスを生成する。
func NewRenameSubscriptionJob(list *tree.FeedList, nodeID uint32, newTitle string, mu sync.Locker, logger *slog.Logger) *RenameSubscriptionJob {
	return &RenameSubscriptionJob{
		base:     newBase(mu, logger),
		list:     list,
		nodeID:   nodeID,
		newTitle: newTitle,
	}
}

// Start はジョブを開始し、完了チャネルを返す。
func (j *RenameSubscriptionJob) Start(ctx context.Context) <-chan error {
	return start(ctx, j.run)
}

func (j *RenameSubscriptionJob) run(ctx context.Context) error {
	defer j.lock()()

	n := j.list.FindByID(j.nodeID)
	if n == nil {
		j.logger.Info("改名対象のノードが見つからないためスキップします",
			slog.String("job_id", j.id.String()),
			slog.Uint64("node_id", uint64(j.nodeID)),
		)
		return nil
	}
	n.SetTitle(j.newTitle)
	return nil
}

// DeleteSubscriptionJob はノードをツリーから削除する。
// フィードの場合はアーカイブの行は残り、購読のみが解除される。
type DeleteSubscriptionJob struct {
	base
	list   *tree.FeedList
	nodeID uint32
}

// NewDeleteSubscriptionJob はDeleteSubscriptionJobの新しいインスタンスを生成する。
func NewDeleteSubscriptionJob(list *tree.FeedList, nodeID uint32, mu sync.Locker, logger *slog.Logger) *DeleteSubscriptionJob {
	return &DeleteSubscriptionJob{base: newBase(mu, logger), list: list, nodeID: nodeID}
}

// Start はジョブを開始し、完了チャネルを返す。
func (j *DeleteSubscriptionJob) Start(ctx context.Context) <-chan error {
	return start(ctx, j.run)
}

func (j *DeleteSubscriptionJob) run(ctx context.Context) error {
	defer j.lock()()

	n := j.list.FindByID(j.nodeID)
	if n == nil {
		j.logger.Info("削除対象のノードが見つからないためスキップします",
			slog.String("job_id", j.id.String()),
			slog.Uint64("node_id", uint64(j.nodeID)),
		)
		return nil
	}

	parent := n.Parent()
	if parent == nil {
		// ルートフォルダは削除できない
		j.logger.Warn("ルートフォルダの削除要求を無視します",
			slog.String("job_id", j.id.String()),
		)
		return nil
	}

	parent.RemoveChild(n)
	j.logger.Info("購読を削除しました",
		slog.String("job_id", j.id.String()),
		slog.Uint64("node_id", uint64(j.nodeID)),
	)
	return nil
}
