package driver

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Work 处理一条任务。返回的 Result 不需要填 Key/Ok/Error，池会补。
type Work func(ctx context.Context, item Item) (Result, error)

// Pool 是驱动器的执行核心: 有界并发 + 逐项重试 + ndjson 输出。
type Pool struct {
	Concurrency int
	Retries     int
	Markers     *Markers // 可以为 nil
	Logger      *zap.Logger
	Out         io.Writer

	mu        sync.Mutex
	processed atomic.Int64
	failed    atomic.Int64
}

// Run 把 items 里的每条任务交给 work，全部跑完后返回。
// 单项失败只计数不终止；返回错误仅当输入流本身坏掉或 ctx 取消。
func (p *Pool) Run(ctx context.Context, args []string, stdin io.Reader, work Work) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.Concurrency)

	err := ReadItems(args, stdin, func(item Item) error {
		// 输入泵在池满时阻塞在这里，天然的背压
		g.Go(func() error {
			p.runOne(gctx, item, work)
			return nil
		})
		// ctx 取消时停止继续读清单
		return gctx.Err()
	})

	werr := g.Wait()

	p.Logger.Info("batch finished",
		zap.Int64("processed", p.processed.Load()),
		zap.Int64("failed", p.failed.Load()),
	)

	if err != nil {
		return err
	}
	return werr
}

func (p *Pool) runOne(ctx context.Context, item Item, work Work) {
	if p.Markers != nil && p.Markers.Done(ctx, item.Key) {
		p.emit(Result{Key: item.Key, Ok: true, Skipped: true})
		return
	}

	var res Result
	op := func() error {
		var err error
		res, err = work(ctx, item)
		return err
	}

	// 指数退避，上限 30s 一跳；Retries 是重试次数，总尝试 = Retries+1
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 30 * time.Second
	err := backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(p.Retries)), ctx))

	p.processed.Add(1)

	if err != nil {
		p.failed.Add(1)
		if p.Markers != nil {
			p.Markers.RecordFailure(ctx, item, err.Error())
		}
		p.Logger.Warn("item failed", zap.String("key", item.Key), zap.Error(err))
		p.emit(Result{Key: item.Key, Ok: false, Error: err.Error()})
		return
	}

	if p.Markers != nil {
		p.Markers.MarkDone(ctx, item.Key)
	}
	res.Key = item.Key
	res.Ok = true
	p.emit(res)
}

// emit 序列化一行结果。多个 worker 并发写 stdout，必须串行化。
func (p *Pool) emit(res Result) {
	line, err := json.Marshal(res)
	if err != nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Out.Write(append(line, '\n'))
}
