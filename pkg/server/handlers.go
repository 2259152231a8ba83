package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"carmover/pkg/copier"
	"carmover/pkg/hasher"
	"carmover/pkg/reindexer"
	"carmover/pkg/storage"
	"carmover/pkg/types"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// 源端输入的准入规则。范围外的请求直接 400，
// 避免 worker 被当成任意 bucket 的代理用。
var allowedRegions = map[string]bool{
	"us-east-2": true,
	"us-west-2": true,
}

const (
	allowedBucketPrefix = "dotstorage"
	requiredKeySuffix   = ".car"
)

// parseObjectRef 从 query 参数构造源端 ObjectRef 并做校验。
func parseObjectRef(c *gin.Context) (types.ObjectRef, error) {
	region := c.Query("region")
	bucket := c.Query("bucket")
	key := c.Query("key")

	if !allowedRegions[region] {
		return types.ObjectRef{}, fmt.Errorf("invalid region %q", region)
	}
	if !strings.HasPrefix(bucket, allowedBucketPrefix) {
		return types.ObjectRef{}, fmt.Errorf("invalid bucket %q", bucket)
	}
	if !strings.HasSuffix(key, requiredKeySuffix) {
		return types.ObjectRef{}, fmt.Errorf("invalid key %q", key)
	}

	return types.ObjectRef{Region: region, Bucket: bucket, Key: key}, nil
}

// parseShardRef 在 ObjectRef 之上再要求一个 shard cid。
func parseShardRef(c *gin.Context) (types.ShardRef, error) {
	ref, err := parseObjectRef(c)
	if err != nil {
		return types.ShardRef{}, err
	}
	shard, err := types.ParseShardCID(c.Query("shard"))
	if err != nil {
		return types.ShardRef{}, err
	}
	return types.ShardRef{ObjectRef: ref, CID: shard}, nil
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
}

// fail 把 worker 返回的错误映射到 HTTP 状态。
// 404 只给明确的 NotFound；完整性失败和上游错误都是 500。
func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, storage.ErrNotFound) {
		status = http.StatusNotFound
	}

	s.app.Logger.Warn("operation failed",
		zap.String("path", c.Request.URL.Path),
		zap.Int("status", status),
		zap.Error(err),
	)
	c.JSON(status, gin.H{"ok": false, "error": err.Error()})
}

func (s *Server) handleHash(c *gin.Context) {
	ref, err := parseObjectRef(c)
	if err != nil {
		badRequest(c, err)
		return
	}

	src, err := s.app.SourceStore(c.Request.Context(), ref)
	if err != nil {
		s.fail(c, err)
		return
	}

	res, err := hasher.Hash(c.Request.Context(), src, ref)
	if err != nil {
		s.fail(c, err)
		return
	}

	// cid 用 DAG-JSON 的链接形式 {"/": "<cid>"} 表示
	c.JSON(http.StatusOK, gin.H{"ok": true, "cid": gin.H{"/": res.CID.String()}})
}

func (s *Server) handleCopy(c *gin.Context) {
	src, err := parseShardRef(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	root, err := types.ParseRootCID(c.Query("root"))
	if err != nil {
		badRequest(c, err)
		return
	}

	store, err := s.app.SourceStore(c.Request.Context(), src.ObjectRef)
	if err != nil {
		s.fail(c, err)
		return
	}

	res, err := copier.Copy(c.Request.Context(), s.app.CopyStores(store), src, root, copier.Options{})
	if err != nil {
		s.fail(c, err)
		return
	}

	s.app.Logger.Info("copy finished",
		zap.String("shard", src.CID.String()),
		zap.Bool("skipped", res.Skipped),
		zap.Int64("size", res.Size),
		zap.Int("blocks", res.Blocks),
	)
	// 首次成功和幂等命中对调用方来说是同一件事
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleIndex(c *gin.Context) {
	src, err := parseShardRef(c)
	if err != nil {
		badRequest(c, err)
		return
	}

	store, err := s.app.SourceStore(c.Request.Context(), src.ObjectRef)
	if err != nil {
		s.fail(c, err)
		return
	}

	res, err := reindexer.Reindex(c.Request.Context(), store, s.app.BlockIndex, src, s.app.CanonicalCarPath(src.CID))
	if err != nil {
		s.fail(c, err)
		return
	}

	s.app.Logger.Info("reindex finished",
		zap.String("shard", src.CID.String()),
		zap.Int("updated", res.Updated),
	)
	c.JSON(http.StatusOK, gin.H{"ok": true, "updated": res.Updated})
}
