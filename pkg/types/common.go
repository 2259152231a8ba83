// pkg/types/common.go
package types

import (
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// CarCodec 是 CAR 文件的 multicodec 编号。
// 一个 Shard 的 cid 必须使用这个 codec，multihash 是对文件字节的 sha256。
const CarCodec = 0x0202

// ObjectRef 定位对象存储里的一个对象。
// 这是一个“值对象”，可以自由复制；Endpoint/Credentials 为空时使用默认配置。
type ObjectRef struct {
	Region          string
	Bucket          string
	Key             string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// CarPath 返回该对象在 block-index 表里的 legacy carpath 形式:
// "{region}/{bucket}/{key}"
func (r ObjectRef) CarPath() string {
	return r.Region + "/" + r.Bucket + "/" + r.Key
}

// ShardRef 是带内容标识的 ObjectRef。
// 不变式: CID.Hash() == sha256(对象字节), CID codec == CarCodec。
type ShardRef struct {
	ObjectRef
	CID cid.Cid
}

// ParseShardCID 解析一个 shard cid 字符串并校验 codec。
func ParseShardCID(s string) (cid.Cid, error) {
	c, err := cid.Parse(s)
	if err != nil {
		return cid.Undef, fmt.Errorf("invalid shard cid %q: %w", s, err)
	}
	if c.Prefix().Codec != CarCodec {
		return cid.Undef, fmt.Errorf("shard cid %s has codec 0x%x, want 0x%x", s, c.Prefix().Codec, CarCodec)
	}
	return c, nil
}

// ParseRootCID 解析 DAG 根 cid。任意 codec 都接受，但统一归一化为 v1。
// (CIDv0 和 CIDv1 会指向不同的 dudewhere key，必须归一)
func ParseRootCID(s string) (cid.Cid, error) {
	c, err := cid.Parse(s)
	if err != nil {
		return cid.Undef, fmt.Errorf("invalid root cid %q: %w", s, err)
	}
	if c.Version() == 0 {
		c = cid.NewCidV1(c.Type(), c.Hash())
	}
	return c, nil
}

// NewShardCID 把一个 sha256 digest 包装成 shard cid。
func NewShardCID(digest []byte) (cid.Cid, error) {
	mh, err := multihash.Encode(digest, multihash.SHA2_256)
	if err != nil {
		return cid.Undef, fmt.Errorf("failed to encode multihash: %w", err)
	}
	return cid.NewCidV1(CarCodec, mh), nil
}

// ShardKey 返回 shard 在 carpark bucket 里的 key: "{cid}/{cid}.car"
func ShardKey(shard cid.Cid) string {
	s := shard.String()
	return s + "/" + s + ".car"
}

// SideIndexKey 返回 shard 的 side index 在 satnav bucket 里的 key。
func SideIndexKey(shard cid.Cid) string {
	return ShardKey(shard) + ".idx"
}

// RootLinkKey 返回 root→shard 存在标记在 dudewhere bucket 里的 key。
func RootLinkKey(root, shard cid.Cid) string {
	return root.String() + "/" + shard.String()
}

// CanonicalCarPath 返回迁移后行的 carpath:
// "{destRegion}/{carparkBucket}/{cid}/{cid}.car"
// 默认配置下即 "auto/carpark-prod-0/..."。这个字符串是不透明的，
// 不要把前面的 "auto" 当成真实 region 去解析。
func CanonicalCarPath(destRegion, carparkBucket string, shard cid.Cid) string {
	return destRegion + "/" + carparkBucket + "/" + ShardKey(shard)
}
