package notification

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// unreadKeyPrefix は未読件数キャッシュのキー接頭辞。
const unreadKeyPrefix = "notification:unread:"

// generationKeyPrefix は未読件数の世代番号のキー接頭辞。
// 世代番号はinvalidateのたびに増え、期限を持たない。
const generationKeyPrefix = "notification:unread-gen:"

// errStaleCount は数えている間に未読件数が更新されたことを表す。
var errStaleCount = errors.New("未読件数が更新されました")

// unreadCache はユーザーごとの未読件数をRedisにキャッシュする。
// nilのunreadCacheは常にキャッシュミスとして振る舞う。
// Redisの障害はログに記録し、呼び出し元はSQLiteの値を使う。
type unreadCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *logrus.Entry
}

// newUnreadCache はRedisクライアントから未読件数キャッシュを生成する。
func newUnreadCache(client *redis.Client, ttl time.Duration) *unreadCache {
	return &unreadCache{
		client: client,
		ttl:    ttl,
		log:    logrus.WithField("component", "unread-cache"),
	}
}

// unreadKey はユーザーの未読件数キャッシュのキーを返す。
func unreadKey(userID string) string {
	return unreadKeyPrefix + userID
}

// generationKey はユーザーの未読件数の世代番号のキーを返す。
func generationKey(userID string) string {
	return generationKeyPrefix + userID
}

// get はキャッシュされた未読件数を返す。キャッシュがない場合はfalseを返す。
func (c *unreadCache) get(ctx context.Context, userID string) (int64, bool) {
	if c == nil {
		return 0, false
	}

	val, err := c.client.Get(ctx, unreadKey(userID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.WithError(err).WithField("user_id", userID).Warn("未読件数キャッシュの取得に失敗しました")
		}
		return 0, false
	}

	count, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		c.log.WithError(err).WithField("user_id", userID).Warn("未読件数キャッシュの値が不正です")
		return 0, false
	}
	return count, true
}

// generation はユーザーの未読件数の現在の世代番号を返す。
// SQLiteで数える前に取得し、setに渡す。
func (c *unreadCache) generation(ctx context.Context, userID string) int64 {
	if c == nil {
		return 0
	}
	gen, err := c.client.Get(ctx, generationKey(userID)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		c.log.WithError(err).WithField("user_id", userID).Warn("未読件数の世代番号の取得に失敗しました")
		return -1
	}
	return gen
}

// set は世代番号がgenのままであれば未読件数をキャッシュする。
// 数えている間にinvalidateされた場合は古い件数を書き込まない。
func (c *unreadCache) set(ctx context.Context, userID string, count, gen int64) {
	if c == nil || gen < 0 {
		return
	}

	genKey := generationKey(userID)
	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return errStaleCount
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, unreadKey(userID), count, c.ttl)
			return nil
		})
		return err
	}, genKey)

	switch {
	case err == nil:
	case errors.Is(err, errStaleCount), errors.Is(err, redis.TxFailedErr):
		c.log.WithField("user_id", userID).Debug("未読件数が更新されたためキャッシュしません")
	default:
		c.log.WithError(err).WithField("user_id", userID).Warn("未読件数キャッシュの保存に失敗しました")
	}
}

// invalidate はユーザーの未読件数キャッシュを破棄し、世代番号を進める。
func (c *unreadCache) invalidate(ctx context.Context, userID string) {
	if c == nil {
		return
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey(userID))
		pipe.Del(ctx, unreadKey(userID))
		return nil
	})
	if err != nil {
		c.log.WithError(err).WithField("user_id", userID).Warn("未読件数キャッシュの破棄に失敗しました")
	}
}

// newRedisClient は設定からRedisクライアントを生成し疎通を確認する。
func newRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("Redisへの接続に失敗: %w", err)
	}
	return client, nil
}
