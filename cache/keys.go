package cache

import (
	"sort"
	"strconv"
	"sync"

	"github.com/saiset-co/sai-ads/types"
	"github.com/saiset-co/sai-ads/utils"
)

type keyBuilder struct {
	buf []byte
}

var keyBuilderPool = sync.Pool{
	New: func() interface{} { return &keyBuilder{buf: make([]byte, 0, 256)} },
}

// BuildAdCacheKey derives a deterministic key from the placement and the
// salient context fields. Topic order and sentiment below two-decimal
// precision never change the key.
func BuildAdCacheKey(placement types.Placement, cctx types.ConversationContext) string {
	builder := keyBuilderPool.Get().(*keyBuilder)
	defer keyBuilderPool.Put(builder)

	topics := make([]string, len(cctx.Topics))
	copy(topics, cctx.Topics)
	sort.Strings(topics)

	builder.buf = builder.buf[:0]
	builder.buf = append(builder.buf, "ad|"...)
	builder.buf = append(builder.buf, placement.ID...)
	builder.buf = append(builder.buf, "|t:"...)
	for i, topic := range topics {
		if i > 0 {
			builder.buf = append(builder.buf, ',')
		}
		builder.buf = append(builder.buf, topic...)
	}
	builder.buf = append(builder.buf, "|i:"...)
	builder.buf = append(builder.buf, cctx.Intent...)
	builder.buf = append(builder.buf, "|s:"...)
	builder.buf = strconv.AppendFloat(builder.buf, cctx.Sentiment, 'f', 2, 64)
	builder.buf = append(builder.buf, "|g:"...)
	builder.buf = append(builder.buf, cctx.Stage...)
	builder.buf = append(builder.buf, "|e:"...)
	builder.buf = strconv.AppendFloat(builder.buf, cctx.Engagement, 'f', 1, 64)

	key := make([]byte, len(builder.buf))
	copy(key, builder.buf)

	return utils.BytesToString(key)
}
