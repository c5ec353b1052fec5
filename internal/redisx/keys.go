package redisx

import "time"

const (
	// Cached product with variants: catalog:product:{product_id} -> JSON
	KeyCatalogProduct = "catalog:product:%s"

	// Scanned code lookup: catalog:code:{lower(code)} -> JSON list of product ids
	KeyCatalogCode = "catalog:code:%s"

	// Draft snapshot: draft:{terminal}:{draft_id} -> JSON
	KeyDraft = "draft:%s:%s"

	// Draft index per terminal: zset draft_index:{terminal}, score = saved_at unix ms
	KeyDraftIndex = "draft_index:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLCatalogCode = 24 * time.Hour
	TTLDedup       = 48 * time.Hour
)
