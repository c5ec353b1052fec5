package sales

const TopicSaleCommitted = "pos.sale.committed"

// Partition key = sale id, so every event of one sale stays ordered.
func PartitionKey(saleID string) []byte { return []byte(saleID) }
