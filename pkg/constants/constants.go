package constants

type contextKey string

const (
	TxKey     contextKey = "tx"
	PoolKey   contextKey = "pool"
	OrgIDKey  contextKey = "org_id"
	LoggerKey contextKey = "logger"
)
