package constants

import "time"

const (
	// RequestIDLength size of id sent on a pooled or one-shot request
	RequestIDLength = 16
	// CloseMessageCode identifier the message id for a close request
	CloseMessageCode = 1000
	// DefaultPoolSize number of workers a pool starts when none is configured
	DefaultPoolSize = 5
	// DefaultMaxMessageSize largest reply frame a transport accepts
	DefaultMaxMessageSize = 1 << 20
	// DefaultDialTimeout bounds the websocket opening handshake
	DefaultDialTimeout = 10 * time.Second
	// DefaultCloseTimeout bounds the close frame write
	DefaultCloseTimeout = 5 * time.Second
)

const (
	DefaultNamespace = "default"
	DefaultDatabase  = "default"
	DefaultUser      = "root"
	DefaultPassword  = "root"

	// MigrationTable holds one row per applied migration step.
	MigrationTable = "_sbl_migrations"
)

var (
	WebsocketScheme       = "ws"
	SecureWebsocketScheme = "wss"
	RPCPath               = "/rpc"
)

const (
	EngineGorilla = "gorilla"
	EngineGWS     = "gws"
)
