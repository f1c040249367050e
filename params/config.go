package params

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Token units are fixed-point with 6 decimals; one kilowatt-hour of produced
// energy converts to KwhToTokenRatio units when minted.
const (
	EnergyTokenDecimals = 6
	KwhToTokenRatio     = 100_000
)

type Node struct {
	ListenAddr string // REST/WebSocket bind address
	DBPath     string // Pebble database directory (one per marketplace deployment)
	LogFile    string
	AuditLog   string // append-only log of applied mutations
}

type Market struct {
	// AdminAddress is the marketplace administrator: the only principal
	// allowed to mint energy tokens, register residents, and settle matches.
	AdminAddress string
}

type Mesh struct {
	Enabled    bool
	ListenAddr string   // libp2p multiaddr, e.g. /ip4/0.0.0.0/tcp/9000
	Bootstrap  []string // multiaddrs of known community nodes
}

type Config struct {
	Node   Node
	Market Market
	Mesh   Mesh
}

func Default() Config {
	return Config{
		Node: Node{
			ListenAddr: ":8080",
			DBPath:     "data/gridledger.db",
			LogFile:    "data/node.log",
			AuditLog:   "data/audit.log",
		},
		Mesh: Mesh{
			Enabled:    false,
			ListenAddr: "/ip4/0.0.0.0/tcp/9000",
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.Node.ListenAddr = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.Node.DBPath = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Node.LogFile = v
	}
	if v := os.Getenv("AUDIT_LOG"); v != "" {
		cfg.Node.AuditLog = v
	}
	if v := os.Getenv("ADMIN_ADDRESS"); v != "" {
		cfg.Market.AdminAddress = v
	}
	if v := os.Getenv("MESH_ENABLED"); v != "" {
		cfg.Mesh.Enabled = v == "true"
	}
	if v := os.Getenv("MESH_LISTEN"); v != "" {
		cfg.Mesh.ListenAddr = v
	}
	if v := os.Getenv("MESH_BOOTSTRAP"); v != "" {
		cfg.Mesh.Bootstrap = strings.Split(v, ",")
	}

	return cfg
}
