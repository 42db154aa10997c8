package types

import "time"

// AppConfig represents the server configuration loaded from config file
type AppConfig struct {
	Port                  int           `yaml:"port"`
	Protocol              string        `yaml:"protocol"` // http or https, https serves wss with a self-signed certificate
	AssetsDir             string        `yaml:"assetsDir"`
	PasswordFile          string        `yaml:"passwordFile"`
	ChunkSize             int           `yaml:"chunkSize"`
	ProgressInterval      time.Duration `yaml:"progressInterval"`
	IdleTimeout           time.Duration `yaml:"idleTimeout"` // 0 disables the idle deadline
	HistoryTTL            time.Duration `yaml:"historyTTL"`
	AuthAttemptsPerMinute int           `yaml:"authAttemptsPerMinute"`
	CertPEM               string        `yaml:"certPEM,omitempty"`
	KeyPEM                string        `yaml:"keyPEM,omitempty"`
}

// Config holds runtime overrides from CLI flags
type Config struct {
	Action        string
	Log           string
	UseConfigPath string
	UsePort       int
	UseAssetsDir  string
	UseHttps      bool

	// client side
	ServerAddr   string
	Platform     string
	PwFile       string
	UploadFile   string
	UploadName   string
	DownloadName string
	DownloadDest string
	UseTLS       bool // dial wss instead of ws
	ChunkSize    int
	ProbeCount   int
}
