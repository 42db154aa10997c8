package tool

import (
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/moyoez/assetlink/types"
)

const usage = `usage: assetlink <serve|upload|download|probe> [flags]`

// SetFlags parses the action and its flags from args (os.Args[1:]).
func SetFlags(args []string, output io.Writer) (types.Config, error) {
	var cfg types.Config
	if len(args) == 0 {
		return cfg, errors.New(usage)
	}
	cfg.Action = args[0]
	switch cfg.Action {
	case "serve", "upload", "download", "probe":
	default:
		return cfg, fmt.Errorf("unknown action %q\n%s", cfg.Action, usage)
	}

	fs := flag.NewFlagSet(cfg.Action, flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&cfg.Log, "log", "", "log mode: dev|prod|none")

	// server
	fs.StringVar(&cfg.UseConfigPath, "useConfigPath", "", "override config file path")
	fs.IntVar(&cfg.UsePort, "usePort", 0, "override listen port")
	fs.StringVar(&cfg.UseAssetsDir, "useAssetsDir", "", "override assets directory")
	fs.BoolVar(&cfg.UseHttps, "useHttps", false, "serve wss with a self-signed certificate")

	// client
	fs.StringVar(&cfg.ServerAddr, "serverAddr", "", "server host or host:port (port defaults to 3000)")
	fs.StringVar(&cfg.Platform, "platform", "", "platform namespace, e.g. linux")
	fs.StringVar(&cfg.PwFile, "pwFile", "", "file holding the upload password")
	fs.StringVar(&cfg.UploadFile, "uploadFile", "", "local file to upload")
	fs.StringVar(&cfg.UploadName, "uploadName", "", "asset name on the server")
	fs.StringVar(&cfg.DownloadName, "downloadName", "", "asset name to download")
	fs.StringVar(&cfg.DownloadDest, "downloadDest", "", "local destination path")
	fs.BoolVar(&cfg.UseTLS, "tls", false, "dial wss:// (self-signed certificates are accepted)")
	fs.IntVar(&cfg.ChunkSize, "chunkSize", 0, "chunk size in bytes (upload client and server)")
	fs.IntVar(&cfg.ProbeCount, "count", 4, "probe: number of echo requests")

	if err := fs.Parse(args[1:]); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// RequireFlags reports the first empty value among name/value pairs.
func RequireFlags(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			return fmt.Errorf("missing arg -%s", pairs[i])
		}
	}
	return nil
}
