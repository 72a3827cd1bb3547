// Package main implements a minimal native dylib "server" plugin: one
// whose Run symbol is called once at host startup and keeps going for the
// process lifetime, instead of being invoked per-request. Build with:
//
//	go build -buildmode=plugin -o hello-server.so main.go
package main

import (
	"log"
	"net/http"
	"os"
)

// Run is the exported symbol the host resolves and calls on a dedicated
// goroutine at bootstrap. It never returns under normal operation; if it
// does, the host logs a warning but takes no further action.
func Run() {
	host := os.Getenv("HOST")
	prefix := os.Getenv("PLUGIN_PREFIX_URL")
	dataDir := os.Getenv("DATA_DIR")
	log.Printf("hello-dylib-server starting: host=%s prefix=%s data_dir=%s", host, prefix, dataDir)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// A real server plugin would pick its own listen address from its
	// rendered config (CONFIG_FILE_PATH); this example just demonstrates
	// the Run-symbol contract.
	if err := http.ListenAndServe("127.0.0.1:0", mux); err != nil {
		log.Printf("hello-dylib-server exited: %v", err)
	}
}

func main() {}
