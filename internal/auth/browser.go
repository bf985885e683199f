package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"
	"runtime"
)

// BrowserOpener launches the user agent at a URL. It must not wait for
// the browser to exit.
type BrowserOpener func(url string) error

// launchers maps GOOS to the command that hands a URL to the desktop.
var launchers = map[string][]string{
	"darwin":  {"open"},
	"linux":   {"xdg-open"},
	"freebsd": {"xdg-open"},
	"windows": {"rundll32", "url.dll,FileProtocolHandler"},
}

// OpenBrowser starts the user's browser at url. $BROWSER wins over the
// platform default. The process is started and not awaited.
func OpenBrowser(url string) error {
	argv, ok := launchers[runtime.GOOS]
	if b := os.Getenv("BROWSER"); b != "" {
		argv, ok = []string{b}, true
	}
	if !ok {
		return fmt.Errorf("no browser launcher for %s", runtime.GOOS)
	}

	args := append(append([]string{}, argv[1:]...), url)
	return exec.Command(argv[0], args...).Start() //nolint:gosec,noctx // G204: launcher is fixed per platform or chosen by the user
}

// generateState returns 256 bits of randomness, base64url encoded.
func generateState() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
