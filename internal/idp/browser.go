package idp

import (
	"fmt"
	"net/http"
	"os/exec"
	"runtime"
)

// OpenBrowser launches the system browser on url. Callers treat failure as
// "prompt suppressed" and fall back to printing the URL.
func OpenBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}

// writeCallbackPage renders the page shown in the browser tab after the
// redirect lands on the loopback listener.
func writeCallbackPage(w http.ResponseWriter, signInErr error) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if signInErr != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `<!DOCTYPE html><html><body><h1>Sign-in failed</h1><p>You can close this window and try again.</p></body></html>`)
		return
	}
	fmt.Fprint(w, `<!DOCTYPE html><html><body><h1>Signed in</h1><p>You can close this window and return to the application.</p></body></html>`)
}
