package main

import (
	"fmt"
	"net"
	"os/exec"
	"runtime"
	"strings"
)

// makeUIURL turns a listen address (host:port) into a browser-friendly URL.
//
// Wildcard hosts (0.0.0.0, ::) become 127.0.0.1.
func makeUIURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Sprintf("http://%s/", strings.TrimSpace(addr))
	}
	if host == "" || host == "0.0.0.0" || host == "::" || host == "[::]" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s/", net.JoinHostPort(host, port))
}

// openBrowser opens url in the OS default browser without waiting for it.
func openBrowser(url string) error {
	switch runtime.GOOS {
	case "windows":
		// `start` is a cmd.exe built-in. The empty title argument prevents quoting issues.
		return exec.Command("cmd", "/c", "start", "", url).Start()
	case "darwin":
		return exec.Command("open", url).Start()
	default:
		return exec.Command("xdg-open", url).Start()
	}
}
