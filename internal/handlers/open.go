package handlers

import (
	"os/exec"
	"path/filepath"
	"runtime"
)

// OpenWithDefaultApp launches path with the operating system's associated
// application.
func OpenWithDefaultApp(path string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", path).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", path).Start()
	default:
		return exec.Command("xdg-open", path).Start()
	}
}

// RevealInFolder opens the directory containing path in the platform file
// manager, selecting the file where the platform supports it.
func RevealInFolder(path string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", "-R", path).Start()
	case "windows":
		return exec.Command("explorer", "/select,"+path).Start()
	default:
		return exec.Command("xdg-open", filepath.Dir(path)).Start()
	}
}
