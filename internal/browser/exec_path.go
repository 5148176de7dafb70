package browser

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
)

func resolveExecPath(configured string) (string, error) {
	if configured != "" {
		path, err := exec.LookPath(configured)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %w", ErrNotFound, configured, err)
		}
		return path, nil
	}
	for _, candidate := range candidates() {
		if path, err := exec.LookPath(candidate); err == nil {
			return path, nil
		}
	}
	return "", ErrNotFound
}

func candidates() []string {
	names := []string{
		"headless_shell",
		"headless-shell",
		"chromium",
		"chromium-browser",
		"google-chrome",
		"google-chrome-stable",
		"google-chrome-beta",
		"chrome",
	}
	switch runtime.GOOS {
	case "darwin":
		names = append(names,
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
		)
	case "windows":
		names = append(names,
			"chrome.exe",
			os.ExpandEnv(`${ProgramFiles}\Google\Chrome\Application\chrome.exe`),
			os.ExpandEnv(`${ProgramFiles(x86)}\Google\Chrome\Application\chrome.exe`),
		)
	}
	return names
}
