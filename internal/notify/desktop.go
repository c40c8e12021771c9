package notify

import (
	"os/exec"
	"runtime"
	"strings"
)

// DesktopNotifier sends desktop notifications
type DesktopNotifier struct {
	enabled  bool
	lookPath func(string) (string, error)
	run      func(name string, args ...string) error
}

// NewDesktopNotifier creates a new desktop notifier
func NewDesktopNotifier(enabled bool) *DesktopNotifier {
	return &DesktopNotifier{
		enabled:  enabled,
		lookPath: exec.LookPath,
		run: func(name string, args ...string) error {
			return exec.Command(name, args...).Run()
		},
	}
}

// Send sends a desktop notification
func (d *DesktopNotifier) Send(n Notification) error {
	if !d.enabled {
		return nil
	}

	switch runtime.GOOS {
	case "darwin":
		return d.sendMacOS(n)
	case "linux":
		return d.sendLinux(n)
	default:
		return nil // Unsupported
	}
}

func (d *DesktopNotifier) sendMacOS(n Notification) error {
	// terminal-notifier supports icons and click-to-open; osascript does not
	if _, err := d.lookPath("terminal-notifier"); err == nil {
		return d.run("terminal-notifier", TerminalNotifierArgs(n)...)
	}
	return d.run("osascript", "-e", AppleScript(n))
}

func (d *DesktopNotifier) sendLinux(n Notification) error {
	return d.run("notify-send", NotifySendArgs(n)...)
}

// TerminalNotifierArgs builds the terminal-notifier command line
func TerminalNotifierArgs(n Notification) []string {
	args := []string{"-title", n.Title, "-message", messageOrTitle(n)}
	if n.Sound {
		args = append(args, "-sound", "default")
	}
	if n.Icon != "" {
		args = append(args, "-appIcon", n.Icon)
	}
	if n.Open != "" {
		args = append(args, "-open", n.Open)
	}
	return args
}

// AppleScript builds the osascript fallback
func AppleScript(n Notification) string {
	script := `display notification "` + escapeAppleScript(messageOrTitle(n)) +
		`" with title "` + escapeAppleScript(n.Title) + `"`
	if n.Sound {
		script += ` sound name "Basso"`
	}
	return script
}

// NotifySendArgs builds the notify-send command line
func NotifySendArgs(n Notification) []string {
	var args []string
	if n.Icon != "" {
		args = append(args, "--icon", n.Icon)
	} else {
		args = append(args, "--icon", IconForType(n.Type))
	}
	if n.Sound {
		args = append(args, "--urgency", "critical")
	}
	body := n.Message
	if n.Open != "" {
		body = strings.TrimSpace(body + "\n" + n.Open)
	}
	return append(args, n.Title, body)
}

func messageOrTitle(n Notification) string {
	if n.Message != "" {
		return n.Message
	}
	return n.Title
}

func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

// IconForType returns an icon name for the notification type
func IconForType(t NotificationType) string {
	switch t {
	case NotifySuccess:
		return "dialog-positive"
	case NotifyWarning:
		return "dialog-warning"
	case NotifyError:
		return "dialog-error"
	default:
		return "dialog-information"
	}
}
