package notify

import (
	"os/exec"

	"github.com/rs/zerolog/log"
)

// Permission mirrors the browser Notification permission states.
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// Desktop shows OS-level notifications.
type Desktop interface {
	Permission() Permission
	// RequestPermission may prompt the user; callers never wait on it.
	RequestPermission()
	Show(title, body string) error
}

// Focus reports whether the user is currently looking at the client.
type Focus interface {
	Focused() bool
}

// FocusFunc adapts a function to Focus.
type FocusFunc func() bool

// Focused implements Focus.
func (f FocusFunc) Focused() bool { return f() }

// Alerter raises the "your turn" alert: always as a notice, and additionally
// as an OS notification when the user is away and permission was granted.
type Alerter struct {
	Sink    Sink
	Desktop Desktop
	Focus   Focus
	Title   string
}

// Alert emits n and the best-effort OS notification.
func (a *Alerter) Alert(n Notice, osBody string) {
	if a.Sink != nil {
		a.Sink.Notify(n)
	}
	if a.Desktop == nil {
		return
	}

	switch a.Desktop.Permission() {
	case PermissionGranted:
		if a.Focus != nil && a.Focus.Focused() {
			return
		}
		if err := a.Desktop.Show(a.Title, osBody); err != nil {
			log.Warn().Err(err).Msg("desktop notification failed")
		}
	case PermissionDefault:
		go a.Desktop.RequestPermission()
	}
}

// CommandDesktop shows notifications through notify-send. Permission is
// granted when the binary is installed.
type CommandDesktop struct {
	Binary string
}

// Permission implements Desktop.
func (d CommandDesktop) Permission() Permission {
	if _, err := exec.LookPath(d.binary()); err != nil {
		return PermissionDenied
	}
	return PermissionGranted
}

// RequestPermission implements Desktop. There is nothing to ask for.
func (d CommandDesktop) RequestPermission() {}

// Show implements Desktop. It returns once the process started and reaps it
// in the background.
func (d CommandDesktop) Show(title, body string) error {
	cmd := exec.Command(d.binary(), title, body)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			log.Debug().Err(err).Str("binary", d.binary()).Msg("desktop notifier exited")
		}
	}()
	return nil
}

func (d CommandDesktop) binary() string {
	if d.Binary == "" {
		return "notify-send"
	}
	return d.Binary
}
