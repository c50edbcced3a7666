package ncpboot

import (
	"strings"
)

// The Gecko bootloader runs its console at a fixed rate regardless of
// the application baud and identifies itself with a fixed banner
// fragment.
const (
	geckoBaud           = 115200
	geckoBannerFragment = "Gecko Bootloader"
)

// Menu keys on the bootloader console.
const (
	geckoMenuUpload = '1'
	geckoMenuRun    = '2'
)

const (
	geckoMaxLine     = 128
	geckoBannerLines = 4
	geckoMenuEcho    = 2
)

// readLine collects bytes until a line feed or the read timeout. ok is
// false when nothing arrived at all.
func readLine(l Link) (string, bool, error) {
	line := make([]byte, 0, 32)
	for len(line) < geckoMaxLine {
		b, ok, err := readByte(l)
		if err != nil {
			return "", false, err
		}
		if !ok {
			return string(line), len(line) > 0, nil
		}
		line = append(line, b)
		if b == '\n' {
			break
		}
	}
	return string(line), true, nil
}

// probeBanner wakes the bootloader menu with a carriage return and scans
// the reply for the banner line. A first read returning nothing rules
// the bootloader out.
func probeBanner(l Link) (string, bool, error) {
	if err := l.SetBaudRate(geckoBaud); err != nil {
		return "", false, err
	}
	if err := l.DiscardInput(); err != nil {
		return "", false, err
	}
	if err := l.Write([]byte{'\r'}); err != nil {
		return "", false, err
	}
	for i := 0; i < geckoBannerLines; i++ {
		line, ok, err := readLine(l)
		if err != nil {
			return "", false, err
		}
		if !ok {
			return "", false, nil
		}
		if strings.Contains(line, geckoBannerFragment) {
			return strings.TrimRight(line, "\r\n"), true, nil
		}
	}
	return "", false, nil
}

// selectUpload switches the bootloader menu into upload mode and
// consumes the menu echo so the transfer polls are the next bytes on
// the wire. Leftover menu text from the probe is dropped first.
func selectUpload(l Link) error {
	if err := l.SetBaudRate(geckoBaud); err != nil {
		return err
	}
	if err := l.DiscardInput(); err != nil {
		return err
	}
	if err := l.Write([]byte{'\n', geckoMenuUpload}); err != nil {
		return err
	}
	for i := 0; i < geckoMenuEcho; i++ {
		line, ok, err := readLine(l)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		pkgLog.Debugf("bootloader: %s", strings.TrimRight(line, "\r\n"))
	}
	return nil
}

// runApp selects the menu entry that boots the application image. The
// bootloader prints nothing back; the device simply reboots.
func runApp(l Link) error {
	if err := l.SetBaudRate(geckoBaud); err != nil {
		return err
	}
	return l.Write([]byte{geckoMenuRun})
}
