package bridge

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pilebones/go-udev/netlink"

	"faststart/internal/logging"
)

const (
	defaultMountsPath   = "/proc/self/mounts"
	defaultMountTimeout = 30 * time.Second
	mountPollInterval   = 500 * time.Millisecond
)

// MediaChannel reports the mount point of removable filesystems as they
// appear. Mounting itself is left to the desktop or automounter; the channel
// waits for the device to show up in the mount table.
type MediaChannel struct {
	mountsPath   string
	mountTimeout time.Duration
	logger       *slog.Logger
}

// NewMediaChannel returns a channel backed by the kernel udev netlink feed.
func NewMediaChannel(logger *slog.Logger) *MediaChannel {
	return &MediaChannel{
		mountsPath:   defaultMountsPath,
		mountTimeout: defaultMountTimeout,
		logger:       logging.NewComponentLogger(logger, "media-channel"),
	}
}

// Name implements Channel.
func (m *MediaChannel) Name() string { return "removable-media" }

// Connect opens the netlink socket. Permission problems surface as
// ErrUnavailable.
func (m *MediaChannel) Connect(ctx context.Context) (Subscription, error) {
	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		return nil, fmt.Errorf("%w: netlink: %v", ErrUnavailable, err)
	}

	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(queue, errs, mediaMatcher())

	done := make(chan struct{})
	sub := newSubscription(4, func() error {
		close(done)
		close(monitorQuit)
		return conn.Close()
	})
	go m.loop(ctx, sub, queue, errs, done)
	return sub, nil
}

// mediaMatcher matches block devices carrying a filesystem.
func mediaMatcher() netlink.Matcher {
	action := "add|change"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM":   "block",
			"ID_FS_USAGE": "filesystem",
		},
	})
	return rules
}

func (m *MediaChannel) loop(ctx context.Context, sub *subscription, queue <-chan netlink.UEvent, errs <-chan error, done <-chan struct{}) {
	var pending sync.WaitGroup
	defer close(sub.batches)
	defer pending.Wait()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case uevent := <-queue:
			devname := deviceName(uevent)
			if devname == "" {
				continue
			}
			pending.Add(1)
			go func() {
				defer pending.Done()
				m.awaitMount(ctx, sub, devname, done)
			}()
		case err := <-errs:
			m.logger.Warn("netlink monitor error",
				logging.Error(err),
				logging.Event("netlink_monitor_error"),
				logging.Hint("check kernel netlink subsystem"),
				logging.Impact("removable media may be missed"),
			)
		}
	}
}

// awaitMount polls the mount table until devname is mounted or the timeout
// passes.
func (m *MediaChannel) awaitMount(ctx context.Context, sub *subscription, devname string, done <-chan struct{}) {
	deadline := time.Now().Add(m.mountTimeout)
	ticker := time.NewTicker(mountPollInterval)
	defer ticker.Stop()
	for {
		mountpoint, err := FindMountPoint(m.mountsPath, devname)
		if err != nil {
			m.logger.Debug("read mount table failed", logging.Error(err))
		}
		if mountpoint != "" {
			m.logger.Info("removable media mounted",
				logging.Event("media_mounted"),
				logging.String("device", devname),
				logging.String("mountpoint", mountpoint),
			)
			select {
			case sub.batches <- []string{mountpoint}:
			case <-done:
			case <-ctx.Done():
			}
			return
		}
		if time.Now().After(deadline) {
			m.logger.Debug("device never mounted", logging.String("device", devname))
			return
		}
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func deviceName(uevent netlink.UEvent) string {
	if devname := uevent.Env["DEVNAME"]; devname != "" {
		if !strings.HasPrefix(devname, "/") {
			devname = "/dev/" + devname
		}
		return devname
	}
	devpath := uevent.Env["DEVPATH"]
	if devpath == "" {
		return ""
	}
	return "/dev/" + filepath.Base(devpath)
}

// FindMountPoint returns where device is mounted according to a
// /proc/mounts formatted file, or "" when it is not mounted.
func FindMountPoint(mountsPath, device string) (string, error) {
	f, err := os.Open(mountsPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || fields[0] != device {
			continue
		}
		return unescapeMount(fields[1]), nil
	}
	return "", scanner.Err()
}

// unescapeMount decodes the octal escapes the kernel uses for spaces, tabs,
// newlines and backslashes.
func unescapeMount(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) && isOctal(s[i+1]) && isOctal(s[i+2]) && isOctal(s[i+3]) {
			b.WriteByte((s[i+1]-'0')<<6 | (s[i+2]-'0')<<3 | (s[i+3] - '0'))
			i += 3
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func isOctal(c byte) bool { return c >= '0' && c <= '7' }
