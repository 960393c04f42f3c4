//go:build linux

package ime

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/godbus/dbus/v5"

	"gse/internal/logging"
)

// IBus D-Bus names.
const (
	IBusInputContextInterface = "org.freedesktop.IBus.InputContext"

	ibusUpdatePreedit         = "UpdatePreeditText"
	ibusUpdatePreeditWithMode = "UpdatePreeditTextWithMode"
	ibusShowPreedit           = "ShowPreeditText"
	ibusHidePreedit           = "HidePreeditText"
	ibusCommitText            = "CommitText"
)

// IBusDetector watches input context signals on the IBus daemon's private
// bus.
type IBusDetector struct {
	conn   *dbus.Conn
	raw    chan *dbus.Signal
	out    chan Signal
	done   chan struct{}
	logger *logging.Logger
}

// NewDetector connects to the IBus bus at address. An empty address is
// resolved from IBUS_ADDRESS or the IBus bus files under the user's config
// directory.
func NewDetector(address string, logger *logging.Logger) (Detector, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if address == "" {
		var err error
		if address, err = ibusAddress(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
	}

	conn, err := dbus.Connect(address)
	if err != nil {
		return nil, fmt.Errorf("%w: connect to ibus: %w", ErrUnavailable, err)
	}

	// Input context signals are addressed to the owning client, so they are
	// only visible with eavesdrop.
	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(IBusInputContextInterface),
		dbus.WithMatchEavesdrop(true),
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: add match: %w", ErrUnavailable, err)
	}

	d := &IBusDetector{
		conn:   conn,
		raw:    make(chan *dbus.Signal, 64),
		out:    make(chan Signal, 16),
		done:   make(chan struct{}),
		logger: logger.WithComponent("ibus"),
	}
	conn.Signal(d.raw)
	go d.loop()

	d.logger.Info("watching ibus input contexts", "address", address)
	return d, nil
}

func (d *IBusDetector) loop() {
	defer close(d.out)
	for {
		select {
		case <-d.done:
			return
		case sig, ok := <-d.raw:
			if !ok {
				return
			}
			s, ok := translate(sig)
			if !ok {
				continue
			}
			select {
			case d.out <- s:
			case <-d.done:
				return
			}
		}
	}
}

// Signals returns composition signals. The channel is closed when the
// detector is closed or the bus connection drops.
func (d *IBusDetector) Signals() <-chan Signal {
	return d.out
}

// Close disconnects from the bus.
func (d *IBusDetector) Close() error {
	select {
	case <-d.done:
		return nil
	default:
	}
	close(d.done)
	d.conn.RemoveSignal(d.raw)
	return d.conn.Close()
}

// translate maps an input context signal to a composition signal. Preedit
// text is inspected only for emptiness and never retained.
func translate(sig *dbus.Signal) (Signal, bool) {
	if sig == nil {
		return 0, false
	}
	iface, member := splitName(sig.Name)
	if iface != IBusInputContextInterface {
		return 0, false
	}

	switch member {
	case ibusUpdatePreedit, ibusUpdatePreeditWithMode:
		if len(sig.Body) < 3 {
			return 0, false
		}
		visible, _ := sig.Body[2].(bool)
		if visible && preeditText(sig.Body[0]) != "" {
			return CompositionUpdate, true
		}
		return CompositionEnd, true
	case ibusShowPreedit:
		return CompositionStart, true
	case ibusHidePreedit, ibusCommitText:
		return CompositionEnd, true
	}
	return 0, false
}

func splitName(name string) (iface, member string) {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return "", name
	}
	return name[:i], name[i+1:]
}

// preeditText extracts the string of a serialized IBusText, which travels
// as a variant holding (sa{sv}sv): type name, attachments, text, attributes.
func preeditText(v any) string {
	if variant, ok := v.(dbus.Variant); ok {
		v = variant.Value()
	}
	fields, ok := v.([]any)
	if !ok || len(fields) < 3 {
		return ""
	}
	if name, _ := fields[0].(string); name != "IBusText" {
		return ""
	}
	text, _ := fields[2].(string)
	return text
}

// ibusAddress finds the IBus daemon address the way IBus clients do.
func ibusAddress() (string, error) {
	if addr := os.Getenv("IBUS_ADDRESS"); addr != "" {
		return addr, nil
	}

	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configHome = filepath.Join(home, ".config")
	}
	return addressFromBusDir(filepath.Join(configHome, "ibus", "bus"))
}

// addressFromBusDir reads IBUS_ADDRESS from the most recently written bus
// file in dir.
func addressFromBusDir(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read ibus bus dir: %w", err)
	}

	type candidate struct {
		path  string
		mtime int64
	}
	var files []candidate
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, candidate{filepath.Join(dir, e.Name()), info.ModTime().UnixNano()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mtime > files[j].mtime })

	for _, f := range files {
		if addr := readBusFile(f.path); addr != "" {
			return addr, nil
		}
	}
	return "", fmt.Errorf("no IBUS_ADDRESS in %s", dir)
}

func readBusFile(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "#") {
			continue
		}
		if addr, ok := strings.CutPrefix(line, "IBUS_ADDRESS="); ok && addr != "" {
			return addr
		}
	}
	return ""
}
