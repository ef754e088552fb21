package input

import (
	"log/slog"
)

// Injector applies decoded commands to the host's input system.
type Injector interface {
	Inject(cmd Command) error
}

// LogInjector records commands instead of injecting them. It is used where no
// platform injector is available.
type LogInjector struct {
	Logger *slog.Logger
}

// Inject logs cmd.
func (l LogInjector) Inject(cmd Command) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{"type", cmd.Type, "action", cmd.Action}
	switch {
	case cmd.Mouse != nil:
		if cmd.Mouse.X != nil && cmd.Mouse.Y != nil {
			attrs = append(attrs, "x", *cmd.Mouse.X, "y", *cmd.Mouse.Y)
		}
		if cmd.Mouse.Button != "" {
			attrs = append(attrs, "button", cmd.Mouse.Button)
		}
	case cmd.Keyboard != nil:
		attrs = append(attrs, "key", cmd.Keyboard.Key, "text_len", len(cmd.Keyboard.Text))
	}
	logger.Info("input", attrs...)
	return nil
}

// Dispatcher decodes data channel messages and hands valid commands to an Injector.
type Dispatcher struct {
	injector Injector
	logger   *slog.Logger
	onScreen func(ScreenData)
}

// NewDispatcher returns a dispatcher feeding injector.
func NewDispatcher(injector Injector, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{injector: injector, logger: logger}
}

// OnScreenSize registers fn to receive screen metadata messages instead of
// passing them to the injector.
func (d *Dispatcher) OnScreenSize(fn func(ScreenData)) {
	d.onScreen = fn
}

// Handle processes one raw message. Malformed messages are logged and dropped.
func (d *Dispatcher) Handle(data []byte) {
	cmd, err := Decode(data)
	if err != nil {
		d.logger.Warn("dropping input message", "error", err)
		return
	}
	if cmd.Type == TypeScreen {
		if d.onScreen != nil {
			d.onScreen(*cmd.Screen)
		}
		return
	}
	if d.injector == nil {
		return
	}
	if err := d.injector.Inject(cmd); err != nil {
		d.logger.Warn("input injection failed", "type", cmd.Type, "action", cmd.Action, "error", err)
	}
}
