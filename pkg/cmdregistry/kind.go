package cmdregistry

import "fmt"

// Handler is the explicit per-command-kind registration interface (Design
// Notes: no reflection-based discovery). Each command implementation
// declares its name, schema and validation, and registers itself at
// init() time in remote.go/adb.go/web.go/ir.go.
type Handler interface {
	Name() string
	Kind() Kind
	Category() string
	Description() string
	Schema() Schema
	RequiresInput() bool
	Validate(params map[string]any) error
}

// handlers is the process-wide registry of known command implementations,
// populated by each kind file's init().
var handlers = map[string]Handler{}

// RegisterHandler adds h to the process-wide handler registry. Re-registering
// the same name overwrites the previous handler.
func RegisterHandler(h Handler) {
	handlers[h.Name()] = h
}

// Handlers returns every registered handler.
func Handlers() []Handler {
	out := make([]Handler, 0, len(handlers))
	for _, h := range handlers {
		out = append(out, h)
	}
	return out
}

// HandlerFor looks up a registered handler by name.
func HandlerFor(name string) (Handler, bool) {
	h, ok := handlers[name]
	return h, ok
}

// SeedSpecs converts every registered handler into a CommandSpec for the
// given device model, for use by a one-time catalog seed at fleetd startup.
func SeedSpecs(deviceModel string) []CommandSpec {
	specs := make([]CommandSpec, 0, len(handlers))
	for _, h := range handlers {
		specs = append(specs, CommandSpec{
			DeviceModel: deviceModel,
			CommandName: h.Name(),
			Kind:        h.Kind(),
			Category:    h.Category(),
			Description: h.Description(),
			Schema:      h.Schema(),
		})
	}
	return specs
}

func requireParam(params map[string]any, name string) error {
	if _, ok := params[name]; !ok {
		return fmt.Errorf("missing required param %q", name)
	}
	return nil
}
