package cmdregistry

// remote commands drive a physical remote-control (IR/Bluetooth) input on
// the device under test.

type remoteCommand struct {
	name          string
	category      string
	description   string
	schema        Schema
	requiresInput bool
}

func (c remoteCommand) Name() string        { return c.name }
func (c remoteCommand) Kind() Kind          { return KindRemote }
func (c remoteCommand) Category() string    { return c.category }
func (c remoteCommand) Description() string { return c.description }
func (c remoteCommand) Schema() Schema      { return c.schema }
func (c remoteCommand) RequiresInput() bool { return c.requiresInput }

func (c remoteCommand) Validate(params map[string]any) error {
	for _, name := range c.schema.Required {
		if err := requireParam(params, name); err != nil {
			return err
		}
	}
	if c.requiresInput {
		if _, ok := params["inputValue"]; !ok {
			return requireParam(params, "inputValue")
		}
	}
	return nil
}

func init() {
	RegisterHandler(remoteCommand{
		name:        "press_key",
		category:    "navigation",
		description: "presses a single remote-control key",
		schema:      Schema{Required: []string{"key"}},
	})
	RegisterHandler(remoteCommand{
		name:        "back",
		category:    "navigation",
		description: "presses the back key",
	})
	RegisterHandler(remoteCommand{
		name:        "launch_app",
		category:    "navigation",
		description: "launches an app by package id",
		schema:      Schema{Required: []string{"package_id"}},
	})
	RegisterHandler(remoteCommand{
		name:          "type_text",
		category:      "input",
		description:   "types free-form text via remote",
		requiresInput: true,
	})
}
