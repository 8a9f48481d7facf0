package cmdregistry

// adb commands drive an Android device over adb.

type adbCommand struct {
	name        string
	category    string
	description string
	schema      Schema
}

func (c adbCommand) Name() string        { return c.name }
func (c adbCommand) Kind() Kind          { return KindADB }
func (c adbCommand) Category() string    { return c.category }
func (c adbCommand) Description() string { return c.description }
func (c adbCommand) Schema() Schema      { return c.schema }
func (c adbCommand) RequiresInput() bool { return false }

func (c adbCommand) Validate(params map[string]any) error {
	for _, name := range c.schema.Required {
		if err := requireParam(params, name); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	RegisterHandler(adbCommand{
		name:        "tap",
		category:    "interaction",
		description: "taps screen coordinates via adb input",
		schema:      Schema{Required: []string{"x", "y"}},
	})
	RegisterHandler(adbCommand{
		name:        "shell_command",
		category:    "diagnostic",
		description: "runs an arbitrary adb shell command",
		schema:      Schema{Required: []string{"command"}},
	})
}
